package report

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	eyeFinding = regexp.MustCompile(`(?i)^(left|right)\b.*eye`)
	nonAlpha   = regexp.MustCompile(`[^a-z\s]`)
	spaces     = regexp.MustCompile(`\s+`)
)

// labPrefixes name the lab findings whose values get percent spacing fixed.
var labPrefixes = []string{"hba1c", "hb", "creatinine", "cholesterol", "fasting glucose"}

// humanizeRule rewrites a finding split at its first ": " into label and
// detail. Rules are tried in order and the first match wins.
type humanizeRule struct {
	name  string
	match func(label, detail string) bool
	apply func(label, detail string) string
}

var humanizeRules = []humanizeRule{
	{
		name:  "eye",
		match: func(label, _ string) bool { return eyeFinding.MatchString(label) },
		apply: func(label, detail string) string {
			side := capitalize(eyeFinding.FindStringSubmatch(label)[1])
			if detail == "" {
				detail = label
			}
			return side + " eye: " + detail
		},
	},
	{
		name: "lab",
		match: func(label, _ string) bool {
			l := strings.ToLower(label)
			for _, p := range labPrefixes {
				if strings.HasPrefix(l, p) {
					return true
				}
			}
			return false
		},
		apply: func(label, detail string) string {
			return label + ": " + strings.ReplaceAll(detail, " %", "%")
		},
	},
	{
		name: "general",
		match: func(label, _ string) bool {
			l := strings.ToLower(label)
			return strings.HasPrefix(l, "general") && strings.TrimSpace(label[len("general"):]) != ""
		},
		apply: func(label, detail string) string {
			content := capitalize(strings.TrimSpace(label[len("general"):]))
			if detail == "" {
				return content
			}
			return content + ": " + detail
		},
	},
}

// Humanize turns a raw finding into a clinician-facing bullet.
func Humanize(finding string) string {
	finding = strings.ReplaceAll(finding, "()", "")
	finding = strings.TrimSpace(spaces.ReplaceAllString(finding, " "))
	if finding == "" {
		return ""
	}

	label, detail := finding, ""
	if i := strings.Index(finding, ": "); i >= 0 {
		label = strings.TrimSpace(finding[:i])
		detail = strings.TrimSpace(finding[i+2:])
	}

	for _, r := range humanizeRules {
		if r.match(label, detail) {
			return r.apply(label, detail)
		}
	}
	if detail == "" {
		return label
	}
	return label + ": " + detail
}

// dedupKey ignores case, digits and punctuation so that near-identical
// insights collapse to one.
func dedupKey(s string) string {
	s = nonAlpha.ReplaceAllString(strings.ToLower(s), "")
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	r := []rune(strings.ToLower(s))
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
