package emr

import (
	"regexp"
	"strings"
)

// Laterality tokens, matched case-insensitively on word boundaries so that
// labels such as "Ear/Nose" are not mistaken for "r/".
var (
	lateralityToken = regexp.MustCompile(`(?i)\b(?:right|left)\b|\b[rl]\s*/\s*o[ds]\b|\b[rl]\s*[/-]`)
	labelSeparators = regexp.MustCompile(`[-_/]+`)
)

// NormalizeLabel canonicalizes a section label. When the label carries a
// laterality marker (right, left, R/OD, L/OS, R/, L/, R-, L-) every marker is
// stripped, separators collapse to single spaces, emptied parentheses are
// removed and the result is prefixed with exactly one "Right " or "Left ".
// The first marker in the label decides the side. Labels without a marker are
// only cleaned; an empty label becomes fallback.
func NormalizeLabel(raw, fallback string) string {
	label := cleanText(raw)
	if label == "" {
		return fallback
	}

	// underscores are word characters and would hide "left_eye" from \b
	probe := strings.ReplaceAll(label, "_", " ")
	first := lateralityToken.FindString(probe)
	if first == "" {
		return label
	}
	side := "Right"
	if strings.HasPrefix(strings.ToLower(first), "l") {
		side = "Left"
	}

	rest := lateralityToken.ReplaceAllString(probe, " ")
	rest = labelSeparators.ReplaceAllString(rest, " ")
	rest = cleanText(rest)
	if rest == "" {
		return side
	}
	return side + " " + rest
}
