package emr

import (
	"sort"
	"strings"
)

// DefaultMaxScanDepth bounds the recursive safety scan.
const DefaultMaxScanDepth = 64

// safetyScanner looks for prescriptive or diagnostic phrases anywhere in the
// raw input. Matches are advisory and never block processing.
type safetyScanner struct {
	terms    []string
	maxDepth int
}

func newSafetyScanner(terms []string, maxDepth int) safetyScanner {
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			lowered = append(lowered, t)
		}
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxScanDepth
	}
	return safetyScanner{terms: lowered, maxDepth: maxDepth}
}

// scan returns the sorted set of forbidden phrases found in v. When the
// structure is nested deeper than maxDepth the remainder is skipped and a
// warning is audited.
func (s safetyScanner) scan(v interface{}, audit *Audit) []string {
	found := make(map[string]struct{})
	truncated := false
	s.walk(v, 0, found, &truncated)
	if truncated {
		audit.warn("safety scan stopped at depth %d, deeper values were not scanned", s.maxDepth)
	}

	terms := make([]string, 0, len(found))
	for t := range found {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}

func (s safetyScanner) walk(v interface{}, depth int, found map[string]struct{}, truncated *bool) {
	if depth > s.maxDepth {
		*truncated = true
		return
	}
	switch t := v.(type) {
	case map[string]interface{}:
		for _, child := range t {
			s.walk(child, depth+1, found, truncated)
		}
	case []interface{}:
		for _, child := range t {
			s.walk(child, depth+1, found, truncated)
		}
	case string:
		text := strings.ToLower(t)
		for _, term := range s.terms {
			if strings.Contains(text, term) {
				found[term] = struct{}{}
			}
		}
	}
}
