package emr

import "sort"

// findingSet deduplicates findings on insertion while remembering the order
// they arrived in. Membership is case-sensitive on the full finding text.
type findingSet struct {
	seen  map[string]struct{}
	items []string
}

func newFindingSet() *findingSet {
	return &findingSet{seen: make(map[string]struct{})}
}

// add stores f unless it is blank or already present. It reports whether the
// finding was new.
func (s *findingSet) add(f string) bool {
	f = cleanText(f)
	if f == "" {
		return false
	}
	if _, ok := s.seen[f]; ok {
		return false
	}
	s.seen[f] = struct{}{}
	s.items = append(s.items, f)
	return true
}

// inserted returns the findings in insertion order.
func (s *findingSet) inserted() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}

// sorted returns the findings in ascending byte order.
func (s *findingSet) sorted() []string {
	out := s.inserted()
	sort.Strings(out)
	return out
}
