package emr

import (
	"sort"
	"strings"
)

// Risk flag identifiers. Flags are always derived, never read from input.
const (
	RiskLongStandingDiabetes = "long-standing diabetes"
	RiskSingleSeeingEye      = "single seeing eye"
	RiskPoorGlycemicControl  = "poor glycemic control"
)

// hba1cThreshold is the HbA1c percentage at or above which glycemic control
// is considered poor.
const hba1cThreshold = 8.0

// Evidence is what risk rules are evaluated against.
type Evidence struct {
	History     []string
	Examination []string
	Labs        []ParsedLab
}

// RiskRule is one independent any-match predicate. New risks are added as new
// rules; existing rules are not modified to accommodate them.
type RiskRule struct {
	Flag  string
	Match func(Evidence) bool
}

// DefaultRiskRules returns the built-in rule set.
func DefaultRiskRules() []RiskRule {
	return []RiskRule{
		{Flag: RiskLongStandingDiabetes, Match: func(ev Evidence) bool {
			return anyContains(ev.History, "diabetes")
		}},
		{Flag: RiskSingleSeeingEye, Match: func(ev Evidence) bool {
			return anyContains(ev.Examination, "phthisis")
		}},
		{Flag: RiskPoorGlycemicControl, Match: poorGlycemicControl},
	}
}

// poorGlycemicControl fires on any HbA1c at or above the threshold. When no
// number could be parsed the raw text is checked for an 8 or 9 digit as a
// heuristic fallback.
func poorGlycemicControl(ev Evidence) bool {
	for _, lab := range ev.Labs {
		if !strings.Contains(strings.ToLower(lab.Name), "hba1c") {
			continue
		}
		if lab.NumericValue != nil {
			if *lab.NumericValue >= hba1cThreshold {
				return true
			}
			continue
		}
		if strings.ContainsAny(lab.RawValue, "89") {
			return true
		}
	}
	return false
}

// DeriveRisks evaluates every rule and returns the sorted set of flags that matched.
func DeriveRisks(rules []RiskRule, ev Evidence) []string {
	set := make(map[string]struct{})
	for _, r := range rules {
		if r.Match != nil && r.Match(ev) {
			set[r.Flag] = struct{}{}
		}
	}
	flags := make([]string, 0, len(set))
	for f := range set {
		flags = append(flags, f)
	}
	sort.Strings(flags)
	return flags
}

func anyContains(findings []string, needle string) bool {
	for _, f := range findings {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}
