package emr

import "time"

// Config holds the immutable tables a Normalizer is built with.
type Config struct {
	// ForbiddenTerms is the safety vocabulary; matching is case-insensitive.
	ForbiddenTerms []string
	// RiskRules defaults to DefaultRiskRules when nil.
	RiskRules []RiskRule
	// MaxScanDepth bounds the safety scan; zero means DefaultMaxScanDepth.
	MaxScanDepth int
	// Now stamps generated_at; defaults to time.Now in UTC.
	Now func() time.Time
}

// Normalizer converts raw EMR input into a NormalizedPayload. It holds no
// mutable state and is safe for concurrent use.
type Normalizer struct {
	scanner safetyScanner
	rules   []RiskRule
	now     func() time.Time
}

// NewNormalizer builds a Normalizer from cfg.
func NewNormalizer(cfg Config) *Normalizer {
	rules := cfg.RiskRules
	if rules == nil {
		rules = DefaultRiskRules()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Normalizer{
		scanner: newSafetyScanner(cfg.ForbiddenTerms, cfg.MaxScanDepth),
		rules:   rules,
		now:     now,
	}
}

// Normalize never fails: malformed shapes degrade to fewer findings and
// additional audit entries. Every call builds a fresh payload.
func (n *Normalizer) Normalize(in Input) NormalizedPayload {
	audit := newAudit()

	history := newFindingSet()
	for _, g := range walkTemplates(in.History, historySpec, audit) {
		extractData(history, g.data, g.label, audit)
	}

	examination := newFindingSet()
	for _, g := range walkTemplates(in.Examination, examinationSpec, audit) {
		extractData(examination, g.data, g.label, audit)
	}

	entries := labList(in.Investigation, audit)
	labs := labFindings(entries, audit)
	parsed := parseLabs(entries, audit)

	historyFindings := history.sorted()
	examFindings := examination.sorted()

	risks := DeriveRisks(n.rules, Evidence{
		History:     historyFindings,
		Examination: examFindings,
		Labs:        parsed,
	})

	forbidden := n.scanner.scan(map[string]interface{}{
		"history":       in.History,
		"examination":   in.Examination,
		"investigation": in.Investigation,
	}, audit)

	return NormalizedPayload{
		ClinicalContext: Prioritize(historyFindings, examFindings, labs, risks),
		Meta: Meta{
			GeneratedAt: n.now(),
			Version:     PayloadVersion,
			RiskFlags:   risks,
			Audit:       *audit,
			Safety:      Safety{ForbiddenTerms: forbidden},
			ParsedLabs:  parsed,
		},
	}
}
