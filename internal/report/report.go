package report

import (
	"strconv"
	"strings"

	"github.com/ehr/aibot/internal/emr"
	"github.com/ehr/aibot/internal/vocab"
)

const (
	StatusSuccess = "success"

	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"

	// DefaultAction is suggested for risks without configured actions and
	// when no risk was derived at all.
	DefaultAction = "Clinical review"

	maxInsights = 6
	maxTextLen  = 140
)

// Report is the clinician-facing result derived from a NormalizedPayload.
type Report struct {
	Status    string     `json:"status"`
	CaseID    *string    `json:"case_id"`
	PatientID *string    `json:"patient_id"`
	AIOutput  AIOutput   `json:"ai_output"`
	Audit     *emr.Audit `json:"audit,omitempty"`
}

// AIOutput is the deterministic summary block of a Report.
type AIOutput struct {
	Summary            string   `json:"summary"`
	KeyInsights        []string `json:"key_insights"`
	ClinicalRisks      []string `json:"clinical_risks"`
	SuggestedNextSteps []string `json:"suggested_next_steps"`
	ConfidenceLevel    string   `json:"confidence_level"`
	SafetyWarnings     []string `json:"safety_warnings,omitempty"`
}

// Generator turns normalized payloads into reports using the risk tables of
// a vocabulary. It is stateless and safe for concurrent use.
type Generator struct {
	vocab vocab.Vocabulary
}

// NewGenerator creates a Generator backed by v.
func NewGenerator(v vocab.Vocabulary) *Generator {
	return &Generator{vocab: v}
}

// Generate builds the report for p. It expects a payload produced by
// emr.Normalizer.Normalize.
func (g *Generator) Generate(p emr.NormalizedPayload) Report {
	risks := p.Meta.RiskFlags
	if risks == nil {
		risks = []string{}
	}

	insights, seen := g.insights(p.ClinicalContext)
	for _, r := range risks {
		msg := g.vocab.Message(r)
		key := dedupKey(msg)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		insights = append(insights, msg)
	}

	out := AIOutput{
		Summary:            summarize(insights, risks, hba1cValue(p.Meta.ParsedLabs)),
		KeyInsights:        insights,
		ClinicalRisks:      risks,
		SuggestedNextSteps: g.nextSteps(risks),
		ConfidenceLevel:    ConfidenceLow,
	}
	if len(risks) > 0 {
		out.ConfidenceLevel = ConfidenceMedium
	}
	for _, t := range p.Meta.Safety.ForbiddenTerms {
		out.SafetyWarnings = append(out.SafetyWarnings, "Forbidden term detected: "+t)
	}

	audit := p.Meta.Audit
	return Report{
		Status:   StatusSuccess,
		AIOutput: out,
		Audit:    &audit,
	}
}

// insights humanizes findings in priority order, keeping the first of each
// dedup key, up to maxInsights entries.
func (g *Generator) insights(ctx emr.ClinicalContext) ([]string, map[string]struct{}) {
	pool := make([]string, 0, len(ctx.HighPriority)+len(ctx.MediumPriority)+len(ctx.LowPriority))
	pool = append(pool, ctx.HighPriority...)
	pool = append(pool, ctx.MediumPriority...)
	pool = append(pool, ctx.LowPriority...)

	insights := []string{}
	seen := make(map[string]struct{})
	for _, raw := range pool {
		if len(insights) >= maxInsights {
			break
		}
		h := Humanize(raw)
		if h == "" {
			continue
		}
		key := dedupKey(h)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		insights = append(insights, shorten(h, maxTextLen))
	}
	return insights, seen
}

func (g *Generator) nextSteps(risks []string) []string {
	steps := []string{}
	seen := make(map[string]struct{})
	for _, r := range risks {
		actions, ok := g.vocab.Actions(r)
		if !ok {
			actions = []string{DefaultAction}
		}
		for _, a := range actions {
			if _, dup := seen[a]; dup {
				continue
			}
			seen[a] = struct{}{}
			steps = append(steps, a)
		}
	}
	if len(steps) == 0 {
		return []string{DefaultAction}
	}
	return steps
}

func summarize(insights, risks []string, hba1c string) string {
	if len(insights) == 0 {
		if len(risks) == 0 {
			return ""
		}
		return shorten("Key risks: "+strings.Join(risks, ", "), maxTextLen)
	}
	top := insights[0]
	if len(risks) == 0 {
		return shorten(top, maxTextLen)
	}
	s := top + ". Key risks include " + strings.Join(risks, ", ")
	if hba1c != "" {
		s += "; HbA1c " + hba1c + " %"
	}
	return shorten(s+".", maxTextLen)
}

// hba1cValue resolves the first HbA1c lab, preferring its non-zero numeric
// value over the raw text.
func hba1cValue(labs []emr.ParsedLab) string {
	for _, lab := range labs {
		if !strings.HasPrefix(strings.ToLower(lab.Name), "hba1c") {
			continue
		}
		if lab.NumericValue != nil && *lab.NumericValue != 0 {
			return strconv.FormatFloat(*lab.NumericValue, 'f', -1, 64)
		}
		return lab.RawValue
	}
	return ""
}

// shorten truncates s to max runes, marking the cut with an ellipsis.
func shorten(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimRight(string(r[:max-1]), " \t\n") + "…"
}
