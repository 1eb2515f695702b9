package emr

import "time"

// PayloadVersion is stamped into every NormalizedPayload.
const PayloadVersion = "1.0.0"

// Input is the raw EMR structure handed to the normalizer. Each group is the
// JSON-decoded value exactly as the EMR sent it; no shape is assumed.
type Input struct {
	History       interface{} `json:"history,omitempty"`
	Examination   interface{} `json:"examination,omitempty"`
	Investigation interface{} `json:"investigation,omitempty"`
}

// IsEmpty reports whether none of the three groups carry any data.
func (in Input) IsEmpty() bool {
	return isBlank(in.History) && isBlank(in.Examination) && isBlank(in.Investigation)
}

// NormalizedPayload is the compact, deterministic representation of one EMR
// handed to report generation and downstream summarization.
type NormalizedPayload struct {
	ClinicalContext ClinicalContext `json:"clinical_context"`
	Meta            Meta            `json:"meta"`
}

// ClinicalContext holds findings partitioned by priority.
type ClinicalContext struct {
	HighPriority   []string `json:"high_priority"`
	MediumPriority []string `json:"medium_priority"`
	LowPriority    []string `json:"low_priority"`
}

// Meta carries everything about the payload that is not a finding.
type Meta struct {
	GeneratedAt time.Time   `json:"generated_at"`
	Version     string      `json:"version"`
	RiskFlags   []string    `json:"risk_flags"`
	Audit       Audit       `json:"audit"`
	Safety      Safety      `json:"safety"`
	ParsedLabs  []ParsedLab `json:"parsed_labs"`
}

// Safety lists forbidden clinical-action phrases found anywhere in the input.
type Safety struct {
	ForbiddenTerms []string `json:"forbidden_terms"`
}

// ParsedLab is the numeric interpretation of a single investigation entry.
// NumericValue, Unit and Reference are nil when the EMR did not supply them
// or when no number could be read from the raw value.
type ParsedLab struct {
	Name         string   `json:"name"`
	RawValue     string   `json:"raw_value"`
	NumericValue *float64 `json:"numeric_value"`
	Unit         *string  `json:"unit"`
	Reference    *string  `json:"reference"`
}
