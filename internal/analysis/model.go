package analysis

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/aibot/internal/emr"
	"github.com/ehr/aibot/internal/report"
)

// Request is a parsed analysis request.
type Request struct {
	CaseID    *string
	PatientID *string
	EMR       emr.Input
	// Sample is set when the built-in sample EMR replaced an empty input.
	Sample bool
}

// Response is the envelope returned by the analyze endpoints.
type Response struct {
	Status     string          `json:"status"`
	AnalysisID *uuid.UUID      `json:"analysis_id,omitempty"`
	CaseID     *string         `json:"case_id"`
	PatientID  *string         `json:"patient_id"`
	AIOutput   report.AIOutput `json:"ai_output"`
	Narrative  string          `json:"narrative,omitempty"`
	Meta       emr.Meta        `json:"meta"`
}

// Report reassembles the report the envelope was built from.
func (r *Response) Report() report.Report {
	audit := r.Meta.Audit
	return report.Report{
		Status:    r.Status,
		CaseID:    r.CaseID,
		PatientID: r.PatientID,
		AIOutput:  r.AIOutput,
		Audit:     &audit,
	}
}

// Record is one archived analysis.
type Record struct {
	ID             uuid.UUID     `json:"id"`
	CaseID         *string       `json:"case_id"`
	PatientID      *string       `json:"patient_id"`
	InputHash      string        `json:"input_hash"`
	PayloadVersion string        `json:"payload_version"`
	RiskFlags      []string      `json:"risk_flags"`
	Confidence     string        `json:"confidence_level"`
	Report         report.Report `json:"report"`
	Meta           emr.Meta      `json:"meta"`
	RequestedBy    string        `json:"requested_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// ListFilter narrows archive listings. Empty fields match everything.
type ListFilter struct {
	CaseID    string
	PatientID string
}

func (f ListFilter) matches(r *Record) bool {
	if f.CaseID != "" && (r.CaseID == nil || *r.CaseID != f.CaseID) {
		return false
	}
	if f.PatientID != "" && (r.PatientID == nil || *r.PatientID != f.PatientID) {
		return false
	}
	return true
}
