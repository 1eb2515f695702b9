package emr

import "fmt"

// Audit is the append-only trail of everything the pipeline dropped or could
// not interpret. Entries keep derivation order and are never deduplicated.
type Audit struct {
	Discarded []string `json:"discarded"`
	Warnings  []string `json:"warnings"`
}

func newAudit() *Audit {
	return &Audit{
		Discarded: []string{},
		Warnings:  []string{},
	}
}

func (a *Audit) discard(format string, args ...interface{}) {
	a.Discarded = append(a.Discarded, cleanText(fmt.Sprintf(format, args...)))
}

func (a *Audit) warn(format string, args ...interface{}) {
	a.Warnings = append(a.Warnings, cleanText(fmt.Sprintf(format, args...)))
}

// Len returns the total number of entries across both sequences.
func (a Audit) Len() int {
	return len(a.Discarded) + len(a.Warnings)
}
