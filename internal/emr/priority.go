package emr

// Prioritize repackages findings into priority buckets without filtering:
// examination findings followed by risk flags are high priority, textual lab
// findings are medium, history findings are low. Order within each bucket is
// the order supplied.
func Prioritize(history, examination, labs, risks []string) ClinicalContext {
	high := make([]string, 0, len(examination)+len(risks))
	high = append(high, examination...)
	high = append(high, risks...)

	medium := make([]string, 0, len(labs))
	medium = append(medium, labs...)

	low := make([]string, 0, len(history))
	low = append(low, history...)

	return ClinicalContext{
		HighPriority:   high,
		MediumPriority: medium,
		LowPriority:    low,
	}
}
