package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHumanize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Left Eye posterior segment: Mild NPDR changes", "Left eye: Mild NPDR changes"},
		{"RIGHT EYE: Phthisis Bulbi", "Right eye: Phthisis Bulbi"},
		{"Right Eye", "Right eye: Right Eye"},
		{"Eye right: x", "Eye right: x"},
		{"HbA1c: 8.2 % (ref 4.0-5.6)", "HbA1c: 8.2% (ref 4.0-5.6)"},
		{"Hb: 11 %", "Hb: 11%"},
		{"Fasting Glucose: 110 mg/dL", "Fasting Glucose: 110 mg/dL"},
		{"General blood pressure: 120/80", "Blood pressure: 120/80"},
		{"General IOP: 21", "Iop: 21"},
		{"General: Alert", "General: Alert"},
		{"Past Medical History: Hypertension", "Past Medical History: Hypertension"},
		{"poor glycemic control", "poor glycemic control"},
		{"Social   History ()  smoking: Never", "Social History smoking: Never"},
		{"   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Humanize(tt.in))
		})
	}
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "hbac", dedupKey("HbA1c: 8.2%"))
	assert.Equal(t, dedupKey("Notes: Edema 1"), dedupKey("notes: edema 2"))
	assert.Equal(t, "left eye mildnpdr", dedupKey("  Left eye:   Mild-NPDR "))
}

func TestCapitalize(t *testing.T) {
	assert.Equal(t, "Glaucoma suspect", capitalize("glaucoma SUSPECT"))
	assert.Equal(t, "", capitalize(""))
}
