package emr

import (
	"regexp"
	"strconv"
	"strings"
)

// firstNumber matches the first signed decimal number inside a lab value.
var firstNumber = regexp.MustCompile(`[-+]?\d*\.?\d+`)

// labEntry is an investigation entry whose name and value have been read.
type labEntry struct {
	name      string
	value     string
	unit      string
	reference string
}

// readLab extracts the common fields of one investigation entry. reason is
// set when the entry cannot be used by either pass.
func readLab(entry interface{}) (lab labEntry, reason string) {
	m, ok := entry.(map[string]interface{})
	if !ok {
		return lab, "entry is " + describe(entry) + ", expected an object"
	}
	name, _ := scalarText(m["name"])
	lab.name = strings.TrimSpace(name)
	if lab.name == "" {
		return lab, "missing name"
	}
	value, ok := scalarText(m["value"])
	lab.value = strings.TrimSpace(value)
	if !ok || lab.value == "" {
		return lab, "empty value"
	}
	unit, _ := scalarText(m["unit"])
	lab.unit = strings.TrimSpace(unit)
	ref, _ := scalarText(m["reference"])
	if strings.TrimSpace(ref) == "" {
		ref, _ = scalarText(m["reference_range"])
	}
	lab.reference = strings.TrimSpace(ref)
	return lab, ""
}

func labSubject(i int, lab labEntry) string {
	if lab.name != "" {
		return "investigation[" + strconv.Itoa(i) + "] " + lab.name
	}
	return "investigation[" + strconv.Itoa(i) + "]"
}

// labList returns the investigation entries, auditing a non-list container.
func labList(investigation interface{}, audit *Audit) []interface{} {
	if isBlank(investigation) {
		return nil
	}
	entries, ok := investigation.([]interface{})
	if !ok {
		audit.warn("investigation: expected a list of lab entries, got %s", describe(investigation))
		return nil
	}
	return entries
}

// labFindings is the textual pass: one "<name>: <value>[ <unit>][ (ref <reference>)]"
// finding per usable entry, in input order and without deduplication. Values
// reported as "normal" are discarded here.
func labFindings(entries []interface{}, audit *Audit) []string {
	findings := []string{}
	for i, entry := range entries {
		lab, reason := readLab(entry)
		if reason == "" && !isMeaningful(lab.value) {
			reason = "value reported as normal"
		}
		if reason != "" {
			audit.discard("%s: lab discarded, %s", labSubject(i, lab), reason)
			continue
		}

		var b strings.Builder
		b.WriteString(lab.name)
		b.WriteString(": ")
		b.WriteString(lab.value)
		if lab.unit != "" {
			b.WriteString(" ")
			b.WriteString(lab.unit)
		}
		if lab.reference != "" {
			b.WriteString(" (ref ")
			b.WriteString(lab.reference)
			b.WriteString(")")
		}
		if f := cleanText(b.String()); f != "" {
			findings = append(findings, f)
		}
	}
	return findings
}

// parseLabs is the numeric pass. Unlike the textual pass it does not skip
// values reported as "normal": those are still parsed and simply carry no
// numeric value. Risk derivation relies on this pass alone.
func parseLabs(entries []interface{}, audit *Audit) []ParsedLab {
	parsed := []ParsedLab{}
	for i, entry := range entries {
		lab, reason := readLab(entry)
		if reason != "" {
			audit.discard("%s: not parsed, %s", labSubject(i, lab), reason)
			continue
		}

		p := ParsedLab{Name: lab.name, RawValue: lab.value}
		if lab.unit != "" {
			unit := lab.unit
			p.Unit = &unit
		}
		if lab.reference != "" {
			ref := lab.reference
			p.Reference = &ref
		}
		if n, ok := parseNumber(lab.value); ok {
			p.NumericValue = &n
		} else {
			audit.warn("%s: no numeric value in %s", labSubject(i, lab), strconv.Quote(lab.value))
		}
		parsed = append(parsed, p)
	}
	return parsed
}

// parseNumber returns the first signed decimal number found in s.
func parseNumber(s string) (float64, bool) {
	m := firstNumber.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
