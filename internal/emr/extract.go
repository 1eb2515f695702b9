package emr

import (
	"sort"
	"strings"
)

// commentsField is never emitted as a finding, whatever its case.
const commentsField = "comments"

// extractData turns one data group into findings. List values yield one
// "<label>: <item>" finding per meaningful item; scalar values yield
// "<label> <field>: <value>". Every rejected value is audited as discarded.
//
// Decoded JSON objects carry no key order, so fields are visited in lexical
// order to keep the audit trail deterministic.
func extractData(set *findingSet, data interface{}, label string, audit *Audit) {
	group, ok := data.(map[string]interface{})
	if !ok {
		audit.discard("%s: data group discarded, expected an object but got %s", label, describe(data))
		return
	}

	fields := make([]string, 0, len(group))
	for k := range group {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if strings.EqualFold(strings.TrimSpace(field), commentsField) {
			continue
		}
		value := group[field]
		fieldName := strings.TrimSpace(strings.ReplaceAll(field, "_", " "))

		if items, ok := value.([]interface{}); ok {
			for i, item := range items {
				text, ok := scalarText(item)
				if !ok || !isMeaningful(text) {
					audit.discard("%s %s[%d]: discarded list item %s, empty or normal", label, fieldName, i, quote(item))
					continue
				}
				set.add(label + ": " + strings.TrimSpace(text))
			}
			continue
		}

		text, ok := scalarText(value)
		if !ok {
			if value == nil {
				audit.discard("%s %s: discarded null value", label, fieldName)
			} else {
				audit.discard("%s %s: discarded unsupported %s value", label, fieldName, describe(value))
			}
			continue
		}
		if !isMeaningful(text) {
			audit.discard("%s %s: discarded value %s, empty or normal", label, fieldName, quote(value))
			continue
		}
		set.add(label + " " + fieldName + ": " + strings.TrimSpace(text))
	}
}
