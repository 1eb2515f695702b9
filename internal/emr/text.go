package emr

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	emptyParens = regexp.MustCompile(`\(\s*\)|\[\s*\]|\{\s*\}`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// cleanText removes empty bracket groups, including groups emptied by an
// inner removal, and collapses whitespace.
func cleanText(s string) string {
	for {
		next := emptyParens.ReplaceAllString(s, " ")
		if next == s {
			break
		}
		s = next
	}
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// scalarText renders a JSON scalar as text. Objects, arrays, booleans and nil
// are not scalars for EMR purposes and report ok=false.
func scalarText(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

// isMeaningful is the validity rule shared by every finding: the value must be
// non-empty after trimming and must not be the placeholder "normal".
func isMeaningful(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.EqualFold(s, "normal")
}

func isBlank(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]interface{}:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	default:
		return false
	}
}

// lookup returns the value of the first key in keys order that is present
// and not blank, so an empty primary spelling falls through to the alternate.
func lookup(m map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && !isBlank(v) {
			return v, true
		}
	}
	return nil, false
}

// describe names a value's JSON kind for audit messages.
func describe(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// quote renders a value for audit text without producing "()" or raw newlines.
func quote(v interface{}) string {
	if s, ok := scalarText(v); ok {
		return strconv.Quote(s)
	}
	return describe(v)
}
