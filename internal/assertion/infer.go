package assertion

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"qguard/internal/coerce"
)

const expectedPrefix = "expected_"

// smartMatchMinLength is the length in runes above which a single-word
// expectation is treated as a JSON fragment rather than a scalar.
const smartMatchMinLength = 20

// topLevelKeys are response envelope fields addressed from the root rather
// than under "data".
var topLevelKeys = map[string]bool{
	"status":    true,
	"code":      true,
	"message":   true,
	"msg":       true,
	"success":   true,
	"error":     true,
	"errors":    true,
	"data":      true,
	"total":     true,
	"timestamp": true,
}

// operatorSuffixes are tried in order; longer suffixes come first where one
// ends with another.
var operatorSuffixes = []struct {
	suffix string
	op     Operator
}{
	{"_not_contains", OpNotContains},
	{"_contains", OpContains},
	{"_greater_than", OpGreaterThan},
	{"_less_than", OpLessThan},
	{"_not_equal", OpNotEqual},
	{"_exists", OpExists},
}

// HasExpectations reports whether row carries any expected_* field.
func HasExpectations(row map[string]interface{}) bool {
	for k := range row {
		if strings.HasPrefix(k, expectedPrefix) {
			return true
		}
	}
	return false
}

// Infer derives assertions from the expected_* fields of a row. The status
// assertion comes first; the rest follow in key order.
func Infer(row map[string]interface{}) []Assertion {
	keys := make([]string, 0, len(row))
	for k := range row {
		if strings.HasPrefix(k, expectedPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var status []Assertion
	var rest []Assertion
	for _, key := range keys {
		name := strings.TrimPrefix(key, expectedPrefix)
		value := row[key]
		if name == "" {
			continue
		}

		switch {
		case name == "status" || name == "status_code":
			status = append(status, StatusCode{Expected: value})
		case strings.HasPrefix(name, "node_"):
			rest = append(rest, inferNode(strings.TrimPrefix(name, "node_"), value))
		default:
			rest = append(rest, inferField(name, value))
		}
	}
	return append(status, rest...)
}

// Select picks the assertions for one row. An explicit assertions list on
// the row wins. Otherwise expected_* fields are inferred and appended to the
// configured list, with an inferred status check replacing a configured one.
func Select(configured []Assertion, row map[string]interface{}) []Assertion {
	if override, ok := row["assertions"].([]interface{}); ok && len(override) > 0 {
		return ParseList(override)
	}
	if !HasExpectations(row) {
		return configured
	}

	inferred := Infer(row)
	inferredStatus := false
	for _, a := range inferred {
		if _, ok := a.(StatusCode); ok {
			inferredStatus = true
			break
		}
	}

	out := make([]Assertion, 0, len(configured)+len(inferred))
	for _, a := range configured {
		if _, ok := a.(StatusCode); ok && inferredStatus {
			continue
		}
		out = append(out, a)
	}
	return append(out, inferred...)
}

func inferField(name string, value interface{}) Assertion {
	op := OpEqual
	field := name
	for _, s := range operatorSuffixes {
		if strings.HasSuffix(name, s.suffix) && len(name) > len(s.suffix) {
			op = s.op
			field = strings.TrimSuffix(name, s.suffix)
			break
		}
	}

	// The digit test applies to the field name, never the value: "v2" or
	// "item1" address a path, while a long value full of digits is still a
	// fragment.
	if op == OpEqual && !strings.Contains(field, "_") && !hasDigit(field) {
		if s, ok := value.(string); ok && utf8.RuneCountInString(s) > smartMatchMinLength {
			return SmartMatch{Field: field, Expected: s}
		}
	}

	expected := coerce.InferValue(value)
	if op == OpExists {
		expected = true
		if b, ok := coerce.ToBool(value); ok && value != nil && value != "" {
			expected = b
		}
	}
	return JSONPath{
		Type:        TypeJSONPath,
		Path:        InferPath(field),
		Operator:    op,
		RawOperator: string(op),
		Expected:    expected,
	}
}

func inferNode(name string, value interface{}) Assertion {
	expected, ok := coerce.To(coerce.KindObject, value).(map[string]interface{})
	if !ok {
		return Invalid{Type: TypeNode, Reason: "expected_node_" + name + " must be a JSON object"}
	}
	return Node{Path: InferPath(name), Mode: ModeAllFields, Expected: expected}
}

// InferPath maps a field name to a path: underscore segments nest, digit
// segments index into the preceding list ("items_0_name" is
// "$.items[0].name"). Single words live under "$.data" unless they are an
// envelope field.
func InferPath(field string) string {
	if strings.Contains(field, "_") {
		var b strings.Builder
		b.WriteString("$")
		for _, seg := range strings.Split(field, "_") {
			if seg == "" {
				continue
			}
			if isDigits(seg) {
				b.WriteString("[" + seg + "]")
				continue
			}
			b.WriteString("." + seg)
		}
		return b.String()
	}
	if topLevelKeys[field] {
		return "$." + field
	}
	return "$.data." + field
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
