package assertion

import (
	"fmt"
	"regexp"
	"strings"

	"qguard/internal/coerce"
)

// Operator is a comparison used by json_path assertions.
type Operator string

const (
	OpEqual       Operator = "equal"
	OpNotEqual    Operator = "not_equal"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpExists      Operator = "exists"
)

var operatorAliases = map[string]Operator{
	"equal":        OpEqual,
	"equals":       OpEqual,
	"eq":           OpEqual,
	"==":           OpEqual,
	"not_equal":    OpNotEqual,
	"ne":           OpNotEqual,
	"!=":           OpNotEqual,
	"contains":     OpContains,
	"not_contains": OpNotContains,
	"greater_than": OpGreaterThan,
	"gt":           OpGreaterThan,
	">":            OpGreaterThan,
	"less_than":    OpLessThan,
	"lt":           OpLessThan,
	"<":            OpLessThan,
	"exists":       OpExists,
}

// ParseOperator maps an operator name or alias to its canonical form.
// An empty name means equal.
func ParseOperator(name string) (Operator, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return OpEqual, true
	}
	op, ok := operatorAliases[n]
	return op, ok
}

// compare applies op. found reports whether the actual value was present.
func compare(op Operator, actual interface{}, found bool, expected interface{}) (bool, string) {
	if op == OpExists {
		want := true
		if b, ok := coerce.ToBool(expected); ok && expected != nil && expected != "" {
			want = b
		}
		if found == want {
			return true, fmt.Sprintf("existence is %t as expected", found)
		}
		if want {
			return false, "value does not exist"
		}
		return false, fmt.Sprintf("value exists: %s", coerce.ToString(actual))
	}
	if !found {
		return false, "value not found"
	}

	switch op {
	case OpEqual:
		if coerce.Equal(actual, expected) {
			return true, fmt.Sprintf("%s equals %s", render(actual), render(expected))
		}
		return false, fmt.Sprintf("expected %s, got %s", render(expected), render(actual))
	case OpNotEqual:
		if !coerce.Equal(actual, expected) {
			return true, fmt.Sprintf("%s differs from %s", render(actual), render(expected))
		}
		return false, fmt.Sprintf("expected a value other than %s", render(expected))
	case OpContains:
		if contains(actual, expected) {
			return true, fmt.Sprintf("%s contains %s", render(actual), render(expected))
		}
		return false, fmt.Sprintf("%s does not contain %s", render(actual), render(expected))
	case OpNotContains:
		if !contains(actual, expected) {
			return true, fmt.Sprintf("%s does not contain %s", render(actual), render(expected))
		}
		return false, fmt.Sprintf("%s unexpectedly contains %s", render(actual), render(expected))
	case OpGreaterThan, OpLessThan:
		a, aok := coerce.Float(actual)
		e, eok := coerce.Float(expected)
		if !aok || !eok {
			return false, fmt.Sprintf("cannot compare %s and %s numerically", render(actual), render(expected))
		}
		if op == OpGreaterThan {
			if a > e {
				return true, fmt.Sprintf("%s > %s", render(actual), render(expected))
			}
			return false, fmt.Sprintf("expected a value greater than %s, got %s", render(expected), render(actual))
		}
		if a < e {
			return true, fmt.Sprintf("%s < %s", render(actual), render(expected))
		}
		return false, fmt.Sprintf("expected a value less than %s, got %s", render(expected), render(actual))
	}
	return false, fmt.Sprintf("unknown operator '%s'", op)
}

func contains(actual, expected interface{}) bool {
	switch a := actual.(type) {
	case string:
		return strings.Contains(a, coerce.ToString(expected))
	case []interface{}:
		for _, item := range a {
			if coerce.Equal(item, expected) {
				return true
			}
		}
		return false
	case map[string]interface{}:
		_, ok := a[coerce.ToString(expected)]
		return ok
	}
	return strings.Contains(coerce.ToString(actual), coerce.ToString(expected))
}

func matchRegex(actual, pattern interface{}) (bool, string) {
	expr := coerce.ToString(pattern)
	re, err := regexp.Compile(expr)
	if err != nil {
		return false, fmt.Sprintf("invalid regex %q: %v", expr, err)
	}
	if re.MatchString(coerce.ToString(actual)) {
		return true, fmt.Sprintf("%s matches %q", render(actual), expr)
	}
	return false, fmt.Sprintf("%s does not match %q", render(actual), expr)
}

func render(v interface{}) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	if v == nil {
		return "null"
	}
	return coerce.ToString(v)
}
