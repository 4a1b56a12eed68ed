// Package coerce implements the value coercion rules shared by template
// resolution and assertion evaluation.
//
// The ladder applied to untyped strings has a fixed precedence:
// boolean, null, integer, float, JSON object/array, then the string itself.
// Targeted conversion (To) converts a value into the kind a template
// position already holds and leaves the value untouched when it cannot.
package coerce

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Kind classifies a JSON-shaped value.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindObject
	KindNull
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	case KindNull:
		return "null"
	default:
		return "any"
	}
}

// KindOf reports the kind of a decoded JSON value.
func KindOf(v interface{}) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case bool:
		return KindBool
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return KindNumber
	case []interface{}, []string:
		return KindList
	case map[string]interface{}:
		return KindObject
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return KindList
	case reflect.Map:
		return KindObject
	}
	return KindAny
}

// Infer applies the ladder to a raw string.
func Infer(s string) interface{} {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, ok := parseNumber(trimmed); ok {
		return n
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var decoded interface{}
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded
		}
	}
	return s
}

// InferValue applies Infer when v is a string and returns other values unchanged.
func InferValue(v interface{}) interface{} {
	if s, ok := v.(string); ok {
		return Infer(s)
	}
	return v
}

// To converts v into kind. Conversions that cannot succeed return v unchanged.
func To(kind Kind, v interface{}) interface{} {
	switch kind {
	case KindList:
		return ToList(v)
	case KindNumber:
		if n, ok := ToNumber(v); ok {
			return n
		}
		return v
	case KindBool:
		if b, ok := ToBool(v); ok {
			return b
		}
		return v
	case KindString:
		return ToString(v)
	case KindObject:
		if s, ok := v.(string); ok {
			var decoded map[string]interface{}
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return decoded
			}
		}
		return v
	default:
		return v
	}
}

// ToList converts v into a list. Empty strings and nil become an empty list.
func ToList(v interface{}) []interface{} {
	switch val := v.(type) {
	case nil:
		return []interface{}{}
	case []interface{}:
		return val
	case []string:
		out := make([]interface{}, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" || strings.EqualFold(trimmed, "none") || trimmed == "null" {
			return []interface{}{}
		}
		if strings.HasPrefix(trimmed, "[") {
			var decoded []interface{}
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				return decoded
			}
		}
		if strings.Contains(trimmed, ",") {
			parts := strings.Split(trimmed, ",")
			out := make([]interface{}, 0, len(parts))
			for _, p := range parts {
				out = append(out, strings.TrimSpace(p))
			}
			return out
		}
		return []interface{}{val}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []interface{}{v}
}

// ToNumber converts v into an int64 or float64.
func ToNumber(v interface{}) (interface{}, bool) {
	switch val := v.(type) {
	case int64, float64:
		return val, true
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case float32:
		return float64(val), true
	case json.Number:
		return parseNumber(val.String())
	case bool:
		if val {
			return int64(1), true
		}
		return int64(0), true
	case string:
		return parseNumber(strings.TrimSpace(val))
	}
	return nil, false
}

// Float returns the numeric value of v as a float64.
func Float(v interface{}) (float64, bool) {
	n, ok := ToNumber(v)
	if !ok {
		return 0, false
	}
	switch num := n.(type) {
	case int64:
		return float64(num), true
	case float64:
		return num, true
	}
	return 0, false
}

// ToBool converts v into a boolean.
func ToBool(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case nil:
		return false, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no", "":
			return false, true
		}
		return false, false
	}
	if f, ok := Float(v); ok {
		return f != 0, true
	}
	return false, false
}

// ToString renders v as a string, JSON-encoding objects and lists.
func ToString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return formatFloat(val)
	case json.Number:
		return val.String()
	}
	switch KindOf(v) {
	case KindList, KindObject:
		data, err := json.Marshal(v)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprintf("%v", v)
}

// Equal compares two values, tolerating representation differences between
// strings, numbers and booleans.
func Equal(actual, expected interface{}) bool {
	if actual == nil || expected == nil {
		if actual == nil && expected == nil {
			return true
		}
		if s, ok := expected.(string); ok && actual == nil {
			return s == "null"
		}
		if s, ok := actual.(string); ok && expected == nil {
			return s == "null"
		}
		return false
	}

	actualKind, expectedKind := KindOf(actual), KindOf(expected)

	if actualKind == KindList || expectedKind == KindList {
		if actualKind != KindList || expectedKind != KindList {
			if s, ok := expected.(string); ok && actualKind == KindList {
				return Equal(actual, Infer(s))
			}
			return false
		}
		a, e := ToList(actual), ToList(expected)
		if len(a) != len(e) {
			return false
		}
		for i := range a {
			if !Equal(a[i], e[i]) {
				return false
			}
		}
		return true
	}

	if actualKind == KindObject || expectedKind == KindObject {
		am, aok := actual.(map[string]interface{})
		em, eok := expected.(map[string]interface{})
		if !aok || !eok {
			if s, ok := expected.(string); ok && aok {
				if decoded, ok := Infer(s).(map[string]interface{}); ok {
					return Equal(am, decoded)
				}
			}
			return false
		}
		if len(am) != len(em) {
			return false
		}
		for k, ev := range em {
			av, exists := am[k]
			if !exists || !Equal(av, ev) {
				return false
			}
		}
		return true
	}

	if actualKind == KindNumber || expectedKind == KindNumber {
		af, aok := Float(actual)
		ef, eok := Float(expected)
		if aok && eok && actualKind != KindBool && expectedKind != KindBool {
			return af == ef
		}
	}

	if actualKind == KindBool || expectedKind == KindBool {
		ab, aok := ToBool(actual)
		eb, eok := ToBool(expected)
		if aok && eok {
			return ab == eb
		}
	}

	return ToString(actual) == ToString(expected)
}

func parseNumber(s string) (interface{}, bool) {
	if s == "" {
		return nil, false
	}
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		return nil, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return f, true
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
