package assertion

import (
	"fmt"
	"strings"

	"qguard/internal/coerce"
)

// Parse builds an assertion from its wire form. Malformed specs become
// Invalid assertions so they surface as failed results instead of being
// dropped.
func Parse(spec map[string]interface{}) Assertion {
	kind := Type(strings.ToLower(str(spec["type"])))
	switch kind {
	case TypeStatusCode:
		return StatusCode{Expected: spec["expected"]}

	case TypeJSONPath, TypeResponseBody:
		path := str(spec["path"])
		if path == "" {
			path = str(spec["json_path"])
		}
		if path == "" {
			return Invalid{Type: kind, Reason: "missing path"}
		}
		raw := str(spec["operator"])
		op, ok := ParseOperator(raw)
		if !ok {
			op = Operator(raw)
		}
		return JSONPath{Type: kind, Path: path, Operator: op, RawOperator: raw, Expected: spec["expected"]}

	case TypeSmartMatch:
		field := str(spec["field"])
		if field == "" {
			return Invalid{Type: kind, Reason: "missing field"}
		}
		return SmartMatch{Field: field, Expected: spec["expected"]}

	case TypeNode:
		return parseNode(spec)

	case "":
		return Invalid{Type: kind, Reason: "missing assertion type"}
	}
	return Invalid{Type: kind, Reason: fmt.Sprintf("unsupported assertion type '%s'", kind)}
}

// ParseList parses a list of wire assertions. Entries that are not objects
// become Invalid assertions.
func ParseList(v interface{}) []Assertion {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]Assertion, 0, len(items))
	for _, item := range items {
		spec, ok := item.(map[string]interface{})
		if !ok {
			out = append(out, Invalid{Reason: fmt.Sprintf("assertion must be an object, got %T", item)})
			continue
		}
		out = append(out, Parse(spec))
	}
	return out
}

func parseNode(spec map[string]interface{}) Assertion {
	n := Node{
		Path:          str(spec["path"]),
		Mode:          NodeMode(strings.ToLower(str(spec["mode"]))),
		IncludeFields: strList(spec["include_fields"]),
		ExcludeFields: strList(spec["exclude_fields"]),
		Check:         strings.ToLower(str(spec["check"])),
	}
	if n.Path == "" {
		n.Path = "$"
	}
	if n.Mode == "" {
		n.Mode = ModeAllFields
	}
	if expected, ok := coerce.To(coerce.KindObject, spec["expected"]).(map[string]interface{}); ok {
		n.Expected = expected
	}
	if tmpl, ok := coerce.To(coerce.KindObject, spec["template"]).(map[string]interface{}); ok {
		n.Template = tmpl
	}
	if rules, ok := spec["rules"].(map[string]interface{}); ok {
		n.Rules = make(map[string]Rule, len(rules))
		for field, r := range rules {
			n.Rules[field] = parseRule(r)
		}
	}

	switch n.Mode {
	case ModeAllFields:
		if n.Expected == nil {
			return Invalid{Type: TypeNode, Reason: "all_fields node requires an expected object"}
		}
	case ModeTemplate:
		if n.Template == nil {
			n.Template = n.Expected
		}
		if n.Template == nil {
			return Invalid{Type: TypeNode, Reason: "template node requires a template object"}
		}
	case ModeAutoGenerate, ModeSmart:
	default:
		return Invalid{Type: TypeNode, Reason: fmt.Sprintf("unsupported node mode '%s'", n.Mode)}
	}
	return n
}

func parseRule(v interface{}) Rule {
	switch r := v.(type) {
	case map[string]interface{}:
		name := str(r["rule"])
		if name == "" {
			name = str(r["type"])
		}
		return Rule{Name: strings.ToLower(name), Value: r["value"]}
	case string:
		return Rule{Name: strings.ToLower(r)}
	case nil:
		return Rule{}
	}
	return Rule{Name: "equals", Value: v}
}

func str(v interface{}) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(coerce.ToString(v))
}

func strList(v interface{}) []string {
	if v == nil {
		return nil
	}
	items := coerce.ToList(v)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := str(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
