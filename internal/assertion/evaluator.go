package assertion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"qguard/internal/coerce"
	"qguard/internal/jsonpath"
	"qguard/internal/template"
	"qguard/pkg/logging"
)

// Input is the response an assertion list is evaluated against.
type Input struct {
	Status int
	// Body is the decoded JSON body, nil when the body is not JSON.
	Body interface{}
	Raw  []byte
	// Context resolves ${name} tokens inside expected values.
	Context map[string]interface{}
}

// Evaluator evaluates assertions against responses.
type Evaluator struct {
	engine *template.Engine
}

// NewEvaluator creates an evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{engine: template.New()}
}

// Evaluate runs every assertion in order and reports whether all passed.
// An empty list passes.
func (e *Evaluator) Evaluate(assertions []Assertion, in Input) (bool, []Result) {
	results := make([]Result, 0, len(assertions))
	allPassed := true
	for _, a := range assertions {
		r := e.EvaluateOne(a, in)
		if !r.Passed {
			allPassed = false
		}
		results = append(results, r)
	}
	return allPassed, results
}

// EvaluateOne evaluates a single assertion.
func (e *Evaluator) EvaluateOne(a Assertion, in Input) Result {
	var r Result
	switch v := a.(type) {
	case StatusCode:
		r = e.statusCode(v, in)
	case JSONPath:
		r = e.jsonPath(v, in)
	case SmartMatch:
		r = e.smartMatch(v, in)
	case Node:
		r = e.node(v, in)
	case Invalid:
		r = Result{Type: v.Type, Message: fmt.Sprintf("invalid assertion: %s", v.Reason)}
	default:
		r = Result{Type: a.Kind(), Message: fmt.Sprintf("unsupported assertion %T", a)}
	}
	if !r.Passed {
		logging.Debug("Assertion", "%s assertion failed: %s", r.Type, r.Message)
	}
	return r
}

func (e *Evaluator) statusCode(a StatusCode, in Input) Result {
	expected := e.expand(a.Expected, in)
	r := Result{Type: TypeStatusCode, Operator: string(OpEqual), Actual: in.Status}

	want, ok := coerce.Float(expected)
	if !ok {
		r.Expected = expected
		r.Message = fmt.Sprintf("invalid expected status code %s", render(expected))
		return r
	}
	r.Expected = int(want)
	r.Passed = int(want) == in.Status
	if r.Passed {
		r.Message = fmt.Sprintf("status code is %d", in.Status)
	} else {
		r.Message = fmt.Sprintf("expected status code %d, got %d", int(want), in.Status)
	}
	return r
}

func (e *Evaluator) jsonPath(a JSONPath, in Input) Result {
	expected := coerce.InferValue(e.expand(a.Expected, in))
	r := Result{Type: a.Type, Path: a.Path, Operator: string(a.Operator), Expected: expected}

	if _, ok := ParseOperator(a.RawOperator); !ok {
		r.Operator = a.RawOperator
		r.Message = fmt.Sprintf("unknown operator '%s'", a.RawOperator)
		return r
	}

	actual, found := lookup(in, a.Path)
	r.Actual = actual
	passed, msg := compare(a.Operator, actual, found, expected)
	r.Passed = passed
	r.Message = fmt.Sprintf("%s: %s", a.Path, msg)
	return r
}

func (e *Evaluator) smartMatch(a SmartMatch, in Input) Result {
	expected := e.expand(a.Expected, in)
	r := Result{Type: TypeSmartMatch, Field: a.Field, Expected: expected}

	raw := in.Raw
	if len(raw) == 0 && in.Body != nil {
		raw, _ = json.Marshal(in.Body)
	}
	candidateRaw, found := jsonpath.FindFirstRaw(raw, a.Field)
	if !found {
		r.Message = fmt.Sprintf("field '%s' not found in response", a.Field)
		return r
	}
	var candidate interface{}
	_ = json.Unmarshal(candidateRaw, &candidate)
	r.Actual = candidate

	if strings.Contains(squash(string(candidateRaw)), squash(fragment(expected))) {
		r.Passed = true
		r.Message = fmt.Sprintf("field '%s' matches", a.Field)
		return r
	}

	if partial, ok := coerce.To(coerce.KindObject, expected).(map[string]interface{}); ok {
		if obj, ok := candidate.(map[string]interface{}); ok {
			if failures := checkFields(obj, partial); len(failures) == 0 {
				r.Passed = true
				r.Message = fmt.Sprintf("field '%s' matches partial object", a.Field)
				return r
			}
		}
	}

	r.Message = fmt.Sprintf("field '%s' value %s does not match %s", a.Field, squash(string(candidateRaw)), squash(fragment(expected)))
	return r
}

func (e *Evaluator) node(a Node, in Input) Result {
	r := Result{Type: TypeNode, Path: a.Path, Mode: a.Mode}

	subtree, found := lookup(in, a.Path)
	if !found {
		r.Message = fmt.Sprintf("node '%s' not found", a.Path)
		return r
	}
	r.Actual = subtree

	var failures []string
	checked := 0
	switch a.Mode {
	case ModeAllFields:
		expected := e.expandMap(a.Expected, in)
		r.Expected = expected
		failures = checkFields(subtree, expected)
		checked = len(expected)
	case ModeTemplate:
		expected := e.expandMap(a.Template, in)
		r.Expected = expected
		failures = checkFields(subtree, expected)
		checked = len(expected)
	case ModeAutoGenerate:
		expected := e.expandMap(a.Expected, in)
		r.Expected = expected
		failures, checked = autoGenerate(a, subtree, expected)
	case ModeSmart:
		failures, checked = e.smartRules(a, subtree, in)
	default:
		failures = []string{fmt.Sprintf("unsupported node mode '%s'", a.Mode)}
	}

	if len(failures) > 0 {
		r.Message = fmt.Sprintf("node '%s': %s", a.Path, strings.Join(failures, "; "))
		return r
	}
	r.Passed = true
	r.Message = fmt.Sprintf("node '%s': %d fields matched", a.Path, checked)
	return r
}

// checkFields requires every key of expected to equal the corresponding
// value in subtree. Keys may be nested paths relative to subtree.
func checkFields(subtree interface{}, expected map[string]interface{}) []string {
	var failures []string
	for _, key := range sortedKeys(expected) {
		want := expected[key]
		actual, ok := fieldValue(subtree, key)
		if !ok {
			failures = append(failures, fmt.Sprintf("%s missing", key))
			continue
		}
		if !coerce.Equal(actual, want) {
			failures = append(failures, fmt.Sprintf("%s expected %s, got %s", key, render(want), render(actual)))
		}
	}
	return failures
}

// autoGenerate checks the included, non-excluded fields of an object node.
// A field "exists" when it is present and not null.
func autoGenerate(a Node, subtree interface{}, expected map[string]interface{}) ([]string, int) {
	obj, ok := subtree.(map[string]interface{})
	if !ok {
		return []string{fmt.Sprintf("node is not an object (%s)", coerce.KindOf(subtree))}, 0
	}

	fields := a.IncludeFields
	if len(fields) == 0 {
		fields = sortedKeys(obj)
	}
	excluded := make(map[string]bool, len(a.ExcludeFields))
	for _, f := range a.ExcludeFields {
		excluded[f] = true
	}

	var failures []string
	checked := 0
	for _, field := range fields {
		if excluded[field] {
			continue
		}
		checked++
		actual, present := fieldValue(obj, field)
		if !present || actual == nil {
			failures = append(failures, fmt.Sprintf("%s missing", field))
			continue
		}
		if a.Check != "equals" {
			continue
		}
		if want, ok := expected[field]; ok && !coerce.Equal(actual, want) {
			failures = append(failures, fmt.Sprintf("%s expected %s, got %s", field, render(want), render(actual)))
		}
	}
	return failures, checked
}

func (e *Evaluator) smartRules(a Node, subtree interface{}, in Input) ([]string, int) {
	var failures []string
	fields := make([]string, 0, len(a.Rules))
	for f := range a.Rules {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		rule := a.Rules[field]
		actual, present := fieldValue(subtree, field)
		if !present || (actual == nil && rule.Name != "equals") {
			failures = append(failures, fmt.Sprintf("%s missing", field))
			continue
		}
		value := coerce.InferValue(e.expand(rule.Value, in))

		var (
			passed bool
			msg    string
		)
		switch rule.Name {
		case "", "exists":
			passed = true
		case "equals", "equal":
			passed, msg = compare(OpEqual, actual, true, value)
		case "contains":
			passed, msg = compare(OpContains, actual, true, value)
		case "gt", "greater_than":
			passed, msg = compare(OpGreaterThan, actual, true, value)
		case "lt", "less_than":
			passed, msg = compare(OpLessThan, actual, true, value)
		case "regex":
			passed, msg = matchRegex(actual, rule.Value)
		default:
			msg = fmt.Sprintf("unknown rule '%s'", rule.Name)
		}
		if !passed {
			failures = append(failures, fmt.Sprintf("%s %s", field, msg))
		}
	}
	return failures, len(fields)
}

func (e *Evaluator) expand(v interface{}, in Input) interface{} {
	if len(in.Context) == 0 || v == nil {
		return v
	}
	out, _ := e.engine.Replace(v, in.Context)
	return out
}

func (e *Evaluator) expandMap(m map[string]interface{}, in Input) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	if out, ok := e.expand(m, in).(map[string]interface{}); ok {
		return out
	}
	return m
}

func lookup(in Input, path string) (interface{}, bool) {
	if in.Body != nil {
		return jsonpath.Lookup(in.Body, path)
	}
	if len(in.Raw) > 0 {
		return jsonpath.LookupRaw(in.Raw, path)
	}
	return nil, false
}

func fieldValue(subtree interface{}, key string) (interface{}, bool) {
	if obj, ok := subtree.(map[string]interface{}); ok {
		if v, ok := obj[key]; ok {
			return v, true
		}
	}
	return jsonpath.Lookup(subtree, key)
}

func fragment(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return coerce.ToString(v)
	}
	return strings.TrimSpace(buf.String())
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
