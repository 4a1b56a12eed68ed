package template

import (
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"qguard/internal/coerce"
	"qguard/pkg/logging"
)

// Request is a request template as stored in a test case.
type Request struct {
	Method  string                 `json:"method,omitempty"`
	Path    string                 `json:"path,omitempty"`
	Headers map[string]interface{} `json:"headers,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Body    interface{}            `json:"body,omitempty"`
}

// Resolved is a concrete request ready to be sent.
type Resolved struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	Body    interface{}       `json:"body,omitempty"`
}

// Row keys with a meaning of their own; they are never sent as body fields.
const (
	KeyRequest     = "request"
	KeyAssertions  = "assertions"
	ExpectedPrefix = "expected_"
)

var suffixPattern = regexp.MustCompile(`^(.+)_(\d+)$`)

// Resolver turns a request template and a data row into a concrete request.
// Resolution never fails: placeholders without a value are left as written.
type Resolver struct {
	engine *Engine
}

// NewResolver creates a resolver.
func NewResolver() *Resolver {
	return &Resolver{engine: New()}
}

// Resolve builds the request for one row. vars is a snapshot of the
// variable pool and takes precedence over row values.
func (r *Resolver) Resolve(tmpl Request, row map[string]interface{}, vars map[string]interface{}) Resolved {
	merged := MergeArraySuffixes(row)
	ctx := MergeContexts(merged, vars)
	override := requestOverride(merged)
	// Flat row fields never override a name the pool defines.
	flat := withoutKeys(merged, vars)

	method := tmpl.Method
	if m, ok := override["method"].(string); ok && m != "" {
		method = m
	}
	if method == "" {
		method = "GET"
	}

	path := tmpl.Path
	if p, ok := override["path"].(string); ok && p != "" {
		path = p
	}

	resolved := Resolved{
		Method:  strings.ToUpper(method),
		Path:    r.resolveString(path, ctx),
		Headers: r.resolveStringMap(ctx, tmpl.Headers, asMap(override["headers"])),
		Params:  r.resolveStringMap(ctx, tmpl.Params, flatOverrides(tmpl.Params, flat), asMap(override["params"])),
	}

	if body, ok := override["body"]; ok {
		resolved.Body = r.resolveValue(body, ctx)
		return resolved
	}

	body := r.resolveValue(tmpl.Body, ctx)
	if isEmptyBody(body) {
		if fields := bodyFields(merged, vars); len(fields) > 0 {
			resolved.Body = fields
		}
		return resolved
	}
	resolved.Body = mergeBody(body, flat)
	return resolved
}

// ResolveHeaders re-resolves only the headers of tmpl, used after variables
// in the pool changed.
func (r *Resolver) ResolveHeaders(tmpl Request, row map[string]interface{}, vars map[string]interface{}) map[string]string {
	merged := MergeArraySuffixes(row)
	ctx := MergeContexts(merged, vars)
	return r.resolveStringMap(ctx, tmpl.Headers, asMap(requestOverride(merged)["headers"]))
}

// ResolvePlain resolves placeholders in tmpl against ctx without any row
// merging. Used for auxiliary requests that have no data row of their own.
func (r *Resolver) ResolvePlain(tmpl Request, ctx map[string]interface{}) Resolved {
	method := tmpl.Method
	if method == "" {
		method = "GET"
	}
	return Resolved{
		Method:  strings.ToUpper(method),
		Path:    r.resolveString(tmpl.Path, ctx),
		Headers: r.resolveStringMap(ctx, tmpl.Headers),
		Params:  r.resolveStringMap(ctx, tmpl.Params),
		Body:    r.resolveValue(tmpl.Body, ctx),
	}
}

func (r *Resolver) resolveValue(value interface{}, ctx map[string]interface{}) interface{} {
	out, err := r.engine.Replace(value, ctx)
	logUnresolved(err)
	return out
}

func (r *Resolver) resolveString(s string, ctx map[string]interface{}) string {
	out, err := r.engine.ReplaceString(s, ctx)
	logUnresolved(err)
	return out
}

func (r *Resolver) resolveStringMap(ctx map[string]interface{}, layers ...map[string]interface{}) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = r.resolveString(coerce.ToString(v), ctx)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func logUnresolved(err error) {
	var unresolvedErr *UnresolvedError
	if errors.As(err, &unresolvedErr) {
		logging.Debug("Resolver", "Leaving placeholders unresolved: %s", strings.Join(unresolvedErr.Names, ", "))
	}
}

// MergeArraySuffixes collapses keys of the form <base>_<n> into a list under
// <base>, ordered by n with empty values dropped. Keys starting with
// "expected_" are left alone. The input map is not modified.
func MergeArraySuffixes(row map[string]interface{}) map[string]interface{} {
	type indexed struct {
		index int
		value interface{}
	}
	groups := make(map[string][]indexed)
	out := make(map[string]interface{}, len(row))

	for k, v := range row {
		if strings.HasPrefix(k, ExpectedPrefix) {
			out[k] = v
			continue
		}
		m := suffixPattern.FindStringSubmatch(k)
		if m == nil {
			out[k] = v
			continue
		}
		idx, err := strconv.Atoi(m[2])
		if err != nil {
			out[k] = v
			continue
		}
		groups[m[1]] = append(groups[m[1]], indexed{index: idx, value: v})
	}

	for base, items := range groups {
		sort.Slice(items, func(i, j int) bool { return items[i].index < items[j].index })
		list := make([]interface{}, 0, len(items))
		for _, item := range items {
			if isEmptyValue(item.value) {
				continue
			}
			list = append(list, item.value)
		}
		out[base] = list
	}
	return out
}

func mergeBody(tmpl interface{}, row map[string]interface{}) interface{} {
	obj, ok := tmpl.(map[string]interface{})
	if !ok {
		return tmpl
	}
	return mergeObject(obj, row)
}

// mergeObject overlays values from src onto a copy of dst, keeping the
// structure of dst: keys absent from dst are ignored and each value is
// converted to the kind dst already holds.
func mergeObject(dst map[string]interface{}, src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(dst))
	for key, current := range dst {
		incoming, ok := src[key]
		if !ok {
			out[key] = current
			continue
		}
		out[key] = mergeValue(current, incoming)
	}
	return out
}

func mergeValue(current, incoming interface{}) interface{} {
	kind := coerce.KindOf(current)
	switch kind {
	case coerce.KindObject:
		if nested, ok := coerce.To(coerce.KindObject, incoming).(map[string]interface{}); ok {
			return mergeObject(current.(map[string]interface{}), nested)
		}
		return incoming
	case coerce.KindNull, coerce.KindAny:
		return incoming
	default:
		return coerce.To(kind, incoming)
	}
}

func requestOverride(row map[string]interface{}) map[string]interface{} {
	return asMap(row[KeyRequest])
}

// flatOverrides picks the flat row fields named like an existing template
// query parameter.
func flatOverrides(params map[string]interface{}, row map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]interface{})
	for k := range params {
		if v, ok := row[k]; ok {
			if coerce.KindOf(v) == coerce.KindObject {
				continue
			}
			out[k] = v
		}
	}
	return out
}

// bodyFields returns the row's own data fields, taking the pool's value
// for names the pool also defines.
func bodyFields(row map[string]interface{}, vars map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range row {
		if k == KeyRequest || k == KeyAssertions || strings.HasPrefix(k, ExpectedPrefix) || strings.HasPrefix(k, "__") {
			continue
		}
		if pooled, ok := vars[k]; ok {
			v = pooled
		}
		out[k] = v
	}
	return out
}

// withoutKeys returns row minus the keys present in vars.
func withoutKeys(row map[string]interface{}, vars map[string]interface{}) map[string]interface{} {
	if len(vars) == 0 {
		return row
	}
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		if _, ok := vars[k]; !ok {
			out[k] = v
		}
	}
	return out
}

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func isEmptyBody(body interface{}) bool {
	switch b := body.(type) {
	case nil:
		return true
	case map[string]interface{}:
		return len(b) == 0
	case string:
		return strings.TrimSpace(b) == ""
	}
	return false
}

func isEmptyValue(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	}
	return false
}
