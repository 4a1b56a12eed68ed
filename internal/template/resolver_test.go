package template

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestResolveBodyCoercesToTemplateKinds(t *testing.T) {
	r := NewResolver()
	tmpl := Request{
		Method: "post",
		Path:   "/api/items",
		Body:   map[string]interface{}{"count": float64(0), "tags": []interface{}{}},
	}
	row := map[string]interface{}{"count": "5", "tags": "a,b,c", "ignored": "x"}

	got := r.Resolve(tmpl, row, nil)

	want := Resolved{
		Method: "POST",
		Path:   "/api/items",
		Body:   map[string]interface{}{"count": int64(5), "tags": []interface{}{"a", "b", "c"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	r := NewResolver()
	tmpl := Request{
		Method:  "POST",
		Path:    "/users/${id}",
		Headers: map[string]interface{}{"Authorization": "Bearer ${token}"},
		Body: map[string]interface{}{
			"name":    "${name}",
			"enabled": false,
			"profile": map[string]interface{}{"age": float64(0)},
		},
	}
	row := map[string]interface{}{"id": int64(9), "name": "bob", "enabled": "yes", "profile": map[string]interface{}{"age": "41"}}
	vars := map[string]interface{}{"token": "t0k"}

	first := r.Resolve(tmpl, row, vars)
	second := r.Resolve(tmpl, row, vars)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second resolution differs:\n%s", diff)
	}
	assert.Equal(t, "${name}", tmpl.Body.(map[string]interface{})["name"], "template must not be mutated")
	assert.Equal(t, "/users/9", first.Path)
	assert.Equal(t, "Bearer t0k", first.Headers["Authorization"])

	body := first.Body.(map[string]interface{})
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, map[string]interface{}{"age": int64(41)}, body["profile"])
}

func TestResolveExplicitBodyReplacesTemplate(t *testing.T) {
	r := NewResolver()
	tmpl := Request{Method: "PUT", Path: "/x", Body: map[string]interface{}{"a": float64(1)}}
	row := map[string]interface{}{
		"request": map[string]interface{}{
			"body":    map[string]interface{}{"b": "${v}"},
			"headers": map[string]interface{}{"X-Row": "1"},
			"path":    "/override",
		},
		"v": true,
	}

	got := r.Resolve(tmpl, row, nil)
	assert.Equal(t, map[string]interface{}{"b": true}, got.Body)
	assert.Equal(t, "/override", got.Path)
	assert.Equal(t, map[string]string{"X-Row": "1"}, got.Headers)
}

func TestResolveEmptyTemplateBodyUsesRow(t *testing.T) {
	r := NewResolver()
	row := map[string]interface{}{
		"username":        "u1",
		"roles_1":         "admin",
		"roles_2":         "",
		"roles_3":         "dev",
		"expected_status": 200,
		"assertions":      []interface{}{},
		"__row_index":     0,
	}

	got := r.Resolve(Request{Method: "POST", Path: "/login"}, row, nil)
	assert.Equal(t, map[string]interface{}{
		"username": "u1",
		"roles":    []interface{}{"admin", "dev"},
	}, got.Body)
}

func TestResolveParams(t *testing.T) {
	r := NewResolver()
	tmpl := Request{
		Method: "GET",
		Path:   "/search",
		Params: map[string]interface{}{"page": float64(1), "q": "${term}", "size": "10"},
	}
	row := map[string]interface{}{
		"term":    "go",
		"page":    "3",
		"request": map[string]interface{}{"params": map[string]interface{}{"size": 50}},
	}

	got := r.Resolve(tmpl, row, nil)
	assert.Equal(t, map[string]string{"page": "3", "q": "go", "size": "50"}, got.Params)
	assert.Equal(t, "GET", got.Method)
}

func TestResolvePoolWinsOverRowFields(t *testing.T) {
	r := NewResolver()
	row := map[string]interface{}{"session": "none", "token": "stale", "n": "3"}
	vars := map[string]interface{}{"session": "s-1", "token": "fresh"}

	tmpl := Request{
		Method: "POST",
		Path:   "/orders",
		Params: map[string]interface{}{"session": "${session}"},
		Body:   map[string]interface{}{"token": "${token}", "n": float64(0)},
	}
	got := r.Resolve(tmpl, row, vars)
	assert.Equal(t, map[string]string{"session": "s-1"}, got.Params)
	assert.Equal(t, map[string]interface{}{"token": "fresh", "n": int64(3)}, got.Body)

	literal := Request{Method: "POST", Path: "/orders", Body: map[string]interface{}{"token": "", "n": float64(0)}}
	got = r.Resolve(literal, row, vars)
	assert.Equal(t, map[string]interface{}{"token": "", "n": int64(3)}, got.Body, "pool names are not copied from the row")

	got = r.Resolve(Request{Method: "POST", Path: "/orders"}, row, vars)
	assert.Equal(t, map[string]interface{}{"session": "s-1", "token": "fresh", "n": "3"}, got.Body)
}

func TestResolveUnresolvedPlaceholderKept(t *testing.T) {
	r := NewResolver()
	got := r.Resolve(Request{Path: "/a/${nope}", Body: map[string]interface{}{"k": "${nope}"}}, map[string]interface{}{}, nil)
	assert.Equal(t, "/a/${nope}", got.Path)
	assert.Equal(t, map[string]interface{}{"k": "${nope}"}, got.Body)
	assert.Equal(t, "GET", got.Method)
}

func TestResolveHeadersUsesUpdatedPool(t *testing.T) {
	r := NewResolver()
	tmpl := Request{Headers: map[string]interface{}{"Authorization": "Bearer ${token}"}}

	before := r.ResolveHeaders(tmpl, map[string]interface{}{}, map[string]interface{}{"token": "old"})
	after := r.ResolveHeaders(tmpl, map[string]interface{}{}, map[string]interface{}{"token": "new"})
	assert.Equal(t, "Bearer old", before["Authorization"])
	assert.Equal(t, "Bearer new", after["Authorization"])
}

func TestMergeArraySuffixes(t *testing.T) {
	row := map[string]interface{}{
		"item_10":               "ten",
		"item_2":                "two",
		"item_1":                "one",
		"expected_items_0_name": "kept",
		"plain":                 "p",
	}
	got := MergeArraySuffixes(row)

	assert.Equal(t, []interface{}{"one", "two", "ten"}, got["item"])
	assert.Equal(t, "kept", got["expected_items_0_name"])
	assert.Equal(t, "p", got["plain"])
	assert.NotContains(t, got, "item_1")
	assert.Contains(t, row, "item_1", "input row is left untouched")
}
