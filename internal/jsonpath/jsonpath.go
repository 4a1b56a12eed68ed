// Package jsonpath evaluates the small path language used by assertions and
// extractors: an optional "$" root followed by dot-separated keys and "[n]"
// array indexes, e.g. "$.data.items[1].name". Wildcards, filters and slices
// are not supported.
package jsonpath

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// Segment is one step of a parsed path.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s Segment) String() string {
	if s.IsIndex {
		return fmt.Sprintf("[%d]", s.Index)
	}
	return s.Key
}

// ErrInvalidPath is returned by Parse for malformed paths.
var ErrInvalidPath = errors.New("invalid path")

// Parse splits path into segments. "$" and "" address the root.
func Parse(path string) ([]Segment, error) {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")

	var segments []Segment
	for p != "" {
		switch p[0] {
		case '.':
			p = p[1:]
			if p == "" || p[0] == '.' {
				return nil, fmt.Errorf("%w: empty key in %q", ErrInvalidPath, path)
			}
		case '[':
			end := strings.IndexByte(p, ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed index in %q", ErrInvalidPath, path)
			}
			idx, err := strconv.Atoi(strings.TrimSpace(p[1:end]))
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("%w: bad index %q in %q", ErrInvalidPath, p[1:end], path)
			}
			segments = append(segments, Segment{Index: idx, IsIndex: true})
			p = p[end+1:]
		default:
			end := strings.IndexAny(p, ".[")
			if end < 0 {
				end = len(p)
			}
			segments = append(segments, Segment{Key: p[:end]})
			p = p[end:]
		}
	}
	return segments, nil
}

// Lookup walks a decoded JSON value. The boolean is false when any step is
// missing or the path does not parse.
func Lookup(doc interface{}, path string) (interface{}, bool) {
	segments, err := Parse(path)
	if err != nil {
		return nil, false
	}
	current := doc
	for _, seg := range segments {
		if seg.IsIndex {
			list, ok := current.([]interface{})
			if !ok || seg.Index >= len(list) {
				return nil, false
			}
			current = list[seg.Index]
			continue
		}
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[seg.Key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// LookupRaw evaluates path directly against raw JSON bytes without decoding
// the whole document.
func LookupRaw(data []byte, path string) (interface{}, bool) {
	segments, err := Parse(path)
	if err != nil {
		return nil, false
	}
	keys := make([]string, len(segments))
	for i, seg := range segments {
		if seg.IsIndex {
			keys[i] = "[" + strconv.Itoa(seg.Index) + "]"
		} else {
			keys[i] = seg.Key
		}
	}
	value, dataType, _, err := jsonparser.Get(data, keys...)
	if err != nil || dataType == jsonparser.NotExist {
		return nil, false
	}
	decoded, err := decodeRaw(value, dataType)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

// FindFirstRaw searches data depth-first, in document order, for the first
// object key equal to field. Keys are tested in pre-order: a key's own
// subtree is searched before its later siblings. The matched value is
// returned as JSON text exactly as it appears in data, so object keys keep
// their document order.
func FindFirstRaw(data []byte, field string) ([]byte, bool) {
	value, dataType, found := find(data, field)
	if !found {
		return nil, false
	}
	if dataType == jsonparser.String {
		quoted := make([]byte, 0, len(value)+2)
		quoted = append(quoted, '"')
		quoted = append(quoted, value...)
		return append(quoted, '"'), true
	}
	return value, true
}

func find(data []byte, field string) ([]byte, jsonparser.ValueType, bool) {
	root := jsonparser.Object
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		root = jsonparser.Array
	}
	return findFirst(data, root, field)
}

var errStop = errors.New("stop")

func findFirst(data []byte, kind jsonparser.ValueType, field string) ([]byte, jsonparser.ValueType, bool) {
	var (
		hit     []byte
		hitType jsonparser.ValueType
		found   bool
	)
	switch kind {
	case jsonparser.Object:
		_ = jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
			if string(key) == field {
				hit, hitType, found = value, dataType, true
				return errStop
			}
			if dataType == jsonparser.Object || dataType == jsonparser.Array {
				if v, t, ok := findFirst(value, dataType, field); ok {
					hit, hitType, found = v, t, true
					return errStop
				}
			}
			return nil
		})
	case jsonparser.Array:
		_, _ = jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
			if found {
				return
			}
			if dataType == jsonparser.Object || dataType == jsonparser.Array {
				if v, t, ok := findFirst(value, dataType, field); ok {
					hit, hitType, found = v, t, true
				}
			}
		})
	}
	return hit, hitType, found
}

func decodeRaw(value []byte, dataType jsonparser.ValueType) (interface{}, error) {
	switch dataType {
	case jsonparser.String:
		return jsonparser.ParseString(value)
	case jsonparser.Boolean:
		return jsonparser.ParseBoolean(value)
	case jsonparser.Null:
		return nil, nil
	case jsonparser.Number:
		return jsonparser.ParseFloat(value)
	default:
		var decoded interface{}
		if err := json.Unmarshal(value, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	}
}
