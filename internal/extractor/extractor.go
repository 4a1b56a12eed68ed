// Package extractor pulls named values out of responses into the run's
// variable pool.
package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"qguard/internal/coerce"
	"qguard/internal/jsonpath"
	"qguard/internal/variables"
	"qguard/pkg/logging"
	qstrings "qguard/pkg/strings"
)

// Extraction source types.
const (
	TypeJSON  = "json"
	TypeRegex = "regex"
)

// Spec describes one variable to extract. Regex specs read Pattern and fall
// back to Path.
type Spec struct {
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type,omitempty" yaml:"type,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// Response is the data extraction reads from.
type Response struct {
	// Body is the decoded JSON body, nil when the body is not JSON.
	Body interface{}
	Raw  []byte
}

// Outcome reports what one Extract call did.
type Outcome struct {
	Extracted int
	Lines     []string
}

// Extract applies every spec to resp and stores hits in pool. Specs without
// a path or pattern are skipped with a warning.
func Extract(specs []Spec, resp Response, pool *variables.Pool) Outcome {
	var out Outcome
	for _, spec := range specs {
		value, ok, line := extractOne(spec, resp)
		if line != "" {
			out.Lines = append(out.Lines, line)
		}
		if !ok {
			continue
		}
		pool.Set(spec.Name, value)
		out.Extracted++
	}
	return out
}

func extractOne(spec Spec, resp Response) (interface{}, bool, string) {
	if strings.TrimSpace(spec.Name) == "" {
		logging.Warn("Extractor", "Skipping extractor without a name")
		return nil, false, "⚠ extractor without a name skipped"
	}

	kind := strings.ToLower(strings.TrimSpace(spec.Type))
	if kind == "" {
		kind = TypeJSON
	}

	switch kind {
	case TypeJSON:
		if spec.Path == "" {
			logging.Warn("Extractor", "Extractor '%s' has no path", spec.Name)
			return nil, false, fmt.Sprintf("⚠ extractor '%s' has no path, skipped", spec.Name)
		}
		var (
			value interface{}
			found bool
		)
		if resp.Body != nil {
			value, found = jsonpath.Lookup(resp.Body, spec.Path)
		} else if len(resp.Raw) > 0 {
			value, found = jsonpath.LookupRaw(resp.Raw, spec.Path)
		}
		if !found || value == nil {
			return nil, false, fmt.Sprintf("✗ failed to extract '%s' from %s", spec.Name, spec.Path)
		}
		return value, true, fmt.Sprintf("✓ extracted '%s' = %s", spec.Name, preview(value))

	case TypeRegex:
		pattern := spec.Pattern
		if pattern == "" {
			pattern = spec.Path
		}
		if pattern == "" {
			logging.Warn("Extractor", "Extractor '%s' has no pattern", spec.Name)
			return nil, false, fmt.Sprintf("⚠ extractor '%s' has no pattern, skipped", spec.Name)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			logging.Warn("Extractor", "Extractor '%s' has an invalid pattern: %v", spec.Name, err)
			return nil, false, fmt.Sprintf("✗ failed to extract '%s': invalid pattern", spec.Name)
		}
		m := re.FindSubmatch(resp.Raw)
		if m == nil {
			return nil, false, fmt.Sprintf("✗ failed to extract '%s' with pattern %s", spec.Name, pattern)
		}
		value := string(m[0])
		if len(m) > 1 {
			value = string(m[1])
		}
		return value, true, fmt.Sprintf("✓ extracted '%s' = %s", spec.Name, preview(value))
	}

	logging.Warn("Extractor", "Extractor '%s' has unsupported type '%s'", spec.Name, spec.Type)
	return nil, false, fmt.Sprintf("⚠ extractor '%s' has unsupported type '%s', skipped", spec.Name, spec.Type)
}

// previewWidth caps extracted values echoed into the transcript, in runes.
const previewWidth = 80

func preview(v interface{}) string {
	return qstrings.Truncate(coerce.ToString(v), previewWidth)
}
