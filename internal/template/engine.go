// Package template resolves request templates against data rows and the
// run variable pool.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"qguard/internal/coerce"
)

// UnresolvedError lists placeholders that had no value in the context.
// Values returned together with it are still usable: unresolved
// placeholders are left verbatim.
type UnresolvedError struct {
	Names []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved template variables: %s", strings.Join(e.Names, ", "))
}

// Engine substitutes ${name} placeholders.
type Engine struct {
	placeholder *regexp.Regexp
	whole       *regexp.Regexp
}

// New creates a new template engine
func New() *Engine {
	return &Engine{
		placeholder: regexp.MustCompile(`\$\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}`),
		whole:       regexp.MustCompile(`^\$\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}$`),
	}
}

// Replace resolves placeholders inside value. A string that is exactly one
// placeholder takes the native type of the context value; placeholders
// embedded in longer strings are stringified in place. The input is never
// modified.
func (e *Engine) Replace(value interface{}, context map[string]interface{}) (interface{}, error) {
	missing := make(map[string]struct{})
	out := e.replace(value, context, missing)
	return out, unresolved(missing)
}

// ReplaceString resolves placeholders in a string position, so the result is
// always a string.
func (e *Engine) ReplaceString(s string, context map[string]interface{}) (string, error) {
	missing := make(map[string]struct{})
	out := e.replaceEmbedded(s, context, missing)
	return out, unresolved(missing)
}

// IsPlaceholder reports whether s is exactly one placeholder and returns
// its variable name.
func (e *Engine) IsPlaceholder(s string) (string, bool) {
	m := e.whole.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func (e *Engine) replace(value interface{}, context map[string]interface{}, missing map[string]struct{}) interface{} {
	switch v := value.(type) {
	case string:
		if name, ok := e.IsPlaceholder(v); ok {
			if replacement, exists := context[name]; exists {
				return replacement
			}
			missing[name] = struct{}{}
			return v
		}
		return e.replaceEmbedded(v, context, missing)
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, item := range v {
			result[key] = e.replace(item, context, missing)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = e.replace(item, context, missing)
		}
		return result
	default:
		return value
	}
}

func (e *Engine) replaceEmbedded(s string, context map[string]interface{}, missing map[string]struct{}) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return e.placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := e.placeholder.FindStringSubmatch(match)[1]
		replacement, exists := context[name]
		if !exists {
			missing[name] = struct{}{}
			return match
		}
		return coerce.ToString(replacement)
	})
}

// ExtractVariables returns the sorted placeholder names used in value.
func (e *Engine) ExtractVariables(value interface{}) []string {
	variables := make(map[string]struct{})
	e.extractVariablesRecursive(value, variables)

	result := make([]string, 0, len(variables))
	for name := range variables {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

func (e *Engine) extractVariablesRecursive(value interface{}, variables map[string]struct{}) {
	switch v := value.(type) {
	case string:
		for _, match := range e.placeholder.FindAllStringSubmatch(v, -1) {
			variables[match[1]] = struct{}{}
		}
	case map[string]interface{}:
		for _, val := range v {
			e.extractVariablesRecursive(val, variables)
		}
	case []interface{}:
		for _, val := range v {
			e.extractVariablesRecursive(val, variables)
		}
	}
}

func unresolved(missing map[string]struct{}) error {
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return &UnresolvedError{Names: names}
}
