package execution

import (
	"context"
	"fmt"
	"strings"

	"qguard/internal/assertion"
	"qguard/internal/runner"
	"qguard/internal/store"
	"qguard/internal/template"
	"qguard/pkg/logging"

	"golang.org/x/sync/singleflight"
)

// Builder resolves a RunConfig against its environment into a RunSpec.
// Concurrent lookups of the same environment share one store call.
type Builder struct {
	envs  store.Environments
	group singleflight.Group
}

// NewBuilder creates a builder. envs may be nil when no environment store
// is available; configurations naming an environment then fail to build.
func NewBuilder(envs store.Environments) *Builder {
	return &Builder{envs: envs}
}

// Build produces the runner input for cfg. name labels the run in
// transcripts.
func (b *Builder) Build(ctx context.Context, name string, cfg *RunConfig) (runner.RunSpec, error) {
	tc := cfg.TestCase
	spec := runner.RunSpec{
		Name:       name,
		BaseURL:    cfg.BaseURL,
		Request:    tc.Request,
		Assertions: assertion.ParseList(tc.Assertions),
		Extractors: tc.Extractors,
		Token:      tc.TokenConfig,
		Rows:       cfg.Data,
	}
	if spec.Name == "" {
		spec.Name = tc.Name
	}

	if cfg.Environment != "" {
		env, err := b.environment(ctx, cfg.Environment)
		if err != nil {
			return runner.RunSpec{}, err
		}
		if spec.BaseURL == "" {
			spec.BaseURL = env.BaseURL
		}
		spec.Request.Headers = layer(env.DefaultHeaders, tc.Request.Headers)
		spec.Request.Params = layer(env.DefaultParams, tc.Request.Params)
		spec.Variables = env.Variables
	}

	if missing := UndefinedPlaceholders(spec); len(missing) > 0 {
		logging.Warn("Execution", "Run %s uses placeholders nothing defines, they are sent as written: %s",
			spec.Name, strings.Join(missing, ", "))
	}
	return spec, nil
}

var placeholders = template.New()

// UndefinedPlaceholders lists, sorted, the ${name} placeholders in the
// request of spec that no data row, environment variable or extractor
// supplies.
func UndefinedPlaceholders(spec runner.RunSpec) []string {
	req := spec.Request
	used := placeholders.ExtractVariables([]interface{}{req.Path, req.Headers, req.Params, req.Body})
	if len(used) == 0 {
		return nil
	}

	defined := make(map[string]struct{})
	for _, row := range spec.Rows {
		for k := range template.MergeArraySuffixes(row) {
			defined[k] = struct{}{}
		}
	}
	for k := range spec.Variables {
		defined[k] = struct{}{}
	}
	for _, e := range spec.Extractors {
		defined[e.Name] = struct{}{}
	}
	if spec.Token != nil {
		for _, e := range spec.Token.Extractors {
			defined[e.Name] = struct{}{}
		}
	}

	var missing []string
	for _, name := range used {
		if _, ok := defined[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func (b *Builder) environment(ctx context.Context, key string) (*store.Environment, error) {
	if b.envs == nil {
		return nil, fmt.Errorf("environment %s: no environment store configured", key)
	}
	v, err, shared := b.group.Do(key, func() (interface{}, error) {
		return b.envs.GetEnvironment(ctx, key)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve environment: %w", err)
	}
	if shared {
		logging.Debug("Execution", "Environment %s lookup shared with a concurrent build", key)
	}
	return v.(*store.Environment), nil
}

// layer returns base overlaid by top in a new map; top wins.
func layer(base, top map[string]interface{}) map[string]interface{} {
	if len(base) == 0 {
		return top
	}
	out := make(map[string]interface{}, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		out[k] = v
	}
	return out
}
