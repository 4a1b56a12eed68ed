// Package execution turns stored run configurations into runner specs,
// executes them and persists the outcome.
package execution

import (
	"encoding/json"
	"errors"
	"fmt"

	"qguard/internal/extractor"
	"qguard/internal/runner"
	"qguard/internal/schedule"
	"qguard/internal/template"
	"qguard/internal/token"
)

// ErrInvalidConfig is returned when a run configuration cannot be used.
var ErrInvalidConfig = errors.New("invalid run configuration")

// TestCase is the stored definition of one HTTP test.
type TestCase struct {
	Name        string           `json:"name,omitempty"`
	Request     template.Request `json:"request"`
	Assertions  []interface{}    `json:"assertions,omitempty"`
	Extractors  []extractor.Spec `json:"extractors,omitempty"`
	TokenConfig *token.Config    `json:"token_config,omitempty"`
}

// RunConfig is the configuration stored on an execution record.
type RunConfig struct {
	TestCase    TestCase         `json:"test_case"`
	Environment string           `json:"environment,omitempty"`
	BaseURL     string           `json:"base_url,omitempty"`
	Data        []runner.DataRow `json:"data,omitempty"`
	Scheduling  *schedule.Spec   `json:"scheduling,omitempty"`
}

// ParseConfig decodes a stored configuration.
func ParseConfig(raw []byte) (*RunConfig, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidConfig)
	}
	var cfg RunConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the parts of the configuration a run cannot do without.
func (c *RunConfig) Validate() error {
	if c.TestCase.Request.Path == "" {
		return fmt.Errorf("%w: test_case.request.path is required", ErrInvalidConfig)
	}
	for i, e := range c.TestCase.Extractors {
		if e.Name == "" {
			return fmt.Errorf("%w: extractor %d has no name", ErrInvalidConfig, i)
		}
	}
	if c.Scheduling != nil && c.Scheduling.IsScheduled() {
		if err := c.Scheduling.Validate(); err != nil {
			return fmt.Errorf("%w: scheduling: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// IsScheduled reports whether the configuration asks for scheduled runs.
func (c *RunConfig) IsScheduled() bool {
	return c.Scheduling != nil && c.Scheduling.IsScheduled()
}

// WithScheduling returns raw with its scheduling section replaced by spec.
// Every other field of raw is preserved as stored.
func WithScheduling(raw []byte, spec schedule.Spec) (json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	encoded, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	doc["scheduling"] = encoded
	return json.Marshal(doc)
}
