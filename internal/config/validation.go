package config

import (
	"fmt"
	"strings"
	"time"

	"qguard/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// Validate checks the whole configuration and reports every problem.
func (c Config) Validate() error {
	var errs ValidationErrors

	if c.Runner.Timeout <= 0 {
		errs.Add("runner.timeout", "must be positive", c.Runner.Timeout)
	}
	if c.Runner.ConcurrencyThreshold < 0 {
		errs.Add("runner.concurrency_threshold", "must not be negative", c.Runner.ConcurrencyThreshold)
	}
	if c.Runner.MaxWorkers < 1 {
		errs.Add("runner.max_workers", "must be at least 1", c.Runner.MaxWorkers)
	}
	if c.Runner.ProgressPercent < 1 || c.Runner.ProgressPercent > 100 {
		errs.Add("runner.progress_percent", "must be between 1 and 100", c.Runner.ProgressPercent)
	}

	if c.Scheduler.PollInterval < time.Second {
		errs.Add("scheduler.poll_interval", "must be at least 1s", c.Scheduler.PollInterval)
	}
	if _, err := c.Scheduler.LoadLocation(); err != nil {
		errs.Add("scheduler.location", fmt.Sprintf("unknown location: %v", err), c.Scheduler.Location)
	}

	if c.Redis.DB < 0 {
		errs.Add("redis.db", "must not be negative", c.Redis.DB)
	}
	if c.MinIO.Endpoint != "" && c.MinIO.Bucket == "" {
		errs.Add("minio.bucket", "is required when minio.endpoint is set")
	}
	if c.Database.MaxConns < 0 {
		errs.Add("database.max_conns", "must not be negative", c.Database.MaxConns)
	}

	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		errs.Add("logging.level", "must be one of: debug, info, warn, error", c.Logging.Level)
	}
	if err := ValidateOneOf("logging.format", c.Logging.Format, []string{"text", "json"}); err != nil {
		errs = append(errs, err.(ValidationError))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
