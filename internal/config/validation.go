package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks value ranges and cross-field rules.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.BatchSize <= 0 {
		errs = append(errs, ValidationError{
			Field:   "batch_size",
			Message: fmt.Sprintf("must be positive, got %d", c.BatchSize),
		})
	}

	if c.LookupChunkSize <= 0 || c.LookupChunkSize > MaxLookupChunkSize {
		errs = append(errs, ValidationError{
			Field:   "lookup_chunk_size",
			Message: fmt.Sprintf("must be between 1 and %d, got %d", MaxLookupChunkSize, c.LookupChunkSize),
		})
	}

	if c.ProgressInterval != "" {
		d, err := time.ParseDuration(c.ProgressInterval)
		if err != nil {
			errs = append(errs, ValidationError{Field: "progress_interval", Message: err.Error()})
		} else if d <= 0 {
			errs = append(errs, ValidationError{Field: "progress_interval", Message: "must be positive"})
		}
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("unknown level %q", c.LogLevel),
		})
	}

	if len(c.Kinds.List()) == 0 {
		errs = append(errs, ValidationError{Field: "kinds", Message: "at least one kind must be enabled"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// RequireDB reports a validation error when no store path is configured.
func (c *Config) RequireDB() error {
	if strings.TrimSpace(c.DB) == "" {
		return ValidationErrors{{Field: "db", Message: "store path is required"}}
	}
	return nil
}
