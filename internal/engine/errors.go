package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/annohist/internal/event"
)

// PassError is a failure scoped to a single event of a pass.
//
// PassErrors never abort a pass. They are logged, counted in the Report
// and aggregated in Report.Errors.
type PassError struct {
	// Code identifies the error category.
	Code PassErrorCode

	// Message is a human-readable description.
	Message string

	// Kind is the event kind being processed.
	Kind event.Kind

	// Timestamp is the event's timestamp.
	Timestamp time.Time

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// PassErrorCode categorizes pass errors.
type PassErrorCode string

const (
	// ErrCodeResolution indicates an event could not be resolved against
	// the collection, or its mutation failed. The event is skipped.
	ErrCodeResolution PassErrorCode = "RESOLUTION"

	// ErrCodeIntegrity indicates a stored event is inconsistent. The event
	// is still processed with whatever could be resolved.
	ErrCodeIntegrity PassErrorCode = "INTEGRITY"
)

// Error implements the error interface.
func (e *PassError) Error() string {
	msg := fmt.Sprintf("%s: %s (kind=%s, at=%s)", e.Code, e.Message, e.Kind.Short(), e.Timestamp.UTC().Format(time.RFC3339Nano))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *PassError) Unwrap() error {
	return e.Err
}

func resolutionError(kind event.Kind, ts time.Time, msg string, err error) *PassError {
	return &PassError{Code: ErrCodeResolution, Message: msg, Kind: kind, Timestamp: ts, Err: err}
}

func integrityError(kind event.Kind, ts time.Time, msg string, details map[string]string) *PassError {
	return &PassError{Code: ErrCodeIntegrity, Message: msg, Kind: kind, Timestamp: ts, Details: details}
}

// IsResolutionError returns true if the error is a resolution error.
// Uses errors.As to handle wrapped errors.
func IsResolutionError(err error) bool {
	var pe *PassError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeResolution
	}
	return false
}

// IsIntegrityError returns true if the error is an integrity warning.
// Uses errors.As to handle wrapped errors.
func IsIntegrityError(err error) bool {
	var pe *PassError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeIntegrity
	}
	return false
}
