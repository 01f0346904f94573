package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every engine error matches exactly one of these through
// errors.Is, so a transport can pick a status code without type switches.
var (
	// ErrInput marks client-caused errors: malformed timestamp, unknown
	// category, out-of-domain value.
	ErrInput = errors.New("invalid input")

	// ErrArtifact marks missing, corrupt or mutually inconsistent artifacts
	// and feature-schema mismatches. Fatal at startup.
	ErrArtifact = errors.New("artifact error")

	// ErrInternal marks scoring faults such as a dimension mismatch.
	ErrInternal = errors.New("internal scoring error")

	// ErrInvariant marks values that upstream components must never produce.
	ErrInvariant = errors.New("invariant violation")
)

// ErrorClass names an error class for logs, metrics and responses.
type ErrorClass string

const (
	ClassInput     ErrorClass = "input"
	ClassArtifact  ErrorClass = "artifact"
	ClassInternal  ErrorClass = "internal"
	ClassInvariant ErrorClass = "invariant"
	ClassUnknown   ErrorClass = "unknown"
)

// ClassOf returns the class of err.
func ClassOf(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInput):
		return ClassInput
	case errors.Is(err, ErrArtifact):
		return ClassArtifact
	case errors.Is(err, ErrInternal):
		return ClassInternal
	case errors.Is(err, ErrInvariant):
		return ClassInvariant
	default:
		return ClassUnknown
	}
}

// InvalidTimestampError is returned when a timestamp is not an ISO-8601 date-time.
type InvalidTimestampError struct {
	Value string
}

func (e *InvalidTimestampError) Error() string {
	return fmt.Sprintf("invalid timestamp %q: expected ISO-8601 date-time", e.Value)
}

func (e *InvalidTimestampError) Is(target error) bool { return target == ErrInput }

// UnknownCategoryError is returned when a categorical value is outside the
// encoder vocabulary fitted at training time.
type UnknownCategoryError struct {
	Feature string
	Value   string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown category %q for feature %q", e.Value, e.Feature)
}

func (e *UnknownCategoryError) Is(target error) bool { return target == ErrInput }

// InvalidValueError is returned when a field is missing or outside its
// declared domain.
type InvalidValueError struct {
	Feature string
	Value   any
	Reason  string
}

func (e *InvalidValueError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid value for %q: %s", e.Feature, e.Reason)
	}
	return fmt.Sprintf("invalid value %v for %q: %s", e.Value, e.Feature, e.Reason)
}

func (e *InvalidValueError) Is(target error) bool { return target == ErrInput }

// ArtifactLoadError is returned when an artifact is missing, corrupt or
// inconsistent with the others.
type ArtifactLoadError struct {
	Artifact string
	Path     string
	Err      error
}

func (e *ArtifactLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("artifact %s: %v", e.Artifact, e.Err)
	}
	return fmt.Sprintf("artifact %s (%s): %v", e.Artifact, e.Path, e.Err)
}

func (e *ArtifactLoadError) Unwrap() error { return e.Err }

func (e *ArtifactLoadError) Is(target error) bool { return target == ErrArtifact }

// ConfigurationError signals a feature list entry that cannot be resolved
// from a TransactionRecord, or a categorical feature without an encoder.
type ConfigurationError struct {
	Feature string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Feature == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("feature %q: %s", e.Feature, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrArtifact }

// InternalScoringError is returned when the classifier cannot score a
// vector. It is never retried.
type InternalScoringError struct {
	Reason string
	Err    error
}

func (e *InternalScoringError) Error() string {
	if e.Err == nil {
		return "scoring failed: " + e.Reason
	}
	return fmt.Sprintf("scoring failed: %s: %v", e.Reason, e.Err)
}

func (e *InternalScoringError) Unwrap() error { return e.Err }

func (e *InternalScoringError) Is(target error) bool { return target == ErrInternal }

// InvariantViolationError reports a value no correct pipeline produces,
// such as a probability outside [0,1].
type InvariantViolationError struct {
	What  string
	Value float64
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violated: %s (got %v)", e.What, e.Value)
}

func (e *InvariantViolationError) Is(target error) bool { return target == ErrInvariant }
