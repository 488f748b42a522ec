package domain

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks against the typed pipeline errors.
var (
	ErrStartup         = errors.New("startup failure")
	ErrEncoding        = errors.New("encoding failure")
	ErrSchemaViolation = errors.New("feature schema violation")
	ErrScoring         = errors.New("scoring failure")
)

// StartupError reports an unusable model or frequency table artifact.
// The process must not serve requests after one.
type StartupError struct {
	Component string
	Path      string
	Err       error
}

func (e *StartupError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: load %s: %v", e.Component, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

func (e *StartupError) Is(target error) bool { return target == ErrStartup }

// EncodingError reports a record value that cannot become a feature.
type EncodingError struct {
	Field string // canonical feature name
	Key   string // key as it appeared in the record
	Value any
	Err   error
}

func (e *EncodingError) Error() string {
	key := e.Key
	if key == "" {
		key = e.Field
	}
	return fmt.Sprintf("field %s (key %q): cannot encode %v: %v", e.Field, key, e.Value, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

func (e *EncodingError) Is(target error) bool { return target == ErrEncoding }

// SchemaViolationError reports a feature vector whose shape does not match
// the schema the scorer was loaded with.
type SchemaViolationError struct {
	Expected int
	Got      int
	Detail   string
}

func (e *SchemaViolationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("feature schema violation: %s", e.Detail)
	}
	return fmt.Sprintf("feature schema violation: expected %d features, got %d", e.Expected, e.Got)
}

func (e *SchemaViolationError) Is(target error) bool { return target == ErrSchemaViolation }

// ScoringError reports a classifier failure on a well-formed vector.
type ScoringError struct {
	Reason string
	Err    error
}

func (e *ScoringError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scoring failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("scoring failed: %s", e.Reason)
}

func (e *ScoringError) Unwrap() error { return e.Err }

func (e *ScoringError) Is(target error) bool { return target == ErrScoring }
