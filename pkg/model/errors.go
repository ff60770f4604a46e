// pkg/model/errors.go
package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across stores and resolvers.
var (
	// ErrNotFound indicates a lookup missed; callers decide whether that is
	// an error or a signal to create.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates two resolvers raced on the same dimension
	// natural key and the atomic expire-and-insert lost its uniqueness
	// check. Retried once by the resolver.
	ErrVersionConflict = errors.New("dimension version conflict")
)

// SourceFormatError means the input stream does not match the expected
// column contract. Fatal for the run: nothing is processed.
type SourceFormatError struct {
	Source  string
	Missing []string
}

func (e *SourceFormatError) Error() string {
	return fmt.Sprintf("source %s does not match the bronze column contract (missing: %s)",
		e.Source, strings.Join(e.Missing, ", "))
}

// UnknownCauseError means a row referenced a cause code outside the closed
// taxonomy. The row's contribution to that fact is skipped and counted as a
// failed record; the run continues.
type UnknownCauseError struct {
	Code string
}

func (e *UnknownCauseError) Error() string {
	return fmt.Sprintf("unknown cause code %q", e.Code)
}

// PersistenceError wraps a storage-layer failure with the stage it occurred
// in, after retries were exhausted.
type PersistenceError struct {
	Stage string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in stage %s: %v", e.Stage, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
