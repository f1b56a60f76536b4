package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the recoverable failure modes. Callers classify with
// errors.Is; wrapped causes stay inspectable through errors.Unwrap.
var (
	// ErrNoViableSelection is returned when clustering produced no clusters.
	// The caller is expected to fall back to tournament selection or to
	// highest-raw-score-wins rather than fail outright.
	ErrNoViableSelection = errors.New("no viable selection: clustering produced no clusters")

	// ErrJudgeUnavailable wraps judge call failures that survived one retry.
	ErrJudgeUnavailable = errors.New("judge unavailable")

	// ErrGeneratorUnavailable wraps generator transport/timeout failures.
	ErrGeneratorUnavailable = errors.New("generator unavailable")

	// ErrGeneratorNoContent is returned when the generator answered but
	// produced nothing usable. Distinct from a transport failure.
	ErrGeneratorNoContent = errors.New("generator produced no content")
)

// VectorizationError is a per-candidate embedding failure. The default
// policy is to exclude the candidate from the batch rather than abort, so
// one bad candidate does not poison an entire population.
type VectorizationError struct {
	CandidateID string
	Err         error
}

func (e *VectorizationError) Error() string {
	return fmt.Sprintf("vectorization failed for candidate %s: %v", e.CandidateID, e.Err)
}

func (e *VectorizationError) Unwrap() error { return e.Err }

// ConfigurationError reports an invalid refinement configuration. It is
// raised at session construction, before any generation runs.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}
