package match

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput reports a correspondence set whose point sequences
	// differ in length. It indicates a collaborator bug and is never skipped.
	ErrMalformedInput = errors.New("malformed correspondence input")

	// ErrDegenerateGeometry reports a point configuration that admits no
	// unique fundamental matrix. The estimator recovers from it locally.
	ErrDegenerateGeometry = errors.New("degenerate point configuration")

	// ErrMatcherFailure wraps any error raised by a Matcher.
	ErrMatcherFailure = errors.New("matcher failure")

	// ErrNonFiniteCoordinates reports NaN or infinite keypoint coordinates.
	ErrNonFiniteCoordinates = errors.New("non-finite keypoint coordinates")
)

// MatcherError is returned by matchers for a single failed candidate.
type MatcherError struct {
	Candidate string
	Retryable bool
	Err       error
}

func (e *MatcherError) Error() string {
	if e.Candidate == "" {
		return fmt.Sprintf("matcher: %v", e.Err)
	}
	return fmt.Sprintf("matcher: candidate %s: %v", e.Candidate, e.Err)
}

func (e *MatcherError) Unwrap() []error {
	return []error{ErrMatcherFailure, e.Err}
}
