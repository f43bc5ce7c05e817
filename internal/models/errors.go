package models

import "errors"

// Domain errors. Wrap with fmt.Errorf("...: %w", Err...) and match with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrStorage         = errors.New("storage failure")

	// ErrDimensionMismatch is also an ErrInvalidArgument.
	ErrDimensionMismatch error = dimensionMismatchError{}

	// ErrExternal marks embedding or generation provider failures. Callers may retry.
	ErrExternal = errors.New("external capability failure")

	// ErrInterrupted marks work stopped by cancellation before it finished. Completed parts are kept.
	ErrInterrupted = errors.New("interrupted")

	// ErrSkipped marks an ingestion source that was skipped rather than failed.
	ErrSkipped = errors.New("skipped")
)

type dimensionMismatchError struct{}

func (dimensionMismatchError) Error() string { return "dimension mismatch" }

func (dimensionMismatchError) Is(target error) bool { return target == ErrInvalidArgument }

// IsRetriable reports whether err came from an external capability and may succeed on retry.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrExternal)
}
