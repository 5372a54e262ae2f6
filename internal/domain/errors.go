package domain

import "errors"

var (
	// ErrMissingInput is returned when an expected input file does not exist.
	ErrMissingInput = errors.New("missing input file")

	// ErrShape is returned when data length or axis layout does not fit an operation.
	ErrShape = errors.New("shape mismatch")

	// ErrCoordinateMismatch is returned when fields combined into one dataset
	// disagree on a shared coordinate.
	ErrCoordinateMismatch = errors.New("coordinate mismatch")

	// ErrImputedRejected is returned under ImputeReject when an input has to
	// be substituted by a missing-value placeholder.
	ErrImputedRejected = errors.New("imputed input rejected")
)
