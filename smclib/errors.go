package smclib

import "errors"

var (
	// ErrMalformedData is returned when observations cannot be interpreted,
	// for example when a span is not positive.
	ErrMalformedData = errors.New("data are malformed")

	// ErrUnsupportedConfig is returned for sample-size configurations the
	// model does not support.
	ErrUnsupportedConfig = errors.New("configuration not supported")

	// ErrDegenerateBin is returned when a block key has no non-monomorphic
	// interpretation.
	ErrDegenerateBin = errors.New("block key has no polymorphic interpretation")

	// ErrInvalidProbability is returned when an emission vector has an entry
	// outside (0, 1].
	ErrInvalidProbability = errors.New("probability vector not in (0, 1]")

	// ErrNumerical is returned when a NaN or out of range value appears in a
	// computed table.
	ErrNumerical = errors.New("numerical invariant violated")
)
