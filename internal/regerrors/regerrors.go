// Package regerrors defines the sentinel error taxonomy surfaced by the
// schema registry's lifecycle and serdes packages. Callers wrap these
// with fmt.Errorf("...: %w", ...) so errors.Is keeps working.
package regerrors

import "errors"

var (
	// ErrSchemaNotFound: no metadata for the given name, or no version
	// matching the requested key/text.
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrInvalidSchema: the text fails dialect parsing/validation.
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrIncompatibleSchema: the compatibility predicate rejected the
	// candidate. No side effects are committed when this is returned.
	ErrIncompatibleSchema = errors.New("incompatible schema")

	// ErrSerDesNotFound: referenced serdes id does not exist.
	ErrSerDesNotFound = errors.New("serdes not found")

	// ErrConfigurationError: unknown dialect tag at operation time.
	ErrConfigurationError = errors.New("configuration error")

	// ErrIOFailure: storage or file-store error, never retried by the engine.
	ErrIOFailure = errors.New("io failure")
)
