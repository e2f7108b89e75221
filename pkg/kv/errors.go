package kv

import "errors"

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("kv: key not found")

	// ErrVersionConflict is returned by Put when the stored version differs from the expected one.
	ErrVersionConflict = errors.New("kv: version conflict")

	// ErrTooManyConflicts is returned by Update when every retry attempt hit a conflict.
	ErrTooManyConflicts = errors.New("kv: too many version conflicts")

	// ErrEmptyKey is returned for blank keys.
	ErrEmptyKey = errors.New("kv: empty key")

	// ErrDecode wraps failures to decode a stored value.
	ErrDecode = errors.New("kv: failed to decode value")

	// ErrEncode wraps failures to encode a value.
	ErrEncode = errors.New("kv: failed to encode value")

	// ErrSkipWrite can be returned by an Update mutator to finish without writing.
	// Update then returns the current value and a nil error.
	ErrSkipWrite = errors.New("kv: skip write")
)

// IsConflict reports whether err is a version conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrTooManyConflicts)
}
