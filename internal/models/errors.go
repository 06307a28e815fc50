package models

import "errors"

// Failure classes of a monitoring pass.
var (
	// ErrFetchFailure covers network errors, timeouts and non-2xx responses from the page source.
	ErrFetchFailure = errors.New("fetch failure")
	// ErrDecodeFailure is returned when fetched content cannot be decoded.
	ErrDecodeFailure = errors.New("decode failure")
	// ErrPersistenceFailure is returned when the target store is unavailable.
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrDispatchFailure is returned when a notification could not be delivered.
	ErrDispatchFailure = errors.New("dispatch failure")
	// ErrValidation is returned for malformed scheduling input.
	ErrValidation = errors.New("validation error")
)

// ErrorKind is the serializable name of a failure class.
type ErrorKind string

const (
	ErrorKindFetch       ErrorKind = "fetch"
	ErrorKindDecode      ErrorKind = "decode"
	ErrorKindPersistence ErrorKind = "persistence"
	ErrorKindDispatch    ErrorKind = "dispatch"
	ErrorKindUnknown     ErrorKind = "unknown"
)

// KindOf classifies err into one of the failure classes.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDecodeFailure):
		return ErrorKindDecode
	case errors.Is(err, ErrFetchFailure):
		return ErrorKindFetch
	case errors.Is(err, ErrPersistenceFailure):
		return ErrorKindPersistence
	case errors.Is(err, ErrDispatchFailure):
		return ErrorKindDispatch
	}
	return ErrorKindUnknown
}
