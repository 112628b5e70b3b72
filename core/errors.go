package core

import "github.com/pkg/errors"

// ErrNotFound is returned by stores and remote repositories when the requested object does not exist.
var ErrNotFound = errors.New("not found")

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// IsValidationError reports whether the cause of err is a *ValidationError.
func IsValidationError(err error) bool {
	_, ok := errors.Cause(err).(*ValidationError)
	return ok
}

// ShutdownError marks a failure after which the app can not keep serving.
type ShutdownError struct {
	Msg string
	Err error
}

func NewShutdownError(err error, msg string) error {
	return &ShutdownError{Msg: msg, Err: err}
}

func (err *ShutdownError) Error() string {
	if err.Err == nil {
		return err.Msg
	}
	return err.Msg + ": " + err.Err.Error()
}

func (err *ShutdownError) Unwrap() error { return err.Err }

// IsShutdown reports whether a *ShutdownError is anywhere in err's chain.
func IsShutdown(err error) bool {
	var sErr *ShutdownError
	return errors.As(err, &sErr)
}
