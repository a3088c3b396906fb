// Package errors defines the error taxonomy shared by the index manager, the
// query engine and their HTTP surface.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrQueryParse      = errors.New("query parse error")
	ErrResource        = errors.New("index resource error")
	ErrMutation        = errors.New("index mutation failed")
	ErrOutOfRange      = errors.New("page out of range")
	ErrClosed          = errors.New("resource closed")
	ErrInternal        = errors.New("internal error")
	ErrTimeout         = errors.New("operation timed out")
)

// AppError attaches a human-readable message and an HTTP status to a
// sentinel error.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// LocationError reports a failure of Op against one index location. Kind is
// one of the sentinels above; Err is the underlying cause.
type LocationError struct {
	Kind     error
	Op       string
	Location string
	Err      error
}

func (e *LocationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Location, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Location, e.Kind, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *LocationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Resource wraps err as an ErrResource for location.
func Resource(op, location string, err error) error {
	return &LocationError{Kind: ErrResource, Op: op, Location: location, Err: err}
}

// Mutation wraps err as an ErrMutation for location.
func Mutation(op, location string, err error) error {
	return &LocationError{Kind: ErrMutation, Op: op, Location: location, Err: err}
}

// InvalidArgument returns an ErrInvalidArgument describing the bad input.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Location returns the index location carried by err, if any.
func Location(err error) (string, bool) {
	var le *LocationError
	if errors.As(err, &le) {
		return le.Location, true
	}
	return "", false
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrQueryParse):
		return http.StatusBadRequest
	case errors.Is(err, ErrOutOfRange):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, ErrResource), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrMutation):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
