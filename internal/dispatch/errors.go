package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// ErrDispatch matches every error returned by Client.Send.
var ErrDispatch = errors.New("dispatch failed")

// DispatchError describes a failed send after all permitted attempts.
type DispatchError struct {
	ClientID   string
	Attempts   int
	StatusCode int // zero unless the webhook answered with an error status
	Cause      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s failed after %d attempt(s): %v", e.ClientID, e.Attempts, e.Cause)
}

func (e *DispatchError) Unwrap() []error {
	return []error{ErrDispatch, e.Cause}
}

// StatusError is a completed response with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error: %d", e.StatusCode)
}

// transportError marks a failure before a response completed: a timeout,
// an aborted connection or a network error.
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return e.err.Error()
}

func (e *transportError) Unwrap() error {
	return e.err
}

// IsTransport reports whether err is a retryable transport failure
func IsTransport(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

// IsTimeout reports whether err came from an attempt timing out
func IsTimeout(err error) bool {
	return IsTransport(err) && errors.Is(err, context.DeadlineExceeded)
}

func failureReason(err error) string {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return "status"
	case IsTimeout(err):
		return "timeout"
	case IsTransport(err):
		return "network"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "response"
	}
}
