package model

import (
	"errors"
	"fmt"
)

// RemoteErrorKind separates failures that never reached the store from
// requests the store refused.
type RemoteErrorKind string

const (
	RemoteTransport RemoteErrorKind = "transport"
	RemoteRejection RemoteErrorKind = "rejection"
)

// Reasons attached to a RemoteError.
const (
	ReasonPermissionDenied = "permission denied"
	ReasonNotFound         = "not found"
	ReasonTimeout          = "timeout"
	ReasonRateLimited      = "rate limited"
	ReasonInvalid          = "invalid request"
	ReasonServer           = "server error"
	ReasonNetwork          = "network error"
)

// RemoteError is returned by remote store and issue lookup clients.
type RemoteError struct {
	Op     string
	Kind   RemoteErrorKind
	Reason string
	Status int
	Err    error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.Reason)
	if e.Status != 0 {
		msg += fmt.Sprintf(" [HTTP %d]", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a RemoteError with the not-found reason.
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Reason == ReasonNotFound
}
