package domain

import (
	"errors"
	"fmt"
)

// ErrorKind buckets a failure for reporting and retry classification.
type ErrorKind string

const (
	KindConnectivity  ErrorKind = "connectivity"
	KindAuth          ErrorKind = "auth"
	KindAuthorization ErrorKind = "authorization"
	KindTiming        ErrorKind = "timing"
	KindData          ErrorKind = "data"
	KindFatal         ErrorKind = "fatal"
)

// Error captures contextual information for audit pipeline failures.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs an Error with the provided context.
func E(kind ErrorKind, op, msg string, err error) error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf extracts the ErrorKind of err, unwrapping as needed. Errors outside
// the taxonomy report an empty kind.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsFatal reports whether err means the shared jump-host resource is
// permanently lost. Fatal errors are never retried.
func IsFatal(err error) bool {
	return KindOf(err) == KindFatal
}

// Category is the retry-policy bucket assigned to a failure.
type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryAuth       Category = "auth"
	CategoryTimeout    Category = "timeout"
	CategoryDeviceBusy Category = "device_busy"
	CategoryUnknown    Category = "unknown"
)

// Categories returns every retry category, in policy-table order.
func Categories() []Category {
	return []Category{
		CategoryNetwork,
		CategoryAuth,
		CategoryTimeout,
		CategoryDeviceBusy,
		CategoryUnknown,
	}
}
