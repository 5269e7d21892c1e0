package domain

import "errors"

// ErrorKind classifies exchange call failures. The classification drives
// retry behavior: transport errors are retried at the next scheduled
// cycle, ordering conflicts are retried in place by the submission gate,
// and rejections are surfaced to the caller without retry.
type ErrorKind int

const (
	// KindTransport is a network or timeout failure.
	KindTransport ErrorKind = iota + 1
	// KindOrderingConflict means the exchange rejected a stale or reused
	// sequencing token.
	KindOrderingConflict
	// KindRejected is a permanent business-rule rejection.
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindOrderingConflict:
		return "ordering_conflict"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ExchangeError is a classified failure from the exchange collaborator.
type ExchangeError struct {
	Op   string // operation that failed (e.g. "submit_limit_order")
	Code string // raw exchange error code, if any
	Kind ErrorKind
	Err  error
}

func (e *ExchangeError) Error() string {
	msg := e.Op + " (" + e.Kind.String() + ")"
	if e.Code != "" {
		msg += " code=" + e.Code
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether the failure may succeed on a later attempt.
func (e *ExchangeError) IsRetriable() bool {
	return e.Kind != KindRejected
}

// NewTransportError wraps a network-level failure.
func NewTransportError(op string, err error) *ExchangeError {
	return &ExchangeError{Op: op, Kind: KindTransport, Err: err}
}

// NewOrderingConflict marks a stale sequencing token rejection.
func NewOrderingConflict(op, code string, err error) *ExchangeError {
	return &ExchangeError{Op: op, Code: code, Kind: KindOrderingConflict, Err: err}
}

// NewRejectedError marks a permanent exchange rejection.
func NewRejectedError(op, code string, err error) *ExchangeError {
	return &ExchangeError{Op: op, Code: code, Kind: KindRejected, Err: err}
}

func kindOf(err error) ErrorKind {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return 0
}

// IsOrderingConflict reports whether err is a sequencing token conflict.
func IsOrderingConflict(err error) bool {
	return kindOf(err) == KindOrderingConflict
}

// IsTransport reports whether err is a network-level failure.
func IsTransport(err error) bool {
	return kindOf(err) == KindTransport
}

// IsRejected reports whether err is a permanent rejection.
func IsRejected(err error) bool {
	return kindOf(err) == KindRejected
}
