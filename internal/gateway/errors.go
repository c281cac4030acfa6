package gateway

import (
	"errors"
	"fmt"
)

// ErrTooManySymbols is returned when a subscription call exceeds
// MaxSymbolsPerSubscribe.
var ErrTooManySymbols = fmt.Errorf("gateway: more than %d symbols in one subscribe call", MaxSymbolsPerSubscribe)

// ErrNotLoggedIn is returned for any call before a successful Login.
var ErrNotLoggedIn = errors.New("gateway: not logged in")

// TransientError wraps a failure worth retrying: network trouble, timeouts,
// venue busy responses.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("gateway: transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RejectedError is a business-rule rejection from the venue: bad parameters,
// insufficient funds, account restrictions. Never retried.
type RejectedError struct {
	Code   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway: order rejected (%s): %s", e.Code, e.Reason)
}

// IsTransient reports whether err is worth a retry.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRejected reports whether err is a terminal business rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
