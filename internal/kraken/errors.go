package kraken

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClientStopped is returned to callers whose queued requests were
// rejected because the client shut down before dispatching them.
var ErrClientStopped = errors.New("kraken client stopped")

// TransportError covers network-level failures and unparsable responses.
// The request may or may not have reached the exchange; callers are
// expected to retry on their own schedule.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("kraken transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ExchangeError is a rejection reported by the exchange itself. Code is
// the first error string from the response with its severity prefix
// stripped, e.g. "API:Invalid nonce".
type ExchangeError struct {
	Code string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("kraken API returned error: %s", e.Code)
}

// InvalidNonce reports whether this rejection is a nonce race. It is the
// only exchange error worth special handling: the order may have been
// accepted under the raced nonce.
func (e *ExchangeError) InvalidNonce() bool {
	return strings.Contains(e.Code, "Invalid nonce")
}

// ValidationError marks a malformed local request. It is raised before
// any network call and is never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
