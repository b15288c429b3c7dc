package sip

import "github.com/stcbus/pidgin-sub003/internal/errorutil"

// Common errors.
const (
	ErrInvalidArgument        = errorutil.ErrInvalidArgument
	ErrActionNotAllowed Error = "action not allowed"
)

// Message errors.
const (
	ErrInvalidMessage   Error = "invalid message"
	ErrEntityTooLarge   Error = "entity too large"
	ErrMessageTooLarge  Error = "message too large"
	ErrMethodNotAllowed Error = "request method not allowed"

	errMissHdrs Error = "missing mandatory headers"
)

// Error represents a SIP error.
// See [errorutil.Error].
type Error = errorutil.Error

// NewInvalidArgumentError creates a new error with [ErrInvalidArgument] or
// wraps provided error with [ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return errorutil.NewInvalidArgumentError(args...) //errtrace:skip
}
