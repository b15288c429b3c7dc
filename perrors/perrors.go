// Package perrors defines the error taxonomy shared by every protocol
// back-end and core component.
//
// Low-level errors are converted to one of these kinds at the component
// boundary; there is no free-form error passing across the core.
package perrors

import "github.com/stcbus/pidgin-sub003/internal/errorutil"

// Kind is one of the error taxonomy values. It is carried on [Error] so
// callers can switch on it without depending on a specific component's
// concrete error type.
type Kind int

const (
	// KindUnknown is never returned; it is the zero value.
	KindUnknown Kind = iota
	// KindNetwork covers DNS, connect, or unexpected EOF.
	// Handled locally by the reconnect controller; reported to the UI.
	KindNetwork
	// KindTLS covers certificate or handshake failure. Reported; no auto-retry.
	KindTLS
	// KindAuthFailed covers credentials rejected. Fatal: disables the account.
	KindAuthFailed
	// KindInvalidSettings covers malformed account settings, surfaced before dial.
	KindInvalidSettings
	// KindProtocol covers an unparseable frame or unexpected state.
	// The offending frame is dropped; the connection usually continues.
	KindProtocol
	// KindTimeout covers a SIP transaction sweeper firing for one request.
	KindTimeout
	// KindFrameOverflow covers a codec limit exceeded; the connection is closed.
	KindFrameOverflow
	// KindCancelled covers a cancellation handle firing. Never user-visible.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTLS:
		return "tls"
	case KindAuthFailed:
		return "auth_failed"
	case KindInvalidSettings:
		return "invalid_settings"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindFrameOverflow:
		return "frame_overflow"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carried across component boundaries.
// It wraps an underlying cause (which may be nil) with a [Kind].
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New builds an [Error] of the given kind with an optional detail message
// and cause.
func New(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// Is reports whether err carries the given [Kind].
func Is(err error, kind Kind) bool {
	var pe *Error
	for err != nil {
		if e, ok := err.(*Error); ok { //nolint:errorlint
			pe = e
			break
		}
		u, ok := err.(interface{ Unwrap() error }) //nolint:errorlint
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return pe != nil && pe.Kind == kind
}

// Sentinel errors used as detail-less markers, as const-string
// [errorutil.Error] values.
const (
	ErrUserVisible errorutil.Error = "user-visible error"
)

// UserVisible reports whether errors of this kind should ever reach the
// UI as a user-visible notification.
func (k Kind) UserVisible() bool {
	switch k {
	case KindNetwork, KindTLS, KindAuthFailed, KindInvalidSettings:
		return true
	default:
		return false
	}
}
