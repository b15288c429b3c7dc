package sip

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/stcbus/pidgin-sub003/internal/errorutil"
	"github.com/stcbus/pidgin-sub003/internal/types"
)

// Values represents a set of SIP header/URI parameters.
// See [types.Values].
type Values = types.Values

// RenderOptions controls how a message or header is rendered to the wire format.
// See [types.RenderOptions].
type RenderOptions = types.RenderOptions

// Message is implemented by both SIP message representations handled by this
// package, [Request] and [Response].
type Message interface {
	fmt.Stringer
	slog.LogValuer
	// Clone returns a deep copy of the message.
	Clone() Message
	// Equal returns whether the message is equal to another value.
	Equal(val any) bool
	// IsValid returns whether the message is valid.
	IsValid() bool
	// Validate validates the message and returns an error describing the first problem found.
	Validate() error
}

var zeroSlogValue slog.Value

const sNilTag = "<nil>"

// GetMessageHeaders extracts the header set carried by msg.
func GetMessageHeaders(msg Message) Headers {
	switch m := msg.(type) {
	case *Request:
		if m == nil {
			return nil
		}
		return m.Headers
	case *Response:
		if m == nil {
			return nil
		}
		return m.Headers
	default:
		return nil
	}
}

// NewInvalidMessageError creates a new error with [ErrInvalidMessage] or
// wraps the provided error/message with it.
func NewInvalidMessageError(args ...any) error {
	return errorutil.NewWrapperError(ErrInvalidMessage, args...) //errtrace:skip
}

func newMissHdrErr(name HeaderName) error {
	if name == "" {
		return errtrace.Wrap(errMissHdrs)
	}
	return errtrace.Wrap(errorutil.Errorf("%w: %q", errMissHdrs, name))
}

// MagicCookie is the RFC 3261 Section 8.1.1.7 magic cookie prepended to every branch
// parameter generated by a transaction-stateful client.
const MagicCookie = "z9hG4bK"

// IsRFC3261Branch returns whether branch follows the RFC 3261 branch format,
// i.e. starts with [MagicCookie].
func IsRFC3261Branch(branch string) bool {
	return strings.HasPrefix(branch, MagicCookie)
}

var idSeq atomic.Uint64

func nextIDSeq(seq uint) uint64 {
	if seq != 0 {
		return uint64(seq)
	}
	return idSeq.Add(1)
}

// GenerateBranch generates a new RFC 3261 Section 8.1.1.7 compliant branch parameter value.
// If seq is zero, an internal monotonically increasing counter is used to help
// disambiguate values generated within the same process tick.
func GenerateBranch(seq uint) string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return MagicCookie + strconv.FormatUint(nextIDSeq(seq), 36) + hex.EncodeToString(buf[:])
}

// GenerateTag generates a new random tag value suitable for the From/To header tag parameter.
func GenerateTag(seq uint) string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return strconv.FormatUint(nextIDSeq(seq), 36) + hex.EncodeToString(buf[:])
}

// GenerateCallID generates a new Call-ID value. If host is empty, a random token is used instead.
func GenerateCallID(seq uint, host string) string {
	var buf [12]byte
	_, _ = rand.Read(buf[:])
	localPart := strconv.FormatUint(nextIDSeq(seq), 36) + hex.EncodeToString(buf[:])
	if host == "" {
		var hbuf [6]byte
		_, _ = rand.Read(hbuf[:])
		host = hex.EncodeToString(hbuf[:]) + ".invalid"
	}
	return localPart + "@" + host
}
