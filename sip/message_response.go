package sip

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"braces.dev/errtrace"

	"github.com/stcbus/pidgin-sub003/internal/errorutil"
	"github.com/stcbus/pidgin-sub003/internal/ioutil"
	"github.com/stcbus/pidgin-sub003/internal/stringutils"
	"github.com/stcbus/pidgin-sub003/internal/types"
	"github.com/stcbus/pidgin-sub003/internal/util"
)

// ResponseStatus represents a SIP response status code as defined in RFC 3261 Section 21.
type ResponseStatus = types.ResponseStatus

const (
	ResponseStatusTrying               = types.ResponseStatusTrying
	ResponseStatusRinging              = types.ResponseStatusRinging
	ResponseStatusCallIsBeingForwarded = types.ResponseStatusCallIsBeingForwarded
	ResponseStatusQueued               = types.ResponseStatusQueued
	ResponseStatusSessionProgress      = types.ResponseStatusSessionProgress

	ResponseStatusOK             = types.ResponseStatusOK
	ResponseStatusAccepted       = types.ResponseStatusAccepted
	ResponseStatusNoNotification = types.ResponseStatusNoNotification

	ResponseStatusMultipleChoices    = types.ResponseStatusMultipleChoices
	ResponseStatusMovedPermanently   = types.ResponseStatusMovedPermanently
	ResponseStatusMovedTemporarily   = types.ResponseStatusMovedTemporarily
	ResponseStatusUseProxy           = types.ResponseStatusUseProxy
	ResponseStatusAlternativeService = types.ResponseStatusAlternativeService

	ResponseStatusBadRequest                   = types.ResponseStatusBadRequest
	ResponseStatusUnauthorized                 = types.ResponseStatusUnauthorized
	ResponseStatusPaymentRequired              = types.ResponseStatusPaymentRequired
	ResponseStatusForbidden                    = types.ResponseStatusForbidden
	ResponseStatusNotFound                     = types.ResponseStatusNotFound
	ResponseStatusMethodNotAllowed             = types.ResponseStatusMethodNotAllowed
	ResponseStatusNotAcceptable                = types.ResponseStatusNotAcceptable
	ResponseStatusProxyAuthenticationRequired  = types.ResponseStatusProxyAuthenticationRequired
	ResponseStatusRequestTimeout                = types.ResponseStatusRequestTimeout
	ResponseStatusGone                         = types.ResponseStatusGone
	ResponseStatusLengthRequired               = types.ResponseStatusLengthRequired
	ResponseStatusConditionalRequestFailed     = types.ResponseStatusConditionalRequestFailed
	ResponseStatusRequestEntityTooLarge        = types.ResponseStatusRequestEntityTooLarge
	ResponseStatusRequestURITooLong            = types.ResponseStatusRequestURITooLong
	ResponseStatusUnsupportedMediaType         = types.ResponseStatusUnsupportedMediaType
	ResponseStatusUnsupportedURIScheme         = types.ResponseStatusUnsupportedURIScheme
	ResponseStatusUnknownResourcePriority      = types.ResponseStatusUnknownResourcePriority
	ResponseStatusBadExtension                 = types.ResponseStatusBadExtension
	ResponseStatusExtensionRequired             = types.ResponseStatusExtensionRequired
	ResponseStatusSessionIntervalTooSmall      = types.ResponseStatusSessionIntervalTooSmall
	ResponseStatusIntervalTooBrief             = types.ResponseStatusIntervalTooBrief
	ResponseStatusUseIdentityHeader            = types.ResponseStatusUseIdentityHeader
	ResponseStatusProvideReferrerIdentity      = types.ResponseStatusProvideReferrerIdentity
	ResponseStatusFlowFailed                   = types.ResponseStatusFlowFailed
	ResponseStatusAnonymityDisallowed          = types.ResponseStatusAnonymityDisallowed
	ResponseStatusBadIdentityInfo              = types.ResponseStatusBadIdentityInfo
	ResponseStatusInvalidIdentityHeader        = types.ResponseStatusInvalidIdentityHeader
	ResponseStatusFirstHopLacksOutboundSupport = types.ResponseStatusFirstHopLacksOutboundSupport
	ResponseStatusMaxBreadthExceeded           = types.ResponseStatusMaxBreadthExceeded
	ResponseStatusConsentNeeded                = types.ResponseStatusConsentNeeded
	ResponseStatusTemporarilyUnavailable       = types.ResponseStatusTemporarilyUnavailable
	ResponseStatusCallTransactionDoesNotExist  = types.ResponseStatusCallTransactionDoesNotExist
	ResponseStatusLoopDetected                 = types.ResponseStatusLoopDetected
	ResponseStatusTooManyHops                  = types.ResponseStatusTooManyHops
	ResponseStatusAddressIncomplete            = types.ResponseStatusAddressIncomplete
	ResponseStatusAmbiguous                    = types.ResponseStatusAmbiguous
	ResponseStatusBusyHere                     = types.ResponseStatusBusyHere
	ResponseStatusRequestTerminated            = types.ResponseStatusRequestTerminated
	ResponseStatusNotAcceptableHere            = types.ResponseStatusNotAcceptableHere
	ResponseStatusBadEvent                     = types.ResponseStatusBadEvent
	ResponseStatusRequestPending                = types.ResponseStatusRequestPending
	ResponseStatusUndecipherable                = types.ResponseStatusUndecipherable
	ResponseStatusSecurityAgreementRequired     = types.ResponseStatusSecurityAgreementRequired

	ResponseStatusServerInternalError = types.ResponseStatusServerInternalError
	ResponseStatusNotImplemented      = types.ResponseStatusNotImplemented
	ResponseStatusBadGateway          = types.ResponseStatusBadGateway
	ResponseStatusServiceUnavailable  = types.ResponseStatusServiceUnavailable
	ResponseStatusGatewayTimeout      = types.ResponseStatusGatewayTimeout
	ResponseStatusVersionNotSupported = types.ResponseStatusVersionNotSupported
	ResponseStatusMessageTooLarge     = types.ResponseStatusMessageTooLarge
	ResponseStatusPreconditionFailure = types.ResponseStatusPreconditionFailure

	ResponseStatusBusyEverywhere       = types.ResponseStatusBusyEverywhere
	ResponseStatusDecline              = types.ResponseStatusDecline
	ResponseStatusDoesNotExistAnywhere = types.ResponseStatusDoesNotExistAnywhere
	ResponseStatusNotAcceptable606     = types.ResponseStatusNotAcceptable606
)

// ResponseStatusReason returns the default reason phrase for status, as listed in RFC 3261 Section 21.
func ResponseStatusReason(status ResponseStatus) string { return string(status.Reason()) }

// ResponseReason represents a SIP response reason phrase.
// See [types.ResponseReason].
type ResponseReason = types.ResponseReason

type Response struct {
	Status  ResponseStatus `json:"status"`
	Reason  ResponseReason `json:"reason"`
	Proto   ProtoInfo      `json:"proto"`
	Headers Headers        `json:"headers"`
	Body    []byte         `json:"body"`
}

// RenderTo renders the SIP response to the given writer.
func (res *Response) RenderTo(w io.Writer, opts *RenderOptions) (num int, err error) {
	if res == nil {
		return 0, nil
	}

	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	cw.Call(func(w io.Writer) (int, error) {
		return errtrace.Wrap2(res.renderStartLine(w))
	})
	cw.Fprint("\r\n")
	cw.Call(func(w io.Writer) (int, error) {
		return errtrace.Wrap2(renderHdrs(w, res.Headers, opts))
	})
	cw.Fprint("\r\n")
	cw.Write(res.Body)
	return errtrace.Wrap2(cw.Result())
}

func (res *Response) renderStartLine(w io.Writer) (num int, err error) {
	return errtrace.Wrap2(fmt.Fprintf(w, "%s %d %s", res.Proto, int(res.Status), res.Reason))
}

// Render renders the SIP response to a string.
func (res *Response) Render(opts *RenderOptions) string {
	if res == nil {
		return ""
	}
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	res.RenderTo(sb, opts) //nolint:errcheck
	return sb.String()
}

// String returns a short string representation of the response.
func (res *Response) String() string {
	if res == nil {
		return sNilTag
	}
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	res.renderStartLine(sb) //nolint:errcheck
	return sb.String()
}

// Format implements [fmt.Formatter] for custom formatting.
func (res *Response) Format(f fmt.State, verb rune) {
	switch {
	case verb == 's' && f.Flag('+'):
		res.RenderTo(f, nil) //nolint:errcheck
	case verb == 's':
		f.Write([]byte(res.String()))
	case verb == 'q' && f.Flag('+'):
		fmt.Fprintf(f, "%q", res.Render(nil))
	case verb == 'q':
		fmt.Fprintf(f, "%q", res.String())
	default:
		type hideMethods Response
		type Response hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), (*Response)(res))
	}
}

// LogValue implements [slog.LogValuer] for structured logging.
func (res *Response) LogValue() slog.Value {
	if res == nil {
		return zeroSlogValue
	}

	attrs := make([]slog.Attr, 0, 7)
	attrs = append(attrs, slog.Any("status", res.Status), slog.String("reason", string(res.Reason)))
	if hop, ok := util.IterFirst(res.Headers.Via()); ok {
		attrs = append(attrs, slog.Any("Via", hop))
	}
	if from, ok := res.Headers.From(); ok {
		attrs = append(attrs, slog.Any("From", from))
	}
	if to, ok := res.Headers.To(); ok {
		attrs = append(attrs, slog.Any("To", to))
	}
	if callID, ok := res.Headers.CallID(); ok {
		attrs = append(attrs, slog.Any("Call-ID", callID))
	}
	if cseq, ok := res.Headers.CSeq(); ok {
		attrs = append(attrs, slog.Any("CSeq", cseq))
	}

	return slog.GroupValue(attrs...)
}

// Clone returns a deep copy of the response.
func (res *Response) Clone() Message {
	if res == nil {
		return nil
	}
	res2 := *res
	res2.Headers = res.Headers.Clone()
	res2.Body = slices.Clone(res.Body)
	return &res2
}

// Equal returns whether the response is equal to another value.
func (res *Response) Equal(val any) bool {
	var other *Response
	switch v := val.(type) {
	case Response:
		other = &v
	case *Response:
		other = v
	default:
		return false
	}

	if res == other {
		return true
	} else if res == nil || other == nil {
		return false
	}

	return res.Status.Equal(other.Status) &&
		stringutils.LCase(res.Reason) == stringutils.LCase(other.Reason) &&
		res.Proto.Equal(other.Proto) &&
		compareHdrs(res.Headers, other.Headers) &&
		slices.Equal(res.Body, other.Body)
}

// IsValid returns whether the response is valid.
func (res *Response) IsValid() bool {
	return res.Validate() == nil
}

var resMandatoryHdrs = map[HeaderName]bool{
	"Via":     true,
	"From":    true,
	"To":      true,
	"Call-ID": true,
	"CSeq":    true,
}

// Validate validates the response and returns an error if invalid.
func (res *Response) Validate() error {
	if res == nil {
		return errtrace.Wrap(NewInvalidArgumentError("invalid response"))
	}

	errs := make([]error, 0, 10)

	if !res.Status.IsValid() {
		errs = append(errs, errorutil.Errorf("invalid status %d", int(res.Status)))
	}
	if !res.Proto.IsValid() {
		errs = append(errs, errorutil.Errorf("invalid protocol %q", res.Proto))
	}
	if err := validateHdrs(res.Headers); err != nil {
		errs = append(errs, err)
	}
	for n := range resMandatoryHdrs {
		if !res.Headers.Has(n) {
			errs = append(errs, newMissHdrErr(n))
		}
	}
	if ct, ok := res.Headers.ContentLength(); ok {
		if ct, bl := int(ct), len(res.Body); ct != bl {
			errs = append(errs, errorutil.Errorf("content length mismatch: got %d, want %d", ct, bl))
		}
	}

	if len(errs) > 0 {
		return errtrace.Wrap(NewInvalidMessageError(errorutil.Join(errs...)))
	}
	return nil
}

func (res *Response) UnmarshalJSON(data []byte) error {
	var resData struct {
		Status  ResponseStatus `json:"status"`
		Reason  ResponseReason `json:"reason"`
		Proto   ProtoInfo      `json:"proto"`
		Headers Headers        `json:"headers"`
		Body    []byte         `json:"body"`
	}
	if err := json.Unmarshal(data, &resData); err != nil {
		return errtrace.Wrap(err)
	}

	res.Status = resData.Status
	res.Reason = resData.Reason
	res.Proto = resData.Proto
	res.Headers = resData.Headers
	res.Body = resData.Body
	return nil
}
