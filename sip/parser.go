package sip

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"iter"
	"math"
	"strconv"

	"braces.dev/errtrace"
	"github.com/ghettovoice/abnf"

	"github.com/stcbus/pidgin-sub003/internal/grammar"
	"github.com/stcbus/pidgin-sub003/internal/utils"
	"github.com/stcbus/pidgin-sub003/uri"
)

// MaxMsgSize bounds the declared body size of a single SIP message. A
// message whose Content-Length exceeds it is rejected with
// [ErrEntityTooLarge] instead of being buffered.
var MaxMsgSize uint = math.MaxUint16

const maxMsgSize = 1 << 16

// Parser is an interface for parsing SIP messages.
//
// It provides methods for parsing a single SIP message from a byte slice or for parsing multiple SIP messages from a
// byte stream.
// The [Parser] type is typically used as a factory for creating [StreamParser].
type Parser interface {
	// ParsePacket parses a single SIP message from the given buffer b.
	//
	// Any implementations must satisfy the following contract:
	// - it assumes that the b contains a full SIP message;
	// - in success case, it returns a [Message] and nil error;
	// - a message without a Content-Length header takes the whole remaining buffer as its body;
	// - if b contains more than one SIP message, only the first one is parsed and anything else is ignored.
	ParsePacket(b []byte) (Message, error)
	// ParseStream creates a new [StreamParser] for parsing SIP messages from the given [io.Reader].
	ParseStream(r io.Reader) StreamParser
}

// StreamParser is an interface for parsing SIP messages from a byte stream.
//
// It provides an iterator that yields each parsed [Message] and an error, if any.
type StreamParser interface {
	// Messages returns an iterator that yields each parsed [Message] and an error, if any.
	//
	// Any implementations must satisfy the following contract:
	// - in success case, it yields a [Message] and nil error;
	// - if an error occurs during parsing, it yields a nil message and a non-nil error,
	//   usually a [ParseError] carrying the partial message and the offending bytes;
	// - in stream mode every message must carry a Content-Length header;
	// - the iterator is closed when the consumer breaks the loop.
	//
	// Example:
	//	for msg, err := range p.Messages() {
	//		if err != nil {
	//			var perr *sip.ParseError
	//			if errors.As(err, &perr) {
	//				// handle error and decide break or continue
	//			}
	//			break
	//		}
	//		// everything ok, the message is valid
	//	}
	Messages() iter.Seq2[Message, error]
}

// StdParser is a standard implementation of the [Parser] interface for parsing SIP messages.
type StdParser struct{}

// ParsePacket parses a single SIP message from the given buffer b.
func (p *StdParser) ParsePacket(b []byte) (Message, error) {
	r := getBytesRdr(b)
	br := getBufRdr(r)
	defer func() {
		freeBufRdr(br)
		freeBytesRdr(r)
	}()
	return parseMessage(br, true)
}

// ParseStream creates a new [StdStreamParser] for parsing SIP messages from the given [io.Reader].
func (p *StdParser) ParseStream(rdr io.Reader) StreamParser {
	return &StdStreamParser{rdr: rdr}
}

// StdStreamParser is a standard implementation of the [StreamParser] interface
// for parsing SIP messages from a byte stream.
// It can be initialized with [StdParser.ParseStream] method.
type StdStreamParser struct {
	rdr io.Reader
}

// Messages returns an iterator that yields each parsed [Message] and an error, if any.
// See [StreamParser.Messages] for more details.
func (p *StdStreamParser) Messages() iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		br := getBufRdr(p.rdr)
		defer freeBufRdr(br)
		for {
			msg, err := parseMessage(br, false)
			if !yield(msg, err) {
				break
			}
		}
	}
}

// ParseError represents an error that occurred during parsing.
// It carries the error itself, the parsing state, the bytes that caused the
// error and the partial message parsed so far, if any.
type ParseError struct {
	Err   error
	State ParseState
	Data  []byte
	Msg   Message
}

func (err *ParseError) Error() string {
	return fmt.Sprintf("parse error: %v", err.Err)
}

func (err *ParseError) Unwrap() error { return err.Err }

func (err *ParseError) Grammar() bool { return utils.IsGrammarErr(err.Err) }

func (err *ParseError) Timeout() bool { return utils.IsTimeoutErr(err.Err) }

func (err *ParseError) Temporary() bool { return utils.IsTemporaryErr(err.Err) }

// ParseState represents the current parsing state.
type ParseState int

const (
	ParseStateStart   ParseState = iota // parsing message start line
	ParseStateHeaders                   // parsing message headers
	ParseStateBody                      // parsing message body
)

func parseMessage(rdr *bufio.Reader, packetMode bool) (Message, error) {
	txtRdr := getTxtProtoRdr(rdr)
	defer freeTxtProtoRdr(txtRdr)

	line, err := txtRdr.ReadLineBytes()
	if err != nil {
		return nil, &ParseError{Err: err, State: ParseStateStart}
	}

	node, err := grammar.ParseMessageStart(line)
	if err != nil {
		return nil, &ParseError{Err: err, State: ParseStateStart, Data: bytes.Clone(line)}
	}
	msg := buildMessageStart(node)

	hdrs := make(Headers)
	setMessageHeaders(msg, hdrs)
	for {
		line, err = txtRdr.ReadContinuedLineBytes()
		if err != nil {
			return nil, &ParseError{
				Err:   NewInvalidMessageError("incomplete headers"),
				State: ParseStateHeaders,
				Msg:   msg,
			}
		}
		if len(line) == 0 {
			break
		}
		hdr, err := ParseHeader(line)
		if err != nil {
			return nil, &ParseError{Err: err, State: ParseStateHeaders, Data: bytes.Clone(line), Msg: msg}
		}
		hdrs.Append(hdr)
	}

	var size int
	if cl, ok := hdrs.ContentLength(); ok {
		if uint(cl) > MaxMsgSize {
			return nil, &ParseError{Err: errtrace.Wrap(ErrEntityTooLarge), State: ParseStateHeaders, Msg: msg}
		}
		size = int(cl)
	} else if packetMode {
		size = rdr.Buffered()
	} else {
		return nil, &ParseError{
			Err:   NewInvalidMessageError(`missing mandatory header "Content-Length"`),
			State: ParseStateHeaders,
			Msg:   msg,
		}
	}
	if size == 0 {
		return msg, nil
	}

	body := make([]byte, size)
	setMessageBody(msg, body)
	if n, err := io.ReadFull(rdr, body); err != nil {
		return nil, &ParseError{
			Err:   NewInvalidMessageError("incomplete body"),
			State: ParseStateBody,
			Data:  bytes.Clone(body[:n]),
			Msg:   msg,
		}
	}
	return msg, nil
}

// buildMessageStart converts a parsed request or status line into an empty
// Request or Response.
func buildMessageStart(node *abnf.Node) Message {
	start := node.Children[0]
	switch start.Key {
	case "Status-Line":
		code, _ := strconv.Atoi(string(start.Children[1].Value))
		return &Response{
			Proto:  parseProtoInfo(start.Children[0].Value),
			Status: ResponseStatus(code),
			Reason: ResponseReason(start.Children[2].Value),
		}
	default:
		return &Request{
			Method: RequestMethod(start.Children[0].Value),
			URI:    uri.FromABNF(start.Children[1].Children[0]),
			Proto:  parseProtoInfo(start.Children[2].Value),
		}
	}
}

func parseProtoInfo(b []byte) ProtoInfo {
	if i := bytes.IndexByte(b, '/'); i >= 0 {
		return ProtoInfo{Name: string(b[:i]), Version: string(b[i+1:])}
	}
	return ProtoInfo{Name: string(b)}
}

func setMessageHeaders(msg Message, hdrs Headers) {
	switch m := msg.(type) {
	case *Request:
		m.Headers = hdrs
	case *Response:
		m.Headers = hdrs
	}
}

func setMessageBody(msg Message, body []byte) {
	switch m := msg.(type) {
	case *Request:
		m.Body = body
	case *Response:
		m.Body = body
	}
}

var defaultParser = &StdParser{}

// DefaultParser returns the default parser that can be used for parsing SIP messages.
func DefaultParser() *StdParser { return defaultParser }

// ParsePacket parses a single SIP message from the given buffer b using the default parser.
func ParsePacket(b []byte) (Message, error) { return defaultParser.ParsePacket(b) }

// ParseStream parses SIP messages from r using the default parser, yielding
// each message (or error) in turn.
func ParseStream(r io.Reader) iter.Seq2[Message, error] {
	return defaultParser.ParseStream(r).Messages()
}
