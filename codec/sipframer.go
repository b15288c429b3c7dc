package codec

import (
	"bufio"
	"io"
	"iter"

	"github.com/stcbus/pidgin-sub003/sip"
)

// SIPFramer reads complete SIP messages (request line or status line,
// headers, and a Content-Length-delimited body) from a stream. It is a thin
// adapter over [sip.StdParser]: when a message's Content-Length exceeds the
// bytes buffered so far the parser blocks for more data rather than
// dispatching a partial message.
type SIPFramer struct {
	next func() (sip.Message, error, bool)
	stop func()
}

// NewSIPFramer wraps r with buffering sized for typical SIP messages.
func NewSIPFramer(r io.Reader, parser sip.Parser) *SIPFramer {
	if parser == nil {
		parser = &sip.StdParser{}
	}
	next, stop := iter.Pull2(parser.ParseStream(bufio.NewReaderSize(r, 8192)).Messages())
	return &SIPFramer{next: next, stop: stop}
}

// ReadMessage blocks until one full SIP message has been parsed.
func (f *SIPFramer) ReadMessage() (sip.Message, error) {
	msg, err, ok := f.next()
	if !ok {
		return nil, io.EOF
	}
	return msg, err
}

// Close releases the underlying iterator. It does not close the reader.
func (f *SIPFramer) Close() {
	f.stop()
}
