// Package codec implements the text-protocol wire framers: a CRLF/LF line
// framer for IRCv3 and SIP, and a SIP request/response framer (headers +
// Content-Length body) built on sip.Parser.
package codec

import (
	"bufio"
	"bytes"
	"io"

	"github.com/stcbus/pidgin-sub003/perrors"
)

// MaxFrameSize is the maximum number of bytes a single line may occupy
// before FrameOverflow is reported.
const MaxFrameSize = 64 * 1024

// LineFramer reads CRLF- or LF-terminated frames from a byte stream.
// Leading CRLFs on a fresh connection are stripped, as SIP requires.
type LineFramer struct {
	r               *bufio.Reader
	strippedLeading bool
}

// NewLineFramer wraps r in a 4096-byte buffered reader.
func NewLineFramer(r io.Reader) *LineFramer {
	return &LineFramer{r: bufio.NewReaderSize(r, 4096)}
}

// ReadFrame reads the next line, with its terminator stripped.
// It returns a [perrors.KindFrameOverflow] error if no terminator is found
// within [MaxFrameSize] bytes, and io.EOF (wrapped as-is) at end of stream.
func (f *LineFramer) ReadFrame() ([]byte, error) {
	f.stripLeadingCRLF()

	var buf bytes.Buffer
	for {
		chunk, err := f.r.ReadBytes('\n')
		buf.Write(chunk)
		if buf.Len() > MaxFrameSize {
			return nil, perrors.New(perrors.KindFrameOverflow, "line exceeds 64KiB", nil)
		}
		if err == nil {
			line := buf.Bytes()
			line = bytes.TrimSuffix(line, []byte("\n"))
			line = bytes.TrimSuffix(line, []byte("\r"))
			return line, nil
		}
		if err == io.EOF {
			if buf.Len() == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
}

// stripLeadingCRLF discards any run of bare CRLF/LF frames that precede the
// first real frame, once per framer lifetime — required by SIP (RFC 3261
// §7.5 keep-alive pings) and harmless for IRCv3.
func (f *LineFramer) stripLeadingCRLF() {
	if f.strippedLeading {
		return
	}
	f.strippedLeading = true
	for {
		b, err := f.r.Peek(1)
		if err != nil || len(b) == 0 {
			return
		}
		if b[0] != '\r' && b[0] != '\n' {
			return
		}
		_, _ = f.r.ReadByte()
	}
}
