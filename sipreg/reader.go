package sipreg

import (
	"io"
	"net"

	"github.com/stcbus/pidgin-sub003/sip"
)

// packetReader adapts a connected UDP socket to [messageReader]: each
// datagram is one complete SIP message, no Content-Length-driven
// re-assembly needed.
type packetReader struct {
	conn net.Conn
}

const maxSIPDatagram = 64 * 1024

func (r *packetReader) ReadMessage() (sip.Message, error) {
	buf := make([]byte, maxSIPDatagram)
	n, err := r.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return (&sip.StdParser{}).ParsePacket(buf[:n])
}
