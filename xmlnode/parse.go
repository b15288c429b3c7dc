package xmlnode

import (
	"errors"
)

// ErrUnexpectedEOF is returned when the input ends in the middle of an element.
var ErrUnexpectedEOF = errors.New("xmlnode: unexpected eof")

// ErrMalformed is returned for any other structural parse failure.
var ErrMalformed = errors.New("xmlnode: malformed input")

// Parse parses a single top-level XML element from data.
//
// The parser supports the default-namespace subset of XML used by the
// text-protocol stanzas this package serves (no namespace prefixes);
// attribute values and text runs are kept exactly as written (entities are
// not decoded). Whitespace inside tags is normalized and content before or
// after the root element is dropped, so [Node.Render] reproduces the input
// byte-for-byte only when neither occurs.
func Parse(data []byte) (*Node, error) {
	p := &parser{data: data}
	p.skipMisc()
	n, err := p.parseElement(nil, "")
	if err != nil {
		return nil, err
	}
	return n, nil
}

type parser struct {
	data []byte
	pos  int
}

func (p *parser) eof() bool { return p.pos >= len(p.data) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.data[p.pos]
}

func (p *parser) hasPrefix(s string) bool {
	return p.pos+len(s) <= len(p.data) && string(p.data[p.pos:p.pos+len(s)]) == s
}

func (p *parser) skipMisc() {
	for {
		for !p.eof() && isSpace(p.data[p.pos]) {
			p.pos++
		}
		switch {
		case p.hasPrefix("<?"):
			p.skipUntil("?>")
		case p.hasPrefix("<!--"):
			p.skipUntil("-->")
		case p.hasPrefix("<!"):
			p.skipUntil(">")
		default:
			return
		}
	}
}

func (p *parser) skipUntil(end string) {
	idx := indexFrom(p.data, p.pos, end)
	if idx < 0 {
		p.pos = len(p.data)
		return
	}
	p.pos = idx + len(end)
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\r' || b == '\n' }

func isNameByte(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n', '>', '/', '=':
		return false
	default:
		return true
	}
}

func indexFrom(data []byte, from int, sub string) int {
	for i := from; i+len(sub) <= len(data); i++ {
		if string(data[i:i+len(sub)]) == sub {
			return i
		}
	}
	return -1
}

// parseElement parses one element (the '<' at p.pos must start it) and its
// content, inheriting parentNS when the element has no explicit xmlns.
func (p *parser) parseElement(parent *Node, parentNS string) (*Node, error) {
	if p.eof() || p.data[p.pos] != '<' {
		return nil, ErrMalformed
	}
	p.pos++ // consume '<'

	nameStart := p.pos
	for !p.eof() && isNameByte(p.data[p.pos]) {
		p.pos++
	}
	if p.pos == nameStart {
		return nil, ErrMalformed
	}
	name := string(p.data[nameStart:p.pos])

	n := &Node{Name: name, parent: parent}

	for {
		p.skipSpaces()
		if p.eof() {
			return nil, ErrUnexpectedEOF
		}
		if p.hasPrefix("/>") {
			p.pos += 2
			n.empty = true
			n.NS = resolveNS(n, parentNS)
			return n, nil
		}
		if p.peek() == '>' {
			p.pos++
			break
		}
		attr, err := p.parseAttr()
		if err != nil {
			return nil, err
		}
		n.Attrs = append(n.Attrs, attr)
	}

	n.NS = resolveNS(n, parentNS)

	for {
		if p.eof() {
			return nil, ErrUnexpectedEOF
		}
		if p.hasPrefix("</") {
			closeStart := p.pos
			p.pos += 2
			cnStart := p.pos
			for !p.eof() && isNameByte(p.data[p.pos]) {
				p.pos++
			}
			closeName := string(p.data[cnStart:p.pos])
			p.skipSpaces()
			if p.eof() || p.peek() != '>' {
				return nil, ErrMalformed
			}
			p.pos++
			if closeName != name {
				p.pos = closeStart
				return nil, ErrMalformed
			}
			n.empty = false
			return n, nil
		}
		if p.hasPrefix("<![CDATA[") {
			idx := indexFrom(p.data, p.pos, "]]>")
			if idx < 0 {
				return nil, ErrUnexpectedEOF
			}
			n.Nodes = append(n.Nodes, string(p.data[p.pos:idx+3]))
			p.pos = idx + 3
			continue
		}
		if p.hasPrefix("<!--") {
			idx := indexFrom(p.data, p.pos, "-->")
			if idx < 0 {
				return nil, ErrUnexpectedEOF
			}
			n.Nodes = append(n.Nodes, string(p.data[p.pos:idx+3]))
			p.pos = idx + 3
			continue
		}
		if p.peek() == '<' {
			child, err := p.parseElement(n, n.NS)
			if err != nil {
				return nil, err
			}
			n.Nodes = append(n.Nodes, child)
			continue
		}
		// raw text run up to the next '<'
		start := p.pos
		for !p.eof() && p.data[p.pos] != '<' {
			p.pos++
		}
		if p.eof() {
			return nil, ErrUnexpectedEOF
		}
		n.Nodes = append(n.Nodes, string(p.data[start:p.pos]))
	}
}

func resolveNS(n *Node, parentNS string) string {
	if v, ok := n.Attr("xmlns"); ok {
		return v
	}
	return parentNS
}

func (p *parser) skipSpaces() {
	for !p.eof() && isSpace(p.data[p.pos]) {
		p.pos++
	}
}

func (p *parser) parseAttr() (Attr, error) {
	nameStart := p.pos
	for !p.eof() && isNameByte(p.data[p.pos]) {
		p.pos++
	}
	if p.pos == nameStart {
		return Attr{}, ErrMalformed
	}
	name := string(p.data[nameStart:p.pos])
	p.skipSpaces()
	if p.eof() || p.peek() != '=' {
		return Attr{}, ErrMalformed
	}
	p.pos++
	p.skipSpaces()
	if p.eof() {
		return Attr{}, ErrUnexpectedEOF
	}
	quote := p.peek()
	if quote != '\'' && quote != '"' {
		return Attr{}, ErrMalformed
	}
	p.pos++
	valStart := p.pos
	for !p.eof() && p.data[p.pos] != quote {
		p.pos++
	}
	if p.eof() {
		return Attr{}, ErrUnexpectedEOF
	}
	value := string(p.data[valStart:p.pos])
	p.pos++ // consume closing quote
	return Attr{Name: name, Value: value, Quote: quote}, nil
}
