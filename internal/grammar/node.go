package grammar

import (
	"github.com/ghettovoice/abnf"
)

// leaf builds a childless node holding the exact matched text.
func leaf(key string, val []byte) *abnf.Node {
	return &abnf.Node{Key: key, Value: val}
}

func leafs(key, val string) *abnf.Node {
	return leaf(key, []byte(val))
}

// branch builds a node spanning val with the given children.
func branch(key string, val []byte, children ...*abnf.Node) *abnf.Node {
	return &abnf.Node{Key: key, Value: val, Children: children}
}

// reflexiveToken builds a node that is its own "token" descendant, matching
// call sites that look up a nested node with the same key as the node itself
// (e.g. Require/Supported/Unsupported entries).
func reflexiveToken(key string, val []byte) *abnf.Node {
	n := leaf(key, val)
	n.Children = []*abnf.Node{leaf(key, val)}
	return n
}

func trimLWS(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isLWSByte(b[start]) {
		start++
	}
	for end > start && isLWSByte(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isLWSByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// readQuoted reads a leading quoted-string (including the surrounding
// quotes) from b, honoring backslash escapes. Returns the raw quoted text
// and the remaining bytes.
func readQuoted(b []byte) (quoted, rest []byte, ok bool) {
	if len(b) == 0 || b[0] != '"' {
		return nil, b, false
	}
	for i := 1; i < len(b); i++ {
		switch b[i] {
		case '\\':
			i++
		case '"':
			return b[:i+1], b[i+1:], true
		}
	}
	return nil, b, false
}


// splitTop splits b at every top-level occurrence of sep, honoring
// quoted-strings, angle brackets and parenthesized comments.
func splitTop(b []byte, sep byte) [][]byte {
	var (
		out       [][]byte
		depthAng  int
		depthPrn  int
		inQuote   bool
		start     int
	)
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch {
		case inQuote:
			if c == '\\' {
				i++
			} else if c == '"' {
				inQuote = false
			}
		case c == '"':
			inQuote = true
		case c == '<':
			depthAng++
		case c == '>':
			if depthAng > 0 {
				depthAng--
			}
		case c == '(':
			depthPrn++
		case c == ')':
			if depthPrn > 0 {
				depthPrn--
			}
		case c == sep && depthAng == 0 && depthPrn == 0:
			out = append(out, b[start:i])
			start = i + 1
		}
	}
	out = append(out, b[start:])
	return out
}

// splitTopTrim is splitTop followed by trimming LWS off every part; parts
// that are empty after trimming are kept.
func splitTopTrim(b []byte, sep byte) [][]byte {
	parts := splitTop(b, sep)
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = trimLWS(p)
	}
	return out
}

type paramKV struct {
	name    []byte
	value   []byte
	hasVal  bool
	quoted  bool
}


func parseOneParam(seg []byte) paramKV {
	eq := indexTop(seg, '=')
	if eq < 0 {
		return paramKV{name: trimLWS(seg)}
	}
	name := trimLWS(seg[:eq])
	valRaw := trimLWS(seg[eq+1:])
	if q, _, ok := readQuoted(valRaw); ok {
		return paramKV{name: name, value: q, hasVal: true, quoted: true}
	}
	return paramKV{name: name, value: valRaw, hasVal: true}
}

func indexTop(b []byte, sep byte) int {
	inQuote := false
	for i := 0; i < len(b); i++ {
		switch {
		case inQuote:
			if b[i] == '\\' {
				i++
			} else if b[i] == '"' {
				inQuote = false
			}
		case b[i] == '"':
			inQuote = true
		case b[i] == sep:
			return i
		}
	}
	return -1
}

// genericParamNode builds the "generic-param" shape consumed by
// buildFromGenericParamNode in the header package.
func genericParamNode(kv paramKV) *abnf.Node {
	children := []*abnf.Node{leaf("token", kv.name)}
	if kv.hasVal {
		val := kv.value
		children = append(children, leaf("gen-value", val))
	}
	return branch("generic-param", nil, children...)
}

