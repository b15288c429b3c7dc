// Package xmlnode implements the streaming XML-stanza parser and serializer
// used by the text-protocol wire codec.
//
// A node carries a name, an optional namespace, attributes in
// first-occurrence order, children, and text/CDATA. Unlike a generic XML
// library, the parser keeps some of the original lexical
// detail (attribute quote character, self-closing-vs-explicit-close-tag
// choice, raw unescaped text runs), so serialize(parse(x)) == x holds
// byte-for-byte for elements written with exactly one space before each
// attribute and no other whitespace inside tags. Other whitespace inside a
// tag (around '=', before '>' or '/>', in a closing tag) is not kept, and
// anything before or after the root element (an XML declaration, a
// comment, trailing bytes) is dropped.
package xmlnode

import (
	"strings"

	"github.com/stcbus/pidgin-sub003/internal/stringutils"
)

// jabberClientNS is always suppressed as an explicit xmlns attribute on a
// descendant node, even when it differs from the immediate parent's
// namespace — the stream-level default namespace on an XMPP connection.
const jabberClientNS = "jabber:client"

// Attr is a single attribute, recorded with the quote character it was
// parsed with so re-serialization reproduces the original bytes.
type Attr struct {
	Name  string
	Value string
	Quote byte // '\'' or '"'; SetAttr uses '\''; Render writes '"' for the zero value
}

// Node is an XML element. Child content is either a nested *Node or a raw
// text run (entities, whitespace and comments kept verbatim, unescaped).
type Node struct {
	Name  string
	NS    string
	Attrs []Attr
	Nodes []any // each element is *Node or string

	// empty records whether the source used a self-closing tag
	// (<a/>) versus explicit open/close (<a></a>) when Nodes is empty.
	// For constructed nodes it defaults to true (self-close).
	empty  bool
	parent *Node
}

// New creates a detached element with the given namespace. If parent is
// non-nil the node is appended as its child and an explicit xmlns attribute
// is added unless the namespace is inherited from the parent or equals
// [jabber:client].
func New(name, ns string, parent *Node) *Node {
	n := &Node{Name: name, empty: true, parent: parent}
	if ns == "" && parent != nil {
		ns = parent.NS
	}
	n.NS = ns

	if parent != nil {
		parent.Nodes = append(parent.Nodes, n)
	}

	if ns != "" {
		omit := parent != nil && (ns == parent.NS || ns == jabberClientNS)
		if !omit {
			n.SetAttr("xmlns", ns)
		}
	}
	return n
}

// SetAttr sets the value of an existing attribute or appends a new one,
// preserving first-occurrence order for existing keys.
func (n *Node) SetAttr(name, value string) *Node {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = value
			return n
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value, Quote: '\''})
	return n
}

// Attr returns the value of the named attribute and whether it was present.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AppendText appends a raw (unescaped) text run as a child.
func (n *Node) AppendText(text string) *Node {
	n.Nodes = append(n.Nodes, escapeText(text))
	return n
}

// Text returns the concatenation of all direct text children, unescaped.
func (n *Node) Text() string {
	var sb strings.Builder
	for _, c := range n.Nodes {
		if s, ok := c.(string); ok {
			sb.WriteString(unescapeText(s))
		}
	}
	return sb.String()
}

// Child returns the first direct child element with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Nodes {
		if el, ok := c.(*Node); ok && el.Name == name {
			return el
		}
	}
	return nil
}

// Children returns every direct child element with the given name.
func (n *Node) Children(name string) []*Node {
	var out []*Node
	for _, c := range n.Nodes {
		if el, ok := c.(*Node); ok && el.Name == name {
			out = append(out, el)
		}
	}
	return out
}

// Render serializes the node back to XML bytes.
func (n *Node) Render() string {
	sb := stringutils.NewStrBldr()
	defer stringutils.FreeStrBldr(sb)
	n.render(sb)
	return sb.String()
}

func (n *Node) render(sb *strings.Builder) {
	sb.WriteByte('<')
	sb.WriteString(n.Name)
	for _, a := range n.Attrs {
		q := a.Quote
		if q != '\'' && q != '"' {
			q = '"'
		}
		sb.WriteByte(' ')
		sb.WriteString(a.Name)
		sb.WriteByte('=')
		sb.WriteByte(q)
		sb.WriteString(a.Value)
		sb.WriteByte(q)
	}
	if len(n.Nodes) == 0 {
		if n.empty {
			sb.WriteString("/>")
			return
		}
		sb.WriteString("></")
		sb.WriteString(n.Name)
		sb.WriteByte('>')
		return
	}
	sb.WriteByte('>')
	for _, c := range n.Nodes {
		switch v := c.(type) {
		case *Node:
			v.render(sb)
		case string:
			sb.WriteString(v)
		}
	}
	sb.WriteString("</")
	sb.WriteString(n.Name)
	sb.WriteByte('>')
}

func (n *Node) String() string { return n.Render() }

func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func unescapeText(s string) string {
	r := strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&apos;", "'", "&quot;", `"`)
	return r.Replace(s)
}
