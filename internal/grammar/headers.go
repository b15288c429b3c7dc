package grammar

import (
	"bytes"
	"net/textproto"

	"braces.dev/errtrace"
	"github.com/ghettovoice/abnf"
)

// ParseMessageHeader parses one (possibly folded) SIP header line into an
// ABNF node tree. The returned root's first grandchild is the header node
// itself, keyed by the canonical header name, or "extension-header" for
// unknown headers and for known headers whose value does not match their
// grammar.
func ParseMessageHeader[T ~string | ~[]byte](s T) (*abnf.Node, error) {
	if len(s) == 0 {
		return nil, errtrace.Wrap(ErrEmptyInput)
	}
	b := bytes.Trim([]byte(s), "\r\n")
	if len(b) == 0 {
		return nil, errtrace.Wrap(ErrEmptyInput)
	}

	colon := bytes.IndexByte(b, ':')
	if colon < 0 {
		return nil, errtrace.Wrap(newMalformedInputErr("missing colon in header %q", b))
	}
	name := trimLWS(b[:colon])
	if !IsToken(name) {
		return nil, errtrace.Wrap(newMalformedInputErr("invalid header name %q", name))
	}
	value := b[colon+1:]

	hdr := headerNode(name, value)
	return branch("message-header", b, branch("header", b, hdr)), nil
}

var compactHdrNames = map[string]string{
	"c":                "Content-Type",
	"e":                "Content-Encoding",
	"f":                "From",
	"i":                "Call-ID",
	"k":                "Supported",
	"l":                "Content-Length",
	"m":                "Contact",
	"s":                "Subject",
	"t":                "To",
	"v":                "Via",
	"Call-Id":          "Call-ID",
	"Cseq":             "CSeq",
	"Mime-Version":     "MIME-Version",
	"Www-Authenticate": "WWW-Authenticate",
}

func canonicHdrName(name []byte) string {
	n := string(name)
	if cn, ok := compactHdrNames[n]; ok {
		return cn
	}
	n = textproto.CanonicalMIMEHeaderKey(n)
	if cn, ok := compactHdrNames[n]; ok {
		return cn
	}
	return n
}

type hdrValueBuilder func(value []byte) ([]*abnf.Node, error)

var hdrBuilders map[string]hdrValueBuilder

func init() {
	hdrBuilders = map[string]hdrValueBuilder{
		"Authorization":       credentialsValueNodes,
		"Call-ID":             callIDValueNodes,
		"Contact":             contactValueNodes,
		"Content-Length":      digitsValueNodes("1*DIGIT"),
		"Content-Type":        contentTypeValueNodes,
		"CSeq":                cseqValueNodes,
		"Expires":             deltaSecondsValueNodes,
		"From":                fromValueNodes,
		"Max-Forwards":        digitsValueNodes("1*DIGIT"),
		"Proxy-Authenticate":  challengeValueNodes,
		"Proxy-Authorization": credentialsValueNodes,
		"To":                  toValueNodes,
		"Via":                 viaValueNodes,
		"WWW-Authenticate":    challengeValueNodes,
	}
}

// headerNode builds the node for one header. A known header whose value does
// not match its grammar degrades to an extension-header node rather than
// failing the whole line.
func headerNode(name, value []byte) *abnf.Node {
	full := joinHeader(name, value)
	if builder, ok := hdrBuilders[canonicHdrName(name)]; ok {
		if vals, err := builder(value); err == nil {
			children := append([]*abnf.Node{
				leaf("header-name", name),
				leafs("HCOLON", ":"),
			}, vals...)
			return branch(canonicHdrName(name), full, children...)
		}
	}
	return branch("extension-header", full,
		leaf("header-name", name),
		leafs("HCOLON", ":"),
		leaf("header-value", trimLWS(value)),
	)
}

func joinHeader(name, value []byte) []byte {
	out := make([]byte, 0, len(name)+1+len(value))
	out = append(out, name...)
	out = append(out, ':')
	return append(out, value...)
}

// commaElems splits a header value at top-level commas, trimming LWS. An
// empty value yields no elements.
func commaElems(value []byte) [][]byte {
	t := trimLWS(value)
	if len(t) == 0 {
		return nil
	}
	return splitTopTrim(t, ',')
}

var errBadHeaderValue = Error("header value does not match the grammar")

// ParseMediaRange parses a media type or range with its parameters.
func ParseMediaRange[T ~string | ~[]byte](s T) (*abnf.Node, error) {
	b := trimLWS([]byte(s))
	if len(b) == 0 {
		return nil, errtrace.Wrap(ErrEmptyInput)
	}
	return errtrace.Wrap2(mediaRangeNode(b, true))
}

// mediaRangeNode parses "type/subtype;p=v;..." into a "media-range" node
// ("media-type" when asRange is false). The "*" wildcards are only legal in
// a range.
func mediaRangeNode(elem []byte, asRange bool) (*abnf.Node, error) {
	key := "media-type"
	if asRange {
		key = "media-range"
	}

	segs := splitTopTrim(elem, ';')
	mtype := segs[0]
	slash := bytes.IndexByte(mtype, '/')
	if slash < 0 {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}
	t, st := trimLWS(mtype[:slash]), trimLWS(mtype[slash+1:])
	if !isTypeToken(t, asRange) || !isTypeToken(st, asRange) {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}

	var children []*abnf.Node
	if !bytes.Equal(t, []byte("*")) {
		children = append(children, leaf("m-type", t))
	} else if !asRange {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}
	children = append(children, leafs("SLASH", "/"))
	if !bytes.Equal(st, []byte("*")) {
		children = append(children, leaf("m-subtype", st))
	} else if !asRange {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}

	for _, seg := range segs[1:] {
		kv := parseOneParam(seg)
		if !IsToken(kv.name) {
			return nil, errtrace.Wrap(errBadHeaderValue)
		}
		children = append(children, branch("m-parameter", seg,
			leaf("m-attribute", kv.name),
			leafs("EQUAL", "="),
			leaf("m-value", kv.value),
		))
	}
	return branch(key, elem, children...), nil
}

func isTypeToken(b []byte, allowStar bool) bool {
	if allowStar && bytes.Equal(b, []byte("*")) {
		return true
	}
	return IsToken(b)
}

func callIDValueNodes(value []byte) ([]*abnf.Node, error) {
	v := trimLWS(value)
	if !isCallID(v) {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}
	return []*abnf.Node{leaf("callid", v)}, nil
}

func isCallID(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	at := false
	for _, c := range b {
		switch {
		case c == '@':
			if at {
				return false
			}
			at = true
		case c <= ' ' || c == ',' || c == 0x7f:
			return false
		}
	}
	return b[0] != '@' && b[len(b)-1] != '@'
}

func digitsValueNodes(key string) hdrValueBuilder {
	return func(value []byte) ([]*abnf.Node, error) {
		v := trimLWS(value)
		if !isDigits(v) {
			return nil, errtrace.Wrap(errBadHeaderValue)
		}
		return []*abnf.Node{leaf(key, v)}, nil
	}
}

func deltaSecondsValueNodes(value []byte) ([]*abnf.Node, error) {
	v := trimLWS(value)
	if !isDigits(v) {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}
	return []*abnf.Node{leaf("delta-seconds", v)}, nil
}

func cseqValueNodes(value []byte) ([]*abnf.Node, error) {
	v := trimLWS(value)
	sp := bytes.IndexAny(v, " \t\r\n")
	if sp < 0 {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}
	num, method := v[:sp], trimLWS(v[sp:])
	if !isDigits(num) || !IsToken(method) {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}
	return []*abnf.Node{
		leaf("1*DIGIT", num),
		leafs("LWS", " "),
		leaf("Method", method),
	}, nil
}

func contentTypeValueNodes(value []byte) ([]*abnf.Node, error) {
	v := trimLWS(value)
	if len(v) == 0 {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}
	mt, err := mediaRangeNode(v, false)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return []*abnf.Node{mt}, nil
}

func fromValueNodes(value []byte) ([]*abnf.Node, error) {
	v := trimLWS(value)
	children, err := nameAddrChildren(v, "from-param")
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return []*abnf.Node{branch("from-spec", v, children...)}, nil
}

func toValueNodes(value []byte) ([]*abnf.Node, error) {
	return errtrace.Wrap2(nameAddrChildren(trimLWS(value), "to-param"))
}

func contactValueNodes(value []byte) ([]*abnf.Node, error) {
	v := trimLWS(value)
	if bytes.Equal(v, []byte("*")) {
		return []*abnf.Node{leafs("STAR", "*")}, nil
	}
	elems := commaElems(v)
	if len(elems) == 0 {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}
	var out []*abnf.Node
	for _, elem := range elems {
		children, err := nameAddrChildren(elem, "contact-params")
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		out = append(out, branch("contact-param", elem, children...))
	}
	return out, nil
}

// ParseContactParam parses one name-addr / addr-spec element with its
// ";param" list.
func ParseContactParam[T ~string | ~[]byte](s T) (*abnf.Node, error) {
	b := trimLWS([]byte(s))
	if len(b) == 0 {
		return nil, errtrace.Wrap(ErrEmptyInput)
	}
	children, err := nameAddrChildren(b, "contact-params")
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return branch("contact-param", b, children...), nil
}

// nameAddrChildren parses `["display"] <uri>;params` or a bare `uri`
// (parameters then belong to the URI) into the child nodes of a
// contact-param style node. psKey names the per-parameter wrapper node;
// when it is "generic-param" the wrapper nests a second generic-param node
// so that GetNodes stops at the wrapper and GetNode finds the inner one.
func nameAddrChildren(elem []byte, psKey string) ([]*abnf.Node, error) {
	if len(elem) == 0 {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}

	open := indexTop(elem, '<')
	if open < 0 {
		as, err := addrSpecNode(elem)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		return []*abnf.Node{as}, nil
	}

	closing := bytes.IndexByte(elem[open:], '>')
	if closing < 0 {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}
	closing += open

	display := trimLWS(elem[:open])
	as, err := addrSpecNode(elem[open+1 : closing])
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	naChildren := []*abnf.Node{}
	if len(display) > 0 {
		naChildren = append(naChildren, leaf("display-name", display))
	}
	naChildren = append(naChildren, as)
	children := []*abnf.Node{branch("name-addr", elem[:closing+1], naChildren...)}

	for _, seg := range splitTopTrim(elem[closing+1:], ';') {
		if len(seg) == 0 {
			continue
		}
		kv := parseOneParam(seg)
		if !IsToken(kv.name) {
			return nil, errtrace.Wrap(errBadHeaderValue)
		}
		children = append(children, branch(psKey, seg, genericParamNode(kv)))
	}
	return children, nil
}


func viaValueNodes(value []byte) ([]*abnf.Node, error) {
	elems := commaElems(value)
	if len(elems) == 0 {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}
	var out []*abnf.Node
	for _, elem := range elems {
		n, err := viaParmNode(elem)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		out = append(out, n)
	}
	return out, nil
}

// ParseViaParm parses one Via header element.
func ParseViaParm[T ~string | ~[]byte](s T) (*abnf.Node, error) {
	b := trimLWS([]byte(s))
	if len(b) == 0 {
		return nil, errtrace.Wrap(ErrEmptyInput)
	}
	return errtrace.Wrap2(viaParmNode(b))
}

func viaParmNode(elem []byte) (*abnf.Node, error) {
	segs := splitTopTrim(elem, ';')
	head := segs[0]

	parts := bytes.SplitN(head, []byte("/"), 3)
	if len(parts) != 3 {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}
	name, version := trimLWS(parts[0]), trimLWS(parts[1])

	rest := trimLWS(parts[2])
	sp := bytes.IndexAny(rest, " \t\r\n")
	if sp < 0 {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}
	transport := rest[:sp]
	sentBy := stripLWS(rest[sp:])

	if !IsToken(name) || len(version) == 0 || !IsToken(transport) {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}
	sb, err := hostportNode(sentBy)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	sb.Key = "sent-by"

	children := []*abnf.Node{
		branch("sent-protocol", head,
			leaf("protocol-name", name),
			leafs("SLASH", "/"),
			leaf("protocol-version", version),
			leafs("SLASH", "/"),
			leaf("transport", transport),
		),
		sb,
	}

	for _, seg := range segs[1:] {
		kv := parseOneParam(seg)
		if !IsToken(kv.name) {
			return nil, errtrace.Wrap(errBadHeaderValue)
		}
		if lcaseStr(kv.name) == "rport" {
			rp := []*abnf.Node{leaf("rport", kv.name)}
			if kv.hasVal {
				if !isDigits(kv.value) {
					return nil, errtrace.Wrap(errBadHeaderValue)
				}
				rp = append(rp, leaf("1*DIGIT", kv.value))
			}
			children = append(children, branch("via-params", seg, branch("response-port", seg, rp...)))
			continue
		}
		children = append(children, branch("via-params", seg, genericParamNode(kv)))
	}
	return branch("via-parm", elem, children...), nil
}

// stripLWS removes every LWS byte, joining "host: port" style spellings.
func stripLWS(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if !isLWSByte(c) {
			out = append(out, c)
		}
	}
	return out
}

// authParamNode builds the "<name> EQUAL <value>" triple shared by every
// auth parameter shape; the value keeps its quotes as written.
func authParamNode(key string, kv paramKV) *abnf.Node {
	return branch(key, nil,
		leaf("auth-param-name", kv.name),
		leafs("EQUAL", "="),
		leaf("auth-param-value", kv.value),
	)
}

var digestClnKeys = map[string]string{
	"realm":     "realm",
	"domain":    "domain",
	"nonce":     "nonce",
	"opaque":    "opaque",
	"stale":     "stale",
	"algorithm": "algorithm",
	"qop":       "qop-options",
}

func challengeValueNodes(value []byte) ([]*abnf.Node, error) {
	scheme, rest, err := splitAuthScheme(value)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	schemeNode := branch("auth-scheme", scheme, leaf("token", scheme))
	children := []*abnf.Node{schemeNode}

	switch lcaseStr(scheme) {
	case "digest":
		for _, elem := range splitTopTrim(rest, ',') {
			n, err := digestClnNode(elem)
			if err != nil {
				return nil, errtrace.Wrap(err)
			}
			children = append(children, branch("digest-cln", elem, n))
		}
	default:
		ps, err := authParamList(rest)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		children = append(children, ps...)
	}
	return []*abnf.Node{branch("challenge", trimLWS(value), children...)}, nil
}

func splitAuthScheme(value []byte) (scheme, rest []byte, err error) {
	v := trimLWS(value)
	sp := bytes.IndexAny(v, " \t\r\n")
	if sp < 0 {
		return nil, nil, errtrace.Wrap(errBadHeaderValue)
	}
	scheme, rest = v[:sp], trimLWS(v[sp:])
	if !IsToken(scheme) || len(rest) == 0 {
		return nil, nil, errtrace.Wrap(errBadHeaderValue)
	}
	return scheme, rest, nil
}

func authParamList(rest []byte) ([]*abnf.Node, error) {
	var out []*abnf.Node
	for _, elem := range splitTopTrim(rest, ',') {
		kv := parseOneParam(elem)
		if !IsToken(kv.name) || !kv.hasVal {
			return nil, errtrace.Wrap(errBadHeaderValue)
		}
		out = append(out, authParamNode("auth-param", kv))
	}
	return out, nil
}

func digestClnNode(elem []byte) (*abnf.Node, error) {
	kv := parseOneParam(elem)
	if !IsToken(kv.name) || !kv.hasVal {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}

	key, known := digestClnKeys[lcaseStr(kv.name)]
	if !known {
		return authParamNode("auth-param", kv), nil
	}
	switch key {
	case "domain":
		if !kv.quoted {
			return nil, errtrace.Wrap(errBadHeaderValue)
		}
		n := branch("domain", elem,
			leaf("auth-param-name", kv.name),
			leafs("EQUAL", "="),
		)
		for _, raw := range bytes.Fields(unquoteBytes(kv.value)) {
			u, err := anyURINode(raw, false)
			if err != nil {
				return nil, errtrace.Wrap(err)
			}
			n.Children = append(n.Children, branch("URI", raw, u))
		}
		return n, nil
	case "qop-options":
		if !kv.quoted {
			return nil, errtrace.Wrap(errBadHeaderValue)
		}
		n := branch("qop-options", elem,
			leaf("auth-param-name", kv.name),
			leafs("EQUAL", "="),
		)
		for _, q := range bytes.Split(unquoteBytes(kv.value), []byte(",")) {
			q = trimLWS(q)
			if !IsToken(q) {
				return nil, errtrace.Wrap(errBadHeaderValue)
			}
			n.Children = append(n.Children, leaf("qop-value", q))
		}
		return n, nil
	default:
		return authParamNode(key, kv), nil
	}
}

func unquoteBytes(b []byte) []byte {
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		return b[1 : len(b)-1]
	}
	return b
}

var digestRespKeys = map[string]string{
	"username":  "username",
	"realm":     "realm",
	"nonce":     "nonce",
	"uri":       "digest-uri",
	"response":  "dresponse",
	"algorithm": "algorithm",
	"cnonce":    "cnonce",
	"opaque":    "opaque",
	"qop":       "message-qop",
	"nc":        "nonce-count",
}

func credentialsValueNodes(value []byte) ([]*abnf.Node, error) {
	scheme, rest, err := splitAuthScheme(value)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	schemeNode := branch("auth-scheme", scheme, leaf("token", scheme))
	children := []*abnf.Node{schemeNode}

	switch lcaseStr(scheme) {
	case "digest":
		for _, elem := range splitTopTrim(rest, ',') {
			n, err := digestRespNode(elem)
			if err != nil {
				return nil, errtrace.Wrap(err)
			}
			children = append(children, branch("dig-resp", elem, n))
		}
	default:
		ps, err := authParamList(rest)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		children = append(children, ps...)
	}
	return []*abnf.Node{branch("credentials", trimLWS(value), children...)}, nil
}

func digestRespNode(elem []byte) (*abnf.Node, error) {
	kv := parseOneParam(elem)
	if !IsToken(kv.name) || !kv.hasVal {
		return nil, errtrace.Wrap(errBadHeaderValue)
	}
	key, known := digestRespKeys[lcaseStr(kv.name)]
	if !known {
		return authParamNode("auth-param", kv), nil
	}
	if key == "digest-uri" {
		if !kv.quoted {
			return nil, errtrace.Wrap(errBadHeaderValue)
		}
		u, err := anyURINode(unquoteBytes(kv.value), true)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		return branch("digest-uri", elem,
			leaf("auth-param-name", kv.name),
			leafs("EQUAL", "="),
			branch("Request-URI", unquoteBytes(kv.value), u),
		), nil
	}
	return authParamNode(key, kv), nil
}

// ParseRequest parses a full SIP request (start line, headers, body) into an
// ABNF node tree.
func ParseRequest[T ~string | ~[]byte](s T) (*abnf.Node, error) {
	return errtrace.Wrap2(messageNode([]byte(s), false))
}

// ParseResponse parses a full SIP response into an ABNF node tree.
func ParseResponse[T ~string | ~[]byte](s T) (*abnf.Node, error) {
	return errtrace.Wrap2(messageNode([]byte(s), true)) //nolint:errtrace
}

func messageNode(b []byte, response bool) (*abnf.Node, error) {
	if len(b) == 0 {
		return nil, errtrace.Wrap(ErrEmptyInput)
	}

	head, body := b, []byte(nil)
	if i := bytes.Index(b, []byte("\r\n\r\n")); i >= 0 {
		head, body = b[:i], b[i+4:]
	}

	lines := unfoldLines(head)
	if len(lines) == 0 {
		return nil, errtrace.Wrap(ErrEmptyInput)
	}

	start, err := ParseMessageStart(lines[0])
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if got := start.Children[0].Key == "Status-Line"; got != response {
		return nil, errtrace.Wrap(newMalformedInputErr("unexpected start line %q", lines[0]))
	}

	rootKey := "Request"
	if response {
		rootKey = "Response"
	}
	root := branch(rootKey, b, start)
	for _, line := range lines[1:] {
		h, err := ParseMessageHeader(line)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		root.Children = append(root.Children, h)
	}
	root.Children = append(root.Children, leaf("message-body", body))
	return root, nil
}

// unfoldLines splits head at CRLFs, joining continuation lines that start
// with whitespace onto their parent header line.
func unfoldLines(head []byte) [][]byte {
	var out [][]byte
	for _, line := range bytes.Split(head, []byte("\r\n")) {
		if len(out) > 0 && len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			joined := append(append([]byte{}, out[len(out)-1]...), '\r', '\n')
			out[len(out)-1] = append(joined, line...)
			continue
		}
		if len(line) > 0 {
			out = append(out, line)
		}
	}
	return out
}
