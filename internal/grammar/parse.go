package grammar

import (
	"bytes"

	"braces.dev/errtrace"
	"github.com/ghettovoice/abnf"

	"github.com/stcbus/pidgin-sub003/internal/errorutil"
)

const (
	ErrEmptyInput     Error = "empty input"
	ErrMalformedInput Error = "malformed input"
)

func newMalformedInputErr(args ...any) error {
	return errorutil.NewWrapperError(ErrMalformedInput, args...) //errtrace:skip
}

// ParseSIPURI parses a "sip:" URI into its ABNF node tree.
func ParseSIPURI[T ~string | ~[]byte](s T) (*abnf.Node, error) {
	return errtrace.Wrap2(sipURINode([]byte(s), false))
}

// ParseSIPSURI parses a "sips:" URI into its ABNF node tree.
func ParseSIPSURI[T ~string | ~[]byte](s T) (*abnf.Node, error) {
	return errtrace.Wrap2(sipURINode([]byte(s), true))
}

func sipURINode(b []byte, secured bool) (*abnf.Node, error) {
	if len(b) == 0 {
		return nil, errtrace.Wrap(ErrEmptyInput)
	}

	scheme, rootKey := "sip:", "SIP-URI"
	if secured {
		scheme, rootKey = "sips:", "SIPS-URI"
	}
	if len(b) < len(scheme)+1 || !eqFold(b[:len(scheme)], []byte(scheme)) {
		return nil, errtrace.Wrap(newMalformedInputErr("invalid scheme in %q", b))
	}
	rest := b[len(scheme):]

	var hdrsRaw []byte
	if i := bytes.IndexByte(rest, '?'); i >= 0 {
		hdrsRaw = rest[i+1:]
		rest = rest[:i]
	}

	var children []*abnf.Node

	if at := bytes.LastIndexByte(rest, '@'); at >= 0 {
		ui, err := userinfoNode(rest[:at])
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		children = append(children, ui)
		rest = rest[at+1:]
	}

	var paramsRaw []byte
	if i := bytes.IndexByte(rest, ';'); i >= 0 {
		paramsRaw = rest[i+1:]
		rest = rest[:i]
	}

	hp, err := hostportNode(rest)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	children = append(children, hp)

	ps, err := uriParametersNode(paramsRaw)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	children = append(children, ps)

	if hdrsRaw != nil {
		hs, err := uriHeadersNode(hdrsRaw)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		children = append(children, hs)
	}

	return branch(rootKey, b, children...), nil
}

func userinfoNode(ui []byte) (*abnf.Node, error) {
	user, passwd := ui, []byte(nil)
	hasPasswd := false
	if i := bytes.IndexByte(ui, ':'); i >= 0 {
		user, passwd = ui[:i], ui[i+1:]
		hasPasswd = true
	}
	if !IsUsername(user) {
		return nil, errtrace.Wrap(newMalformedInputErr("invalid userinfo %q", ui))
	}
	if hasPasswd && !isPasswd(passwd) {
		return nil, errtrace.Wrap(newMalformedInputErr("invalid password in %q", ui))
	}
	children := []*abnf.Node{leaf("user", user)}
	if hasPasswd {
		children = append(children, leaf("password", passwd))
	}
	return branch("userinfo", ui, children...), nil
}

func isPasswd(b []byte) bool {
	for i := 0; i < len(b); i++ {
		if b[i] == '%' {
			if i+2 >= len(b) || !ishex(b[i+1]) || !ishex(b[i+2]) {
				return false
			}
			i += 2
			continue
		}
		if !IsURIPasswdCharUnreserved(b[i]) {
			return false
		}
	}
	return true
}

func hostportNode(hp []byte) (*abnf.Node, error) {
	host, port, hasPort, err := splitHostPort(hp)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	children := []*abnf.Node{leaf("host", host)}
	if hasPort {
		children = append(children, leaf("port", port))
	}
	return branch("hostport", hp, children...), nil
}

func splitHostPort(hp []byte) (host, port []byte, hasPort bool, err error) {
	host = hp
	if len(hp) > 0 && hp[0] == '[' {
		end := bytes.IndexByte(hp, ']')
		if end < 0 {
			return nil, nil, false, errtrace.Wrap(newMalformedInputErr("invalid host %q", hp))
		}
		host = hp[:end+1]
		rest := hp[end+1:]
		if len(rest) > 0 {
			if rest[0] != ':' {
				return nil, nil, false, errtrace.Wrap(newMalformedInputErr("invalid host %q", hp))
			}
			port, hasPort = rest[1:], true
		}
	} else if i := bytes.LastIndexByte(hp, ':'); i >= 0 {
		host, port, hasPort = hp[:i], hp[i+1:], true
	}

	if !IsHost(host) {
		return nil, nil, false, errtrace.Wrap(newMalformedInputErr("invalid host %q", hp))
	}
	if hasPort && !isDigits(port) {
		return nil, nil, false, errtrace.Wrap(newMalformedInputErr("invalid port in %q", hp))
	}
	return host, port, hasPort, nil
}

func isDigits(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func uriParametersNode(raw []byte) (*abnf.Node, error) {
	ps := branch("uri-parameters", raw)
	if len(raw) == 0 {
		return ps, nil
	}
	for _, seg := range bytes.Split(raw, []byte(";")) {
		if len(seg) == 0 {
			continue
		}
		p, err := uriParameterNode(seg)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		ps.Children = append(ps.Children, branch("uri-parameter", seg, p))
	}
	return ps, nil
}

var namedURIParams = map[string]string{
	"transport": "transport-param",
	"user":      "user-param",
	"method":    "method-param",
	"maddr":     "maddr-param",
	"ttl":       "ttl-param",
}

func uriParameterNode(seg []byte) (*abnf.Node, error) {
	name, val := seg, []byte(nil)
	hasVal := false
	if i := bytes.IndexByte(seg, '='); i >= 0 {
		name, val, hasVal = seg[:i], seg[i+1:], true
	}
	if !isURIParamChars(name) || len(name) == 0 {
		return nil, errtrace.Wrap(newMalformedInputErr("invalid URI parameter %q", seg))
	}
	if hasVal && !isURIParamChars(val) {
		return nil, errtrace.Wrap(newMalformedInputErr("invalid URI parameter %q", seg))
	}

	if key, ok := namedURIParams[lcaseStr(name)]; ok && hasVal {
		return branch(key, seg,
			leaf(key, append(append([]byte{}, name...), '=')),
			leaf("param-value", val),
		), nil
	}
	if lcaseStr(name) == "lr" && !hasVal {
		return leaf("lr-param", seg), nil
	}

	children := []*abnf.Node{leaf("pname", name)}
	if hasVal {
		children = append(children, leaf("pvalue", val))
	}
	return branch("other-param", seg, children...), nil
}

func isURIParamChars(b []byte) bool {
	for i := 0; i < len(b); i++ {
		if b[i] == '%' {
			if i+2 >= len(b) || !ishex(b[i+1]) || !ishex(b[i+2]) {
				return false
			}
			i += 2
			continue
		}
		if !IsURIParamCharUnreserved(b[i]) {
			return false
		}
	}
	return true
}

func uriHeadersNode(raw []byte) (*abnf.Node, error) {
	hs := branch("headers", raw)
	for _, seg := range bytes.Split(raw, []byte("&")) {
		eq := bytes.IndexByte(seg, '=')
		if eq < 0 {
			return nil, errtrace.Wrap(newMalformedInputErr("invalid URI header %q", seg))
		}
		hname, hvalue := seg[:eq], seg[eq+1:]
		if len(hname) == 0 || !isURIHeaderChars(hname) || !isURIHeaderChars(hvalue) {
			return nil, errtrace.Wrap(newMalformedInputErr("invalid URI header %q", seg))
		}
		hs.Children = append(hs.Children, branch("header", seg,
			leaf("hname", hname),
			leaf("hvalue", hvalue),
		))
	}
	return hs, nil
}

func isURIHeaderChars(b []byte) bool {
	for i := 0; i < len(b); i++ {
		if b[i] == '%' {
			if i+2 >= len(b) || !ishex(b[i+1]) || !ishex(b[i+2]) {
				return false
			}
			i += 2
			continue
		}
		if !IsURIHeaderCharUnreserved(b[i]) {
			return false
		}
	}
	return true
}

// ParseTelURI parses a "tel:" URI (RFC 3966) into its ABNF node tree.
func ParseTelURI[T ~string | ~[]byte](s T) (*abnf.Node, error) {
	b := []byte(s)
	if len(b) == 0 {
		return nil, errtrace.Wrap(ErrEmptyInput)
	}
	if len(b) < 5 || !eqFold(b[:4], []byte("tel:")) {
		return nil, errtrace.Wrap(newMalformedInputErr("invalid scheme in %q", b))
	}

	segs := bytes.Split(b[4:], []byte(";"))
	num := segs[0]
	if !IsTelNum(num) {
		return nil, errtrace.Wrap(newMalformedInputErr("invalid telephone number %q", num))
	}

	var children []*abnf.Node
	if num[0] == '+' {
		children = append(children, branch("global-number", num, leaf("global-number-digits", num)))
	} else {
		children = append(children, branch("local-number", num, leaf("local-number-digits", num)))
	}

	for _, seg := range segs[1:] {
		p, err := telParamNode(seg)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		children = append(children, p)
	}
	return branch("telephone-uri", b, children...), nil
}

func telParamNode(seg []byte) (*abnf.Node, error) {
	name, val := seg, []byte(nil)
	hasVal := false
	if i := bytes.IndexByte(seg, '='); i >= 0 {
		name, val, hasVal = seg[:i], seg[i+1:], true
	}
	if !IsTelURIParamName(name) {
		return nil, errtrace.Wrap(newMalformedInputErr("invalid tel URI parameter %q", seg))
	}
	if hasVal && !isURIParamChars(val) {
		return nil, errtrace.Wrap(newMalformedInputErr("invalid tel URI parameter %q", seg))
	}

	switch lcaseStr(name) {
	case "phone-context":
		if !hasVal || len(val) == 0 {
			return nil, errtrace.Wrap(newMalformedInputErr("invalid phone-context in %q", seg))
		}
		return branch("context", seg,
			leafs(";phone-context=", ";phone-context="),
			leaf("context-value", val),
		), nil
	case "ext":
		if hasVal {
			return branch("par", seg, branch("extension", seg,
				leafs(";ext=", ";ext="),
				leaf("ext-value", val),
			)), nil
		}
	case "isub":
		if hasVal {
			return branch("par", seg, branch("isdn-subaddress", seg,
				leafs(";isub=", ";isub="),
				leaf("isub-value", val),
			)), nil
		}
	}

	children := []*abnf.Node{leaf("pname", name)}
	if hasVal {
		children = append(children, leaf("pvalue", val))
	}
	return branch("par", seg, branch("parameter", seg, children...)), nil
}

// ParseHostport parses a "host[:port]" string into its ABNF node tree.
func ParseHostport[T ~string | ~[]byte](s T) (*abnf.Node, error) {
	b := []byte(s)
	if len(b) == 0 {
		return nil, errtrace.Wrap(ErrEmptyInput)
	}
	return errtrace.Wrap2(hostportNode(b))
}

// absoluteURINode builds an "absoluteURI" node. When requireScheme is set, an
// input with no recognizable scheme is rejected.
func absoluteURINode(b []byte, requireScheme bool) (*abnf.Node, error) {
	if len(b) == 0 {
		return nil, errtrace.Wrap(ErrEmptyInput)
	}
	for _, c := range b {
		if c <= ' ' || c == 0x7f {
			return nil, errtrace.Wrap(newMalformedInputErr("invalid URI %q", b))
		}
	}

	scheme := uriScheme(b)
	if requireScheme && scheme == nil {
		return nil, errtrace.Wrap(newMalformedInputErr("missing URI scheme in %q", b))
	}
	if scheme != nil {
		return branch("absoluteURI", b, leaf("scheme", scheme)), nil
	}
	return branch("absoluteURI", b), nil
}

// uriScheme returns the scheme part of b, or nil when b has no valid scheme.
func uriScheme(b []byte) []byte {
	i := bytes.IndexByte(b, ':')
	if i <= 0 {
		return nil
	}
	s := b[:i]
	if !isAlphaChar(s[0]) {
		return nil
	}
	for _, c := range s[1:] {
		if !IsAlphanumChar(c) && c != '+' && c != '-' && c != '.' {
			return nil
		}
	}
	return s
}

func isAlphaChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// addrSpecNode parses a URI of any supported scheme and wraps it in an
// "addr-spec" node whose single child is the scheme-specific URI node.
func addrSpecNode(b []byte) (*abnf.Node, error) {
	u, err := anyURINode(b, true)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return branch("addr-spec", b, u), nil
}

// anyURINode parses b as a SIP, SIPS, tel or generic absolute URI node.
func anyURINode(b []byte, requireScheme bool) (*abnf.Node, error) {
	switch {
	case len(b) >= 5 && eqFold(b[:5], []byte("sips:")):
		return errtrace.Wrap2(sipURINode(b, true))
	case len(b) >= 4 && eqFold(b[:4], []byte("sip:")):
		return errtrace.Wrap2(sipURINode(b, false))
	case len(b) >= 4 && eqFold(b[:4], []byte("tel:")):
		return errtrace.Wrap2(ParseTelURI(b))
	default:
		return errtrace.Wrap2(absoluteURINode(b, requireScheme))
	}
}

func eqFold(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func lcaseStr(b []byte) string {
	return string(bytes.ToLower(b))
}

// ParseMessageStart parses a SIP request line or status line.
func ParseMessageStart[T ~string | ~[]byte](s T) (*abnf.Node, error) {
	if len(s) == 0 {
		return nil, errtrace.Wrap(ErrEmptyInput)
	}
	b := bytes.Trim([]byte(s), "\r\n")
	if len(b) == 0 {
		return nil, errtrace.Wrap(ErrEmptyInput)
	}

	if len(b) >= 4 && eqFold(b[:4], []byte("SIP/")) {
		n, err := statusLineNode(b)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		return branch("message-start", b, n), nil
	}
	n, err := requestLineNode(b)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return branch("message-start", b, n), nil
}

func requestLineNode(b []byte) (*abnf.Node, error) {
	first := bytes.IndexByte(b, ' ')
	last := bytes.LastIndexByte(b, ' ')
	if first < 0 || first == last {
		return nil, errtrace.Wrap(newMalformedInputErr("invalid request line %q", b))
	}
	method, uriRaw, version := b[:first], b[first+1:last], b[last+1:]
	if !IsToken(method) || len(uriRaw) == 0 || bytes.IndexByte(uriRaw, ' ') >= 0 {
		return nil, errtrace.Wrap(newMalformedInputErr("invalid request line %q", b))
	}
	if !isSIPVersion(version) {
		return nil, errtrace.Wrap(newMalformedInputErr("invalid SIP version in %q", b))
	}
	u, err := anyURINode(uriRaw, true)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return branch("Request-Line", b,
		leaf("Method", method),
		branch("Request-URI", uriRaw, u),
		leaf("SIP-Version", version),
	), nil
}

func statusLineNode(b []byte) (*abnf.Node, error) {
	first := bytes.IndexByte(b, ' ')
	if first < 0 {
		return nil, errtrace.Wrap(newMalformedInputErr("invalid status line %q", b))
	}
	version := b[:first]
	if !isSIPVersion(version) {
		return nil, errtrace.Wrap(newMalformedInputErr("invalid SIP version in %q", b))
	}
	rest := b[first+1:]
	code, reason := rest, []byte(nil)
	if i := bytes.IndexByte(rest, ' '); i >= 0 {
		code, reason = rest[:i], rest[i+1:]
	}
	if len(code) != 3 || !isDigits(code) {
		return nil, errtrace.Wrap(newMalformedInputErr("invalid status code in %q", b))
	}
	return branch("Status-Line", b,
		leaf("SIP-Version", version),
		leaf("Status-Code", code),
		leaf("Reason-Phrase", reason),
	), nil
}

func isSIPVersion(b []byte) bool {
	if len(b) < 7 || !eqFold(b[:4], []byte("SIP/")) {
		return false
	}
	dot := bytes.IndexByte(b[4:], '.')
	if dot < 0 {
		return false
	}
	return isDigits(b[4:4+dot]) && isDigits(b[4+dot+1:])
}
