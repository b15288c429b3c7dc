// Package transportconn implements the connection transport: dialing an
// account's server over TCP or UDP, with optional TLS and
// optional proxying, exposing an async read-line/datagram-recv and write
// surface on top of [outqueue.Queue]. IRCv3 and SIMPLE accounts share the
// same dialer.
package transportconn

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/stcbus/pidgin-sub003/account"
	"github.com/stcbus/pidgin-sub003/dns"
	"github.com/stcbus/pidgin-sub003/outqueue"
	"github.com/stcbus/pidgin-sub003/perrors"
)

// udpLocalPortRangeStart/End is the local port range SIP/UDP transports
// bind within.
const (
	udpLocalPortRangeStart = 5060
	udpLocalPortRangeEnd   = 5160
)

// Options configure a dial.
type Options struct {
	Network string // "tcp" or "udp"
	Addr    string // host:port, or a bare domain when SRVService is set
	TLS     bool
	Proxy   account.ProxyInfo
	Dialer  *net.Dialer

	// SRVService enables DNS SRV discovery ("sip", "ircs", ...) when Addr
	// carries no port; SRVPort is the fallback port when no SRV record
	// exists.
	SRVService string
	SRVPort    uint16
}

// Conn is a dialed connection transport: an outbound [outqueue.Queue] and
// an inbound byte stream (net.Conn for TCP/TLS, *net.UDPConn for UDP).
type Conn struct {
	net.Conn
	Out *outqueue.Queue
	// PublicIP is the local address reported by the socket (a dial to a
	// non-loopback address with no NAT in the middle makes this the public
	// IP directly; otherwise the NAT controller supplies it).
	PublicIP string
}

// Dial connects according to opts. A dial failure yields
// [perrors.KindNetwork] (or [perrors.KindTLS] for a handshake failure). An
// Addr with no port and no SRVService yields [perrors.KindInvalidSettings].
func Dial(ctx context.Context, opts Options, onLost func(error)) (*Conn, error) {
	if addr, err := resolveAddr(ctx, opts); err != nil {
		return nil, err
	} else {
		opts.Addr = addr
	}
	switch opts.Network {
	case "udp":
		return dialUDP(ctx, opts, onLost)
	default:
		return dialStream(ctx, opts, onLost)
	}
}

// resolveAddr fills in the port of a bare-domain Addr, preferring the
// domain's SRV record when Options.SRVService is set.
func resolveAddr(ctx context.Context, opts Options) (string, error) {
	if _, _, err := net.SplitHostPort(opts.Addr); err == nil {
		return opts.Addr, nil
	}
	if opts.SRVService == "" {
		return "", perrors.New(perrors.KindInvalidSettings, "server address has no port", nil)
	}

	network := opts.Network
	if network == "" {
		network = "tcp"
	}
	if srvs, err := dns.LookupSRV(ctx, opts.SRVService, network, opts.Addr); err == nil && len(srvs) > 0 {
		target := strings.TrimSuffix(srvs[0].Target, ".")
		return net.JoinHostPort(target, strconv.Itoa(int(srvs[0].Port))), nil
	}
	if opts.SRVPort == 0 {
		return "", perrors.New(perrors.KindNetwork, "no SRV record and no fallback port for "+opts.Addr, nil)
	}
	return net.JoinHostPort(opts.Addr, strconv.Itoa(int(opts.SRVPort))), nil
}

func dialStream(ctx context.Context, opts Options, onLost func(error)) (*Conn, error) {
	d := opts.Dialer
	if d == nil {
		d = &net.Dialer{Timeout: 30 * time.Second}
	}

	rawConn, err := dialThroughProxy(ctx, d, opts.Proxy, opts.Addr)
	if err != nil {
		return nil, perrors.New(perrors.KindNetwork, "dial failed", err)
	}

	conn := rawConn
	if opts.TLS {
		tlsConn := tls.Client(rawConn, &tls.Config{ServerName: hostOf(opts.Addr)}) //nolint:gosec
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = rawConn.Close()
			return nil, perrors.New(perrors.KindTLS, "tls handshake failed", err)
		}
		conn = tlsConn
	}

	c := &Conn{Conn: conn, PublicIP: localIP(conn)}
	c.Out = outqueue.New(conn, onLost)
	return c, nil
}

func dialUDP(ctx context.Context, opts Options, onLost func(error)) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", opts.Addr)
	if err != nil {
		return nil, perrors.New(perrors.KindNetwork, "resolve failed", err)
	}

	var conn *net.UDPConn
	for port := udpLocalPortRangeStart; port < udpLocalPortRangeEnd; port++ {
		laddr := &net.UDPAddr{Port: port}
		conn, err = net.DialUDP("udp", laddr, raddr)
		if err == nil {
			break
		}
	}
	if conn == nil {
		return nil, perrors.New(perrors.KindNetwork, "no local UDP port available in [5060,5160)", err)
	}

	c := &Conn{Conn: conn, PublicIP: localIP(conn)}
	c.Out = outqueue.New(conn, onLost)
	return c, nil
}

// dialThroughProxy implements the proxy types that are wire protocols this
// package can speak directly: SOCKS5 and an HTTP
// CONNECT tunnel. None, UseGlobal and UseEnv dial straight through
// d.DialContext (UseGlobal/UseEnv are not resolved to a proxy here); Tor and
// Socks4 go through the same SOCKS5 handshake as Socks5.
func dialThroughProxy(ctx context.Context, d *net.Dialer, p account.ProxyInfo, target string) (net.Conn, error) {
	switch p.Type {
	case account.ProxyNone, account.ProxyUseGlobal, account.ProxyUseEnv:
		return d.DialContext(ctx, "tcp", target)
	case account.ProxyHTTP:
		return dialHTTPConnect(ctx, d, p, target)
	case account.ProxySocks5, account.ProxyTor, account.ProxySocks4:
		return dialSocks5(ctx, d, p, target)
	default:
		return d.DialContext(ctx, "tcp", target)
	}
}

func dialHTTPConnect(ctx context.Context, d *net.Dialer, p account.ProxyInfo, target string) (net.Conn, error) {
	proxyAddr := net.JoinHostPort(p.Host, fmt.Sprintf("%d", p.Port))
	conn, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, err
	}

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)
	if p.Username != "" {
		req += "Proxy-Authorization: Basic " + basicAuth(p.Username, p.Password) + "\r\n"
	}
	req += "\r\n"

	if _, err := conn.Write([]byte(req)); err != nil {
		_ = conn.Close()
		return nil, err
	}

	tp := textproto.NewReader(bufio.NewReader(conn))
	line, err := tp.ReadLine()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !httpOK(line) {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", line)
	}
	for {
		l, err := tp.ReadLine()
		if err != nil || l == "" {
			break
		}
	}
	return conn, nil
}

func httpOK(statusLine string) bool {
	return len(statusLine) >= 12 && statusLine[9:12] == "200"
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

// dialSocks5 performs a minimal, unauthenticated (or username/password)
// SOCKS5 CONNECT handshake (RFC 1928).
func dialSocks5(ctx context.Context, d *net.Dialer, p account.ProxyInfo, target string) (net.Conn, error) {
	proxyAddr := net.JoinHostPort(p.Host, fmt.Sprintf("%d", p.Port))
	conn, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, err
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	port, err := parsePort(portStr)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if _, err := conn.Write([]byte{0x05, 0x02, 0x00, 0x02}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	resp := make([]byte, 2)
	if _, err := readFull(conn, resp); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if resp[0] != 0x05 {
		_ = conn.Close()
		return nil, fmt.Errorf("not a SOCKS5 proxy")
	}
	if resp[1] == 0x02 {
		auth := append([]byte{0x01, byte(len(p.Username))}, p.Username...)
		auth = append(append(auth, byte(len(p.Password))), p.Password...)
		_, err = conn.Write(auth)
		if err == nil {
			_, err = readFull(conn, resp)
		}
		if err != nil || resp[1] != 0x00 {
			_ = conn.Close()
			return nil, fmt.Errorf("socks5 authentication failed")
		}
	}

	req := []byte{0x05, 0x01, 0x00, 0x03, byte(len(host))}
	req = append(req, []byte(host)...)
	req = append(req, byte(port>>8), byte(port))
	if _, err := conn.Write(req); err != nil {
		_ = conn.Close()
		return nil, err
	}

	hdr := make([]byte, 4)
	if _, err := readFull(conn, hdr); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if hdr[1] != 0x00 {
		_ = conn.Close()
		return nil, fmt.Errorf("socks5 connect failed: code %d", hdr[1])
	}
	if err := discardSocks5Address(conn, hdr[3]); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func discardSocks5Address(conn net.Conn, addrType byte) error {
	var n int
	switch addrType {
	case 0x01:
		n = 4
	case 0x04:
		n = 16
	case 0x03:
		lb := make([]byte, 1)
		if _, err := readFull(conn, lb); err != nil {
			return err
		}
		n = int(lb[0])
	}
	buf := make([]byte, n+2) // +2 for bound port
	_, err := readFull(conn, buf)
	return err
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func parsePort(s string) (int, error) {
	return strconv.Atoi(s)
}

func hostOf(addr string) string {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return h
}

func localIP(conn net.Conn) string {
	addr, ok := conn.LocalAddr().(*net.TCPAddr)
	if ok {
		return addr.IP.String()
	}
	if udp, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	return ""
}
