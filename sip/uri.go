package sip

import (
	"braces.dev/errtrace"

	"github.com/stcbus/pidgin-sub003/uri"
)

// URI represents generic URI (SIP, SIPS, Tel, ...etc).
// See [uri.URI].
type URI = uri.URI

// Addr represents a network address consisting of a host and optional port.
// See [uri.Addr].
type Addr = uri.Addr

// ParseURI parses any URI from a given input s (string or []byte).
// See [uri.Parse].
func ParseURI[T ~string | ~[]byte](s T) (URI, error) { return errtrace.Wrap2(uri.Parse(s)) }

// Host creates an [Addr] from a hostname without a port.
// See [uri.Host].
func Host(host string) Addr { return uri.Host(host) }

// HostPort creates an [Addr] from a hostname and port.
// See [uri.HostPort].
func HostPort(host string, port uint16) Addr { return uri.HostPort(host, port) }
