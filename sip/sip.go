package sip

import "github.com/stcbus/pidgin-sub003/internal/types"

// ProtoInfo represents SIP protocol information (name and version), e.g. "SIP/2.0".
type ProtoInfo = types.ProtoInfo

// TransportProto represents a SIP transport protocol, e.g. "UDP", "TCP", "TLS".
// See [types.TransportProto].
type TransportProto = types.TransportProto

var protoVer20 = ProtoInfo{Name: "SIP", Version: "2.0"}

// ProtoVer20 returns the SIP/2.0 protocol info used by all requests and responses built by this package.
func ProtoVer20() ProtoInfo { return protoVer20 }
