package sipreg

import (
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"fmt"
)

// md5Hex is the MD5 primitive of the digest math.
func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// digestResponse computes the HTTP-Digest "response" value:
//
//	HA1 = MD5(user ":" realm ":" password)
//	HA2 = MD5(method ":" uri)
//	response = MD5(HA1 ":" nonce ":" nc ":" cnonce ":" qop ":" HA2)
func digestResponse(username, realm, password, method, uri, nonce, cnonce, qop string, nc uint) string {
	ha1 := md5Hex(username + ":" + realm + ":" + password)
	ha2 := md5Hex(method + ":" + uri)
	return md5Hex(fmt.Sprintf("%s:%s:%08x:%s:%s:%s", ha1, nonce, nc, cnonce, qop, ha2))
}
