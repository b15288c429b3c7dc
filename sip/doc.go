// Package sip provides the SIP (RFC 3261) message model: parsing and rendering
// requests and responses, header access, and URIs. It is the wire/message layer
// that sipreg builds the registration, digest-auth retry loop and transaction
// sweeper on top of; it does not itself track transactions or own a transport.
package sip
