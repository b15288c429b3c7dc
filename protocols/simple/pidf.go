package simple

import (
	"github.com/stcbus/pidgin-sub003/perrors"
	"github.com/stcbus/pidgin-sub003/xmlnode"
)

const (
	pidfNS               = "urn:ietf:params:xml:ns:pidf"
	composingNS          = "urn:ietf:params:xml:ns:im-iscomposing"
	contentTypePIDF      = "pidf+xml"
	contentTypeComposing = "im-iscomposing+xml"
)

// buildPIDF renders a minimal PIDF document for entity:
// a single tuple whose status/basic is "open" when available, "closed"
// otherwise.
func buildPIDF(entity string, available bool) string {
	root := xmlnode.New("presence", pidfNS, nil)
	root.SetAttr("entity", entity)

	tuple := xmlnode.New("tuple", "", root)
	tuple.SetAttr("id", "t1")

	status := xmlnode.New("status", "", tuple)
	basic := xmlnode.New("basic", "", status)
	if available {
		basic.AppendText("open")
	} else {
		basic.AppendText("closed")
	}

	return root.Render()
}

// parsePIDFAvailable extracts tuple>status>basic from a PIDF body per
// "open" -> available, anything else -> offline.
func parsePIDFAvailable(body []byte) (bool, error) {
	root, err := xmlnode.Parse(body)
	if err != nil {
		return false, perrors.New(perrors.KindProtocol, "malformed PIDF body", err)
	}
	tuple := root.Child("tuple")
	if tuple == nil {
		return false, perrors.New(perrors.KindProtocol, "PIDF body has no tuple", nil)
	}
	status := tuple.Child("status")
	if status == nil {
		return false, perrors.New(perrors.KindProtocol, "PIDF tuple has no status", nil)
	}
	basic := status.Child("basic")
	if basic == nil {
		return false, perrors.New(perrors.KindProtocol, "PIDF status has no basic", nil)
	}
	return basic.Text() == "open", nil
}

// buildIsComposing renders an application/im-iscomposing+xml body with the
// given state ("active" or "idle").
func buildIsComposing(active bool) string {
	root := xmlnode.New("isComposing", composingNS, nil)
	state := xmlnode.New("state", "", root)
	if active {
		state.AppendText("active")
	} else {
		state.AppendText("idle")
	}
	return root.Render()
}
