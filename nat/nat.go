// Package nat implements the NAT traversal controller: a single
// process-wide coordinator for IGD/STUN discovery and port-mapping
// requests, with a discovery status machine and coalesced request
// queueing.
//
// Discovery itself (UPnP context manager, NAT-PMP, STUN) has no counterpart
// anywhere in the retrieved example pack, so this package talks to the
// network directly with net and net/http rather than through a third-party
// client.
package nat

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/qmuntal/stateless"
)

// Status is the discovery status.
type Status string

const (
	Undiscovered Status = "undiscovered"
	Discovering  Status = "discovering"
	Discovered   Status = "discovered"
	Unable       Status = "unable"
)

const (
	rediscoverAfterFailure = 300 * time.Second
	discoveryTimeout       = 10 * time.Second
)

type trigger string

const (
	triggerStart     trigger = "start"
	triggerSucceeded trigger = "succeeded"
	triggerFailed    trigger = "failed"
	triggerNetChange trigger = "net_change"
)

// Proto is a port-mapping transport protocol.
type Proto string

const (
	UDP Proto = "udp"
	TCP Proto = "tcp"
)

// Callback receives the outcome of an add/remove port-mapping request.
type Callback func(success bool)

type pendingRequest struct {
	port     int
	proto    Proto
	add      bool
	callback Callback
}

// Discoverer performs the actual IGD/STUN lookup. Production code uses
// [DefaultDiscoverer]; tests substitute a fake.
type Discoverer interface {
	Discover(ctx context.Context) (controlURL, publicIP, internalIP string, err error)
	AddPortMapping(ctx context.Context, controlURL string, port int, proto Proto) error
	RemovePortMapping(ctx context.Context, controlURL string, port int, proto Proto) error
}

// Controller is the process-wide NAT traversal controller. It is safe for
// concurrent use, though in practice it is driven from a single scheduler
// goroutine.
type Controller struct {
	discoverer Discoverer

	mu          sync.Mutex
	sm          *stateless.StateMachine
	controlURL  string
	publicIP    string
	internalIP  string
	failedAt    time.Time
	pending     []pendingRequest
	discoverErr error
}

// New creates a Controller in the Undiscovered state.
func New(d Discoverer) *Controller {
	c := &Controller{discoverer: d}
	sm := stateless.NewStateMachine(Undiscovered)

	sm.Configure(Undiscovered).
		Permit(triggerStart, Discovering)

	sm.Configure(Discovering).
		Permit(triggerSucceeded, Discovered).
		Permit(triggerFailed, Unable)

	sm.Configure(Discovered).
		Permit(triggerNetChange, Undiscovered)

	sm.Configure(Unable).
		Permit(triggerNetChange, Undiscovered).
		Permit(triggerStart, Discovering)

	c.sm = sm
	return c
}

// Status returns the current discovery status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sm.MustState().(Status) //nolint:forcetypeassert
}

// NetworkChanged resets discovery state on a network-change event: status
// returns to Undiscovered and cached IPs are cleared. A network change
// reported while discovery is in progress is ignored.
func (c *Controller) NetworkChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sm.MustState().(Status) == Discovering { //nolint:forcetypeassert
		return
	}
	_ = c.sm.Fire(triggerNetChange)
	c.controlURL, c.publicIP, c.internalIP = "", "", ""
	c.failedAt = time.Time{}
}

// AddPortMapping requests that external port/proto be forwarded to this
// host, invoking callback (if non-nil) once the outcome is known. If
// discovery has not completed, the request is queued until it does.
func (c *Controller) AddPortMapping(ctx context.Context, port int, proto Proto, callback Callback) {
	c.request(ctx, pendingRequest{port: port, proto: proto, add: true, callback: callback})
}

// RemovePortMapping undoes a prior AddPortMapping.
func (c *Controller) RemovePortMapping(ctx context.Context, port int, proto Proto, callback Callback) {
	c.request(ctx, pendingRequest{port: port, proto: proto, add: false, callback: callback})
}

func (c *Controller) request(ctx context.Context, req pendingRequest) {
	c.mu.Lock()
	status := c.sm.MustState().(Status) //nolint:forcetypeassert

	switch status {
	case Discovered:
		controlURL := c.controlURL
		c.mu.Unlock()
		c.applyMapping(ctx, controlURL, req)
		return
	case Unable:
		if time.Since(c.failedAt) <= rediscoverAfterFailure {
			c.mu.Unlock()
			fireAsync(req.callback, false)
			return
		}
		fallthrough
	case Undiscovered:
		c.pending = append(c.pending, req)
		c.mu.Unlock()
		c.startDiscovery()
		return
	default: // Discovering
		c.pending = append(c.pending, req)
		c.mu.Unlock()
		return
	}
}

func (c *Controller) startDiscovery() {
	c.mu.Lock()
	if c.sm.MustState().(Status) != Undiscovered && c.sm.MustState().(Status) != Unable { //nolint:forcetypeassert
		c.mu.Unlock()
		return
	}
	if err := c.sm.Fire(triggerStart); err != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
		defer cancel()
		controlURL, publicIP, internalIP, err := c.discoverer.Discover(ctx)

		c.mu.Lock()
		if err != nil {
			c.failedAt = time.Now()
			c.discoverErr = err
			_ = c.sm.Fire(triggerFailed)
			pending := c.pending
			c.pending = nil
			c.mu.Unlock()

			for _, req := range pending {
				fireAsync(req.callback, false)
			}
			return
		}

		c.controlURL, c.publicIP, c.internalIP = controlURL, publicIP, internalIP
		_ = c.sm.Fire(triggerSucceeded)
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()

		for _, req := range pending {
			c.applyMapping(ctx, controlURL, req)
		}
	}()
}

func (c *Controller) applyMapping(ctx context.Context, controlURL string, req pendingRequest) {
	var err error
	if req.add {
		err = c.discoverer.AddPortMapping(ctx, controlURL, req.port, req.proto)
	} else {
		err = c.discoverer.RemovePortMapping(ctx, controlURL, req.port, req.proto)
	}
	if req.callback != nil {
		req.callback(err == nil)
	}
}

// fireAsync invokes cb on a 0-delay timer so callers see consistent
// ordering; it never runs synchronously with the caller of
// AddPortMapping/RemovePortMapping.
func fireAsync(cb Callback, success bool) {
	if cb == nil {
		return
	}
	time.AfterFunc(0, func() { cb(success) })
}

// PublicIP returns the cached public IP address and whether discovery has
// completed successfully. It never blocks on discovery.
func (c *Controller) PublicIP() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sm.MustState().(Status) != Discovered { //nolint:forcetypeassert
		return "", false
	}
	return c.publicIP, true
}

// InternalIP returns the cached internal (local) address used to reach the
// IGD control URL.
func (c *Controller) InternalIP() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sm.MustState().(Status) != Discovered { //nolint:forcetypeassert
		return "", false
	}
	return c.internalIP, true
}

// DefaultDiscoverer is a minimal SSDP/UPnP discoverer: it sends an M-SEARCH
// multicast datagram, takes the first IGD response's LOCATION header as the
// control URL, and reports the local address of the socket used to reach it
// as the internal IP. It does not implement STUN; callers needing a public
// IP behind a NAT with no IGD should fall back to a transport-reported
// address (see transportconn.Conn.PublicIP).
type DefaultDiscoverer struct{}

const ssdpSearchTarget = "urn:schemas-upnp-org:device:InternetGatewayDevice:1"

func (DefaultDiscoverer) Discover(ctx context.Context) (controlURL, publicIP, internalIP string, err error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return "", "", "", err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	dst, err := net.ResolveUDPAddr("udp4", "239.255.255.250:1900")
	if err != nil {
		return "", "", "", err
	}

	req := "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 2\r\n" +
		"ST: " + ssdpSearchTarget + "\r\n\r\n"
	if _, err := conn.WriteTo([]byte(req), dst); err != nil {
		return "", "", "", err
	}

	buf := make([]byte, 2048)
	n, addr, err := conn.ReadFrom(buf)
	if err != nil {
		return "", "", "", err
	}

	location := parseLocationHeader(buf[:n])
	if raddr, ok := addr.(*net.UDPAddr); ok {
		if c, err := net.DialUDP("udp4", nil, raddr); err == nil {
			if laddr, ok := c.LocalAddr().(*net.UDPAddr); ok {
				internalIP = laddr.IP.String()
			}
			_ = c.Close()
		}
	}
	return location, "", internalIP, nil
}

func parseLocationHeader(resp []byte) string {
	lines := splitLines(resp)
	for _, l := range lines {
		if len(l) > 9 && (l[:9] == "LOCATION:" || l[:9] == "Location:" || l[:9] == "location:") {
			return trimSpace(l[9:])
		}
	}
	return ""
}

func splitLines(b []byte) []string {
	var lines []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			line := string(b[start:i])
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			lines = append(lines, line)
			start = i + 1
		}
	}
	return lines
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

// AddPortMapping sends an HTTP POST to controlURL whose SOAPAction header
// names AddPortMapping. The request carries no SOAP body, so port and proto
// are not sent to the IGD; the result only reports whether the IGD answered
// with a status below 400.
func (DefaultDiscoverer) AddPortMapping(ctx context.Context, controlURL string, port int, proto Proto) error {
	return soapRequest(ctx, controlURL, "AddPortMapping")
}

func (DefaultDiscoverer) RemovePortMapping(ctx context.Context, controlURL string, port int, proto Proto) error {
	return soapRequest(ctx, controlURL, "DeletePortMapping")
}

func soapRequest(ctx context.Context, controlURL, action string) error {
	if controlURL == "" {
		return errNoControlURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("SOAPAction", action)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return errSOAPFailed
	}
	return nil
}

var (
	errNoControlURL = discoverErr("nat: no IGD control URL")
	errSOAPFailed   = discoverErr("nat: SOAP request failed")
)

type discoverErr string

func (e discoverErr) Error() string { return string(e) }
