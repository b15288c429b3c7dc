// Package reconnect implements the reconnect controller: a per-account
// randomized back-off scheduler that reacts to non-fatal disconnects and
// to network up/down events.
package reconnect

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/stcbus/pidgin-sub003/account"
)

const (
	minInitialDelay = 8 * time.Second
	maxInitialDelay = 60 * time.Second
	maxDelay        = 600 * time.Second
)

// RNG abstracts the random source so delay sequences are deterministic in
// tests.
type RNG interface {
	// Float64 returns a pseudo-random number in [0.0, 1.0).
	Float64() float64
}

type entry struct {
	delay time.Duration
	timer *time.Timer
}

// Controller schedules reconnects for disconnected, enabled accounts.
// It is process-wide.
type Controller struct {
	mu      sync.Mutex
	entries map[account.Key]*entry
	rng     RNG

	// Reconnect is called from the controller's own goroutine when a
	// scheduled delay elapses. It must not block.
	Reconnect func(key account.Key)
}

// New creates a Controller. rng, if nil, uses a source seeded from the OS
// entropy pool.
func New(rng RNG, reconnect func(key account.Key)) *Controller {
	if rng == nil {
		rng = newDefaultRNG()
	}
	return &Controller{
		entries:   make(map[account.Key]*entry),
		rng:       rng,
		Reconnect: reconnect,
	}
}

// NonFatalDisconnect schedules (or re-schedules with doubled back-off) a
// reconnect for key.
func (c *Controller) NonFatalDisconnect(key account.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[key]
	if !exists {
		delay := minInitialDelay + time.Duration(c.rng.Float64()*float64(maxInitialDelay-minInitialDelay))
		e = &entry{delay: delay}
		c.entries[key] = e
	} else {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.delay = min(2*e.delay, maxDelay)
	}

	e.timer = time.AfterFunc(e.delay, func() { c.fire(key) })
}

func (c *Controller) fire(key account.Key) {
	if reconnect := c.Reconnect; reconnect != nil {
		reconnect(key)
	}
}

// FatalDisconnect drops any pending entry for key; the caller is
// responsible for disabling the account.
func (c *Controller) FatalDisconnect(key account.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.entries, key)
	}
}

// NetworkUp drops every pending entry and reconnects every disconnected
// enabled account at once.
func (c *Controller) NetworkUp(enabledDisconnected []account.Key) {
	c.mu.Lock()
	for key, e := range c.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	for _, key := range enabledDisconnected {
		c.fire(key)
	}
}

// NetworkDown suspends every connection without scheduling reconnect
// timers; the next network-up event reconnects. The caller (runtime) is
// responsible for actually suspending the connections; this only clears
// this controller's pending timers so they don't fire mid-outage.
func (c *Controller) NetworkDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.entries, key)
	}
}

// PendingDelay returns the currently scheduled delay for key. Used by
// tests asserting the back-off sequence.
func (c *Controller) PendingDelay(key account.Key) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return e.delay, true
}

// defaultRNG wraps a process-local math/rand source seeded from the OS
// entropy pool.
type defaultRNG struct {
	r *rand.Rand
}

func newDefaultRNG() defaultRNG {
	var seed [8]byte
	_, _ = crand.Read(seed[:])
	return defaultRNG{r: rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(seed[:]))))} //nolint:gosec
}

func (d defaultRNG) Float64() float64 {
	return d.r.Float64()
}
