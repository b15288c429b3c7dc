// Package outqueue implements the queued output stream: a FIFO
// of outbound byte buffers over a byte-sink, with at most one write in
// flight and cancellation support.
//
// Buffers are held in an internal/types.Deque until the sink accepts them.
package outqueue

import (
	"context"
	"io"
	"sync"

	"github.com/stcbus/pidgin-sub003/internal/types"
	"github.com/stcbus/pidgin-sub003/perrors"
)

// Sink is the underlying byte destination. *net.TCPConn, *net.UDPConn and
// tls.Conn all satisfy it.
type Sink interface {
	Write(b []byte) (int, error)
}

// Queue is a FIFO of outbound byte buffers over a [Sink].
// At most one Write is in flight at a time; a write failure clears the
// queue and surfaces a single [perrors.KindNetwork] error via OnLost.
type Queue struct {
	sink Sink

	mu        sync.Mutex
	buf       types.Deque[[]byte]
	writing   bool
	cancelled bool
	onLost    func(error)
}

// New creates a Queue writing to sink. onLost, if non-nil, is called at
// most once when a write fails.
func New(sink Sink, onLost func(error)) *Queue {
	return &Queue{sink: sink, onLost: onLost}
}

// Enqueue appends b to the queue and, if no write is currently in flight,
// starts one. Enqueue never blocks; the write happens on its own goroutine.
func (q *Queue) Enqueue(b []byte) {
	q.mu.Lock()
	if q.cancelled {
		q.mu.Unlock()
		return
	}
	q.buf.Append(append([]byte(nil), b...))
	start := !q.writing
	if start {
		q.writing = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if q.cancelled || q.buf.Len() == 0 {
			q.writing = false
			q.mu.Unlock()
			return
		}
		next, _ := q.buf.PopFirst()
		q.mu.Unlock()

		if _, err := q.sink.Write(next); err != nil {
			q.mu.Lock()
			q.buf.Drain()
			q.writing = false
			lost := q.onLost
			q.mu.Unlock()
			if lost != nil && !errIsCancellation(err) {
				lost(perrors.New(perrors.KindNetwork, "lost connection", err))
			}
			return
		}
	}
}

func errIsCancellation(err error) bool {
	return err == context.Canceled || err == io.ErrClosedPipe
}

// Cancel aborts the current write (best-effort — the in-flight Write call
// itself is not interrupted, but no further buffers are submitted) and
// discards the queue.
func (q *Queue) Cancel() {
	q.mu.Lock()
	q.cancelled = true
	q.buf.Drain()
	q.mu.Unlock()
}

// Len returns the number of buffers currently queued (not counting one
// in flight).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Len()
}
