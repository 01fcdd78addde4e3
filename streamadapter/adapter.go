// Package streamadapter bridges an event-driven message transport (one
// that delivers whole messages via callbacks, like a browser WebSocket)
// to the io.Reader/io.Writer shape the rest of this module is built
// around. It is the Go-native generalization of a single-threaded
// JS-callback adapter: instead of one event loop and one Waker slot, it
// uses goroutines and buffered single-slot channels, but the same
// invariant holds — a waiter is taken out of the lock and only then
// notified, so notifying never happens while holding the adapter's mutex
// and can never reenter it.
package streamadapter

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

// DefaultWriteBackpressureBytes is the outstanding-bytes threshold past
// which Write blocks waiting for the underlying sender to drain, mirroring
// the 64 KiB buffered-amount watermark of the reference browser transport.
const DefaultWriteBackpressureBytes = 64 * 1024

// ErrClosed is returned by Read/Write after Close, or by Read once the
// underlying transport has closed with no more buffered data.
var ErrClosed = errors.New("streamadapter: closed")

// MessageSender is the outbound half of an event-driven transport: Send
// hands one whole message to the wire and BufferedAmount reports how many
// bytes are still queued for actual transmission.
type MessageSender interface {
	Send(data []byte) error
	BufferedAmount() int
}

// Adapter turns a MessageSender plus an inbound event feed (OnMessage,
// OnError, OnClose) into context-aware Read/Write calls plus Close; it is
// not itself an io.ReadWriteCloser, since Read and Write take a
// context.Context (wstransport.Conn provides that interface on top of
// it). Exactly one goroutine
// should deliver inbound events; Read/Write/Close are safe to call from
// any goroutine.
type Adapter struct {
	sender            MessageSender
	backpressureBytes int

	mu       sync.Mutex
	rxBuf    bytes.Buffer
	closed   bool
	closeErr error

	// rxWaiter/txWaiter are single-slot "waker" channels. A reader/writer
	// that finds nothing to do registers its own channel here, releases
	// the lock, then blocks on it. Whoever makes progress later takes the
	// channel out of this field under the lock and closes it AFTER
	// releasing the lock, exactly mirroring a Waker being taken and woken
	// outside the critical section.
	rxWaiter chan struct{}
	txWaiter chan struct{}
}

// New wraps sender in an Adapter. backpressureBytes <= 0 selects
// DefaultWriteBackpressureBytes.
func New(sender MessageSender, backpressureBytes int) *Adapter {
	if backpressureBytes <= 0 {
		backpressureBytes = DefaultWriteBackpressureBytes
	}
	return &Adapter{sender: sender, backpressureBytes: backpressureBytes}
}

// OnMessage must be called by the transport's event source for every
// inbound message. It appends to the read buffer and wakes one blocked
// reader, if any.
func (a *Adapter) OnMessage(data []byte) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.rxBuf.Write(data)
	waiter := a.rxWaiter
	a.rxWaiter = nil
	a.mu.Unlock()

	if waiter != nil {
		close(waiter)
	}
}

// OnError must be called by the transport's event source when the
// underlying connection fails. It latches the error and wakes any
// blocked reader or writer.
func (a *Adapter) OnError(err error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.closeErr = err
	rxWaiter, txWaiter := a.rxWaiter, a.txWaiter
	a.rxWaiter, a.txWaiter = nil, nil
	a.mu.Unlock()

	wake(rxWaiter)
	wake(txWaiter)
}

// OnClose must be called by the transport's event source when the
// underlying connection closes cleanly.
func (a *Adapter) OnClose() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	rxWaiter, txWaiter := a.rxWaiter, a.txWaiter
	a.rxWaiter, a.txWaiter = nil, nil
	a.mu.Unlock()

	wake(rxWaiter)
	wake(txWaiter)
}

func wake(waiter chan struct{}) {
	if waiter != nil {
		close(waiter)
	}
}

// Read blocks until at least one byte is available, the transport
// closes, or ctx is done. A clean close with no buffered data left
// yields (0, ErrClosed); a close with an attached error yields that
// error instead.
func (a *Adapter) Read(ctx context.Context, p []byte) (int, error) {
	for {
		a.mu.Lock()
		if a.rxBuf.Len() > 0 {
			n, _ := a.rxBuf.Read(p)
			a.mu.Unlock()
			return n, nil
		}
		if a.closed {
			err := a.closeErr
			a.mu.Unlock()
			if err != nil {
				return 0, err
			}
			return 0, ErrClosed
		}
		waiter := make(chan struct{})
		a.rxWaiter = waiter
		a.mu.Unlock()

		select {
		case <-waiter:
		case <-ctx.Done():
			a.mu.Lock()
			if a.rxWaiter == waiter {
				a.rxWaiter = nil
			}
			a.mu.Unlock()
			return 0, ctx.Err()
		}
	}
}

// Write sends p as one message, blocking while the sender's buffered
// amount stays at or above the backpressure threshold.
func (a *Adapter) Write(ctx context.Context, p []byte) (int, error) {
	for {
		a.mu.Lock()
		if a.closed {
			err := a.closeErr
			a.mu.Unlock()
			if err != nil {
				return 0, err
			}
			return 0, ErrClosed
		}
		if a.sender.BufferedAmount() < a.backpressureBytes {
			a.mu.Unlock()
			if err := a.sender.Send(p); err != nil {
				return 0, err
			}
			return len(p), nil
		}
		waiter := make(chan struct{})
		a.txWaiter = waiter
		a.mu.Unlock()

		select {
		case <-waiter:
		case <-ctx.Done():
			a.mu.Lock()
			if a.txWaiter == waiter {
				a.txWaiter = nil
			}
			a.mu.Unlock()
			return 0, ctx.Err()
		}
	}
}

// Unblock wakes any blocked Read/Write without closing the adapter,
// letting a caller re-check backpressure state after believing it may
// have changed (e.g. a periodic drain poll from the sender side).
func (a *Adapter) Unblock() {
	a.mu.Lock()
	rxWaiter, txWaiter := a.rxWaiter, a.txWaiter
	a.rxWaiter, a.txWaiter = nil, nil
	a.mu.Unlock()

	wake(rxWaiter)
	wake(txWaiter)
}

// Close marks the adapter closed and wakes any blocked Read/Write.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	rxWaiter, txWaiter := a.rxWaiter, a.txWaiter
	a.rxWaiter, a.txWaiter = nil, nil
	a.mu.Unlock()

	wake(rxWaiter)
	wake(txWaiter)
	return nil
}
