package playback

import (
	"context"
	"sync"
)

// mailbox is an unbounded FIFO of events drained by a single goroutine.
// Posting never blocks, so device callbacks and timers can post freely.
type mailbox struct {
	mu     sync.Mutex
	events []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// post enqueues fn. It returns false once the mailbox is closed.
func (m *mailbox) post(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.events = append(m.events, fn)
	m.mu.Unlock()

	m.signal()
	return true
}

// postFinal enqueues fn as the last event the mailbox will accept
func (m *mailbox) postFinal(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.events = append(m.events, fn)
	m.closed = true
	m.mu.Unlock()

	m.signal()
	return true
}

func (m *mailbox) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// run drains events in order until the mailbox is closed and empty
func (m *mailbox) run() {
	defer close(m.done)
	for {
		m.mu.Lock()
		for len(m.events) == 0 {
			if m.closed {
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()
			<-m.wake
			m.mu.Lock()
		}
		// pop one at a time so closeIfEmpty counts every event not yet run
		fn := m.events[0]
		m.events[0] = nil
		m.events = m.events[1:]
		m.mu.Unlock()

		fn()
	}
}

// closeIfEmpty stops accepting events when none are waiting. Called from an
// event, it makes that event the last one the loop runs.
func (m *mailbox) closeIfEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || len(m.events) > 0 {
		return false
	}
	m.closed = true
	return true
}

// isClosed reports whether the mailbox has stopped accepting events
func (m *mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type result[T any] struct {
	val T
	err error
}

// call runs fn on the mailbox goroutine and waits for its result.
// If ctx ends first the event still runs; only the wait is abandoned.
func call[T any](ctx context.Context, m *mailbox, fn func() (T, error)) (T, error) {
	ch := make(chan result[T], 1)
	if !m.post(func() {
		v, err := fn()
		ch <- result[T]{val: v, err: err}
	}) {
		var zero T
		return zero, ErrSessionClosed
	}

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// do runs fn on the mailbox goroutine and waits for its error
func do(ctx context.Context, m *mailbox, fn func() error) error {
	_, err := call(ctx, m, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// taskGroup tracks fire-and-forget work so shutdown and tests can wait for it
type taskGroup struct {
	wg sync.WaitGroup
}

func (g *taskGroup) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// Wait blocks until every started task has returned
func (g *taskGroup) Wait() {
	g.wg.Wait()
}
