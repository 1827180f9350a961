// Package lock serializes workspace rebuilds against read-only queries.
package lock

import (
	"context"
	"sync"

	"github.com/jward/trellis/internal/cancel"
)

// Action is work performed under the lock.
type Action func(ctx context.Context) error

type entry struct {
	write bool
	start chan struct{}
}

// Mutex is a FIFO read/write guard. Writes run alone and one at a time.
// Consecutive reads at the head of the queue run together. A read queued
// before a write runs before it. Requesting a write cancels the context of
// the previous write, so a superseded rebuild stops at its next suspension
// point instead of running to completion.
type Mutex struct {
	mu         sync.Mutex
	queue      []*entry
	running    int
	writing    bool
	cancelPrev context.CancelFunc
}

// New returns an unlocked Mutex.
func New() *Mutex {
	return &Mutex{}
}

// Write runs action exclusively once every earlier entry has finished. The
// action's context is cancelled when a later write is requested. A write that
// ends in cancellation reports no error.
func (m *Mutex) Write(ctx context.Context, action Action) error {
	wctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()

	e := &entry{write: true, start: make(chan struct{})}
	m.mu.Lock()
	if m.cancelPrev != nil {
		m.cancelPrev()
	}
	m.cancelPrev = cancelFn
	m.queue = append(m.queue, e)
	m.scheduleLocked()
	m.mu.Unlock()

	if err := m.wait(wctx, e); err != nil {
		return nil
	}
	defer m.done(e)
	if err := action(wctx); err != nil && !cancel.IsCancelled(err) {
		return err
	}
	return nil
}

// Read runs action after every earlier write has finished, concurrently with
// neighbouring reads. Actions must not modify workspace state.
func (m *Mutex) Read(ctx context.Context, action Action) error {
	e := &entry{start: make(chan struct{})}
	m.mu.Lock()
	m.queue = append(m.queue, e)
	m.scheduleLocked()
	m.mu.Unlock()

	if err := m.wait(ctx, e); err != nil {
		return err
	}
	defer m.done(e)
	return action(ctx)
}

// PriorityRead runs action immediately, even while a write is in progress.
// Queued entries wait until it finishes. It is meant for callers that have
// already waited for the document state they need.
func (m *Mutex) PriorityRead(ctx context.Context, action Action) error {
	e := &entry{}
	m.mu.Lock()
	m.running++
	m.mu.Unlock()
	defer m.done(e)
	return action(ctx)
}

// CancelWrite cancels the most recently requested write.
func (m *Mutex) CancelWrite() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelPrev != nil {
		m.cancelPrev()
	}
}

// wait blocks until e is started. If ctx ends first, e is withdrawn from the
// queue and ctx's error returned.
func (m *Mutex) wait(ctx context.Context, e *entry) error {
	select {
	case <-e.start:
		return nil
	case <-ctx.Done():
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-e.start:
		// Started while we were acquiring the lock; hand the slot back.
		m.running--
		if e.write {
			m.writing = false
		}
	default:
		for i, q := range m.queue {
			if q == e {
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
				break
			}
		}
	}
	m.scheduleLocked()
	return ctx.Err()
}

func (m *Mutex) done(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running--
	if e.write {
		m.writing = false
	}
	m.scheduleLocked()
}

// scheduleLocked starts as many head entries as the current holders allow.
func (m *Mutex) scheduleLocked() {
	for len(m.queue) > 0 {
		head := m.queue[0]
		if head.write {
			if m.running > 0 {
				return
			}
			m.queue = m.queue[1:]
			m.running++
			m.writing = true
			close(head.start)
			return
		}
		if m.writing {
			return
		}
		m.queue = m.queue[1:]
		m.running++
		close(head.start)
	}
}

func (m *Mutex) queueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
