// Package graph implements the User Graph Coordinator: the
// single-writer authority over one user's canonical events, mirrors,
// policies, journal, scheduling sessions, holds and governance tables.
//
// Every mutating call against a given user is funneled through that
// user's mailbox, a buffered chan func() drained by exactly one goroutine,
// so two concurrent requests for the same user never interleave writes —
// this is what keeps invariants like canonical id stability and journal
// monotonicity enforceable without a distributed lock for the common
// case. Reads may still race with the mailbox goroutine at the store
// layer; callers needing a consistent snapshot route through the mailbox
// too.
package graph

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const mailboxBuffer = 64

// mailbox serializes all work for one user onto a single goroutine.
type mailbox struct {
	jobs chan func()
	once sync.Once
	done chan struct{}

	mu         sync.Mutex
	lastActive time.Time
}

func newMailbox() *mailbox {
	m := &mailbox{
		jobs:       make(chan func(), mailboxBuffer),
		done:       make(chan struct{}),
		lastActive: time.Now(),
	}
	go m.run()
	return m
}

func (m *mailbox) touch() {
	m.mu.Lock()
	m.lastActive = time.Now()
	m.mu.Unlock()
}

func (m *mailbox) idleFor() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.lastActive)
}

func (m *mailbox) run() {
	defer close(m.done)
	for job := range m.jobs {
		job()
	}
}

func (m *mailbox) close() {
	m.once.Do(func() { close(m.jobs) })
	<-m.done
}

// submit runs fn on the mailbox's goroutine and blocks until it returns,
// propagating context cancellation while the job is still queued (not
// once it has started running, since a half-applied write is worse than
// a slow one).
func submit[T any](ctx context.Context, m *mailbox, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	resCh := make(chan result, 1)
	job := func() {
		v, err := fn()
		resCh <- result{val: v, err: err}
	}

	m.touch()
	select {
	case m.jobs <- job:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}

	// Once queued the job always runs to completion; waiting it out here
	// (rather than abandoning on ctx.Done) keeps the mailbox goroutine from
	// ever blocking on a result nobody reads.
	r := <-resCh
	return r.val, r.err
}

// mailboxRegistry lazily creates and reuses one mailbox per user.
type mailboxRegistry struct {
	mu    sync.Mutex
	boxes map[uuid.UUID]*mailbox
}

func newMailboxRegistry() *mailboxRegistry {
	return &mailboxRegistry{boxes: make(map[uuid.UUID]*mailbox)}
}

func (r *mailboxRegistry) get(userID uuid.UUID) *mailbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.boxes[userID]; ok {
		return b
	}
	b := newMailbox()
	r.boxes[userID] = b
	return b
}

// reapIdle closes and discards every mailbox that has had no job queued for
// at least maxIdle and has nothing pending, returning the count reaped.
func (r *mailboxRegistry) reapIdle(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, b := range r.boxes {
		if len(b.jobs) == 0 && b.idleFor() >= maxIdle {
			b.close()
			delete(r.boxes, key)
			n++
		}
	}
	return n
}
