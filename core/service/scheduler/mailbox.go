// Package scheduler implements the Group Scheduler: cross-user
// meeting negotiation built on top of each participant's User Graph
// Coordinator. A session's operations serialize through a dedicated
// mailbox keyed by session id, never a per-user lock, so a group commit
// can never deadlock against an unrelated per-user operation running
// concurrently on one of the same participants.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const mailboxBuffer = 32

type mailbox struct {
	jobs chan func()
	once sync.Once
	done chan struct{}

	mu         sync.Mutex
	lastActive time.Time
}

func newMailbox() *mailbox {
	m := &mailbox{jobs: make(chan func(), mailboxBuffer), done: make(chan struct{}), lastActive: time.Now()}
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

	r := <-resCh
	return r.val, r.err
}

type mailboxRegistry struct {
	mu    sync.Mutex
	boxes map[uuid.UUID]*mailbox
}

func newMailboxRegistry() *mailboxRegistry {
	return &mailboxRegistry{boxes: make(map[uuid.UUID]*mailbox)}
}

func (r *mailboxRegistry) get(sessionID uuid.UUID) *mailbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.boxes[sessionID]; ok {
		return b
	}
	b := newMailbox()
	r.boxes[sessionID] = b
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
