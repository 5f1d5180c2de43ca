// Package idgen generates Canonical Event IDs: monotonic ULIDs, so the
// primary key for the canonical event graph is both globally unique and
// lexicographically sortable by creation time.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// NewCanonicalEventID returns a fresh monotonic ULID, reinterpreted as a
// uuid.UUID so it stores in a standard `uuid` column while remaining
// time-sortable by creation order.
func NewCanonicalEventID() uuid.UUID {
	mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	mu.Unlock()
	return uuid.UUID(id)
}

// CanonicalEventIDString renders a canonical event id in its native ULID
// text form (Crockford base32), used in idempotency keys and logs.
func CanonicalEventIDString(id uuid.UUID) string {
	return ulid.ULID(id).String()
}
