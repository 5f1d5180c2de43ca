// Package projection implements the Projection Compiler: a pure function
// (canonical event, policy edge, target calendar kind) -> (payload,
// content hash, idempotency key). See core/classifier for the inverse
// direction (inbound provider event -> classification).
package projection

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"tminus/core/domain"
)

// Extended-property tag keys. Pinned forever: renaming orphans every
// mirror already written to a provider.
const (
	TagCanonicalID = "tminus_canonical_id"
	TagOwningUser  = "tminus_owning_user"
	TagPolicyEdge  = "tminus_policy_edge"
	TagContentHash = "tminus_content_hash"

	// MicrosoftOpenExtensionName is the open-extension name Microsoft
	// adapters register the same four keys under (Graph has no private
	// extended-properties map the way Google does).
	MicrosoftOpenExtensionName = "com.tminus.mirror"

	busyTitleMarker = "Busy"
)

var (
	ErrMissingInstant = errors.New("projection: missing start or end instant")
	ErrInvalidInterval = errors.New("projection: end must be after start")
)

// Payload is the provider-agnostic, canonicalized write body. Provider
// adapters translate this into their own request shape.
type Payload struct {
	Title          string            `json:"title"`
	Description    string            `json:"description,omitempty"`
	Location       string            `json:"location,omitempty"`
	Start          string            `json:"start"` // RFC3339, UTC, millisecond precision
	End            string            `json:"end"`
	AllDay         bool              `json:"all_day"`
	RecurrenceRule string            `json:"recurrence_rule,omitempty"`
	Tags           map[string]string `json:"tags"`
}

// Result bundles the compiled payload with its content hash and
// idempotency key.
type Result struct {
	Payload        Payload
	ContentHash    string
	IdempotencyKey string
}

// OperationKind feeds into the idempotency key so a create and a delete
// of the same logical mirror never collide.
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpPatch  OperationKind = "patch"
	OpDelete OperationKind = "delete"
)

// Compile produces the target-calendar payload and stable content hash for
// one (canonical event, policy edge) pair. Fails only on malformed input:
// missing start/end or end <= start.
func Compile(event *domain.CanonicalEvent, edge *domain.PolicyEdge, mirrorID string, op OperationKind) (*Result, error) {
	if event.Start.IsZero() || event.End.IsZero() {
		return nil, ErrMissingInstant
	}
	if !event.End.After(event.Start) {
		return nil, ErrInvalidInterval
	}

	payload := applyDetailLevel(event, edge.Detail)

	contentHash, err := hashPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("projection: hash payload: %w", err)
	}

	payload.Tags = map[string]string{
		TagCanonicalID: event.ID.String(),
		TagOwningUser:  event.UserID.String(),
		TagPolicyEdge:  edge.ID.String(),
		TagContentHash: contentHash,
	}

	idempotencyKey := IdempotencyKey(event.ID.String(), edge.ToAccount.String(), edge.ID.String(), mirrorID, string(op))

	return &Result{
		Payload:        payload,
		ContentHash:    contentHash,
		IdempotencyKey: idempotencyKey,
	}, nil
}

// applyDetailLevel implements the fixed BUSY/TITLE/FULL transforms.
func applyDetailLevel(event *domain.CanonicalEvent, detail domain.DetailLevel) Payload {
	start := event.Start.UTC().Truncate(time.Millisecond)
	end := event.End.UTC().Truncate(time.Millisecond)

	switch detail {
	case domain.DetailBusy:
		return Payload{
			Title:  busyTitleMarker,
			Start:  start.Format(time.RFC3339Nano),
			End:    end.Format(time.RFC3339Nano),
			AllDay: event.AllDay,
		}
	case domain.DetailTitle:
		return Payload{
			Title:  event.Title,
			Start:  start.Format(time.RFC3339Nano),
			End:    end.Format(time.RFC3339Nano),
			AllDay: event.AllDay,
		}
	case domain.DetailFull:
		p := Payload{
			Title:  event.Title,
			Start:  start.Format(time.RFC3339Nano),
			End:    end.Format(time.RFC3339Nano),
			AllDay: event.AllDay,
		}
		if event.Description != nil {
			p.Description = *event.Description
		}
		if event.Location != nil {
			p.Location = *event.Location
		}
		if event.RecurrenceRule != nil {
			p.RecurrenceRule = *event.RecurrenceRule
		}
		return p
	default:
		// Unknown detail levels degrade to BUSY rather than leaking content.
		return Payload{
			Title:  busyTitleMarker,
			Start:  start.Format(time.RFC3339Nano),
			End:    end.Format(time.RFC3339Nano),
			AllDay: event.AllDay,
		}
	}
}

// hashPayload computes sha256 over a canonicalized JSON form: sorted
// object keys, no tags field (tags are derived from the hash, so they
// cannot be part of its input).
func hashPayload(p Payload) (string, error) {
	canonical, err := canonicalize(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize re-encodes a Payload (tags excluded) with sorted keys by
// round-tripping through a map, since goccy/go-json preserves struct field
// order rather than sorting alphabetically.
func canonicalize(p Payload) ([]byte, error) {
	raw, err := json.Marshal(struct {
		Title          string `json:"title"`
		Description    string `json:"description,omitempty"`
		Location       string `json:"location,omitempty"`
		Start          string `json:"start"`
		End            string `json:"end"`
		AllDay         bool   `json:"all_day"`
		RecurrenceRule string `json:"recurrence_rule,omitempty"`
	}{
		Title:          p.Title,
		Description:    p.Description,
		Location:       p.Location,
		Start:          p.Start,
		End:            p.End,
		AllDay:         p.AllDay,
		RecurrenceRule: p.RecurrenceRule,
	})
	if err != nil {
		return nil, err
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]byte, 0, len(raw))
	out = append(out, '{')
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}
		kb, _ := json.Marshal(k)
		out = append(out, kb...)
		out = append(out, ':')
		out = append(out, m[k]...)
	}
	out = append(out, '}')
	return out, nil
}

// IdempotencyKey = hash(canonical id || target account || policy edge id ||
// mirror id (if known) || operation kind).
func IdempotencyKey(canonicalID, targetAccountID, policyEdgeID, mirrorID, op string) string {
	h := sha256.New()
	h.Write([]byte(canonicalID))
	h.Write([]byte{'|'})
	h.Write([]byte(targetAccountID))
	h.Write([]byte{'|'})
	h.Write([]byte(policyEdgeID))
	h.Write([]byte{'|'})
	h.Write([]byte(mirrorID))
	h.Write([]byte{'|'})
	h.Write([]byte(op))
	return hex.EncodeToString(h.Sum(nil))
}
