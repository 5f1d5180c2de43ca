package graph

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"tminus/core/domain"
	"tminus/pkg/apperr"
)

func (c *Coordinator) UpsertRelationship(ctx context.Context, userID uuid.UUID, r *domain.Relationship) error {
	_, err := submit(ctx, c.mail.get(userID), func() (struct{}, error) {
		if err := c.stores.Relationships.Upsert(userID.String(), r); err != nil {
			return struct{}{}, apperr.DatabaseError("upsert relationship", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Coordinator) GetRelationship(ctx context.Context, userID uuid.UUID, participantHash string) (*domain.Relationship, error) {
	r, err := c.stores.Relationships.Get(userID.String(), participantHash)
	if err != nil {
		return nil, apperr.NotFound("relationship")
	}
	return r, nil
}

func (c *Coordinator) RecordInteraction(ctx context.Context, userID uuid.UUID, participantHash string, entry domain.InteractionEntry) error {
	_, err := submit(ctx, c.mail.get(userID), func() (struct{}, error) {
		if err := c.stores.Relationships.RecordInteraction(userID.String(), participantHash, entry); err != nil {
			return struct{}{}, apperr.DatabaseError("record interaction", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Coordinator) ListRelationships(ctx context.Context, userID uuid.UUID) ([]*domain.Relationship, error) {
	rels, err := c.stores.Relationships.List(userID.String())
	if err != nil {
		return nil, apperr.DatabaseError("list relationships", err)
	}
	return rels, nil
}

// GetEventBriefing assembles per-participant context for one event: the
// stored relationship (if any) plus a mutual-connection count computed by
// the graph store in a single batched query.
func (c *Coordinator) GetEventBriefing(ctx context.Context, userID, eventID uuid.UUID) (*domain.EventBriefing, error) {
	event, err := c.stores.Events.GetByID(userID, eventID)
	if err != nil {
		return nil, apperr.NotFound("canonical event")
	}

	mutual, err := c.stores.Relationships.MutualConnectionCount(userID.String(), event.ParticipantHashes)
	if err != nil {
		return nil, apperr.DatabaseError("compute mutual connections", err)
	}

	briefing := &domain.EventBriefing{
		EventID:      event.ID.String(),
		Participants: make([]domain.ParticipantBriefing, 0, len(event.ParticipantHashes)),
	}
	for _, hash := range event.ParticipantHashes {
		p := domain.ParticipantBriefing{
			ParticipantHash:       hash,
			MutualConnectionCount: mutual[hash],
		}
		if rel, err := c.stores.Relationships.Get(userID.String(), hash); err == nil && rel != nil {
			p.DisplayName = rel.DisplayName
			p.Category = rel.Category
			p.LastInteraction = rel.LastInteraction
			p.Reputation = reputationFromLedger(rel)
		}
		briefing.Participants = append(briefing.Participants, p)
	}
	return briefing, nil
}

// reputationFromLedger scores a participant by interaction frequency,
// clamped to [0, 1]: every ten recorded interactions is worth 0.1, capped
// at a full point so one chatty counterpart can't dominate scheduling
// recommendations indefinitely.
func reputationFromLedger(r *domain.Relationship) float64 {
	score := float64(len(r.Ledger)) / 100.0
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// marshalDeterministic renders v as canonical JSON: struct fields in
// declaration order, no extraneous whitespace. The same logical content
// always produces byte-identical output, which is what makes a proof-data
// hash meaningful across re-exports.
func marshalDeterministic(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
