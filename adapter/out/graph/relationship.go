package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"tminus/core/domain"
)

// RelationshipAdapter implements domain.RelationshipStore against Neo4j.
// Each user is scoped to its own (:User {user_id}) node, with one
// (:Contact {participant_hash}) node per participant ever seen, a KNOWS
// edge from the user to each contact, and HAD_INTERACTION edges from a
// contact to its (:Interaction) ledger entries; mutual-connection
// counts fall out of a graph traversal the way a SQL self-join never
// could at this fan-out.
type RelationshipAdapter struct {
	driver neo4j.DriverWithContext
	dbName string
}

func NewRelationshipAdapter(driver neo4j.DriverWithContext, dbName string) *RelationshipAdapter {
	return &RelationshipAdapter{driver: driver, dbName: dbName}
}

func (a *RelationshipAdapter) session(ctx context.Context) neo4j.SessionWithContext {
	return a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
}

func (a *RelationshipAdapter) Upsert(userID string, r *domain.Relationship) error {
	ctx := context.Background()
	session := a.session(ctx)
	defer session.Close(ctx)

	query := `
		MERGE (u:User {user_id: $userID})
		MERGE (u)-[:KNOWS]->(c:Contact {participant_hash: $participantHash, user_id: $userID})
		SET c.display_name = $displayName,
			c.category = $category,
			c.city = $city,
			c.timezone = $timezone,
			c.cadence_target_seconds = $cadenceTargetSeconds,
			c.last_interaction = $lastInteraction,
			c.updated_at = timestamp()
	`

	var lastInteraction any
	if r.LastInteraction != nil {
		lastInteraction = r.LastInteraction.UTC().Format(time.RFC3339)
	}

	params := map[string]any{
		"userID":               userID,
		"participantHash":      r.ParticipantHash,
		"displayName":          r.DisplayName,
		"category":             r.Category,
		"city":                 r.City,
		"timezone":             r.Timezone,
		"cadenceTargetSeconds": int64(r.CadenceTarget / time.Second),
		"lastInteraction":      lastInteraction,
	}

	_, err := session.Run(ctx, query, params)
	if err != nil {
		return fmt.Errorf("failed to upsert relationship: %w", err)
	}
	return nil
}

func (a *RelationshipAdapter) Get(userID, participantHash string) (*domain.Relationship, error) {
	ctx := context.Background()
	session := a.session(ctx)
	defer session.Close(ctx)

	query := `
		MATCH (u:User {user_id: $userID})-[:KNOWS]->(c:Contact {participant_hash: $participantHash})
		RETURN c.display_name AS display_name, c.category AS category, c.city AS city,
			   c.timezone AS timezone, c.cadence_target_seconds AS cadence_target_seconds,
			   c.last_interaction AS last_interaction
	`

	result, err := session.Run(ctx, query, map[string]any{"userID": userID, "participantHash": participantHash})
	if err != nil {
		return nil, fmt.Errorf("failed to get relationship: %w", err)
	}
	if !result.Next(ctx) {
		return nil, nil
	}
	r := relationshipFromRecord(result.Record(), participantHash)

	ledger, err := a.ledger(ctx, session, userID, participantHash)
	if err != nil {
		return nil, err
	}
	r.Ledger = ledger
	return r, nil
}

func (a *RelationshipAdapter) List(userID string) ([]*domain.Relationship, error) {
	ctx := context.Background()
	session := a.session(ctx)
	defer session.Close(ctx)

	query := `
		MATCH (u:User {user_id: $userID})-[:KNOWS]->(c:Contact)
		RETURN c.participant_hash AS participant_hash, c.display_name AS display_name,
			   c.category AS category, c.city AS city, c.timezone AS timezone,
			   c.cadence_target_seconds AS cadence_target_seconds, c.last_interaction AS last_interaction
	`

	result, err := session.Run(ctx, query, map[string]any{"userID": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}

	var relationships []*domain.Relationship
	for result.Next(ctx) {
		record := result.Record()
		r := relationshipFromRecord(record, getStringValue(record, "participant_hash"))
		relationships = append(relationships, r)
	}
	return relationships, nil
}

func (a *RelationshipAdapter) RecordInteraction(userID, participantHash string, entry domain.InteractionEntry) error {
	ctx := context.Background()
	session := a.session(ctx)
	defer session.Close(ctx)

	query := `
		MERGE (u:User {user_id: $userID})
		MERGE (u)-[:KNOWS]->(c:Contact {participant_hash: $participantHash, user_id: $userID})
		SET c.last_interaction = $occurredAt
		CREATE (c)-[:HAD_INTERACTION]->(i:Interaction {
			event_id: $eventID, occurred_at: $occurredAt, note: $note
		})
	`

	params := map[string]any{
		"userID":          userID,
		"participantHash": participantHash,
		"eventID":         entry.EventID,
		"occurredAt":      entry.OccurredAt.UTC().Format(time.RFC3339),
		"note":            entry.Note,
	}

	_, err := session.Run(ctx, query, params)
	if err != nil {
		return fmt.Errorf("failed to record interaction: %w", err)
	}
	return nil
}

// MutualConnectionCount reports, for each given participant hash, how
// many distinct other User nodes have a KNOWS edge to a Contact with that
// hash, across every user in the graph — the basis for
// get_event_briefing's mutual-connection count.
func (a *RelationshipAdapter) MutualConnectionCount(userID string, participantHashes []string) (map[string]int, error) {
	ctx := context.Background()
	session := a.session(ctx)
	defer session.Close(ctx)

	query := `
		UNWIND $hashes AS hash
		MATCH (c:Contact {participant_hash: hash})
		OPTIONAL MATCH (other:User)-[:KNOWS]->(c)
		WHERE other.user_id <> $userID
		RETURN hash AS participant_hash, count(DISTINCT other) AS mutual_count
	`

	result, err := session.Run(ctx, query, map[string]any{"userID": userID, "hashes": participantHashes})
	if err != nil {
		return nil, fmt.Errorf("failed to compute mutual connection counts: %w", err)
	}

	counts := make(map[string]int, len(participantHashes))
	for result.Next(ctx) {
		record := result.Record()
		counts[getStringValue(record, "participant_hash")] = getIntValue(record, "mutual_count")
	}
	return counts, nil
}

func (a *RelationshipAdapter) ledger(ctx context.Context, session neo4j.SessionWithContext, userID, participantHash string) ([]domain.InteractionEntry, error) {
	query := `
		MATCH (u:User {user_id: $userID})-[:KNOWS]->(c:Contact {participant_hash: $participantHash})-[:HAD_INTERACTION]->(i:Interaction)
		RETURN i.event_id AS event_id, i.occurred_at AS occurred_at, i.note AS note
		ORDER BY i.occurred_at DESC
	`

	result, err := session.Run(ctx, query, map[string]any{"userID": userID, "participantHash": participantHash})
	if err != nil {
		return nil, fmt.Errorf("failed to get interaction ledger: %w", err)
	}

	var entries []domain.InteractionEntry
	for result.Next(ctx) {
		record := result.Record()
		occurredAt, _ := time.Parse(time.RFC3339, getStringValue(record, "occurred_at"))
		entries = append(entries, domain.InteractionEntry{
			EventID:    getStringValue(record, "event_id"),
			OccurredAt: occurredAt,
			Note:       getStringValue(record, "note"),
		})
	}
	return entries, nil
}

func relationshipFromRecord(record *neo4j.Record, participantHash string) *domain.Relationship {
	r := &domain.Relationship{
		ParticipantHash: participantHash,
		DisplayName:     getStringValue(record, "display_name"),
		Category:        getStringValue(record, "category"),
		City:            getStringValue(record, "city"),
		Timezone:        getStringValue(record, "timezone"),
		CadenceTarget:   time.Duration(getIntValue(record, "cadence_target_seconds")) * time.Second,
	}
	if raw := getStringValue(record, "last_interaction"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			r.LastInteraction = &t
		}
	}
	return r
}

var _ domain.RelationshipStore = (*RelationshipAdapter)(nil)
