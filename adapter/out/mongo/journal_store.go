package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tminus/core/domain"
)

// JournalAdapter implements domain.JournalStore against a MongoDB
// collection. Sequence numbers come from a dedicated counters collection
// via findAndModify $inc, the standard Mongo substitute for an
// auto-incrementing column — a replica set gives that single document's
// updates the same total order a Postgres sequence would.
type JournalAdapter struct {
	entries  *mongo.Collection
	counters *mongo.Collection
}

func NewJournalAdapter(client *mongo.Client, database string) *JournalAdapter {
	db := client.Database(database)
	return &JournalAdapter{
		entries:  db.Collection("journal_entries"),
		counters: db.Collection("journal_counters"),
	}
}

type journalDoc struct {
	Seq            int64     `bson:"seq"`
	UserID         string    `bson:"user_id"`
	CanonicalID    string    `bson:"canonical_id"`
	Actor          string    `bson:"actor"`
	ChangeKind     string    `bson:"change_kind"`
	Patch          []byte    `bson:"patch,omitempty"`
	Reason         string    `bson:"reason,omitempty"`
	IdempotencyKey string    `bson:"idempotency_key,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
}

func toDoc(e *domain.JournalEntry) journalDoc {
	return journalDoc{
		Seq:            e.Seq,
		UserID:         e.UserID.String(),
		CanonicalID:    e.CanonicalID.String(),
		Actor:          e.Actor,
		ChangeKind:     string(e.ChangeKind),
		Patch:          []byte(e.Patch),
		Reason:         e.Reason,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      e.CreatedAt,
	}
}

func fromDoc(d journalDoc) (*domain.JournalEntry, error) {
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, err
	}
	canonicalID, err := uuid.Parse(d.CanonicalID)
	if err != nil {
		return nil, err
	}
	return &domain.JournalEntry{
		Seq:            d.Seq,
		UserID:         userID,
		CanonicalID:    canonicalID,
		Actor:          d.Actor,
		ChangeKind:     domain.ChangeKind(d.ChangeKind),
		Patch:          d.Patch,
		Reason:         d.Reason,
		IdempotencyKey: d.IdempotencyKey,
		CreatedAt:      d.CreatedAt,
	}, nil
}

func (a *JournalAdapter) nextSeq(ctx context.Context) (int64, error) {
	filter := bson.M{"_id": "journal_seq"}
	update := bson.M{"$inc": bson.M{"value": int64(1)}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var result struct {
		Value int64 `bson:"value"`
	}
	err := a.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&result)
	if err != nil {
		return 0, err
	}
	return result.Value, nil
}

func (a *JournalAdapter) Append(entry *domain.JournalEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	seq, err := a.nextSeq(ctx)
	if err != nil {
		return err
	}
	entry.Seq = seq
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err = a.entries.InsertOne(ctx, toDoc(entry))
	return err
}

func (a *JournalAdapter) ListByCanonical(userID, canonicalID uuid.UUID) ([]*domain.JournalEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	filter := bson.M{"user_id": userID.String(), "canonical_id": canonicalID.String()}
	opts := options.Find().SetSort(bson.M{"seq": 1})
	cur, err := a.entries.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var entries []*domain.JournalEntry
	for cur.Next(ctx) {
		var doc journalDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		entry, err := fromDoc(doc)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, cur.Err()
}

func (a *JournalAdapter) ListByUser(userID uuid.UUID, since time.Time, limit int) ([]*domain.JournalEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	filter := bson.M{"user_id": userID.String(), "created_at": bson.M{"$gte": since}}
	opts := options.Find().SetSort(bson.M{"seq": -1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := a.entries.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var entries []*domain.JournalEntry
	for cur.Next(ctx) {
		var doc journalDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		entry, err := fromDoc(doc)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, cur.Err()
}

var _ domain.JournalStore = (*JournalAdapter)(nil)
