package projection

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tminus/core/domain"
)

func sampleEvent() *domain.CanonicalEvent {
	desc := "quarterly strategy sync"
	loc := "HQ"
	return &domain.CanonicalEvent{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Title:       "Strat",
		Description: &desc,
		Location:    &loc,
		Start:       time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
		Version:     1,
	}
}

func sampleEdge() *domain.PolicyEdge {
	return &domain.PolicyEdge{
		ID:          uuid.New(),
		FromAccount: uuid.New(),
		ToAccount:   uuid.New(),
		Detail:      domain.DetailBusy,
		Kind:        domain.CalendarKindBusyOverlay,
	}
}

func TestCompile_BusyStripsContent(t *testing.T) {
	event := sampleEvent()
	edge := sampleEdge()

	result, err := Compile(event, edge, "", OpCreate)
	require.NoError(t, err)

	assert.Equal(t, "Busy", result.Payload.Title)
	assert.Empty(t, result.Payload.Description)
	assert.Empty(t, result.Payload.Location)
	assert.Equal(t, event.ID.String(), result.Payload.Tags[TagCanonicalID])
	assert.Equal(t, edge.ID.String(), result.Payload.Tags[TagPolicyEdge])
}

func TestCompile_FullKeepsContentButNotAttendees(t *testing.T) {
	event := sampleEvent()
	edge := sampleEdge()
	edge.Detail = domain.DetailFull

	result, err := Compile(event, edge, "", OpCreate)
	require.NoError(t, err)

	assert.Equal(t, "Strat", result.Payload.Title)
	assert.Equal(t, "quarterly strategy sync", result.Payload.Description)
	assert.Equal(t, "HQ", result.Payload.Location)
}

func TestCompile_DeterministicHash(t *testing.T) {
	event := sampleEvent()
	edge := sampleEdge()

	r1, err := Compile(event, edge, "mirror-1", OpCreate)
	require.NoError(t, err)
	r2, err := Compile(event, edge, "mirror-1", OpCreate)
	require.NoError(t, err)

	assert.Equal(t, r1.ContentHash, r2.ContentHash)
	assert.Equal(t, r1.IdempotencyKey, r2.IdempotencyKey)
}

func TestCompile_MissingInstants(t *testing.T) {
	event := sampleEvent()
	event.End = time.Time{}
	edge := sampleEdge()

	_, err := Compile(event, edge, "", OpCreate)
	assert.ErrorIs(t, err, ErrMissingInstant)
}

func TestCompile_EndBeforeStart(t *testing.T) {
	event := sampleEvent()
	event.End = event.Start.Add(-time.Hour)
	edge := sampleEdge()

	_, err := Compile(event, edge, "", OpCreate)
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestIdempotencyKey_SameRetrySameKey(t *testing.T) {
	k1 := IdempotencyKey("c1", "a1", "e1", "m1", "create")
	k2 := IdempotencyKey("c1", "a1", "e1", "m1", "create")
	k3 := IdempotencyKey("c1", "a1", "e1", "m1", "delete")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
