package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tminus/core/port/out"
)

func TestClassify_OriginWhenNoTags(t *testing.T) {
	result := Classify(&out.ProviderEventNormalized{}, "user-1", nil)
	assert.Equal(t, KindOrigin, result.Kind)
}

func TestClassify_ManagedOwn(t *testing.T) {
	event := &out.ProviderEventNormalized{
		ExtendedTags: &out.ProviderEventTags{
			CanonicalID:  "c1",
			OwningUserID: "user-1",
			PolicyEdgeID: "edge-1",
		},
	}
	known := func(id string) bool { return id == "edge-1" }

	result := Classify(event, "user-1", known)
	assert.Equal(t, KindManagedOwn, result.Kind)
	assert.True(t, result.IsManagedForIngestion())
}

func TestClassify_ManagedForeignDifferentUser(t *testing.T) {
	event := &out.ProviderEventNormalized{
		ExtendedTags: &out.ProviderEventTags{
			CanonicalID:  "c1",
			OwningUserID: "user-2",
			PolicyEdgeID: "edge-1",
		},
	}
	known := func(id string) bool { return true }

	result := Classify(event, "user-1", known)
	assert.Equal(t, KindManagedForeign, result.Kind)
	assert.Equal(t, ReasonForeignUser, result.Reason)
}

func TestClassify_OrphanEdge(t *testing.T) {
	event := &out.ProviderEventNormalized{
		ExtendedTags: &out.ProviderEventTags{
			CanonicalID:  "c1",
			OwningUserID: "user-1",
			PolicyEdgeID: "stale-edge",
		},
	}
	known := func(id string) bool { return false }

	result := Classify(event, "user-1", known)
	assert.Equal(t, KindManagedForeign, result.Kind)
	assert.Equal(t, ReasonOrphanEdge, result.Reason)
}

func TestClassify_MalformedTagsFailsClosed(t *testing.T) {
	event := &out.ProviderEventNormalized{
		ExtendedTags: &out.ProviderEventTags{
			CanonicalID: "c1",
			// OwningUserID and PolicyEdgeID missing.
		},
	}

	result := Classify(event, "user-1", nil)
	assert.Equal(t, KindManagedForeign, result.Kind)
	assert.Equal(t, ReasonMalformedTags, result.Reason)
	assert.NotEmpty(t, result.Warning)
}
