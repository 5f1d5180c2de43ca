// Package classifier implements the Classifier: a pure function deciding
// whether an inbound provider event is origin, managed-own, or
// managed-foreign, given the current user and the set of policy edges it
// knows about.
package classifier

import (
	"tminus/core/port/out"
)

// Kind is the classification outcome.
type Kind string

const (
	KindOrigin         Kind = "origin"
	KindManagedOwn     Kind = "managed-own"
	KindManagedForeign Kind = "managed-foreign"
)

// ReasonCode distinguishes why an event was classified the way it was, for
// the journal and for health metrics. managed-orphan and managed-foreign
// both classify as KindManagedForeign for ingestion purposes (spec rule 3)
// but carry distinct reason codes so health can tell "foreign deployment"
// apart from "our own stale policy edge".
type ReasonCode string

const (
	ReasonManagedOwn     ReasonCode = "managed_own"
	ReasonForeignUser    ReasonCode = "foreign_user"
	ReasonOrphanEdge     ReasonCode = "orphan_edge"
	ReasonOrigin         ReasonCode = "origin"
	ReasonMalformedTags  ReasonCode = "malformed_tags"
)

// Result is the full classification outcome.
type Result struct {
	Kind   Kind
	Reason ReasonCode
	// Warning is set when the payload was ambiguous and classification
	// fell back to managed-foreign (fail-closed).
	Warning string
}

// KnownPolicyEdge is the minimal lookup surface the Classifier needs: does
// this policy edge id exist for this user.
type KnownPolicyEdge func(policyEdgeID string) bool

// Classify implements the rule order below (first match wins):
//  1. tags present, owning-user == this user, policy edge registered -> managed-own
//  2. tags present, owning-user is a different user -> managed-foreign
//  3. tags present, policy edge id unknown -> managed-orphan (managed-foreign for ingestion)
//  4. otherwise -> origin
//
// Fails closed: tags present but malformed (missing a required field)
// classify as managed-foreign with a warning, never panic or error.
func Classify(event *out.ProviderEventNormalized, thisUserID string, knownEdge KnownPolicyEdge) Result {
	tags := event.ExtendedTags
	if tags == nil {
		return Result{Kind: KindOrigin, Reason: ReasonOrigin}
	}

	if tags.CanonicalID == "" || tags.OwningUserID == "" || tags.PolicyEdgeID == "" {
		return Result{
			Kind:    KindManagedForeign,
			Reason:  ReasonMalformedTags,
			Warning: "extended tags present but incomplete",
		}
	}

	if tags.OwningUserID != thisUserID {
		return Result{Kind: KindManagedForeign, Reason: ReasonForeignUser}
	}

	if knownEdge == nil || !knownEdge(tags.PolicyEdgeID) {
		return Result{Kind: KindManagedForeign, Reason: ReasonOrphanEdge}
	}

	return Result{Kind: KindManagedOwn, Reason: ReasonManagedOwn}
}

// IsManagedForIngestion reports whether ingestion should skip this event
// (both managed-own and managed-foreign events are never turned into new
// canonical events; only managed-own additionally updates drift state).
func (r Result) IsManagedForIngestion() bool {
	return r.Kind == KindManagedOwn || r.Kind == KindManagedForeign
}
