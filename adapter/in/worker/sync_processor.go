package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tminus/core/classifier"
	"tminus/core/domain"
	"tminus/core/port/in"
	"tminus/core/port/out"
	"tminus/core/projection"
	"tminus/pkg/logger"
)

// defaultSyncWindow bounds a full_list call when an account has no saved
// cursor yet: a year back, a year forward.
const defaultSyncWindow = 365 * 24 * time.Hour

// SyncProcessor is the Sync Pipeline side of the worker: it fetches
// provider-side changes for one account, classifies each event, ingests
// origin events into the canonical store, and fans out a write task per
// outbound policy edge so the Write Pipeline can project them elsewhere.
type SyncProcessor struct {
	accountRepo domain.AccountRepository
	accounts    in.AccountService
	graph       in.GraphService
	providers   out.CalendarProviderFactory
	writeQ      out.WriteQueue
}

func NewSyncProcessor(accountRepo domain.AccountRepository, accounts in.AccountService, graph in.GraphService, providers out.CalendarProviderFactory, writeQ out.WriteQueue) *SyncProcessor {
	return &SyncProcessor{
		accountRepo: accountRepo,
		accounts:    accounts,
		graph:       graph,
		providers:   providers,
		writeQ:      writeQ,
	}
}

func (p *SyncProcessor) Process(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[SyncPollPayload](msg)
	if err != nil {
		return fmt.Errorf("failed to parse sync-poll payload: %w", err)
	}
	return p.pollAccount(ctx, payload.toTask())
}

func (p *SyncProcessor) pollAccount(ctx context.Context, task *out.SyncPollTask) error {
	account, err := p.accountRepo.GetByID(task.AccountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", task.AccountID, err)
	}
	if account.Revoked {
		return nil
	}

	logger.Debug("sync poll account=%s reason=%s", account.ID, task.Reason)

	accessToken, err := p.accounts.GetAccessToken(ctx, account.ID)
	if err != nil {
		p.markFailure(ctx, account.ID, err)
		return err
	}
	provider, err := p.providers.ForProvider(string(account.Provider))
	if err != nil {
		p.markFailure(ctx, account.ID, err)
		return err
	}

	auth := &out.ProviderAuth{AccessToken: accessToken, RemoteAccount: account.RemoteAccount}

	result, err := p.fetchChanges(ctx, provider, auth, account)
	if err != nil {
		p.markFailure(ctx, account.ID, err)
		return err
	}

	policies, err := p.graph.ListPolicies(ctx, account.UserID)
	if err != nil {
		p.markFailure(ctx, account.ID, err)
		return err
	}
	knownEdges := make(map[string]bool, len(policies))
	var outboundEdges []*domain.PolicyEdge
	for _, edge := range policies {
		knownEdges[edge.ID.String()] = true
		if edge.Enabled && edge.FromAccount == account.ID && edge.ToAccount != account.ID {
			outboundEdges = append(outboundEdges, edge)
		}
	}
	knownEdge := classifier.KnownPolicyEdge(func(id string) bool { return knownEdges[id] })

	for i := range result.Events {
		ev := result.Events[i]
		verdict := classifier.Classify(&ev, account.UserID.String(), knownEdge)
		if verdict.Warning != "" {
			logger.Warn("account=%s remote=%s classification warning: %s", account.ID, ev.RemoteID, verdict.Warning)
		}
		if verdict.IsManagedForIngestion() {
			// A mirror we wrote ourselves, or one owned by someone else's
			// policy edge: never becomes a new canonical event.
			continue
		}

		canonical, err := p.ingestOrigin(ctx, account, &ev)
		if err != nil {
			logger.WithError(err).Warn("account=%s remote=%s ingest failed", account.ID, ev.RemoteID)
			continue
		}
		if canonical == nil {
			continue
		}
		for _, edge := range outboundEdges {
			if err := p.enqueueWrite(ctx, canonical, edge); err != nil {
				logger.WithError(err).Warn("account=%s edge=%s enqueue write failed", account.ID, edge.ID)
			}
		}
	}

	if result.NextCursor != "" {
		if err := p.accounts.SetSyncCursor(ctx, account.ID, result.NextCursor); err != nil {
			p.markFailure(ctx, account.ID, err)
			return err
		}
	}
	return p.accounts.MarkSyncSuccess(ctx, account.ID, time.Now().UTC())
}

func (p *SyncProcessor) fetchChanges(ctx context.Context, provider out.CalendarProviderPort, auth *out.ProviderAuth, account *domain.Account) (*out.ProviderListResult, error) {
	calendarID := account.PrimaryCalID
	if calendarID == "" {
		resolved, err := provider.ResolvePrimaryCalendar(ctx, auth)
		if err != nil {
			return nil, fmt.Errorf("resolve primary calendar: %w", err)
		}
		calendarID = resolved
	}

	if account.SyncCursor == "" {
		window := out.TimePeriod{Start: time.Now().UTC().Add(-defaultSyncWindow), End: time.Now().UTC().Add(defaultSyncWindow)}
		return provider.FullList(ctx, auth, calendarID, window)
	}

	result, err := provider.IncrementalList(ctx, auth, calendarID, account.SyncCursor)
	if err != nil {
		return nil, fmt.Errorf("incremental list: %w", err)
	}
	if result.CursorInvalid {
		window := out.TimePeriod{Start: time.Now().UTC().Add(-defaultSyncWindow), End: time.Now().UTC().Add(defaultSyncWindow)}
		return provider.FullList(ctx, auth, calendarID, window)
	}
	return result, nil
}

// ingestOrigin turns a normalized provider event into a canonical event,
// keyed by (account, remote id) so repeated polls update rather than
// duplicate. A deleted-upstream event is recorded with its status only;
// RecordMirror/write-fanout downstream will clean up any mirrors of it.
func (p *SyncProcessor) ingestOrigin(ctx context.Context, account *domain.Account, ev *out.ProviderEventNormalized) (*domain.CanonicalEvent, error) {
	status := domain.EventStatusConfirmed
	switch ev.Status {
	case "tentative":
		status = domain.EventStatusTentative
	case "cancelled":
		status = domain.EventStatusCancelled
	}
	if ev.Deleted {
		status = domain.EventStatusCancelled
	}

	transparency := domain.TransparencyOpaque
	if ev.Transparent {
		transparency = domain.TransparencyTransparent
	}

	event := &domain.CanonicalEvent{
		UserID:          account.UserID,
		OriginAccountID: account.ID,
		OriginRemoteID:  ev.RemoteID,
		Title:           ev.Title,
		Start:           ev.Start,
		End:             ev.End,
		AllDay:          ev.AllDay,
		Status:          status,
		Visibility:      ev.Visibility,
		Transparency:    transparency,
		Source:          domain.EventSourceProvider,
	}
	if ev.Description != "" {
		event.Description = &ev.Description
	}
	if ev.Location != "" {
		event.Location = &ev.Location
	}
	if ev.RecurrenceRule != "" {
		event.RecurrenceRule = &ev.RecurrenceRule
	}

	return p.graph.UpsertCanonical(ctx, account.UserID, event, domain.EventSourceProvider)
}

// enqueueWrite compiles a projection for one (event, edge) pair and
// dispatches a write task to the per-target-account queue. The mirror row
// is created up front so the Write Pipeline has a stable mirror id to key
// its idempotency key and provider tags on.
func (p *SyncProcessor) enqueueWrite(ctx context.Context, event *domain.CanonicalEvent, edge *domain.PolicyEdge) error {
	mirrors, err := p.graph.ListMirrors(ctx, event.UserID, event.ID)
	if err != nil {
		return fmt.Errorf("list mirrors: %w", err)
	}

	var mirror *domain.MirrorRecord
	for _, m := range mirrors {
		if m.PolicyEdgeID == edge.ID {
			mirror = m
			break
		}
	}

	op := projection.OpCreate
	if event.Status == domain.EventStatusCancelled || event.DeletedAt != nil {
		op = projection.OpDelete
	} else if mirror != nil && mirror.RemoteMirrorID != "" {
		op = projection.OpPatch
	}

	if mirror == nil {
		mirror = &domain.MirrorRecord{
			ID:            uuid.New(),
			UserID:        event.UserID,
			CanonicalID:   event.ID,
			PolicyEdgeID:  edge.ID,
			TargetAccount: edge.ToAccount,
			TargetCalID:   edge.TargetCalendarID,
			DetailLevel:   edge.Detail,
			Status:        domain.MirrorStatusPending,
		}
		if err := p.graph.RecordMirror(ctx, event.UserID, mirror); err != nil {
			return fmt.Errorf("record mirror: %w", err)
		}
	}

	compiled, err := projection.Compile(event, edge, mirror.ID.String(), op)
	if err != nil {
		return fmt.Errorf("compile projection: %w", err)
	}

	task := &out.WriteTask{
		UserID:        event.UserID,
		CanonicalID:   event.ID,
		MirrorID:      mirror.ID,
		PolicyEdgeID:  edge.ID,
		TargetAccount: edge.ToAccount,
		TargetCalID:   mirror.TargetCalID,
		Op:            out.WriteOp(op),
		Payload: &out.ProviderEventPayload{
			Title:          compiled.Payload.Title,
			Description:    compiled.Payload.Description,
			Location:       compiled.Payload.Location,
			Start:          event.Start,
			End:            event.End,
			AllDay:         compiled.Payload.AllDay,
			RecurrenceRule: compiled.Payload.RecurrenceRule,
			Tags: out.ProviderEventTags{
				CanonicalID:  compiled.Payload.Tags[projection.TagCanonicalID],
				OwningUserID: compiled.Payload.Tags[projection.TagOwningUser],
				PolicyEdgeID: compiled.Payload.Tags[projection.TagPolicyEdge],
				ContentHash:  compiled.Payload.Tags[projection.TagContentHash],
			},
			IdempotencyKey: compiled.IdempotencyKey,
		},
		EnqueuedAt: time.Now().UTC(),
	}

	return p.writeQ.Enqueue(ctx, task)
}

func (p *SyncProcessor) markFailure(ctx context.Context, accountID uuid.UUID, cause error) {
	if err := p.accounts.MarkSyncFailure(ctx, accountID, cause.Error()); err != nil {
		logger.WithError(err).Warn("failed to record sync failure for account %s", accountID)
	}
}
