package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"tminus/core/domain"
	"tminus/core/port/in"
	"tminus/core/port/out"
	"tminus/pkg/logger"
)

// WriteProcessor is the Write Pipeline side of the worker: it takes one
// already-compiled WriteTask (the projection was computed by the Sync
// Pipeline when it fanned the canonical event out to each policy edge)
// and executes it against the target account's provider.
type WriteProcessor struct {
	accountRepo domain.AccountRepository
	accounts    in.AccountService
	graph       in.GraphService
	providers   out.CalendarProviderFactory
	writeQ      out.WriteQueue
}

func NewWriteProcessor(accountRepo domain.AccountRepository, accounts in.AccountService, graph in.GraphService, providers out.CalendarProviderFactory, writeQ out.WriteQueue) *WriteProcessor {
	return &WriteProcessor{
		accountRepo: accountRepo,
		accounts:    accounts,
		graph:       graph,
		providers:   providers,
		writeQ:      writeQ,
	}
}

func (p *WriteProcessor) Process(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[WriteDispatchPayload](msg)
	if err != nil {
		return fmt.Errorf("failed to parse write-dispatch payload: %w", err)
	}
	return p.dispatch(ctx, payload.toTask())
}

func (p *WriteProcessor) dispatch(ctx context.Context, task *out.WriteTask) error {
	account, err := p.accountRepo.GetByID(task.TargetAccount)
	if err != nil {
		return fmt.Errorf("load target account %s: %w", task.TargetAccount, err)
	}
	if account.Revoked {
		return nil
	}

	accessToken, err := p.accounts.GetAccessToken(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}
	provider, err := p.providers.ForProvider(string(account.Provider))
	if err != nil {
		return fmt.Errorf("resolve provider %s: %w", account.Provider, err)
	}
	auth := &out.ProviderAuth{AccessToken: accessToken, RemoteAccount: account.RemoteAccount}

	mirror, err := p.findMirror(ctx, task.UserID, task.CanonicalID, task.MirrorID)
	if err != nil {
		return err
	}

	switch task.Op {
	case out.WriteOpCreate:
		result, err := provider.CreateEvent(ctx, auth, task.TargetCalID, task.Payload)
		if err != nil {
			return fmt.Errorf("create event: %w", err)
		}
		return p.graph.MarkMirrorWritten(ctx, task.UserID, task.MirrorID, task.Payload.Tags.ContentHash, result.RemoteEventID)

	case out.WriteOpPatch:
		if mirror == nil || mirror.RemoteMirrorID == "" {
			result, err := provider.CreateEvent(ctx, auth, task.TargetCalID, task.Payload)
			if err != nil {
				return fmt.Errorf("create event (patch fallback): %w", err)
			}
			return p.graph.MarkMirrorWritten(ctx, task.UserID, task.MirrorID, task.Payload.Tags.ContentHash, result.RemoteEventID)
		}
		result, err := provider.PatchEvent(ctx, auth, task.TargetCalID, mirror.RemoteMirrorID, task.Payload)
		if err != nil {
			return fmt.Errorf("patch event: %w", err)
		}
		return p.graph.MarkMirrorWritten(ctx, task.UserID, task.MirrorID, task.Payload.Tags.ContentHash, result.RemoteEventID)

	case out.WriteOpDelete:
		if mirror == nil || mirror.RemoteMirrorID == "" {
			return nil
		}
		if err := provider.DeleteEvent(ctx, auth, task.TargetCalID, mirror.RemoteMirrorID); err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		mirror.Status = domain.MirrorStatusDeleted
		mirror.RemoteMirrorID = ""
		return p.graph.RecordMirror(ctx, task.UserID, mirror)

	default:
		return fmt.Errorf("unknown write op %q", task.Op)
	}
}

func (p *WriteProcessor) findMirror(ctx context.Context, userID, canonicalID, mirrorID uuid.UUID) (*domain.MirrorRecord, error) {
	mirrors, err := p.graph.ListMirrors(ctx, userID, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("list mirrors: %w", err)
	}
	for _, m := range mirrors {
		if m.ID == mirrorID {
			return m, nil
		}
	}
	return nil, nil
}

// DeadLetter hands a retry-exhausted write task to the per-account dead
// letter stream, so the health surface can report it instead of silently
// dropping a mirror that never got written.
func (p *WriteProcessor) DeadLetter(ctx context.Context, task *out.WriteTask) error {
	logger.Warn("dead-lettering write task mirror=%s account=%s op=%s", task.MirrorID, task.TargetAccount, task.Op)
	return p.writeQ.DeadLetter(ctx, task)
}
