// Package in defines inbound ports (driving ports) for the application.
package in

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tminus/core/domain"
)

// AccountService is the Account Coordinator's public contract.
type AccountService interface {
	GetAccessToken(ctx context.Context, accountID uuid.UUID) (string, error)
	SetSyncCursor(ctx context.Context, accountID uuid.UUID, cursor string) error
	GetSyncCursor(ctx context.Context, accountID uuid.UUID) (string, error)
	RegisterChannel(ctx context.Context, accountID uuid.UUID, calendarID string) (*domain.WebhookChannel, error)
	RenewChannels(ctx context.Context, before time.Time) error
	RefreshExpiringTokens(ctx context.Context, within time.Duration) error
	ListChannelStatus(ctx context.Context, accountID uuid.UUID) ([]*domain.WebhookChannel, error)
	Revoke(ctx context.Context, accountID uuid.UUID) error
	MarkSyncSuccess(ctx context.Context, accountID uuid.UUID, ts time.Time) error
	MarkSyncFailure(ctx context.Context, accountID uuid.UUID, reason string) error
	GetHealth(ctx context.Context, accountID uuid.UUID) (*domain.HealthSnapshot, error)
	LinkAccount(ctx context.Context, userID uuid.UUID, provider domain.AccountProvider, remoteAccount, refreshToken string) (*domain.Account, error)
}
