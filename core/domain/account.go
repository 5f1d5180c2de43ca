package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountProvider identifies which external calendar system an Account
// belongs to.
type AccountProvider string

const (
	AccountProviderGoogle    AccountProvider = "google"
	AccountProviderMicrosoft AccountProvider = "microsoft"
	AccountProviderCalDAV    AccountProvider = "caldav"
)

// Account is an external calendar account (provider x remote id) owned by
// exactly one user. The refresh token is stored encrypted at rest; the
// Account Coordinator is the only component that ever decrypts it.
type Account struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	UserID         uuid.UUID       `json:"user_id" db:"user_id"`
	Provider       AccountProvider `json:"provider" db:"provider"`
	RemoteAccount  string          `json:"remote_account" db:"remote_account"` // provider-side account/email identifier
	PrimaryCalID   string          `json:"primary_calendar_id" db:"primary_calendar_id"`

	EncryptedRefreshToken []byte `json:"-" db:"encrypted_refresh_token"`
	AccessToken           string `json:"-" db:"access_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at" db:"access_token_expires_at"`

	SyncCursor string `json:"sync_cursor" db:"sync_cursor"`

	LastSuccessAt     *time.Time `json:"last_success_at" db:"last_success_at"`
	LastAttemptAt      *time.Time `json:"last_attempt_at" db:"last_attempt_at"`
	ConsecutiveFailure int        `json:"consecutive_failures" db:"consecutive_failures"`
	LastFailureReason  string     `json:"last_failure_reason,omitempty" db:"last_failure_reason"`

	Revoked   bool      `json:"revoked" db:"revoked"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HealthSnapshot is the per-account health view returned by get_sync_health.
type HealthSnapshot struct {
	AccountID          uuid.UUID  `json:"account_id"`
	Provider           AccountProvider `json:"provider"`
	LastSuccessAt      *time.Time `json:"last_success_at"`
	LastAttemptAt      *time.Time `json:"last_attempt_at"`
	ConsecutiveFailure int        `json:"consecutive_failures"`
	LastFailureReason  string     `json:"last_failure_reason,omitempty"`
}

// WebhookChannel tracks a registered push-notification subscription for an
// Account. Renewal is driven by the Periodic Maintainer.
type WebhookChannel struct {
	ID             uuid.UUID `json:"id" db:"id"`
	AccountID      uuid.UUID `json:"account_id" db:"account_id"`
	ChannelID      string    `json:"channel_id" db:"channel_id"`
	ResourceID     string    `json:"resource_id,omitempty" db:"resource_id"`
	ChannelToken   string    `json:"-" db:"channel_token"` // sent to the provider at registration; inbound notifications are matched by channel id only, this token is not compared
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// NeedsRenewal reports whether the channel is within the renewal threshold
// (default: renew when less than 24h remain).
func (w *WebhookChannel) NeedsRenewal() bool {
	return time.Now().Add(24 * time.Hour).After(w.ExpiresAt)
}

func (w *WebhookChannel) IsExpired() bool {
	return time.Now().After(w.ExpiresAt)
}

// AccountRepository persists Account rows and their webhook channels.
type AccountRepository interface {
	GetByID(id uuid.UUID) (*Account, error)
	GetByRemoteAccount(provider AccountProvider, remoteAccount string) (*Account, error)
	ListByUser(userID uuid.UUID) ([]*Account, error)
	ListAllActive() ([]*Account, error)
	Create(account *Account) error
	Update(account *Account) error
	Delete(id uuid.UUID) error

	CreateChannel(channel *WebhookChannel) error
	UpdateChannel(channel *WebhookChannel) error
	GetChannelByChannelID(channelID string) (*WebhookChannel, error)
	ListChannelsByAccount(accountID uuid.UUID) ([]*WebhookChannel, error)
	ListChannelsExpiring(before time.Time) ([]*WebhookChannel, error)
}
