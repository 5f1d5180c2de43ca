package persistence

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tminus/core/domain"
	"tminus/pkg/crypto"
	"tminus/pkg/logger"
)

// AccountAdapter implements domain.AccountRepository using PostgreSQL.
// The refresh token is encrypted at rest; the access token is never
// persisted, since the Account Coordinator treats it as purely in-memory
// cache.
type AccountAdapter struct {
	db                *sqlx.DB
	encryptionEnabled bool
}

func NewAccountAdapter(db *sqlx.DB) *AccountAdapter {
	err := crypto.Init()
	enabled := err == nil
	if !enabled {
		logger.Warn("Token encryption disabled: %v", err)
	}
	return &AccountAdapter{db: db, encryptionEnabled: enabled}
}

func (a *AccountAdapter) encrypt(token string) string {
	if !a.encryptionEnabled || token == "" {
		return token
	}
	enc, err := crypto.EncryptToken(token)
	if err != nil {
		logger.Warn("Failed to encrypt refresh token: %v", err)
		return token
	}
	return enc
}

func (a *AccountAdapter) decrypt(token []byte) []byte {
	if len(token) == 0 || !crypto.IsEncrypted(string(token)) {
		return token
	}
	dec, err := crypto.DecryptToken(string(token))
	if err != nil {
		return token
	}
	return []byte(dec)
}

const accountColumns = `id, user_id, provider, remote_account, primary_calendar_id,
	encrypted_refresh_token, access_token_expires_at, sync_cursor,
	last_success_at, last_attempt_at, consecutive_failures, last_failure_reason,
	revoked, created_at, updated_at`

func (a *AccountAdapter) scanOne(query string, args ...any) (*domain.Account, error) {
	var acct domain.Account
	if err := a.db.Get(&acct, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	acct.EncryptedRefreshToken = a.decrypt(acct.EncryptedRefreshToken)
	return &acct, nil
}

func (a *AccountAdapter) GetByID(id uuid.UUID) (*domain.Account, error) {
	return a.scanOne(`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (a *AccountAdapter) GetByRemoteAccount(provider domain.AccountProvider, remoteAccount string) (*domain.Account, error) {
	return a.scanOne(`SELECT `+accountColumns+` FROM accounts WHERE provider = $1 AND remote_account = $2`, provider, remoteAccount)
}

func (a *AccountAdapter) ListByUser(userID uuid.UUID) ([]*domain.Account, error) {
	var accounts []*domain.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY created_at`
	if err := a.db.Select(&accounts, query, userID); err != nil {
		return nil, err
	}
	for _, acc := range accounts {
		acc.EncryptedRefreshToken = a.decrypt(acc.EncryptedRefreshToken)
	}
	return accounts, nil
}

func (a *AccountAdapter) ListAllActive() ([]*domain.Account, error) {
	var accounts []*domain.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE revoked = false ORDER BY created_at`
	if err := a.db.Select(&accounts, query); err != nil {
		return nil, err
	}
	for _, acc := range accounts {
		acc.EncryptedRefreshToken = a.decrypt(acc.EncryptedRefreshToken)
	}
	return accounts, nil
}

func (a *AccountAdapter) Create(account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, user_id, provider, remote_account, primary_calendar_id,
			encrypted_refresh_token, access_token_expires_at, sync_cursor,
			revoked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := a.db.Exec(query,
		account.ID, account.UserID, account.Provider, account.RemoteAccount, account.PrimaryCalID,
		a.encrypt(string(account.EncryptedRefreshToken)), account.AccessTokenExpiresAt, account.SyncCursor,
		account.Revoked, account.CreatedAt, account.UpdatedAt,
	)
	return err
}

func (a *AccountAdapter) Update(account *domain.Account) error {
	query := `
		UPDATE accounts SET
			primary_calendar_id = $1, encrypted_refresh_token = $2, access_token_expires_at = $3,
			sync_cursor = $4, last_success_at = $5, last_attempt_at = $6,
			consecutive_failures = $7, last_failure_reason = $8, revoked = $9, updated_at = $10
		WHERE id = $11`
	_, err := a.db.Exec(query,
		account.PrimaryCalID, a.encrypt(string(account.EncryptedRefreshToken)), account.AccessTokenExpiresAt,
		account.SyncCursor, account.LastSuccessAt, account.LastAttemptAt,
		account.ConsecutiveFailure, account.LastFailureReason, account.Revoked, time.Now(),
		account.ID,
	)
	return err
}

func (a *AccountAdapter) Delete(id uuid.UUID) error {
	_, err := a.db.Exec(`DELETE FROM accounts WHERE id = $1`, id)
	return err
}

const channelColumns = `id, account_id, channel_id, resource_id, channel_token, expires_at, created_at, updated_at`

func (a *AccountAdapter) CreateChannel(channel *domain.WebhookChannel) error {
	query := `
		INSERT INTO webhook_channels (` + channelColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := a.db.Exec(query,
		channel.ID, channel.AccountID, channel.ChannelID, channel.ResourceID, channel.ChannelToken,
		channel.ExpiresAt, channel.CreatedAt, channel.UpdatedAt,
	)
	return err
}

func (a *AccountAdapter) UpdateChannel(channel *domain.WebhookChannel) error {
	query := `
		UPDATE webhook_channels SET
			channel_id = $1, resource_id = $2, channel_token = $3, expires_at = $4, updated_at = $5
		WHERE id = $6`
	_, err := a.db.Exec(query, channel.ChannelID, channel.ResourceID, channel.ChannelToken, channel.ExpiresAt, time.Now(), channel.ID)
	return err
}

func (a *AccountAdapter) GetChannelByChannelID(channelID string) (*domain.WebhookChannel, error) {
	var ch domain.WebhookChannel
	query := `SELECT ` + channelColumns + ` FROM webhook_channels WHERE channel_id = $1`
	if err := a.db.Get(&ch, query, channelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ch, nil
}

func (a *AccountAdapter) ListChannelsByAccount(accountID uuid.UUID) ([]*domain.WebhookChannel, error) {
	var channels []*domain.WebhookChannel
	query := `SELECT ` + channelColumns + ` FROM webhook_channels WHERE account_id = $1 ORDER BY created_at`
	if err := a.db.Select(&channels, query, accountID); err != nil {
		return nil, err
	}
	return channels, nil
}

func (a *AccountAdapter) ListChannelsExpiring(before time.Time) ([]*domain.WebhookChannel, error) {
	var channels []*domain.WebhookChannel
	query := `SELECT ` + channelColumns + ` FROM webhook_channels WHERE expires_at < $1 ORDER BY expires_at`
	if err := a.db.Select(&channels, query, before); err != nil {
		return nil, err
	}
	return channels, nil
}

var _ domain.AccountRepository = (*AccountAdapter)(nil)
