// Package account implements the Account Coordinator: the sole
// component that ever holds a decrypted refresh token, and the boundary the
// Write/Sync pipelines and Periodic Maintainer call through for access
// tokens, sync cursors, webhook channels, and account health.
package account

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"tminus/core/domain"
	"tminus/core/port/out"
	"tminus/pkg/apperr"
	"tminus/pkg/crypto"
	"tminus/pkg/logger"
)

// OAuthConfigs supplies the provider-keyed oauth2.Config used to build a
// TokenSource for refresh. CalDAV accounts (basic-auth, no OAuth) are never
// present in this map; GetAccessToken treats a missing config as "no
// refresh needed" for that provider.
type OAuthConfigs map[domain.AccountProvider]*oauth2.Config

// Coordinator is the Account Coordinator.
type Coordinator struct {
	repo      domain.AccountRepository
	factory   out.CalendarProviderFactory
	oauth     OAuthConfigs
	log       *logger.Logger

	mu       sync.Mutex
	breakers map[domain.AccountProvider]*gobreaker.CircuitBreaker
	limiters sync.Map // uuid.UUID -> *rate.Limiter
}

// New builds an Account Coordinator. factory resolves per-provider
// CalendarProviderPort adapters for channel registration/renewal.
func New(repo domain.AccountRepository, factory out.CalendarProviderFactory, oauthConfigs OAuthConfigs) *Coordinator {
	return &Coordinator{
		repo:     repo,
		factory:  factory,
		oauth:    oauthConfigs,
		log:      logger.WithField("component", "account_coordinator"),
		breakers: make(map[domain.AccountProvider]*gobreaker.CircuitBreaker),
	}
}

func (c *Coordinator) breakerFor(provider domain.AccountProvider) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[provider]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provider:" + string(provider),
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6)
		},
	})
	c.breakers[provider] = b
	return b
}

// limiterFor returns a per-account token bucket, created lazily. 5 req/s
// with a burst of 10 keeps a single account's sync/write traffic from
// starving the provider's own per-user quota.
func (c *Coordinator) limiterFor(accountID uuid.UUID) *rate.Limiter {
	v, _ := c.limiters.LoadOrStore(accountID, rate.NewLimiter(rate.Limit(5), 10))
	return v.(*rate.Limiter)
}

// Wait blocks until accountID's rate limiter admits one call, or ctx is
// cancelled. Provider adapters call this before every remote request.
func (c *Coordinator) Wait(ctx context.Context, accountID uuid.UUID) error {
	return c.limiterFor(accountID).Wait(ctx)
}

// isTerminalOAuthError reports whether err indicates the refresh token is
// permanently invalid (revoked or the account needs re-consent), as
// opposed to a transient network/provider failure.
func isTerminalOAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "invalid_client") ||
		strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "Token has been expired or revoked") ||
		strings.Contains(msg, "Token has been revoked")
}

// GetAccessToken returns a valid access token for accountID, refreshing it
// first if it is within 5 minutes of expiry or already expired.
func (c *Coordinator) GetAccessToken(ctx context.Context, accountID uuid.UUID) (string, error) {
	acct, err := c.repo.GetByID(accountID)
	if err != nil {
		return "", apperr.NotFound("account")
	}
	if acct.Revoked {
		return "", apperr.NoCredentials(accountID.String())
	}

	if time.Until(acct.AccessTokenExpiresAt) > 5*time.Minute {
		return acct.AccessToken, nil
	}

	if err := c.refresh(ctx, acct); err != nil {
		return "", err
	}
	return acct.AccessToken, nil
}

func (c *Coordinator) refresh(ctx context.Context, acct *domain.Account) error {
	cfg, ok := c.oauth[acct.Provider]
	if !ok || cfg == nil {
		// CalDAV and any statically-configured provider has nothing to
		// refresh; the stored access token is used as-is.
		return nil
	}

	refreshToken, err := crypto.DecryptToken(string(acct.EncryptedRefreshToken))
	if err != nil {
		return apperr.NoCredentials(acct.ID.String()).WithError(err)
	}

	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	newToken, err := src.Token()
	if err != nil {
		if isTerminalOAuthError(err) {
			acct.Revoked = true
			acct.LastFailureReason = "refresh_token_invalid"
			acct.UpdatedAt = time.Now()
			_ = c.repo.Update(acct)
			return apperr.RefreshFailed(acct.ID.String(), err)
		}
		return apperr.ProviderUnavailable(string(acct.Provider), err)
	}

	acct.AccessToken = newToken.AccessToken
	acct.AccessTokenExpiresAt = newToken.Expiry
	if newToken.RefreshToken != "" {
		encrypted, encErr := crypto.EncryptToken(newToken.RefreshToken)
		if encErr == nil {
			acct.EncryptedRefreshToken = []byte(encrypted)
		}
	}
	acct.UpdatedAt = time.Now()
	if err := c.repo.Update(acct); err != nil {
		return apperr.DatabaseError("update account token", err)
	}
	c.log.WithField("account_id", acct.ID).Debug("refreshed access token")
	return nil
}

// RefreshExpiringTokens proactively refreshes every active account whose
// access token expires within the given window, rather than waiting for a
// caller's GetAccessToken to hit the narrower 5-minute reactive threshold.
// Called by the Periodic Maintainer's token health job; a failure on one
// account never stops the sweep over the rest.
func (c *Coordinator) RefreshExpiringTokens(ctx context.Context, within time.Duration) error {
	accounts, err := c.repo.ListAllActive()
	if err != nil {
		return apperr.DatabaseError("list active accounts", err)
	}

	var firstErr error
	for _, acct := range accounts {
		if acct.Revoked || time.Until(acct.AccessTokenExpiresAt) > within {
			continue
		}
		if err := c.refresh(ctx, acct); err != nil {
			c.log.WithError(err).WithField("account_id", acct.ID).Warn("proactive token refresh failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SetSyncCursor persists the Sync Pipeline's incremental cursor for an
// account.
func (c *Coordinator) SetSyncCursor(ctx context.Context, accountID uuid.UUID, cursor string) error {
	acct, err := c.repo.GetByID(accountID)
	if err != nil {
		return apperr.NotFound("account")
	}
	acct.SyncCursor = cursor
	acct.UpdatedAt = time.Now()
	return c.repo.Update(acct)
}

// GetSyncCursor returns the stored cursor, empty string if none (full sync
// required).
func (c *Coordinator) GetSyncCursor(ctx context.Context, accountID uuid.UUID) (string, error) {
	acct, err := c.repo.GetByID(accountID)
	if err != nil {
		return "", apperr.NotFound("account")
	}
	return acct.SyncCursor, nil
}

// RegisterChannel registers a push-notification webhook with the provider
// and persists the resulting channel.
func (c *Coordinator) RegisterChannel(ctx context.Context, accountID uuid.UUID, calendarID string) (*domain.WebhookChannel, error) {
	acct, err := c.repo.GetByID(accountID)
	if err != nil {
		return nil, apperr.NotFound("account")
	}
	provider, err := c.factory.ForProvider(string(acct.Provider))
	if err != nil {
		return nil, apperr.ProviderUnavailable(string(acct.Provider), err)
	}
	token, err := c.GetAccessToken(ctx, accountID)
	if err != nil {
		return nil, err
	}

	channelToken := uuid.NewString()
	result, err := c.breakerFor(acct.Provider).Execute(func() (interface{}, error) {
		return provider.RegisterChannel(ctx, &out.ProviderAuth{AccessToken: token, RemoteAccount: acct.RemoteAccount}, calendarID, channelToken)
	})
	if err != nil {
		return nil, apperr.ProviderUnavailable(string(acct.Provider), err)
	}
	reg := result.(*out.ChannelRegistration)

	channel := &domain.WebhookChannel{
		ID:           uuid.New(),
		AccountID:    accountID,
		ChannelID:    reg.ChannelID,
		ResourceID:   reg.ResourceID,
		ChannelToken: channelToken,
		ExpiresAt:    reg.ExpiresAt,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := c.repo.CreateChannel(channel); err != nil {
		return nil, apperr.DatabaseError("create webhook channel", err)
	}
	return channel, nil
}

// RenewChannels renews every channel expiring before the given deadline.
// Called by the Periodic Maintainer.
func (c *Coordinator) RenewChannels(ctx context.Context, before time.Time) error {
	channels, err := c.repo.ListChannelsExpiring(before)
	if err != nil {
		return apperr.DatabaseError("list expiring channels", err)
	}

	var firstErr error
	for _, channel := range channels {
		if err := c.renewOne(ctx, channel); err != nil {
			c.log.WithError(err).WithField("channel_id", channel.ChannelID).Warn("channel renewal failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Coordinator) renewOne(ctx context.Context, channel *domain.WebhookChannel) error {
	acct, err := c.repo.GetByID(channel.AccountID)
	if err != nil {
		return err
	}
	provider, err := c.factory.ForProvider(string(acct.Provider))
	if err != nil {
		return err
	}
	token, err := c.GetAccessToken(ctx, acct.ID)
	if err != nil {
		return err
	}

	existing := &out.ChannelRegistration{ChannelID: channel.ChannelID, ResourceID: channel.ResourceID, ExpiresAt: channel.ExpiresAt}
	result, err := c.breakerFor(acct.Provider).Execute(func() (interface{}, error) {
		return provider.RenewChannel(ctx, &out.ProviderAuth{AccessToken: token, RemoteAccount: acct.RemoteAccount}, acct.PrimaryCalID, existing)
	})
	if err != nil {
		return err
	}
	reg := result.(*out.ChannelRegistration)

	channel.ChannelID = reg.ChannelID
	channel.ResourceID = reg.ResourceID
	channel.ExpiresAt = reg.ExpiresAt
	channel.UpdatedAt = time.Now()
	return c.repo.UpdateChannel(channel)
}

// ListChannelStatus returns all webhook channels registered for an account.
func (c *Coordinator) ListChannelStatus(ctx context.Context, accountID uuid.UUID) ([]*domain.WebhookChannel, error) {
	return c.repo.ListChannelsByAccount(accountID)
}

// Revoke marks an account revoked and clears its stored credentials. The
// account row is kept (not deleted) so historical mirrors/journal entries
// still resolve their owning account.
func (c *Coordinator) Revoke(ctx context.Context, accountID uuid.UUID) error {
	acct, err := c.repo.GetByID(accountID)
	if err != nil {
		return apperr.NotFound("account")
	}
	acct.Revoked = true
	acct.AccessToken = ""
	acct.EncryptedRefreshToken = nil
	acct.UpdatedAt = time.Now()
	return c.repo.Update(acct)
}

// MarkSyncSuccess resets the consecutive-failure counter and stamps the
// last success time.
func (c *Coordinator) MarkSyncSuccess(ctx context.Context, accountID uuid.UUID, ts time.Time) error {
	acct, err := c.repo.GetByID(accountID)
	if err != nil {
		return apperr.NotFound("account")
	}
	acct.LastSuccessAt = &ts
	acct.LastAttemptAt = &ts
	acct.ConsecutiveFailure = 0
	acct.LastFailureReason = ""
	acct.UpdatedAt = time.Now()
	return c.repo.Update(acct)
}

// MarkSyncFailure increments the consecutive-failure counter and records
// the reason for get_sync_health.
func (c *Coordinator) MarkSyncFailure(ctx context.Context, accountID uuid.UUID, reason string) error {
	acct, err := c.repo.GetByID(accountID)
	if err != nil {
		return apperr.NotFound("account")
	}
	now := time.Now()
	acct.LastAttemptAt = &now
	acct.ConsecutiveFailure++
	acct.LastFailureReason = reason
	acct.UpdatedAt = now
	return c.repo.Update(acct)
}

// GetHealth returns the current health snapshot for an account.
func (c *Coordinator) GetHealth(ctx context.Context, accountID uuid.UUID) (*domain.HealthSnapshot, error) {
	acct, err := c.repo.GetByID(accountID)
	if err != nil {
		return nil, apperr.NotFound("account")
	}
	return &domain.HealthSnapshot{
		AccountID:          acct.ID,
		Provider:           acct.Provider,
		LastSuccessAt:      acct.LastSuccessAt,
		LastAttemptAt:      acct.LastAttemptAt,
		ConsecutiveFailure: acct.ConsecutiveFailure,
		LastFailureReason:  acct.LastFailureReason,
	}, nil
}

// LinkAccount creates (or reactivates) an Account after OAuth consent. The
// caller supplies the already-exchanged refresh token in plaintext; it is
// encrypted before it ever touches the repository.
func (c *Coordinator) LinkAccount(ctx context.Context, userID uuid.UUID, provider domain.AccountProvider, remoteAccount, refreshToken string) (*domain.Account, error) {
	encrypted, err := crypto.EncryptToken(refreshToken)
	if err != nil {
		return nil, apperr.Internal("failed to encrypt refresh token").WithError(err)
	}

	if existing, err := c.repo.GetByRemoteAccount(provider, remoteAccount); err == nil && existing != nil {
		existing.UserID = userID
		existing.EncryptedRefreshToken = []byte(encrypted)
		existing.Revoked = false
		existing.ConsecutiveFailure = 0
		existing.UpdatedAt = time.Now()
		if err := c.repo.Update(existing); err != nil {
			return nil, apperr.DatabaseError("relink account", err)
		}
		return existing, nil
	}

	acct := &domain.Account{
		ID:                    uuid.New(),
		UserID:                userID,
		Provider:              provider,
		RemoteAccount:         remoteAccount,
		EncryptedRefreshToken: []byte(encrypted),
		CreatedAt:             time.Now(),
		UpdatedAt:             time.Now(),
	}
	if err := c.repo.Create(acct); err != nil {
		return nil, apperr.DatabaseError("create account", err)
	}

	primaryCal, err := c.resolvePrimaryCalendar(ctx, acct)
	if err == nil {
		acct.PrimaryCalID = primaryCal
		_ = c.repo.Update(acct)
	}
	return acct, nil
}

func (c *Coordinator) resolvePrimaryCalendar(ctx context.Context, acct *domain.Account) (string, error) {
	provider, err := c.factory.ForProvider(string(acct.Provider))
	if err != nil {
		return "", err
	}
	token, err := c.GetAccessToken(ctx, acct.ID)
	if err != nil {
		return "", err
	}
	return provider.ResolvePrimaryCalendar(ctx, &out.ProviderAuth{AccessToken: token, RemoteAccount: acct.RemoteAccount})
}
