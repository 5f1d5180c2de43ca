package account

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tminus/core/domain"
	"tminus/core/port/out"
	"tminus/pkg/crypto"
)

type memRepo struct {
	accounts map[uuid.UUID]*domain.Account
	channels map[uuid.UUID]*domain.WebhookChannel
}

func newMemRepo() *memRepo {
	return &memRepo{accounts: map[uuid.UUID]*domain.Account{}, channels: map[uuid.UUID]*domain.WebhookChannel{}}
}

func (m *memRepo) GetByID(id uuid.UUID) (*domain.Account, error) {
	if a, ok := m.accounts[id]; ok {
		return a, nil
	}
	return nil, errors.New("not found")
}
func (m *memRepo) GetByRemoteAccount(provider domain.AccountProvider, remoteAccount string) (*domain.Account, error) {
	for _, a := range m.accounts {
		if a.Provider == provider && a.RemoteAccount == remoteAccount {
			return a, nil
		}
	}
	return nil, errors.New("not found")
}
func (m *memRepo) ListByUser(userID uuid.UUID) ([]*domain.Account, error) { return nil, nil }
func (m *memRepo) ListAllActive() ([]*domain.Account, error)              { return nil, nil }
func (m *memRepo) Create(a *domain.Account) error                        { m.accounts[a.ID] = a; return nil }
func (m *memRepo) Update(a *domain.Account) error                        { m.accounts[a.ID] = a; return nil }
func (m *memRepo) Delete(id uuid.UUID) error                             { delete(m.accounts, id); return nil }
func (m *memRepo) CreateChannel(c *domain.WebhookChannel) error          { m.channels[c.ID] = c; return nil }
func (m *memRepo) UpdateChannel(c *domain.WebhookChannel) error          { m.channels[c.ID] = c; return nil }
func (m *memRepo) GetChannelByChannelID(channelID string) (*domain.WebhookChannel, error) {
	for _, c := range m.channels {
		if c.ChannelID == channelID {
			return c, nil
		}
	}
	return nil, errors.New("not found")
}
func (m *memRepo) ListChannelsByAccount(accountID uuid.UUID) ([]*domain.WebhookChannel, error) {
	var out []*domain.WebhookChannel
	for _, c := range m.channels {
		if c.AccountID == accountID {
			out = append(out, c)
		}
	}
	return out, nil
}
func (m *memRepo) ListChannelsExpiring(before time.Time) ([]*domain.WebhookChannel, error) {
	var result []*domain.WebhookChannel
	for _, c := range m.channels {
		if c.ExpiresAt.Before(before) {
			result = append(result, c)
		}
	}
	return result, nil
}

type nullFactory struct{}

func (nullFactory) ForProvider(provider string) (out.CalendarProviderPort, error) {
	return nil, errors.New("no providers configured in this test")
}

func TestGetAccessToken_ReturnsCachedWhenNotExpiring(t *testing.T) {
	os.Setenv("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")
	require.NoError(t, crypto.Init())
	repo := newMemRepo()
	acctID := uuid.New()
	repo.accounts[acctID] = &domain.Account{
		ID:                    acctID,
		Provider:              domain.AccountProviderCalDAV,
		AccessToken:           "cached-token",
		AccessTokenExpiresAt:  time.Now().Add(time.Hour),
	}

	coord := New(repo, nullFactory{}, OAuthConfigs{})
	token, err := coord.GetAccessToken(context.Background(), acctID)
	require.NoError(t, err)
	assert.Equal(t, "cached-token", token)
}

func TestGetAccessToken_RevokedAccountFailsClosed(t *testing.T) {
	repo := newMemRepo()
	acctID := uuid.New()
	repo.accounts[acctID] = &domain.Account{ID: acctID, Revoked: true}

	coord := New(repo, nullFactory{}, OAuthConfigs{})
	_, err := coord.GetAccessToken(context.Background(), acctID)
	assert.Error(t, err)
}

func TestIsTerminalOAuthError(t *testing.T) {
	assert.True(t, isTerminalOAuthError(errors.New("oauth2: \"invalid_grant\"")))
	assert.True(t, isTerminalOAuthError(errors.New("Token has been revoked")))
	assert.False(t, isTerminalOAuthError(errors.New("connection reset by peer")))
	assert.False(t, isTerminalOAuthError(nil))
}

func TestMarkSyncSuccessResetsFailureCounter(t *testing.T) {
	repo := newMemRepo()
	acctID := uuid.New()
	repo.accounts[acctID] = &domain.Account{ID: acctID, ConsecutiveFailure: 3, LastFailureReason: "timeout"}

	coord := New(repo, nullFactory{}, OAuthConfigs{})
	require.NoError(t, coord.MarkSyncSuccess(context.Background(), acctID, time.Now()))

	acct, _ := repo.GetByID(acctID)
	assert.Equal(t, 0, acct.ConsecutiveFailure)
	assert.Empty(t, acct.LastFailureReason)
}

func TestMarkSyncFailureIncrementsCounter(t *testing.T) {
	repo := newMemRepo()
	acctID := uuid.New()
	repo.accounts[acctID] = &domain.Account{ID: acctID}

	coord := New(repo, nullFactory{}, OAuthConfigs{})
	require.NoError(t, coord.MarkSyncFailure(context.Background(), acctID, "provider_5xx"))
	require.NoError(t, coord.MarkSyncFailure(context.Background(), acctID, "provider_5xx"))

	acct, _ := repo.GetByID(acctID)
	assert.Equal(t, 2, acct.ConsecutiveFailure)
	assert.Equal(t, "provider_5xx", acct.LastFailureReason)
}
