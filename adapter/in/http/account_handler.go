package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"tminus/core/domain"
	"tminus/core/port/in"
	"tminus/core/port/out"
	"tminus/infra/middleware"
	"tminus/pkg/apperr"
	"tminus/pkg/cache"
	"tminus/pkg/logger"
	"tminus/pkg/response"
)

const (
	oauthStateKeyPrefix  = "oauth:state:"
	oauthStateTTL        = 10 * time.Minute
	healthCacheKeyPrefix = "account:health:"
	healthCacheTTL       = 30 * time.Second
)

// AccountHandler drives the OAuth consent dance (AuthCodeURL / token
// exchange / userinfo lookup) and then hands the exchanged refresh token
// to the Account Coordinator through in.AccountService. It never stores
// or decrypts a refresh token itself. GetHealth responses are cached
// briefly through out.Cache since health snapshots are polled far more
// often than an account's health actually changes.
type AccountHandler struct {
	accounts in.AccountService
	oauth    map[domain.AccountProvider]*oauth2.Config
	redis    *redis.Client
	cache    out.Cache
}

func NewAccountHandler(accounts in.AccountService, oauthConfigs map[domain.AccountProvider]*oauth2.Config, redisClient *redis.Client) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		oauth:    oauthConfigs,
		redis:    redisClient,
		cache:    cache.NewRedisCache(redisClient),
	}
}

func (h *AccountHandler) Register(app fiber.Router) {
	acc := app.Group("/accounts")
	acc.Get("/connect/:provider", h.Connect)
	acc.Get("/callback/:provider", h.Callback)

	byID := acc.Group("/:id", middleware.ValidateUUID("id"))
	byID.Get("/health", h.GetHealth)
	byID.Get("/channels", h.ListChannels)
	byID.Post("/channels", h.RegisterChannel)
	byID.Post("/revoke", h.Revoke)
	byID.Get("/sync-cursor", h.GetSyncCursor)
	byID.Put("/sync-cursor", h.SetSyncCursor)
}

func generateSecureState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secure state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (h *AccountHandler) stateKey(state string) string {
	return oauthStateKeyPrefix + state
}

func (h *AccountHandler) storeState(ctx context.Context, state string, userID uuid.UUID) error {
	if h.redis == nil {
		return nil
	}
	return h.redis.Set(ctx, h.stateKey(state), userID.String(), oauthStateTTL).Err()
}

func (h *AccountHandler) consumeState(ctx context.Context, state string) (uuid.UUID, error) {
	if h.redis == nil {
		return uuid.Nil, ErrUnauthorized
	}
	val, err := h.redis.GetDel(ctx, h.stateKey(state)).Result()
	if err != nil {
		return uuid.Nil, apperr.Unauthorized("invalid or expired oauth state")
	}
	return uuid.Parse(val)
}

func (h *AccountHandler) Connect(c *fiber.Ctx) error {
	provider := domain.AccountProvider(c.Params("provider"))
	cfg, ok := h.oauth[provider]
	if !ok {
		return response.FromAppError(c, apperr.BadRequest("unsupported provider"))
	}

	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	state, err := generateSecureState()
	if err != nil {
		return response.FromAppError(c, apperr.Internal("failed to generate oauth state"))
	}
	if err := h.storeState(c.Context(), state, userID); err != nil {
		return response.FromAppError(c, apperr.Internal("failed to persist oauth state"))
	}

	return response.OK(c, fiber.Map{
		"auth_url": cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce),
	})
}

func (h *AccountHandler) Callback(c *fiber.Ctx) error {
	provider := domain.AccountProvider(c.Params("provider"))
	cfg, ok := h.oauth[provider]
	if !ok {
		return response.FromAppError(c, apperr.BadRequest("unsupported provider"))
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		return response.FromAppError(c, apperr.BadRequest("missing code or state"))
	}

	userID, err := h.consumeState(c.Context(), state)
	if err != nil {
		return response.FromAppError(c, err)
	}

	token, err := cfg.Exchange(c.Context(), code)
	if err != nil {
		logger.WithError(err).Warn("oauth exchange failed for provider %s", provider)
		return response.FromAppError(c, apperr.OAuthFailed(string(provider), err))
	}
	if token.RefreshToken == "" {
		return response.FromAppError(c, apperr.OAuthFailed(string(provider), fmt.Errorf("provider did not return a refresh token")))
	}

	remoteAccount, err := fetchRemoteAccountID(c.Context(), provider, cfg, token)
	if err != nil {
		return response.FromAppError(c, apperr.OAuthFailed(string(provider), err))
	}

	account, err := h.accounts.LinkAccount(c.Context(), userID, provider, remoteAccount, token.RefreshToken)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, account)
}

// fetchRemoteAccountID resolves the provider-side account identifier (email)
// via each provider's userinfo endpoint, using the freshly exchanged token.
func fetchRemoteAccountID(ctx context.Context, provider domain.AccountProvider, cfg *oauth2.Config, token *oauth2.Token) (string, error) {
	var userinfoURL string
	switch provider {
	case domain.AccountProviderGoogle:
		userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	case domain.AccountProviderMicrosoft:
		userinfoURL = "https://graph.microsoft.com/v1.0/me"
	default:
		return "", fmt.Errorf("no userinfo endpoint for provider %q", provider)
	}

	client := cfg.Client(ctx, token)
	resp, err := client.Get(userinfoURL)
	if err != nil {
		return "", fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("userinfo request returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Email string `json:"email"`
		Mail  string `json:"mail"`
		UPN   string `json:"userPrincipalName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode userinfo response: %w", err)
	}

	switch {
	case payload.Email != "":
		return payload.Email, nil
	case payload.Mail != "":
		return payload.Mail, nil
	case payload.UPN != "":
		return payload.UPN, nil
	default:
		return "", fmt.Errorf("userinfo response had no usable identifier")
	}
}

func (h *AccountHandler) GetHealth(c *fiber.Ctx) error {
	id, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	cacheKey := healthCacheKeyPrefix + id.String()
	if raw, err := h.cache.Get(c.Context(), cacheKey); err == nil {
		var snap domain.HealthSnapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			return response.OK(c, &snap)
		}
	}

	snap, err := h.accounts.GetHealth(c.Context(), id)
	if err != nil {
		return HandleServiceError(c, err)
	}

	if raw, err := json.Marshal(snap); err == nil {
		if err := h.cache.Set(c.Context(), cacheKey, raw, healthCacheTTL); err != nil {
			logger.WithError(err).Warn("failed to cache account health snapshot")
		}
	}

	return response.OK(c, snap)
}

func (h *AccountHandler) ListChannels(c *fiber.Ctx) error {
	id, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}
	channels, err := h.accounts.ListChannelStatus(c.Context(), id)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"channels": channels})
}

func (h *AccountHandler) RegisterChannel(c *fiber.Ctx) error {
	id, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}
	var body struct {
		CalendarID string `json:"calendar_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}

	channel, err := h.accounts.RegisterChannel(c.Context(), id, body.CalendarID)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.Created(c, channel)
}

func (h *AccountHandler) Revoke(c *fiber.Ctx) error {
	id, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}
	if err := h.accounts.Revoke(c.Context(), id); err != nil {
		return HandleServiceError(c, err)
	}
	if err := h.cache.Delete(c.Context(), healthCacheKeyPrefix+id.String()); err != nil {
		logger.WithError(err).Warn("failed to invalidate cached account health snapshot")
	}
	return response.OK(c, fiber.Map{"status": "revoked"})
}

func (h *AccountHandler) GetSyncCursor(c *fiber.Ctx) error {
	id, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}
	cursor, err := h.accounts.GetSyncCursor(c.Context(), id)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"sync_cursor": cursor})
}

func (h *AccountHandler) SetSyncCursor(c *fiber.Ctx) error {
	id, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}
	var body struct {
		Cursor string `json:"sync_cursor"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}
	if err := h.accounts.SetSyncCursor(c.Context(), id, body.Cursor); err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"status": "updated"})
}
