package http

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"tminus/core/domain"
	"tminus/core/port/out"
	"tminus/pkg/logger"
)

const (
	webhookIdempotencyTTL = 5 * time.Minute
	webhookSyncLockTTL    = 2 * time.Minute
)

// WebhookMetrics tracks inbound channel-notification volume across providers.
type WebhookMetrics struct {
	Processed  int64
	Duplicates int64
	Errors     int64
	Queued     int64
}

// WebhookHandler receives provider push notifications (Google Calendar
// channel watch, Microsoft Graph change notification) and translates them
// into a Sync Pipeline poll task, deduplicated per delivery.
type WebhookHandler struct {
	accounts domain.AccountRepository
	syncQ    out.SyncQueue
	redis    *redis.Client
	metrics  WebhookMetrics
}

func NewWebhookHandler(accounts domain.AccountRepository, syncQ out.SyncQueue, redisClient *redis.Client) *WebhookHandler {
	return &WebhookHandler{accounts: accounts, syncQ: syncQ, redis: redisClient}
}

// Register wires the raw provider-facing endpoints, which are unauthenticated
// and must stay outside the JWT-protected route group.
func (h *WebhookHandler) Register(app *fiber.App) {
	app.Post("/webhooks/google-calendar", h.GoogleCalendarWebhook)
	app.Post("/webhooks/microsoft-calendar", h.MicrosoftCalendarWebhook)
	app.Get("/webhooks/microsoft-calendar", h.MicrosoftValidation)
}

// RegisterManagement wires the authenticated webhook-channel management
// endpoints under the normal API group.
func (h *WebhookHandler) RegisterManagement(router fiber.Router) {
	webhooks := router.Group("/webhooks")
	webhooks.Get("/metrics", h.GetMetrics)
}

func (h *WebhookHandler) idempotencyKey(provider, channelID, resourceID string) string {
	return fmt.Sprintf("webhook:idempotent:%s:%s:%s", provider, channelID, resourceID)
}

func (h *WebhookHandler) syncLockKey(accountID string) string {
	return fmt.Sprintf("webhook:synclock:%s", accountID)
}

func (h *WebhookHandler) checkIdempotency(ctx context.Context, provider, channelID, resourceID string) bool {
	if h.redis == nil {
		return false
	}
	key := h.idempotencyKey(provider, channelID, resourceID)
	ok, err := h.redis.SetNX(ctx, key, "1", webhookIdempotencyTTL).Result()
	if err != nil || !ok {
		atomic.AddInt64(&h.metrics.Duplicates, 1)
		return true
	}
	return false
}

func (h *WebhookHandler) acquireSyncLock(ctx context.Context, accountID string) bool {
	if h.redis == nil {
		return true
	}
	ok, err := h.redis.SetNX(ctx, h.syncLockKey(accountID), "1", webhookSyncLockTTL).Result()
	return err == nil && ok
}

func (h *WebhookHandler) enqueuePoll(ctx context.Context, channel *domain.WebhookChannel) {
	if h.syncQ == nil {
		return
	}
	if !h.acquireSyncLock(ctx, channel.AccountID.String()) {
		return
	}
	task := &out.SyncPollTask{AccountID: channel.AccountID, Reason: "webhook"}
	if err := h.syncQ.Enqueue(ctx, task); err != nil {
		logger.WithError(err).Warn("failed to enqueue sync poll for account %s", channel.AccountID)
		atomic.AddInt64(&h.metrics.Errors, 1)
		return
	}
	atomic.AddInt64(&h.metrics.Queued, 1)
}

// GoogleCalendarWebhook handles the push-notification format described at
// https://developers.google.com/calendar/api/guides/push — a bodyless POST
// carrying channel/resource state entirely in headers.
func (h *WebhookHandler) GoogleCalendarWebhook(c *fiber.Ctx) error {
	channelID := c.Get("X-Goog-Channel-ID")
	resourceID := c.Get("X-Goog-Resource-ID")
	resourceState := c.Get("X-Goog-Resource-State")

	if resourceState == "sync" || channelID == "" {
		return c.SendStatus(fiber.StatusOK)
	}

	ctx := c.Context()

	channel, err := h.accounts.GetChannelByChannelID(channelID)
	if err != nil || channel == nil {
		logger.Warn("no webhook channel registered for google channel %s", channelID)
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	if h.checkIdempotency(ctx, "google-calendar", channelID, resourceID) {
		return c.SendStatus(fiber.StatusOK)
	}

	atomic.AddInt64(&h.metrics.Processed, 1)
	h.enqueuePoll(ctx, channel)
	return c.SendStatus(fiber.StatusOK)
}

// MicrosoftValidation answers the Graph subscription-validation handshake,
// which sends validationToken as a query parameter and expects it echoed
// back as a plain-text 200 response.
func (h *WebhookHandler) MicrosoftValidation(c *fiber.Ctx) error {
	if token := c.Query("validationToken"); token != "" {
		c.Set("Content-Type", "text/plain")
		return c.SendString(token)
	}
	return c.SendStatus(fiber.StatusOK)
}

type msGraphNotification struct {
	Value []struct {
		SubscriptionID string `json:"subscriptionId"`
		ResourceData   struct {
			ID string `json:"id"`
		} `json:"resourceData"`
		ChangeType string `json:"changeType"`
	} `json:"value"`
}

func (h *WebhookHandler) MicrosoftCalendarWebhook(c *fiber.Ctx) error {
	if token := c.Query("validationToken"); token != "" {
		c.Set("Content-Type", "text/plain")
		return c.SendString(token)
	}

	var body msGraphNotification
	if err := c.BodyParser(&body); err != nil {
		logger.WithError(err).Warn("failed to parse microsoft graph notification")
		return c.SendStatus(fiber.StatusOK)
	}

	ctx := c.Context()
	unknown := false
	for _, item := range body.Value {
		if item.SubscriptionID == "" {
			continue
		}
		channel, err := h.accounts.GetChannelByChannelID(item.SubscriptionID)
		if err != nil || channel == nil {
			logger.Warn("no webhook channel registered for microsoft subscription %s", item.SubscriptionID)
			unknown = true
			continue
		}
		if h.checkIdempotency(ctx, "microsoft-calendar", item.SubscriptionID, item.ResourceData.ID) {
			continue
		}
		atomic.AddInt64(&h.metrics.Processed, 1)
		h.enqueuePoll(ctx, channel)
	}

	if unknown {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *WebhookHandler) GetMetrics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"processed":  atomic.LoadInt64(&h.metrics.Processed),
		"duplicates": atomic.LoadInt64(&h.metrics.Duplicates),
		"errors":     atomic.LoadInt64(&h.metrics.Errors),
		"queued":     atomic.LoadInt64(&h.metrics.Queued),
	})
}
