package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tminus/adapter/out/messaging"
	"tminus/core/domain"
	"tminus/core/port/out"
	"tminus/pkg/logger"
)

// syncJobHandler bridges the shared sync:poll stream into the worker
// pool, implementing messaging.JobHandler.
type syncJobHandler struct {
	pool *Pool
}

func (h *syncJobHandler) Handle(ctx context.Context, stream string, data []byte) error {
	var task out.SyncPollTask
	if err := json.Unmarshal(data, &task); err != nil {
		return fmt.Errorf("unmarshal sync poll task: %w", err)
	}

	payload, err := json.Marshal(syncPollPayloadFromTask(&task))
	if err != nil {
		return fmt.Errorf("marshal sync poll payload: %w", err)
	}
	var asMap map[string]any
	if err := json.Unmarshal(payload, &asMap); err != nil {
		return fmt.Errorf("unmarshal sync poll payload: %w", err)
	}

	msg := NewMessage(JobSyncPoll, asMap)
	if task.Reason == "webhook" {
		msg.Priority = PriorityHigh
		h.pool.SubmitPriority(msg)
		return nil
	}
	h.pool.Submit(msg)
	return nil
}

// writeJobHandler bridges one account's write:account:<id> stream into
// the worker pool.
type writeJobHandler struct {
	pool *Pool
}

func (h *writeJobHandler) Handle(ctx context.Context, stream string, data []byte) error {
	var task out.WriteTask
	if err := json.Unmarshal(data, &task); err != nil {
		return fmt.Errorf("unmarshal write task: %w", err)
	}

	payload, err := json.Marshal(writeDispatchPayloadFromTask(&task))
	if err != nil {
		return fmt.Errorf("marshal write dispatch payload: %w", err)
	}
	var asMap map[string]any
	if err := json.Unmarshal(payload, &asMap); err != nil {
		return fmt.Errorf("unmarshal write dispatch payload: %w", err)
	}

	h.pool.Submit(NewMessage(JobWriteDispatch, asMap))
	return nil
}

// NewSyncConsumer builds the consumer-group reader for the single shared
// sync:poll stream.
func NewSyncConsumer(client *redis.Client, consumerName string, pool *Pool, log zerolog.Logger) *messaging.Consumer {
	return messaging.NewConsumer(client, &messaging.ConsumerConfig{
		Group:    "sync-pipeline",
		Consumer: consumerName,
		Streams:  []string{messaging.SyncPollStream},
		Handler:  &syncJobHandler{pool: pool},
		Logger:   log,
	})
}

// WriteDispatcher keeps one messaging.Consumer running per active
// account's write:account:<id> stream, since the Write Pipeline's queue
// is sharded per account rather than shared. It periodically reconciles
// against the active account list so newly linked accounts get a
// consumer and revoked ones stop being read.
type WriteDispatcher struct {
	client       *redis.Client
	accounts     domain.AccountRepository
	pool         *Pool
	log          zerolog.Logger
	consumerName string

	refreshInterval time.Duration

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
}

func NewWriteDispatcher(client *redis.Client, accounts domain.AccountRepository, pool *Pool, consumerName string, log zerolog.Logger) *WriteDispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &WriteDispatcher{
		client:          client,
		accounts:        accounts,
		pool:            pool,
		log:             log,
		consumerName:    consumerName,
		refreshInterval: time.Minute,
		cancels:         make(map[uuid.UUID]context.CancelFunc),
		ctx:             ctx,
		cancel:          cancel,
	}
}

func (d *WriteDispatcher) Start() {
	d.reconcile()
	go d.run()
}

func (d *WriteDispatcher) Stop() {
	d.cancel()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cancel := range d.cancels {
		cancel()
	}
	d.cancels = make(map[uuid.UUID]context.CancelFunc)
}

func (d *WriteDispatcher) run() {
	ticker := time.NewTicker(d.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.reconcile()
		}
	}
}

func (d *WriteDispatcher) reconcile() {
	accounts, err := d.accounts.ListAllActive()
	if err != nil {
		logger.WithError(err).Warn("write dispatcher: failed to list active accounts")
		return
	}

	active := make(map[uuid.UUID]bool, len(accounts))
	for _, account := range accounts {
		active[account.ID] = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, account := range accounts {
		if _, ok := d.cancels[account.ID]; ok {
			continue
		}
		consumerCtx, cancel := context.WithCancel(d.ctx)
		d.cancels[account.ID] = cancel
		go d.runConsumer(consumerCtx, account.ID)
	}

	for accountID, cancel := range d.cancels {
		if !active[accountID] {
			cancel()
			delete(d.cancels, accountID)
		}
	}
}

func (d *WriteDispatcher) runConsumer(ctx context.Context, accountID uuid.UUID) {
	consumer := messaging.NewConsumer(d.client, &messaging.ConsumerConfig{
		Group:    "write-pipeline",
		Consumer: d.consumerName,
		Streams:  []string{messaging.WriteStream(accountID.String())},
		Handler:  &writeJobHandler{pool: d.pool},
		Logger:   d.log,
	})
	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		logger.WithError(err).Warn("write consumer for account %s stopped", accountID)
	}
}
