package worker

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"

	"tminus/pkg/metrics"
)

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	MaxWorkers       int
	QueueSize        int
	JobTimeout       time.Duration
	JobTimeoutByType map[JobType]time.Duration
	BatchSize        int
	WorkerChanSize   int
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxWorkers:     20,
		QueueSize:      1000,
		JobTimeout:     60 * time.Second,
		BatchSize:      10,
		WorkerChanSize: 100,
		JobTimeoutByType: map[JobType]time.Duration{
			JobSyncPoll:      3 * time.Minute,  // provider list calls over a two-year window (a year back, a year forward)
			JobWriteDispatch: 30 * time.Second, // single create/patch/delete call
		},
	}
}

// Pool is an intelligent worker pool built on go-pkgz/pool: a main pool
// for ordinary jobs and a smaller priority pool for webhook-triggered
// polls, plus a dead letter queue for jobs that exhaust their retries.
type Pool struct {
	handler *Handler
	config  *PoolConfig

	pool         *pool.WorkerGroup[*Message]
	priorityPool *pool.WorkerGroup[*Message]

	ctx    context.Context
	cancel context.CancelFunc

	metrics *PoolMetrics
	log     zerolog.Logger

	rateLimiter *RateLimiter

	priorityJobs chan *Message

	dlq   chan *Message
	dlqWg sync.WaitGroup

	started bool
	mu      sync.Mutex
}

// PoolMetrics holds pool metrics.
type PoolMetrics struct {
	JobsProcessed     int64
	JobsFailed        int64
	JobsDropped       int64
	JobsRetried       int64
	AvgProcessTime    int64 // milliseconds
	CurrentWorkers    int32
	QueueSize         int32
	PriorityQueueSize int32
}

// messageWorker implements pool.Worker for Message processing.
type messageWorker struct {
	pool *Pool
}

func (w *messageWorker) Do(ctx context.Context, msg *Message) error {
	return w.pool.processJob(ctx, msg)
}

// NewPool creates a new intelligent worker pool using go-pkgz/pool.
func NewPool(handler *Handler, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		handler:      handler,
		config:       config,
		ctx:          ctx,
		cancel:       cancel,
		metrics:      &PoolMetrics{},
		log:          log.With().Str("component", "worker_pool").Logger(),
		rateLimiter:  NewRateLimiter(100, time.Second),
		priorityJobs: make(chan *Message, config.QueueSize/10),
		dlq:          make(chan *Message, 100),
	}
}

// Start starts the worker pool.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	worker := &messageWorker{pool: p}
	p.pool = pool.New[*Message](p.config.MaxWorkers, worker).
		WithBatchSize(p.config.BatchSize).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	priorityWorker := &messageWorker{pool: p}
	p.priorityPool = pool.New[*Message](p.config.MaxWorkers/4+1, priorityWorker).
		WithBatchSize(p.config.BatchSize/2 + 1).
		WithWorkerChanSize(p.config.WorkerChanSize/2 + 1).
		WithContinueOnError()

	if err := p.pool.Go(p.ctx); err != nil {
		p.log.Error().Err(err).Msg("failed to start main pool")
		return
	}
	if err := p.priorityPool.Go(p.ctx); err != nil {
		p.log.Error().Err(err).Msg("failed to start priority pool")
		return
	}

	p.started = true

	p.dlqWg.Add(1)
	go p.dlqProcessor()
	go p.metricsReporter()
	go p.priorityQueueConsumer()

	p.log.Info().
		Int("max_workers", p.config.MaxWorkers).
		Int("queue_size", p.config.QueueSize).
		Int("batch_size", p.config.BatchSize).
		Msg("worker pool started")
}

// Stop gracefully stops the worker pool.
func (p *Pool) Stop() {
	p.log.Info().Msg("stopping worker pool...")

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()

	if p.pool != nil {
		if err := p.pool.Close(closeCtx); err != nil {
			p.log.Warn().Err(err).Msg("error closing main pool")
		}
	}
	if p.priorityPool != nil {
		if err := p.priorityPool.Close(closeCtx); err != nil {
			p.log.Warn().Err(err).Msg("error closing priority pool")
		}
	}

	p.cancel()

	close(p.dlq)
	close(p.priorityJobs)
	p.dlqWg.Wait()

	p.log.Info().
		Int64("processed", p.metrics.JobsProcessed).
		Int64("failed", p.metrics.JobsFailed).
		Msg("worker pool stopped")
}

// Submit submits a job to the pool.
func (p *Pool) Submit(msg *Message) bool {
	p.mu.Lock()
	if !p.started || p.pool == nil {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	if !p.rateLimiter.Allow() {
		atomic.AddInt64(&p.metrics.JobsDropped, 1)
		metrics.JobsDroppedTotal.WithLabelValues(string(msg.Type)).Inc()
		p.log.Warn().
			Str("job_id", msg.ID).
			Str("job_type", string(msg.Type)).
			Msg("job dropped due to rate limiting")
		return false
	}

	p.pool.Submit(msg)
	atomic.AddInt32(&p.metrics.QueueSize, 1)
	metrics.QueueDepth.WithLabelValues("main").Set(float64(atomic.LoadInt32(&p.metrics.QueueSize)))
	return true
}

// SubmitBatch submits multiple jobs as a batch for better throughput.
func (p *Pool) SubmitBatch(msgs []*Message) int {
	p.mu.Lock()
	if !p.started || p.pool == nil || len(msgs) == 0 {
		p.mu.Unlock()
		return 0
	}
	p.mu.Unlock()

	submitted := 0
	for _, msg := range msgs {
		if p.rateLimiter.Allow() {
			p.pool.Submit(msg)
			atomic.AddInt32(&p.metrics.QueueSize, 1)
			submitted++
		} else {
			atomic.AddInt64(&p.metrics.JobsDropped, 1)
		}
	}

	return submitted
}

// SubmitPriority submits a priority job (a webhook-triggered poll).
func (p *Pool) SubmitPriority(msg *Message) bool {
	select {
	case p.priorityJobs <- msg:
		atomic.AddInt32(&p.metrics.PriorityQueueSize, 1)
		return true
	default:
		return p.Submit(msg)
	}
}

func (p *Pool) priorityQueueConsumer() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-p.priorityJobs:
			if !ok {
				return
			}
			atomic.AddInt32(&p.metrics.PriorityQueueSize, -1)
			p.mu.Lock()
			started := p.started
			pool := p.priorityPool
			p.mu.Unlock()

			if started && pool != nil {
				pool.Submit(msg)
			}
		}
	}
}

func (p *Pool) getJobTimeout(jobType JobType) time.Duration {
	if timeout, ok := p.config.JobTimeoutByType[jobType]; ok {
		return timeout
	}
	return p.config.JobTimeout
}

func (p *Pool) processJob(ctx context.Context, msg *Message) error {
	start := time.Now()
	timer := metrics.NewTimer()
	defer func() {
		atomic.AddInt32(&p.metrics.QueueSize, -1)
		timer.ObserveDuration(metrics.JobDuration.WithLabelValues(string(msg.Type)))
	}()

	timeout := p.getJobTimeout(msg.Type)
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.handler.Process(jobCtx, msg)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-jobCtx.Done():
		if jobCtx.Err() == context.DeadlineExceeded {
			err = context.DeadlineExceeded
			p.log.Warn().
				Str("job_id", msg.ID).
				Str("job_type", string(msg.Type)).
				Dur("timeout", timeout).
				Msg("job timed out")
		} else {
			err = jobCtx.Err()
		}
	}

	elapsed := time.Since(start).Milliseconds()
	p.updateAvgProcessTime(elapsed)

	if err != nil {
		p.log.Error().
			Err(err).
			Str("job_id", msg.ID).
			Str("job_type", string(msg.Type)).
			Int("retries", msg.Retries).
			Msg("job processing failed")

		if msg.Retries < 3 {
			msg.Retries++
			atomic.AddInt64(&p.metrics.JobsRetried, 1)
			metrics.JobsRetriedTotal.WithLabelValues(string(msg.Type)).Inc()

			// Exponential backoff with jitter to avoid a thundering herd
			// of simultaneous retries.
			base := time.Duration(1<<msg.Retries) * time.Second
			jitter := time.Duration(rand.Intn(500)) * time.Millisecond
			backoff := base + jitter

			time.AfterFunc(backoff, func() {
				p.Submit(msg)
			})
		} else {
			atomic.AddInt64(&p.metrics.JobsFailed, 1)
			metrics.JobsFailedTotal.WithLabelValues(string(msg.Type)).Inc()
			select {
			case p.dlq <- msg:
				p.log.Warn().
					Str("job_id", msg.ID).
					Str("job_type", string(msg.Type)).
					Msg("job moved to DLQ after max retries")
			default:
				p.log.Error().
					Str("job_id", msg.ID).
					Msg("DLQ full, job lost")
			}
		}
		return err
	}

	atomic.AddInt64(&p.metrics.JobsProcessed, 1)
	metrics.JobsProcessedTotal.WithLabelValues(string(msg.Type)).Inc()
	return nil
}

func (p *Pool) updateAvgProcessTime(elapsed int64) {
	current := atomic.LoadInt64(&p.metrics.AvgProcessTime)
	if current == 0 {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, elapsed)
	} else {
		newAvg := (current*9 + elapsed) / 10
		atomic.StoreInt64(&p.metrics.AvgProcessTime, newAvg)
	}
}

func (p *Pool) dlqProcessor() {
	defer p.dlqWg.Done()

	for {
		select {
		case <-p.ctx.Done():
			for msg := range p.dlq {
				p.log.Error().
					Str("job_id", msg.ID).
					Str("job_type", string(msg.Type)).
					Msg("DLQ: job lost during shutdown")
			}
			return
		case msg, ok := <-p.dlq:
			if !ok {
				return
			}
			p.log.Error().
				Str("job_id", msg.ID).
				Str("job_type", string(msg.Type)).
				Int("retries", msg.Retries).
				Interface("payload", msg.Payload).
				Msg("DLQ: job permanently failed")

			p.handler.DeadLetter(p.ctx, msg)
		}
	}
}

func (p *Pool) metricsReporter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.log.Info().
				Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
				Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
				Int64("dropped", atomic.LoadInt64(&p.metrics.JobsDropped)).
				Int64("retried", atomic.LoadInt64(&p.metrics.JobsRetried)).
				Int64("avg_process_ms", atomic.LoadInt64(&p.metrics.AvgProcessTime)).
				Int32("queue_size", atomic.LoadInt32(&p.metrics.QueueSize)).
				Int32("priority_queue", atomic.LoadInt32(&p.metrics.PriorityQueueSize)).
				Msg("worker pool metrics")
		}
	}
}

// GetMetrics returns current pool metrics.
func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed:     atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:        atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsDropped:       atomic.LoadInt64(&p.metrics.JobsDropped),
		JobsRetried:       atomic.LoadInt64(&p.metrics.JobsRetried),
		AvgProcessTime:    atomic.LoadInt64(&p.metrics.AvgProcessTime),
		CurrentWorkers:    int32(p.config.MaxWorkers),
		QueueSize:         atomic.LoadInt32(&p.metrics.QueueSize),
		PriorityQueueSize: atomic.LoadInt32(&p.metrics.PriorityQueueSize),
	}
}

// Wait waits for all submitted jobs to complete.
func (p *Pool) Wait() error {
	p.mu.Lock()
	pool := p.pool
	p.mu.Unlock()

	if pool != nil {
		return pool.Wait(p.ctx)
	}
	return nil
}

// RateLimiter implements lock-free token bucket rate limiting using atomic
// operations, avoiding mutex contention under the pool's submit-heavy path.
type RateLimiter struct {
	tokens       int64
	maxTokens    int64
	refillRate   int64
	intervalNs   int64
	lastRefillNs int64
}

func NewRateLimiter(ratePerSecond int, interval time.Duration) *RateLimiter {
	tokens := int64(ratePerSecond)
	return &RateLimiter{
		tokens:       tokens,
		maxTokens:    tokens,
		refillRate:   tokens,
		intervalNs:   int64(interval),
		lastRefillNs: time.Now().UnixNano(),
	}
}

func (r *RateLimiter) Allow() bool {
	now := time.Now().UnixNano()
	intervalNs := atomic.LoadInt64(&r.intervalNs)
	lastRefill := atomic.LoadInt64(&r.lastRefillNs)

	elapsed := now - lastRefill
	if elapsed >= intervalNs {
		intervals := elapsed / intervalNs
		refillRate := atomic.LoadInt64(&r.refillRate)
		maxTokens := atomic.LoadInt64(&r.maxTokens)
		tokensToAdd := intervals * refillRate

		if atomic.CompareAndSwapInt64(&r.lastRefillNs, lastRefill, now) {
			for {
				current := atomic.LoadInt64(&r.tokens)
				newTokens := current + tokensToAdd
				if newTokens > maxTokens {
					newTokens = maxTokens
				}
				if atomic.CompareAndSwapInt64(&r.tokens, current, newTokens) {
					break
				}
			}
		}
	}

	for {
		current := atomic.LoadInt64(&r.tokens)
		if current <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&r.tokens, current, current-1) {
			return true
		}
	}
}

// SetRate updates the rate limit atomically.
func (r *RateLimiter) SetRate(ratePerSecond int) {
	atomic.StoreInt64(&r.maxTokens, int64(ratePerSecond))
	atomic.StoreInt64(&r.refillRate, int64(ratePerSecond))
}
