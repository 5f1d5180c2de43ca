package bootstrap

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"tminus/adapter/in/worker"
	"tminus/adapter/out/messaging"
	"tminus/config"
)

// Worker owns the Sync and Write Pipelines: the Redis consumer(s) that read
// sync.poll / write.dispatch jobs off their streams, the go-pkgz/pool that
// runs them, and the schedulers that keep the queues fed.
type Worker struct {
	pool            *worker.Pool
	syncConsumer    *messaging.Consumer
	writeDispatcher *worker.WriteDispatcher
	startupSync     *worker.StartupSyncScheduler
	deps            *Dependencies

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	zlog   zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	syncProcessor := worker.NewSyncProcessor(deps.AccountRepo, deps.Accounts, deps.Graph, deps.ProviderFactory, deps.WriteQueue)
	writeProcessor := worker.NewWriteProcessor(deps.AccountRepo, deps.Accounts, deps.Graph, deps.ProviderFactory, deps.WriteQueue)
	handler := worker.NewHandler(syncProcessor, writeProcessor)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerMax > 0 {
		poolConfig.MaxWorkers = cfg.WorkerMax
	}
	if cfg.WorkerQueueSize > 0 {
		poolConfig.QueueSize = cfg.WorkerQueueSize
	}

	pool := worker.NewPool(handler, poolConfig, zlog)

	ctx, cancel := context.WithCancel(context.Background())

	syncConsumer := worker.NewSyncConsumer(deps.Redis, cfg.WorkerID, pool, zlog)
	writeDispatcher := worker.NewWriteDispatcher(deps.Redis, deps.AccountRepo, pool, cfg.WorkerID, zlog)
	startupSync := worker.NewStartupSyncScheduler(deps.AccountRepo, deps.SyncQueue)

	w := &Worker{
		pool:            pool,
		syncConsumer:    syncConsumer,
		writeDispatcher: writeDispatcher,
		startupSync:     startupSync,
		deps:            deps,
		ctx:             ctx,
		cancel:          cancel,
		zlog:            zlog,
	}

	return w, cleanup, nil
}

// Start runs the pool, the shared sync:poll consumer, the per-account
// write dispatcher, and the startup/stale-account sync scheduler until
// Stop cancels the worker's context. Blocks until then.
func (w *Worker) Start() {
	w.pool.Start()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.syncConsumer.Run(w.ctx); err != nil && w.ctx.Err() == nil {
			w.zlog.Error().Err(err).Msg("sync consumer stopped")
		}
	}()

	w.writeDispatcher.Start()
	w.startupSync.Start()

	w.zlog.Info().Msg("worker started")
	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()
	w.startupSync.Stop()
	w.writeDispatcher.Stop()
	w.pool.Stop()
	w.wg.Wait()
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
