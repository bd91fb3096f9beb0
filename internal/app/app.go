// Package app builds the long-lived services each role needs from config and
// owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-uptime/internal/api"
	"github.com/JakeFAU/realtime-uptime/internal/clock/system"
	"github.com/JakeFAU/realtime-uptime/internal/config"
	"github.com/JakeFAU/realtime-uptime/internal/consumer"
	"github.com/JakeFAU/realtime-uptime/internal/dispatcher"
	"github.com/JakeFAU/realtime-uptime/internal/id/uuid"
	"github.com/JakeFAU/realtime-uptime/internal/metrics"
	"github.com/JakeFAU/realtime-uptime/internal/monitor"
	"github.com/JakeFAU/realtime-uptime/internal/probe"
	"github.com/JakeFAU/realtime-uptime/internal/provision"
	redisq "github.com/JakeFAU/realtime-uptime/internal/queue/redis"
	"github.com/JakeFAU/realtime-uptime/internal/storage/postgres"
	"github.com/JakeFAU/realtime-uptime/internal/storage/sqlite"
	"github.com/JakeFAU/realtime-uptime/internal/worker"
)

// Store is the permanent store plus the registry reads every backend offers.
type Store interface {
	monitor.SiteRegistry
	monitor.RegionRegistry
	monitor.TickStore
	Ping(ctx context.Context) error
}

// App holds the shared services for one process. Connections are opened
// lazily so a role only dials what it uses.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  monitor.Clock

	mu      sync.Mutex
	redis   *goredis.Client
	store   Store
	closers []func() error
	checks  map[string]api.Check
}

// New creates an App. It does not connect to anything yet.
func New(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		checks: make(map[string]api.Check),
	}
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

func (a *App) redisClient(ctx context.Context) (*goredis.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := redisq.NewClient(ctx, a.cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.closers = append(a.closers, client.Close)
	a.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	a.logger.Info("connected to redis")
	return client, nil
}

// Store opens the configured permanent store.
func (a *App) Store(ctx context.Context) (Store, error) {
	if err := a.cfg.ValidateDatabase(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		return a.store, nil
	}
	switch a.cfg.Database.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(ctx, sqlite.Config{
			DSN:        a.cfg.Database.DSN,
			TicksTable: a.cfg.Database.TicksTable,
		})
		if err != nil {
			return nil, err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	default:
		s, err := postgres.New(ctx, postgres.Config{
			DSN:        a.cfg.Database.DSN,
			TicksTable: a.cfg.Database.TicksTable,
			MaxConns:   a.cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		a.store = s
		a.closers = append(a.closers, func() error { s.Close(); return nil })
	}
	a.checks["database"] = a.store.Ping
	a.logger.Info("connected to permanent store", zap.String("driver", a.cfg.Database.Driver))
	return a.store, nil
}

// WorkLog returns the Redis-backed work log.
func (a *App) WorkLog(ctx context.Context) (*redisq.WorkLog, error) {
	client, err := a.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	return redisq.NewWorkLog(client, redisq.WorkLogConfig{
		Stream: a.cfg.WorkLog.Stream,
		MaxLen: a.cfg.WorkLog.MaxLen,
		Block:  a.cfg.ReadBlock(),
	})
}

// OutcomeQueue returns the Redis-backed outcome queue.
func (a *App) OutcomeQueue(ctx context.Context) (*redisq.OutcomeQueue, error) {
	client, err := a.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	return redisq.NewOutcomeQueue(client, a.cfg.Outcomes.Key)
}

// Dispatcher builds the dispatcher role.
func (a *App) Dispatcher(ctx context.Context) (*dispatcher.Dispatcher, error) {
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	log, err := a.WorkLog(ctx)
	if err != nil {
		return nil, err
	}
	return dispatcher.New(store, log, a.clock, dispatcher.Config{
		Interval:     a.cfg.DispatchInterval(),
		CycleTimeout: a.cfg.DispatchCycleTimeout(),
	}, a.logger), nil
}

// Workers builds the region worker pool. It fails before any connection is
// made when the worker identity is missing.
func (a *App) Workers(ctx context.Context) (*worker.Pool, error) {
	if err := a.cfg.ValidateWorker(); err != nil {
		return nil, err
	}
	log, err := a.WorkLog(ctx)
	if err != nil {
		return nil, err
	}
	outcomes, err := a.OutcomeQueue(ctx)
	if err != nil {
		return nil, err
	}
	prober := probe.New(probe.Config{
		Timeout:      a.cfg.ProbeTimeout(),
		UserAgent:    a.cfg.Probe.UserAgent,
		MaxBodyBytes: a.cfg.Probe.MaxBodyBytes,
		HostRPS:      a.cfg.Probe.HostRPS,
		HostBurst:    a.cfg.Probe.HostBurst,
	})
	ids := uuid.New()

	instances := max(a.cfg.Worker.Instances, 1)
	workers := make([]*worker.Worker, 0, instances)
	for i := range instances {
		workers = append(workers, worker.New(log, outcomes, prober, ids, a.clock, worker.Config{
			RegionID:         a.cfg.Worker.RegionID,
			ConsumerID:       ConsumerName(a.cfg.Worker.WorkerID, i, instances),
			ClaimCount:       a.cfg.Worker.ClaimCount,
			ProbeConcurrency: a.cfg.Worker.ProbeConcurrency,
			PollInterval:     a.cfg.PollInterval(),
			ErrorBackoff:     a.cfg.WorkerErrorBackoff(),
			ClaimIdle:        a.cfg.ClaimIdle(),
			RecoverPending:   a.cfg.Worker.RecoverPending,
			BatchTimeout:     a.cfg.WorkerBatchTimeout(),
		}, a.logger))
	}
	return worker.NewPool(workers), nil
}

// ConsumerName is the consumer-group member name of instance i.
func ConsumerName(workerID string, i, instances int) string {
	if instances <= 1 {
		return workerID
	}
	return fmt.Sprintf("%s-%d", workerID, i)
}

// Consumer builds the batch persistence consumer.
func (a *App) Consumer(ctx context.Context) (*consumer.BatchConsumer, error) {
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	outcomes, err := a.OutcomeQueue(ctx)
	if err != nil {
		return nil, err
	}
	var lock monitor.DrainLock
	if ttl := a.cfg.LeaseTTL(); ttl > 0 {
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		lease, err := redisq.NewLease(client, a.cfg.Outcomes.LeaseKey, ttl)
		if err != nil {
			return nil, err
		}
		lock = lease
	}
	return consumer.New(outcomes, store, lock, a.clock, consumer.Config{
		BatchSize:     a.cfg.Batch.Size,
		Interval:      a.cfg.BatchInterval(),
		ErrorBackoff:  a.cfg.BatchErrorBackoff(),
		StatsInterval: a.cfg.StatsInterval(),
		BatchTimeout:  a.cfg.BatchCycleTimeout(),
	}, a.logger), nil
}

// Provisioner builds the consumer group provisioner. The region registry is
// only consulted when a database is configured.
func (a *App) Provisioner(ctx context.Context) (*provision.Provisioner, error) {
	log, err := a.WorkLog(ctx)
	if err != nil {
		return nil, err
	}
	var regions monitor.RegionRegistry
	if a.cfg.Database.DSN != "" {
		store, err := a.Store(ctx)
		if err != nil {
			return nil, err
		}
		regions = store
	}
	return provision.New(regions, log, a.logger), nil
}

// ServeOps starts the ops HTTP server in the background and shuts it down
// when ctx is done. An empty ops address disables it. The returned channel
// is closed once the server has stopped.
func (a *App) ServeOps(ctx context.Context, stats api.StatsSource) <-chan struct{} {
	done := make(chan struct{})
	if a.cfg.Ops.Addr == "" {
		close(done)
		return done
	}
	a.mu.Lock()
	checks := make(map[string]api.Check, len(a.checks))
	for k, v := range a.checks {
		checks[k] = v
	}
	a.mu.Unlock()

	srv := &http.Server{
		Addr:              a.cfg.Ops.Addr,
		Handler:           api.NewServer(a.logger, stats, checks).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		defer close(done)
		a.logger.Info("ops server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("ops server error", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("ops server shutdown error", zap.Error(err))
		}
	}()
	return done
}

// Close releases every opened connection in reverse order.
func (a *App) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
}
