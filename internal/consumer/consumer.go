// Package consumer drains the outcome queue into the permanent store in
// batches.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-uptime/internal/metrics"
	"github.com/JakeFAU/realtime-uptime/internal/monitor"
)

const (
	defaultBatchSize     = 50
	defaultInterval      = 5 * time.Second
	defaultErrorBackoff  = 10 * time.Second
	defaultStatsInterval = 30 * time.Second
	defaultBatchTimeout  = 30 * time.Second
)

// Config controls batch sizing and cadence.
type Config struct {
	BatchSize     int
	Interval      time.Duration
	ErrorBackoff  time.Duration
	StatsInterval time.Duration
	// BatchTimeout bounds one cycle, including the insert, so a hung store
	// cannot hold up shutdown.
	BatchTimeout time.Duration
}

// BatchConsumer moves outcomes from the queue to the tick store. Items leave
// the queue only after the insert that contains them has committed.
type BatchConsumer struct {
	queue  monitor.OutcomeQueue
	store  monitor.TickStore
	lock   monitor.DrainLock
	clock  monitor.Clock
	cfg    Config
	logger *zap.Logger

	mu           sync.Mutex
	stats        monitor.BatchStats
	lastReportAt time.Time
}

// New constructs a BatchConsumer. lock may be nil when a single consumer
// drains the queue.
func New(
	queue monitor.OutcomeQueue,
	store monitor.TickStore,
	lock monitor.DrainLock,
	clock monitor.Clock,
	cfg Config,
	logger *zap.Logger,
) *BatchConsumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = defaultStatsInterval
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := clock.Now()
	return &BatchConsumer{
		queue:        queue,
		store:        store,
		lock:         lock,
		clock:        clock,
		cfg:          cfg,
		logger:       logger.Named("consumer"),
		stats:        monitor.BatchStats{StartedAt: now, LastProcessedAt: now},
		lastReportAt: now,
	}
}

// Stats returns a snapshot of the consumer's counters.
func (c *BatchConsumer) Stats() monitor.BatchStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Run processes batches until ctx is done, then reports final stats. A batch
// already in flight completes, or hits BatchTimeout, before Run returns.
func (c *BatchConsumer) Run(ctx context.Context) {
	c.logger.Info("batch consumer started",
		zap.Int("batch_size", c.cfg.BatchSize),
		zap.Duration("interval", c.cfg.Interval),
	)
	defer func() {
		c.logger.Info("batch consumer stopped")
		c.reportStats()
	}()
	for {
		if ctx.Err() != nil {
			return
		}
		wait := c.cfg.Interval
		batchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.BatchTimeout)
		_, err := c.ProcessBatch(batchCtx)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, monitor.ErrLeaseHeld):
			c.logger.Debug("drain lease held elsewhere, skipping cycle")
		default:
			c.logger.Error("batch processing failed", zap.Error(err))
			wait = c.cfg.ErrorBackoff
		}
		if c.clock.Now().Sub(c.lastReport()) >= c.cfg.StatsInterval {
			c.reportStats()
		}
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(wait):
		}
	}
}

// ProcessBatch runs one MEASURE, DRAIN, INSERT, TRIM cycle and returns the
// number of queue items removed.
func (c *BatchConsumer) ProcessBatch(ctx context.Context) (int, error) {
	length, err := c.queue.Len(ctx)
	if err != nil {
		c.recordFailure()
		return 0, fmt.Errorf("measure backlog: %w", err)
	}
	c.mu.Lock()
	c.stats.QueueLength = length
	c.mu.Unlock()
	metrics.SetQueueLength(length)
	if length == 0 {
		c.logger.Debug("queue is empty")
		return 0, nil
	}

	if c.lock != nil {
		release, err := c.lock.Acquire(ctx)
		if err != nil {
			if errors.Is(err, monitor.ErrLeaseHeld) {
				return 0, err
			}
			c.recordFailure()
			return 0, fmt.Errorf("acquire drain lease: %w", err)
		}
		defer func() {
			if err := release(ctx); err != nil {
				c.logger.Warn("release drain lease failed", zap.Error(err))
			}
		}()
	}

	items, err := c.queue.Peek(ctx, c.cfg.BatchSize)
	if err != nil {
		c.recordFailure()
		return 0, fmt.Errorf("read batch: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}
	c.logger.Debug("processing batch", zap.Int64("queue_length", length), zap.Int("batch", len(items)))

	outcomes := make([]monitor.Outcome, 0, len(items))
	for i, item := range items {
		o, err := monitor.DecodeOutcome(item)
		if err != nil {
			c.logger.Error("dropping undecodable queue item", zap.Int("position", i), zap.Error(err))
			continue
		}
		outcomes = append(outcomes, o)
	}

	start := time.Now()
	var inserted int64
	if len(outcomes) > 0 {
		inserted, err = c.store.InsertTicks(ctx, outcomes)
		if err != nil {
			c.recordFailure()
			metrics.ObserveBatch(0, err)
			return 0, fmt.Errorf("bulk insert %d ticks: %w", len(outcomes), err)
		}
	}
	if err := c.queue.Trim(ctx, len(items)); err != nil {
		c.recordFailure()
		return 0, fmt.Errorf("trim %d items: %w", len(items), err)
	}
	metrics.ObserveBatch(inserted, nil)

	c.mu.Lock()
	c.stats.Processed += int64(len(outcomes))
	c.stats.Dropped += int64(len(items) - len(outcomes))
	c.stats.LastBatchSize = len(items)
	c.stats.LastProcessedAt = c.clock.Now()
	c.stats.QueueLength = length - int64(len(items))
	c.mu.Unlock()
	metrics.SetQueueLength(length - int64(len(items)))

	c.logger.Info("batch persisted",
		zap.Int("drained", len(items)),
		zap.Int64("inserted", inserted),
		zap.Int("duplicates", len(outcomes)-int(inserted)),
		zap.Int("dropped", len(items)-len(outcomes)),
		zap.Duration("insert_duration", time.Since(start)),
	)
	return len(items), nil
}

func (c *BatchConsumer) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Failed++
}

func (c *BatchConsumer) lastReport() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReportAt
}

func (c *BatchConsumer) reportStats() {
	now := c.clock.Now()
	c.mu.Lock()
	s := c.stats
	c.lastReportAt = now
	c.mu.Unlock()
	c.logger.Info("batch consumer stats",
		zap.Int64("processed", s.Processed),
		zap.Int64("dropped", s.Dropped),
		zap.Int64("failed_batches", s.Failed),
		zap.Int64("queue_length", s.QueueLength),
		zap.Int("last_batch_size", s.LastBatchSize),
		zap.Time("last_processed_at", s.LastProcessedAt),
		zap.Duration("uptime", now.Sub(s.StartedAt)),
	)
}
