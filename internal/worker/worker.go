// Package worker implements the region probe loop: claim work entries,
// probe each site, enqueue the outcome and acknowledge the entry.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-uptime/internal/metrics"
	"github.com/JakeFAU/realtime-uptime/internal/monitor"
)

const (
	defaultClaimCount   = 5
	defaultPollInterval = time.Second
	defaultErrorBackoff = 5 * time.Second
	defaultBatchTimeout = 2 * time.Minute
	// startOfPending reads a consumer's pending entries from the beginning.
	startOfPending = "0"
)

// Config controls Worker behavior.
type Config struct {
	RegionID         string
	ConsumerID       string
	ClaimCount       int
	ProbeConcurrency int
	PollInterval     time.Duration
	ErrorBackoff     time.Duration
	// ClaimIdle enables takeover of entries left pending on other consumers
	// for at least this long. Zero disables it.
	ClaimIdle      time.Duration
	RecoverPending bool
	// BatchTimeout bounds one claim, probe, enqueue and ack pass.
	BatchTimeout time.Duration
}

// Worker is one consumer in a region's consumer group.
type Worker struct {
	log      monitor.WorkLog
	claimer  monitor.PendingClaimer
	outcomes monitor.OutcomeQueue
	prober   monitor.Prober
	ids      monitor.IDGenerator
	clock    monitor.Clock
	cfg      Config
	logger   *zap.Logger

	mu          sync.Mutex
	recovering  bool
	recoverFrom string
}

// New constructs a Worker. Pending recovery and idle takeover are only
// available when log also implements monitor.PendingClaimer.
func New(
	log monitor.WorkLog,
	outcomes monitor.OutcomeQueue,
	prober monitor.Prober,
	ids monitor.IDGenerator,
	clock monitor.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ClaimCount <= 0 {
		cfg.ClaimCount = defaultClaimCount
	}
	if cfg.ProbeConcurrency <= 0 {
		cfg.ProbeConcurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	claimer, _ := log.(monitor.PendingClaimer)
	return &Worker{
		log:         log,
		claimer:     claimer,
		outcomes:    outcomes,
		prober:      prober,
		ids:         ids,
		clock:       clock,
		cfg:         cfg,
		recovering:  cfg.RecoverPending && claimer != nil,
		recoverFrom: startOfPending,
		logger: logger.Named("worker").With(
			zap.String("region_id", cfg.RegionID),
			zap.String("worker_id", cfg.ConsumerID),
		),
	}
}

// Run polls until ctx is done. Loop-level errors are logged and followed by
// a longer backoff; they never stop the loop.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return
		}
		wait := w.cfg.PollInterval
		// The claimed batch is probed, enqueued and acked even if shutdown
		// arrives mid-way, within BatchTimeout.
		pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.BatchTimeout)
		_, err := w.PollOnce(pollCtx)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, monitor.ErrMalformedEntry):
			w.logger.Error("malformed batch aborted, entries left pending", zap.Error(err))
		default:
			w.logger.Error("worker loop error", zap.Error(err))
			wait = w.cfg.ErrorBackoff
		}
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		case <-w.clock.After(wait):
		}
	}
}

// PollOnce claims one batch and processes it, returning the number of
// entries handled. A freshly delivered batch with a malformed entry is
// abandoned without acknowledgment and the consumer's pending entries are
// re-read on the next poll. Redelivered entries are parsed one by one: valid
// ones are processed, malformed ones stay pending.
func (w *Worker) PollOnce(ctx context.Context) (int, error) {
	raw, redelivered, err := w.claim(ctx)
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, nil
	}

	var entries []monitor.WorkEntry
	if redelivered {
		entries = w.parseEach(raw)
	} else {
		entries, err = monitor.ParseEntries(raw)
		if err != nil {
			metrics.ObserveMalformedBatch(w.cfg.RegionID)
			w.startRecovery()
			return 0, fmt.Errorf("parse claimed batch: %w", err)
		}
	}
	if len(entries) == 0 {
		return 0, nil
	}
	w.logger.Debug("processing batch", zap.Int("entries", len(entries)), zap.Bool("redelivered", redelivered))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.ProbeConcurrency)
	for _, entry := range entries {
		g.Go(func() error {
			w.handle(gctx, entry)
			return nil
		})
	}
	_ = g.Wait()
	return len(entries), nil
}

// parseEach decodes redelivered entries individually so one bad entry does not
// hold back the rest.
func (w *Worker) parseEach(raw []monitor.RawEntry) []monitor.WorkEntry {
	entries := make([]monitor.WorkEntry, 0, len(raw))
	for _, r := range raw {
		parsed, err := monitor.ParseEntries([]monitor.RawEntry{r})
		if err != nil {
			metrics.ObserveMalformedBatch(w.cfg.RegionID)
			w.logger.Warn("malformed entry left pending", zap.String("entry_id", r.ID), zap.Error(err))
			continue
		}
		entries = append(entries, parsed...)
	}
	return entries
}

// claim returns the next batch and whether it was delivered before. Own
// pending entries are walked page by page while recovering, then stale
// entries of other consumers, then new entries.
func (w *Worker) claim(ctx context.Context) ([]monitor.RawEntry, bool, error) {
	if from, ok := w.recoveryCursor(); ok {
		raw, err := w.claimer.ClaimOwnPending(ctx, w.cfg.RegionID, w.cfg.ConsumerID, from, w.cfg.ClaimCount)
		if err != nil {
			return nil, false, fmt.Errorf("recover pending entries: %w", err)
		}
		if len(raw) > 0 {
			w.logger.Info("recovering pending entries", zap.Int("entries", len(raw)))
			w.advanceRecovery(raw[len(raw)-1].ID)
			return raw, true, nil
		}
		w.stopRecovery()
	}
	if w.cfg.ClaimIdle > 0 && w.claimer != nil {
		raw, err := w.claimer.ClaimStale(ctx, w.cfg.RegionID, w.cfg.ConsumerID, w.cfg.ClaimIdle, w.cfg.ClaimCount)
		if err != nil {
			return nil, false, fmt.Errorf("claim stale entries: %w", err)
		}
		if len(raw) > 0 {
			w.logger.Info("took over stale entries", zap.Int("entries", len(raw)))
			return raw, true, nil
		}
	}
	raw, err := w.log.Claim(ctx, w.cfg.RegionID, w.cfg.ConsumerID, w.cfg.ClaimCount)
	if err != nil {
		return nil, false, fmt.Errorf("claim entries: %w", err)
	}
	return raw, false, nil
}

// handle probes one entry, enqueues its outcome and acknowledges it. The ack
// happens only after the enqueue returned; a failed enqueue is logged as a
// lost measurement and the entry is still acked.
func (w *Worker) handle(ctx context.Context, entry monitor.WorkEntry) {
	logger := w.logger.With(
		zap.String("site_id", entry.SiteID),
		zap.String("entry_id", entry.EntryID),
	)
	result := w.prober.Probe(ctx, entry.URL)
	metrics.ObserveProbe(w.cfg.RegionID, string(result.Status), result.ResponseTime)

	logFields := []zap.Field{
		zap.String("url", entry.URL),
		zap.String("status", string(result.Status)),
		zap.Int("status_code", result.StatusCode),
		zap.Duration("response_time", result.ResponseTime),
	}
	if result.ErrorMessage != nil {
		logFields = append(logFields, zap.String("error_message", *result.ErrorMessage))
	}
	logger.Debug("probe complete", logFields...)

	if err := w.enqueue(ctx, entry, result); err != nil {
		metrics.ObserveLostMeasurement(w.cfg.RegionID)
		logger.Error("measurement lost", zap.String("url", entry.URL), zap.Error(err))
	}

	if err := w.log.Acknowledge(ctx, w.cfg.RegionID, entry.EntryID); err != nil {
		logger.Error("acknowledge entry failed", zap.Error(err))
		return
	}
	metrics.ObserveAck(w.cfg.RegionID)
}

func (w *Worker) enqueue(ctx context.Context, entry monitor.WorkEntry, result monitor.ProbeResult) error {
	id, err := w.ids.NewID()
	if err != nil {
		return fmt.Errorf("tick id: %w", err)
	}
	outcome := monitor.Outcome{
		ID:             id,
		SiteID:         entry.SiteID,
		RegionID:       w.cfg.RegionID,
		Status:         result.Status,
		ResponseTimeMs: result.ResponseTime.Milliseconds(),
		ErrorMessage:   result.ErrorMessage,
		ResponseBody:   result.Body,
		ObservedAt:     w.clock.Now(),
	}
	if err := w.outcomes.Push(ctx, outcome); err != nil {
		return fmt.Errorf("enqueue outcome: %w", err)
	}
	return nil
}

func (w *Worker) recoveryCursor() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.recoverFrom, w.recovering
}

func (w *Worker) startRecovery() {
	if w.claimer == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recovering = true
	w.recoverFrom = startOfPending
}

func (w *Worker) advanceRecovery(lastID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recoverFrom = lastID
}

func (w *Worker) stopRecovery() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recovering = false
	w.recoverFrom = startOfPending
}
