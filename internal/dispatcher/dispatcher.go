// Package dispatcher fans the site registry out onto the work log on a fixed
// period.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-uptime/internal/metrics"
	"github.com/JakeFAU/realtime-uptime/internal/monitor"
)

const (
	defaultInterval     = 3 * time.Minute
	defaultCycleTimeout = time.Minute
)

// Config controls dispatch cadence.
type Config struct {
	Interval time.Duration
	// CycleTimeout bounds one registry read plus its appends.
	CycleTimeout time.Duration
}

// Dispatcher appends one work entry per registered site each cycle.
type Dispatcher struct {
	registry monitor.SiteRegistry
	log      monitor.WorkLog
	clock    monitor.Clock
	cfg      Config
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(
	registry monitor.SiteRegistry,
	log monitor.WorkLog,
	clock monitor.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = defaultCycleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry: registry,
		log:      log,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("dispatcher"),
	}
}

// Run dispatches immediately and then every Interval until ctx is done.
// Cycle errors are logged; the next tick retries.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", zap.Duration("interval", d.cfg.Interval))
	for {
		if ctx.Err() != nil {
			d.logger.Info("dispatcher stopped")
			return
		}
		// A cycle that has started finishes even if shutdown arrives mid-way,
		// but never runs past CycleTimeout.
		cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.CycleTimeout)
		if _, err := d.RunOnce(cycleCtx); err != nil {
			d.logger.Error("dispatch cycle failed", zap.Error(err))
		}
		cancel()
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return
		case <-d.clock.After(d.cfg.Interval):
		}
	}
}

// RunOnce performs a single dispatch cycle and reports how many entries were
// appended. An append failure abandons the rest of the cycle.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	appended, err := d.dispatch(ctx)
	metrics.ObserveDispatch(appended, err)
	return appended, err
}

func (d *Dispatcher) dispatch(ctx context.Context) (int, error) {
	sites, err := d.registry.ListSites(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sites: %w", err)
	}
	if len(sites) == 0 {
		d.logger.Info("no websites registered, skipping cycle")
		return 0, nil
	}
	appended := 0
	for _, site := range sites {
		id, err := d.log.Append(ctx, site)
		if err != nil {
			return appended, fmt.Errorf("append site %s: %w", site.ID, err)
		}
		appended++
		d.logger.Debug("dispatched site",
			zap.String("site_id", site.ID),
			zap.String("entry_id", id),
		)
	}
	d.logger.Info("dispatch cycle complete", zap.Int("entries", appended))
	return appended, nil
}
