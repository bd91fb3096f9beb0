// Package provision creates one consumer group per region on the work log.
package provision

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-uptime/internal/monitor"
)

// Provisioner sets up consumer groups for known regions.
type Provisioner struct {
	regions monitor.RegionRegistry
	log     monitor.WorkLog
	logger  *zap.Logger
}

// New creates a Provisioner. regions may be nil when every region is passed
// explicitly to Run.
func New(regions monitor.RegionRegistry, log monitor.WorkLog, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{regions: regions, log: log, logger: logger.Named("provision")}
}

// Run creates a group for every registered region plus extra, skipping
// duplicates. Existing groups are left untouched. It returns the regions it
// provisioned and a joined error for those it could not.
func (p *Provisioner) Run(ctx context.Context, extra ...string) ([]string, error) {
	var regions []string
	if p.regions != nil {
		listed, err := p.regions.ListRegions(ctx)
		if err != nil {
			return nil, fmt.Errorf("list regions: %w", err)
		}
		regions = append(regions, listed...)
	}
	regions = append(regions, extra...)
	slices.Sort(regions)
	regions = slices.Compact(regions)
	regions = slices.DeleteFunc(regions, func(r string) bool { return r == "" })
	if len(regions) == 0 {
		return nil, errors.New("no regions to provision")
	}

	var (
		done []string
		errs []error
	)
	for _, region := range regions {
		if err := p.log.CreateGroup(ctx, region); err != nil {
			p.logger.Error("create consumer group failed", zap.String("region_id", region), zap.Error(err))
			errs = append(errs, fmt.Errorf("region %s: %w", region, err))
			continue
		}
		p.logger.Info("consumer group ready", zap.String("region_id", region))
		done = append(done, region)
	}
	return done, errors.Join(errs...)
}
