package directory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/models"
	"golang.org/x/sync/errgroup"
)

// Pinger checks whether a device answers at its address.
type Pinger interface {
	Ping(ctx context.Context, address string) error
}

// Prober periodically pings every known device with an address and updates
// its reachability.
type Prober struct {
	dir      *Directory
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	parallel int
}

func NewProber(dir *Directory, pinger Pinger, interval, timeout time.Duration) *Prober {
	return &Prober{dir: dir, pinger: pinger, interval: interval, timeout: timeout, parallel: 4}
}

// Run probes until ctx is cancelled. The first round runs immediately.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.ProbeOnce(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// ProbeOnce pings every device once.
func (p *Prober) ProbeOnce(ctx context.Context) {
	list, err := p.dir.repos.Devices(p.dir.db).List(ctx)
	if err != nil {
		p.dir.log.Error(ctx, "probe: list devices", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)
	for _, desc := range list {
		if desc.Address == "" {
			continue
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, p.timeout)
			err := p.pinger.Ping(pctx, desc.Address)
			cancel()

			reach := models.ReachabilityFor(desc.Role)
			if err != nil {
				p.dir.log.Debug(ctx, "probe failed", "device", desc.DeviceID, "error", err)
				reach = models.Unreachable
			}
			if ctx.Err() != nil {
				return nil
			}
			if err := p.dir.SetReachability(ctx, desc.DeviceID, reach); err != nil {
				p.dir.log.Error(ctx, "probe: set reachability", "device", desc.DeviceID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
