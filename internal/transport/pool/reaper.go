package pool

import (
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/marketwire/internal/transport/fault"
)

// Start launches the reaper. It sweeps every SweepInterval, closing expired
// connections then those idle past IdleTimeout. Calling Start again is a no-op.
func (p *Pool) Start() error {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	if p.closed.Load() {
		return fault.New(fault.ErrPoolClosed, fault.PhaseConnect, "start", "", nil)
	}
	if p.started.Swap(true) {
		return nil
	}

	go p.reap()
	p.logger.Info("Reaper started",
		zap.Duration("sweep_interval", p.settings.SweepInterval),
		zap.Duration("idle_timeout", p.settings.IdleTimeout),
	)
	return nil
}

// Wake asks the reaper to sweep now instead of waiting for the next tick.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) reap() {
	defer close(p.done)

	ticker := time.NewTicker(p.settings.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.life.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}
		p.sweep()
	}
}

func (p *Pool) sweep() {
	expired, err := p.CloseExpired()
	if err != nil {
		return
	}
	idle, err := p.CloseIdleOlderThan(p.settings.IdleTimeout)
	if err != nil {
		return
	}

	p.metrics.AddPoolReaped("expired", expired)
	p.metrics.AddPoolReaped("idle", idle)
	if expired+idle > 0 {
		p.logger.Debug("Reaped connections",
			zap.Int("expired", expired),
			zap.Int("idle", idle),
		)
	}
}
