package delivery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const recoveryWindow = time.Minute

// FailoverPublisher prefers the primary sender and falls back to a local
// publisher while the primary is failing. The primary is probed again once
// recoveryWindow has elapsed.
type FailoverPublisher struct {
	primary  Sender
	fallback Publisher
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverPublisher(primary Sender, fallback Publisher, logger *zerolog.Logger) *FailoverPublisher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverPublisher{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *FailoverPublisher) Publish(ctx context.Context, address string, event Event) {
	if p.shouldTryPrimary() {
		err := p.primary.Send(ctx, address, event)
		if err == nil {
			if p.isDown.Swap(false) {
				p.logger.Info().Msg("Primary delivery channel recovered")
			}
			return
		}
		if !p.isDown.Swap(true) {
			p.logger.Error().Err(err).Msg("Primary delivery channel failed, falling back to local hub")
		}
		p.mu.Lock()
		p.lastCheck = p.now()
		p.mu.Unlock()
	}

	p.fallback.Publish(ctx, address, event)
}

func (p *FailoverPublisher) shouldTryPrimary() bool {
	if !p.isDown.Load() {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now().Sub(p.lastCheck) > recoveryWindow
}

// Degraded reports whether events are currently routed to the fallback.
func (p *FailoverPublisher) Degraded() bool {
	return p.isDown.Load()
}
