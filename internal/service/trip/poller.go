package trip

import (
	"context"
	"sync"
	"time"
)

/*
Poller is a cooperative scheduled task with explicit pause/resume hooks, used
as a fallback to event delivery. It is paused while the view is not visible
and resumed on visibility return; ticks while paused are skipped, not queued.
*/
type Poller struct {
	interval time.Duration
	fn       func(ctx context.Context)

	mu     sync.Mutex
	paused bool
	cancel context.CancelFunc
}

func NewPoller(interval time.Duration, fn func(ctx context.Context)) *Poller {
	return &Poller{
		interval: interval,
		fn:       fn,
	}
}

// Start begins polling. Starting an already running poller is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	go p.loop(ctx)
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			paused := p.paused
			p.mu.Unlock()
			if paused {
				continue
			}
			p.fn(ctx)
		}
	}
}

// Pause suspends ticks (view went invisible).
func (p *Poller) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume re-enables ticks and fires one poll immediately so the view catches
// up without waiting a full interval.
func (p *Poller) Resume() {
	p.mu.Lock()
	wasPaused := p.paused
	p.paused = false
	running := p.cancel != nil
	p.mu.Unlock()

	if wasPaused && running {
		go p.fn(context.Background())
	}
}

// Stop is the cancel handle; invoked on teardown, role switch or logout.
// Stopping a stopped poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.paused = false
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
