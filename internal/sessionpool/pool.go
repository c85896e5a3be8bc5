// Package sessionpool implements the optional browser-context pool: a set
// of pre-warmed driver.PageDriver sessions with a configured max size, max
// age, minimum warm count, and periodic health checks. It is
// constructor-injected wherever a caller needs a driver session, never
// reached for as a global.
package sessionpool

import (
	"context"
	"sync"
	"time"

	"github.com/trytofly94/squash-booker/internal/driver"
	"github.com/trytofly94/squash-booker/internal/logging"
)

// Factory constructs a fresh driver.PageDriver session.
type Factory func(ctx context.Context) (driver.PageDriver, error)

// HealthCheck reports whether a pooled session is still usable.
type HealthCheck func(ctx context.Context, d driver.PageDriver) bool

// Config controls pool sizing and lifecycle.
type Config struct {
	MaxSize           int
	// MaxAge is measured from when a session was last put into the idle
	// pool (by Warm or Release), not from when it was created: every
	// Release restarts it.
	MaxAge            time.Duration
	MinWarm           int
	HealthCheckPeriod time.Duration
}

type pooledSession struct {
	driver   driver.PageDriver
	createdAt time.Time
}

// Pool manages a set of pre-warmed sessions. Acquire/Release are
// non-blocking when warm sessions exist.
type Pool struct {
	mu      sync.Mutex
	cfg     Config
	factory Factory
	health  HealthCheck
	log     *logging.Logger

	idle    []pooledSession
	inUse   int
	closed  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Pool. health may be nil to skip periodic health checks.
func New(cfg Config, factory Factory, health HealthCheck, log *logging.Logger) *Pool {
	if log == nil {
		log = logging.Noop()
	}
	p := &Pool{cfg: cfg, factory: factory, health: health, log: log, stopCh: make(chan struct{})}
	if cfg.HealthCheckPeriod > 0 && health != nil {
		p.wg.Add(1)
		go p.healthLoop()
	}
	return p
}

// Warm pre-creates sessions up to MinWarm.
func (p *Pool) Warm(ctx context.Context) error {
	p.mu.Lock()
	need := p.cfg.MinWarm - len(p.idle)
	p.mu.Unlock()
	for i := 0; i < need; i++ {
		d, err := p.factory(ctx)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.idle = append(p.idle, pooledSession{driver: d, createdAt: time.Now()})
		p.mu.Unlock()
	}
	return nil
}

// Acquire returns a warm session if one is available and not expired,
// otherwise creates a new one (blocking only on the underlying factory).
func (p *Pool) Acquire(ctx context.Context) (driver.PageDriver, error) {
	p.mu.Lock()
	for len(p.idle) > 0 {
		s := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.cfg.MaxAge > 0 && time.Since(s.createdAt) > p.cfg.MaxAge {
			p.mu.Unlock()
			_ = s.driver.Close()
			p.mu.Lock()
			continue
		}
		p.inUse++
		p.mu.Unlock()
		return s.driver, nil
	}
	p.mu.Unlock()

	d, err := p.factory(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.inUse++
	p.mu.Unlock()
	return d, nil
}

// Release returns a session to the idle pool, or closes it if the pool is
// at MaxSize or already closed.
func (p *Pool) Release(d driver.PageDriver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse--
	if p.closed || (p.cfg.MaxSize > 0 && len(p.idle) >= p.cfg.MaxSize) {
		p.mu.Unlock()
		_ = d.Close()
		p.mu.Lock()
		return
	}
	p.idle = append(p.idle, pooledSession{driver: d, createdAt: time.Now()})
}

// Discard closes a session without returning it to the pool, for a session
// a caller determined to be unhealthy.
func (p *Pool) Discard(d driver.PageDriver) {
	p.mu.Lock()
	p.inUse--
	p.mu.Unlock()
	_ = d.Close()
}

func (p *Pool) healthLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runHealthChecks()
		}
	}
}

func (p *Pool) runHealthChecks() {
	p.mu.Lock()
	sessions := append([]pooledSession{}, p.idle...)
	p.idle = p.idle[:0]
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	kept := sessions[:0]
	for _, s := range sessions {
		if p.health(ctx, s.driver) {
			kept = append(kept, s)
		} else {
			p.log.Warnw("sessionpool: dropping unhealthy session")
			_ = s.driver.Close()
		}
	}

	p.mu.Lock()
	p.idle = append(p.idle, kept...)
	p.mu.Unlock()
}

// Stats reports current pool occupancy.
type Stats struct {
	Idle  int
	InUse int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: len(p.idle), InUse: p.inUse}
}

// Close stops the health-check loop and closes every idle session.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()

	for _, s := range idle {
		_ = s.driver.Close()
	}
	return nil
}
