package mining

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bardlex/promine/internal/config"
	"github.com/bardlex/promine/internal/work"
	"github.com/bardlex/promine/pkg/errors"
	"github.com/bardlex/promine/pkg/log"
	"github.com/bardlex/promine/pkg/retry"
)

// Backoff tracks consecutive failures of one producer
type Backoff struct {
	schedule   *retry.Config
	maxErrors  int
	resetPause time.Duration
	errors     int
}

// NewBackoff builds the failure schedule of spec
func NewBackoff(spec config.ProducerSpec) *Backoff {
	return &Backoff{
		schedule:   retry.BackoffConfig(spec.BackoffBase.Duration, spec.BackoffMax.Duration),
		maxErrors:  spec.MaxConsecutiveErrors,
		resetPause: spec.ResetPause.Duration,
	}
}

// Failure records a failed iteration and returns the pause before the next
// one. Reaching the error limit clears the count and returns the reset pause.
func (b *Backoff) Failure() (pause time.Duration, reset bool) {
	b.errors++
	if b.errors >= b.maxErrors {
		b.errors = 0
		return b.resetPause, true
	}
	return b.schedule.Delay(b.errors), false
}

// Success clears the failure count
func (b *Backoff) Success() {
	b.errors = 0
}

// Errors returns the current consecutive failure count
func (b *Backoff) Errors() int {
	return b.errors
}

// producer submits work in a loop according to its spec
type producer struct {
	spec     config.ProducerSpec
	workType work.Type
	manager  *Manager
	rng      *rand.Rand
	backoff  *Backoff
	logger   *log.Logger
}

func newProducer(spec config.ProducerSpec, m *Manager, seed uint64) *producer {
	return &producer{
		spec:     spec,
		workType: work.Type(spec.WorkType),
		manager:  m,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		backoff:  NewBackoff(spec),
		logger:   m.logger.WithProducer(spec.Name, spec.WorkType),
	}
}

// difficulty draws the next difficulty, from the degraded range after
// repeated failures
func (p *producer) difficulty() int {
	lo, hi := p.spec.MinDifficulty, p.spec.MaxDifficulty
	if p.backoff.Errors() > p.spec.DegradeAfter {
		lo, hi = p.spec.DegradedMinDifficulty, p.spec.DegradedMaxDifficulty
	}
	return lo + p.rng.IntN(hi-lo+1)
}

func (p *producer) nextWorkType() work.Type {
	if p.spec.Specialized() {
		return p.workType
	}
	types := work.Minable()
	return types[p.rng.IntN(len(types))]
}

func (p *producer) rest() time.Duration {
	lo, hi := p.spec.MinRest.Duration, p.spec.MaxRest.Duration
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(p.rng.Int64N(int64(hi-lo)+1))
}

func (p *producer) run(ctx context.Context) {
	p.logger.Info("producer started")
	defer p.logger.Info("producer stopped")

	for {
		wt, d := p.nextWorkType(), p.difficulty()

		var pause time.Duration
		if _, err := p.manager.Submit(ctx, wt, d); err != nil {
			if ctx.Err() != nil {
				return
			}
			var reset bool
			pause, reset = p.backoff.Failure()
			logger := p.logger.WithError(err)
			if reset {
				logger.Warn("producer reached error limit, pausing", "pause", pause)
			} else {
				logger.Warn("producer submission failed", "consecutive_errors", p.backoff.Errors(), "backoff", pause)
			}
		} else {
			p.backoff.Success()
			pause = p.rest()
		}

		if retry.Sleep(ctx, pause) != nil {
			return
		}
	}
}

// autonomous is a running roster
type autonomous struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	size   int
}

// StartAutonomous launches one producer per roster entry together with the
// health monitor and metrics aggregator. It fails if producers are running.
func (m *Manager) StartAutonomous(ctx context.Context, roster *config.Roster) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New(errors.ErrorTypeLifecycle, "start_autonomous", "manager is shut down")
	}
	if m.auto != nil {
		return errors.New(errors.ErrorTypeLifecycle, "start_autonomous", "autonomous mining already running")
	}

	m.startMonitorsLocked(ctx)

	pctx, cancel := context.WithCancel(ctx)
	a := &autonomous{cancel: cancel, size: len(roster.Producers)}
	seed := m.cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	for i, spec := range roster.Producers {
		p := newProducer(spec, m, seed+uint64(i))
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			p.run(pctx)
		}()
	}
	m.auto = a

	m.logger.Info("autonomous mining started", "producers", a.size)
	return nil
}

// StopAutonomous stops every producer and waits for their loops to return.
// Operations they already submitted keep running.
func (m *Manager) StopAutonomous() {
	m.mu.Lock()
	a := m.auto
	m.auto = nil
	m.mu.Unlock()

	if a == nil {
		return
	}
	a.cancel()
	a.wg.Wait()
	m.logger.Info("autonomous mining stopped", "producers", a.size)
}

// ReloadRoster replaces the running producers with roster. It does nothing
// when autonomous mining is stopped.
func (m *Manager) ReloadRoster(ctx context.Context, roster *config.Roster) error {
	m.mu.Lock()
	running := m.auto != nil
	m.mu.Unlock()
	if !running {
		return nil
	}

	m.StopAutonomous()
	return m.StartAutonomous(ctx, roster)
}

// Producers returns the number of running producers
func (m *Manager) Producers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.auto == nil {
		return 0
	}
	return m.auto.size
}
