package dream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// SchedulerConfig sets the maintenance cadence. Zero values get defaults.
type SchedulerConfig struct {
	Cycler *Cycler
	Decay  *DecayEngine

	// CycleInterval between full dream cycles. Default 6h.
	CycleInterval time.Duration

	// DecayInterval between decay passes. Default 24h.
	DecayInterval time.Duration

	// StartupDelay before the abbreviated boot cycle. Default 1m.
	StartupDelay time.Duration

	Logger *log.Logger
}

func (c *SchedulerConfig) applyDefaults() {
	if c.CycleInterval <= 0 {
		c.CycleInterval = 6 * time.Hour
	}
	if c.DecayInterval <= 0 {
		c.DecayInterval = 24 * time.Hour
	}
	if c.StartupDelay <= 0 {
		c.StartupDelay = time.Minute
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// Scheduler drives the dream cycle and decay passes on independent timers,
// plus one abbreviated cycle shortly after startup.
type Scheduler struct {
	cfg    SchedulerConfig
	logger *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. Cycler and Decay are required.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Cycler == nil {
		return nil, fmt.Errorf("cycler is required")
	}
	if cfg.Decay == nil {
		return nil, fmt.Errorf("decay engine is required")
	}
	cfg.applyDefaults()
	return &Scheduler{cfg: cfg, logger: cfg.Logger.With("component", "scheduler")}, nil
}

// Start launches the background loop. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop halts the loop and waits for any in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	startup := time.NewTimer(s.cfg.StartupDelay)
	defer startup.Stop()
	cycle := time.NewTicker(s.cfg.CycleInterval)
	defer cycle.Stop()
	decay := time.NewTicker(s.cfg.DecayInterval)
	defer decay.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-startup.C:
			s.logger.Info("running startup dream cycle")
			s.cfg.Cycler.RunStartup(ctx)
		case <-cycle.C:
			s.logger.Info("running scheduled dream cycle")
			s.cfg.Cycler.RunCycle(ctx)
		case <-decay.C:
			if _, err := s.cfg.Decay.Run(ctx); err != nil {
				s.logger.Error("scheduled decay had failures", "error", err)
			}
		}
	}
}
