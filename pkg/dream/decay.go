// Package dream runs the engine's offline maintenance: the decay pass that
// fades untouched memories and the three-phase dream cycle that distills
// episodes into patterns and identity.
package dream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dan-solli/mnemo/pkg/store"
)

// Default per-type decay rates. Episodic detail fades fastest; identity
// barely moves.
var defaultRates = map[store.MemoryType]float64{
	store.TypeEpisodic:   0.95,
	store.TypeSemantic:   0.98,
	store.TypeProcedural: 0.985,
	store.TypeSelfModel:  0.995,
}

// DecayConfig configures the decay engine. Zero values get defaults.
type DecayConfig struct {
	Store *store.Store

	// Rates maps memory type to per-pass decay multiplier in (0,1).
	Rates map[store.MemoryType]float64

	// Cutoff exempts memories accessed within this window. Default 24h.
	Cutoff time.Duration

	// Floor is the minimum decay factor. Default store.MinDecay.
	Floor float64

	Logger *log.Logger
}

func (c *DecayConfig) applyDefaults() {
	if c.Rates == nil {
		c.Rates = defaultRates
	}
	if c.Cutoff <= 0 {
		c.Cutoff = 24 * time.Hour
	}
	if c.Floor == 0 {
		c.Floor = store.MinDecay
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// DecayEngine applies the forgetting curve across all memory types.
type DecayEngine struct {
	cfg    DecayConfig
	logger *log.Logger
}

// NewDecayEngine creates a decay engine. Store is required.
func NewDecayEngine(cfg DecayConfig) (*DecayEngine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	cfg.applyDefaults()
	return &DecayEngine{cfg: cfg, logger: cfg.Logger.With("component", "decay")}, nil
}

// Run decays every memory type once. A failing type is logged and skipped;
// the remaining types still run. Returns decayed counts per type and the
// joined per-type errors.
func (e *DecayEngine) Run(ctx context.Context) (map[store.MemoryType]int64, error) {
	cutoff := time.Now().Add(-e.cfg.Cutoff)
	counts := make(map[store.MemoryType]int64, len(store.MemoryTypes))
	var errs []error

	for _, memType := range store.MemoryTypes {
		rate, ok := e.cfg.Rates[memType]
		if !ok {
			rate = defaultRates[memType]
		}

		n, err := e.cfg.Store.DecayType(ctx, memType, rate, cutoff, e.cfg.Floor)
		if err != nil {
			e.logger.Error("decay pass failed", "type", memType, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", memType, err))
			continue
		}
		counts[memType] = n
	}

	if len(counts) > 0 || len(errs) > 0 {
		e.logger.Info("decay pass complete", "counts", counts, "failures", len(errs))
	}
	return counts, errors.Join(errs...)
}
