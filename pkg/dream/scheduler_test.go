package dream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/mnemo/pkg/store"
)

func TestSchedulerRunsDecayAndStops(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := insertAged(t, s, store.TypeEpisodic, 48*time.Hour)

	cycler, err := NewCycler(CycleConfig{Store: s, Sink: storeSink{s}})
	require.NoError(t, err)
	decay, err := NewDecayEngine(DecayConfig{Store: s})
	require.NoError(t, err)

	sched, err := NewScheduler(SchedulerConfig{
		Cycler:        cycler,
		Decay:         decay,
		CycleInterval: time.Hour,
		DecayInterval: 20 * time.Millisecond,
		StartupDelay:  5 * time.Millisecond,
	})
	require.NoError(t, err)

	sched.Start()
	time.Sleep(100 * time.Millisecond)
	sched.Stop()

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Less(t, got.DecayFactor, 1.0)

	// Stop is idempotent and Start after Stop is safe.
	sched.Stop()
	sched.Start()
	sched.Stop()
}

func TestSchedulerStartTwice(t *testing.T) {
	s := newTestStore(t)

	cycler, err := NewCycler(CycleConfig{Store: s, Sink: storeSink{s}})
	require.NoError(t, err)
	decay, err := NewDecayEngine(DecayConfig{Store: s})
	require.NoError(t, err)

	sched, err := NewScheduler(SchedulerConfig{Cycler: cycler, Decay: decay})
	require.NoError(t, err)

	sched.Start()
	sched.Start()
	sched.Stop()
}
