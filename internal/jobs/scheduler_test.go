package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	calls []int
	err   error
}

func (f *fakePruner) Prune(_ context.Context, days int) (int64, error) {
	f.calls = append(f.calls, days)
	return 3, f.err
}

type fakeSweeper struct{ calls int }

func (f *fakeSweeper) Sweep() int {
	f.calls++
	return 2
}

func TestSchedules(t *testing.T) {
	for _, spec := range []string{LogRetentionSchedule, CacheSweepSchedule} {
		_, err := cron.ParseStandard(spec)
		assert.NoError(t, err, spec)
	}
}

func TestScheduler_Jobs(t *testing.T) {
	pruner := &fakePruner{}
	sweeper := &fakeSweeper{}
	s := NewScheduler(pruner, sweeper, 30)

	s.RunLogRetention()
	s.RunCacheSweep()

	assert.Equal(t, []int{30}, pruner.calls)
	assert.Equal(t, 1, sweeper.calls)
}

func TestScheduler_PruneErrorIsLogged(t *testing.T) {
	pruner := &fakePruner{err: errors.New("db down")}
	s := NewScheduler(pruner, nil, 7)

	assert.NotPanics(t, s.RunLogRetention)
}

func TestScheduler_StartRegistersJobs(t *testing.T) {
	s := NewScheduler(&fakePruner{}, &fakeSweeper{}, 30)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Len(t, s.cron.Entries(), 2)

	only := NewScheduler(nil, &fakeSweeper{}, 30)
	require.NoError(t, only.Start())
	defer only.Stop()
	assert.Len(t, only.cron.Entries(), 1)
}

func TestSweepers(t *testing.T) {
	a, b := &fakeSweeper{}, &fakeSweeper{}

	assert.Equal(t, 4, Sweepers{a, b}.Sweep())
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Zero(t, Sweepers(nil).Sweep())
}
