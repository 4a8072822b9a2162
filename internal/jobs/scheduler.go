package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Schedules used by Start.
const (
	LogRetentionSchedule = "14 3 * * *"
	CacheSweepSchedule   = "@every 10m"
)

// LogPruner deletes activity log entries past retention.
type LogPruner interface {
	Prune(ctx context.Context, retentionDays int) (int64, error)
}

// Sweeper drops expired entries from an in-process store.
type Sweeper interface {
	Sweep() int
}

// Sweepers runs several sweepers as one.
type Sweepers []Sweeper

func (s Sweepers) Sweep() int {
	total := 0
	for _, sw := range s {
		total += sw.Sweep()
	}
	return total
}

// Scheduler manages background jobs
type Scheduler struct {
	cron          *cron.Cron
	pruner        LogPruner
	sweeper       Sweeper
	retentionDays int
}

// NewScheduler creates a new job scheduler. pruner and sweeper may be nil, which
// skips the corresponding job.
func NewScheduler(pruner LogPruner, sweeper Sweeper, retentionDays int) *Scheduler {
	return &Scheduler{
		cron:          cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		pruner:        pruner,
		sweeper:       sweeper,
		retentionDays: retentionDays,
	}
}

// Start registers the jobs and starts the scheduler
func (s *Scheduler) Start() error {
	if s.pruner != nil {
		if _, err := s.cron.AddFunc(LogRetentionSchedule, s.RunLogRetention); err != nil {
			return err
		}
	}
	if s.sweeper != nil {
		if _, err := s.cron.AddFunc(CacheSweepSchedule, s.RunCacheSweep); err != nil {
			return err
		}
	}

	s.cron.Start()
	log.Info().Int("jobs", len(s.cron.Entries())).Msg("Job scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("Job scheduler stopped")
}

// RunLogRetention removes activity log entries older than the retention period
func (s *Scheduler) RunLogRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log.Info().Msg("Running log retention job...")
	if _, err := s.pruner.Prune(ctx, s.retentionDays); err != nil {
		log.Error().Err(err).Msg("Failed to prune activity log")
	}
}

// RunCacheSweep evicts expired states, tokens and sessions from the memory store
func (s *Scheduler) RunCacheSweep() {
	if removed := s.sweeper.Sweep(); removed > 0 {
		log.Debug().Int("removed", removed).Msg("Swept expired cache entries")
	}
}
