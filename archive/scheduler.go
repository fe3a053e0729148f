// Package archive sweeps completed tasks out of the active board once their
// retention window elapses. Archived tasks stay in storage and remain
// readable; they just stop appearing in default listings.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/castleridge-io/clawdeck-sub003/domain"
)

// Store is the slice of the task store the sweeper needs.
type Store interface {
	ListArchivable(ctx context.Context, completedBefore int64, limit int) ([]domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) error
}

// Config holds the dependencies and tuning for the scheduler.
type Config struct {
	Store     Store
	Events    domain.Publisher // may be nil
	Logger    *log.Logger
	Interval  time.Duration // sweep cadence; defaults to 1 minute
	Retention time.Duration // done-age before a task is archived; defaults to 24h
	BatchSize int           // max tasks per sweep; defaults to 100
}

// Scheduler runs the archival sweep on a cron cadence. Sweeps never overlap:
// a tick that fires while the previous sweep is still running is skipped.
type Scheduler struct {
	store     Store
	events    domain.Publisher
	logger    *log.Logger
	retention time.Duration
	batchSize int
	interval  time.Duration
	now       func() int64

	running sync.Mutex
	cron    *cron.Cron
}

// NewScheduler creates a Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Scheduler{
		store:     cfg.Store,
		events:    cfg.Events,
		logger:    logger,
		retention: retention,
		batchSize: batch,
		interval:  interval,
		now:       func() int64 { return time.Now().UnixNano() },
	}
}

// Start schedules the sweep. The context bounds each sweep's store calls and
// stops the scheduler when cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cron = c
	c.Start()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	s.logger.WithFields(log.Fields{"interval": s.interval, "retention": s.retention}).Info("archive scheduler started")
	return nil
}

// Stop halts the cadence and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.running.Lock()
	s.running.Unlock()
}

// Sweep archives one batch of expired done tasks. It returns the number of
// tasks archived, or -1 when a previous sweep is still in flight and this one
// was skipped.
func (s *Scheduler) Sweep(ctx context.Context) int {
	if !s.running.TryLock() {
		s.logger.Warn("archive sweep still running, skipping tick")
		return -1
	}
	defer s.running.Unlock()

	now := s.now()
	cutoff := now - s.retention.Nanoseconds()
	tasks, err := s.store.ListArchivable(ctx, cutoff, s.batchSize)
	if err != nil {
		s.logger.WithError(err).Error("list archivable tasks")
		return 0
	}

	archived := 0
	for _, t := range tasks {
		t.ArchivedAt = now
		t.UpdatedAt = now
		if err := s.store.UpdateTask(ctx, t); err != nil {
			// A concurrent mutation moved the task; the next sweep
			// re-evaluates it.
			if errors.Is(err, domain.ErrConcurrencyConflict) || errors.Is(err, domain.ErrNotFound) {
				continue
			}
			s.logger.WithError(err).WithField("task", t.ID).Error("archive task")
			continue
		}
		archived++
		if s.events != nil {
			s.events.Publish(ctx, domain.ChangeEvent{
				TaskID:  t.ID,
				BoardID: t.BoardID,
				OwnerID: t.OwnerID,
				Kind:    domain.ChangeArchived,
				Task:    &t,
				Time:    now,
			})
		}
	}
	if archived > 0 {
		s.logger.WithField("count", archived).Info("archived expired tasks")
	}
	return archived
}
