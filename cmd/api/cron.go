package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"bellhop/session"
)

const cronSweepTimeout = time.Minute

// sweepScheduler runs the retention purge on a cron schedule.
type sweepScheduler struct {
	cron      *cron.Cron
	sweeper   session.Sweeper
	retention time.Duration
	log       *logrus.Logger
}

func newSweepScheduler(sweeper session.Sweeper, retention time.Duration, log *logrus.Logger) *sweepScheduler {
	return &sweepScheduler{
		cron:      cron.New(),
		sweeper:   sweeper,
		retention: retention,
		log:       log,
	}
}

// Start schedules the sweep with a standard five-field spec.
func (s *sweepScheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.sweepJob); err != nil {
		return fmt.Errorf("schedule retention sweep %q: %w", spec, err)
	}
	s.cron.Start()
	s.log.WithField("schedule", spec).Info("cron: retention sweep scheduled")
	return nil
}

// Stop waits for a running sweep to finish.
func (s *sweepScheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *sweepScheduler) sweepJob() {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cronSweepTimeout)
	defer cancel()

	deleted, err := s.sweeper.Sweep(ctx, start, s.retention)
	entry := s.log.WithFields(logrus.Fields{"deleted": deleted, "duration": time.Since(start).String()})
	if err != nil {
		entry.WithError(err).Error("cron: retention sweep failed")
		return
	}
	entry.Info("cron: retention sweep finished")
}
