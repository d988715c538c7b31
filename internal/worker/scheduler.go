// Package worker runs the background passes that repair and advance money state.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/metrics"
)

// Job is one polling pass. RunOnce must be safe to repeat.
type Job interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// Scheduler runs a Job on a fixed interval and never lets two passes overlap.
type Scheduler struct {
	job      Job
	interval time.Duration
	running  atomic.Bool
	log      logger.Logger
	metrics  *metrics.Metrics
}

func NewScheduler(job Job, interval time.Duration, log logger.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{job: job, interval: interval, log: log, metrics: m}
}

// Run ticks until ctx is done. A failed pass is logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("Worker started",
		logger.StringField("worker", s.job.Name()),
		logger.DurationField("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Worker stopped", logger.StringField("worker", s.job.Name()))
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one pass unless one is already in flight. It reports whether the pass ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	name := s.job.Name()
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("Worker pass skipped", logger.StringField("worker", name))
		s.metrics.ObservePass(name, "skipped", 0)
		return false
	}
	defer s.running.Store(false)

	start := time.Now()
	err := s.job.RunOnce(ctx)
	elapsed := time.Since(start)
	if err != nil {
		s.log.Error("Worker pass failed",
			logger.StringField("worker", name),
			logger.DurationField("elapsed", elapsed),
			logger.ErrorField("error", err))
		s.metrics.ObservePass(name, "failed", elapsed)
		return true
	}
	s.metrics.ObservePass(name, "ok", elapsed)
	return true
}

func (s *Scheduler) Running() bool {
	return s.running.Load()
}
