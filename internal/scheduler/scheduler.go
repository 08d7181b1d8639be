package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/zapgate/campaign-service/pkg/logger"
)

// dispatchRunner is a minimal internal interface for the scheduler. It
// matches RunNext of the dispatch service (inline mode) and the queue
// runner, and lets us unit test the scheduler with a small fake
// implementation.
type dispatchRunner interface {
	RunNext(ctx context.Context) (bool, error)
}

type Scheduler struct {
	runner   dispatchRunner
	interval time.Duration

	// Internal state
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex

	// Statistics
	lastRunAt           time.Time
	campaignsDispatched int64
	runsCount           int64
}

func NewScheduler(runner dispatchRunner, interval time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		running:  false,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()

	if s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is already running")
		return nil
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.mu.Unlock()

	logger.Infof("Starting scheduler with interval: %v", s.interval)

	go s.run(ctx)

	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneChan)

	s.dispatchPass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Infof("Scheduler running. Next pass in %v", s.interval)

	for {
		select {
		case <-ticker.C:
			s.dispatchPass(ctx)
			logger.Debugf("Next pass in %v", s.interval)

		case <-s.stopChan:
			logger.Warnf("Scheduler received stop signal")
			return

		case <-ctx.Done():
			logger.Warnf("Scheduler context cancelled")
			return
		}
	}
}

// dispatchPass drains the runnable campaign backlog: it keeps asking the
// runner for the next campaign until none is due or the context ends.
func (s *Scheduler) dispatchPass(ctx context.Context) {
	s.mu.Lock()
	s.lastRunAt = time.Now()
	s.runsCount++
	runNumber := s.runsCount
	s.mu.Unlock()

	logger.Debugf("[Pass #%d] Looking for runnable campaigns", runNumber)

	var dispatched int64
	for {
		if ctx.Err() != nil {
			return
		}

		ran, err := s.runner.RunNext(ctx)
		if err != nil {
			logger.Errorf("[Pass #%d] Campaign dispatch failed: %v", runNumber, err)
			break
		}
		if !ran {
			break
		}
		dispatched++
	}

	if dispatched > 0 {
		s.mu.Lock()
		s.campaignsDispatched += dispatched
		s.mu.Unlock()
		logger.Infof("[Pass #%d] Dispatched %d campaign(s)", runNumber, dispatched)
	}
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is not running")
		return nil
	}

	s.running = false
	stopChan := s.stopChan
	doneChan := s.doneChan
	s.mu.Unlock()

	// Send stop signal
	close(stopChan)

	// Wait for goroutine to finish
	<-doneChan

	logger.Infof("Scheduler stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		Running:             s.running,
		LastRunAt:           s.lastRunAt,
		CampaignsDispatched: s.campaignsDispatched,
		RunsCount:           s.runsCount,
		Interval:            s.interval,
	}

	if s.running && !s.lastRunAt.IsZero() {
		status.NextRunAt = s.lastRunAt.Add(s.interval)
	}

	return status
}

type SchedulerStatus struct {
	Running             bool          `json:"running"`
	LastRunAt           time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt           time.Time     `json:"nextRunAt,omitempty"`
	CampaignsDispatched int64         `json:"campaignsDispatched"`
	RunsCount           int64         `json:"runsCount"`
	Interval            time.Duration `json:"interval"`
}
