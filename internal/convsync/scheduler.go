package convsync

import (
	"context"
	"sync"
	"time"
)

// Scheduler fires tick once on start and then every interval until stopped.
// The interval can be changed while running.
type Scheduler struct {
	tick func()

	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	reset    chan time.Duration
}

// NewScheduler returns a stopped scheduler.
func NewScheduler(interval time.Duration, tick func()) *Scheduler {
	return &Scheduler{
		tick:     tick,
		interval: interval,
		reset:    make(chan time.Duration, 1),
	}
}

// Interval returns the current interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Run blocks until ctx is done or Stop is called.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	interval := s.interval
	s.mu.Unlock()
	defer cancel()

	s.tick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next := <-s.reset:
			ticker.Reset(next)
		case <-ticker.C:
			s.tick()
		}
	}
}

// Reset changes the interval. Non-positive values are ignored.
func (s *Scheduler) Reset(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = interval
	s.mu.Unlock()
	for {
		select {
		case s.reset <- interval:
			return
		default:
		}
		select {
		case <-s.reset:
		default:
		}
	}
}

// Stop ends a running Run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
