package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of background work.
type Job func()

// Scheduler hosts named periodic and one-shot background jobs. A job
// panic is logged and never takes the host down.
type Scheduler struct {
	mu      sync.Mutex
	tickers map[string]*runner
	timers  map[string]*time.Timer
	logger  *zap.Logger
	stopCh  chan struct{}
}

type runner struct {
	ticker *time.Ticker
	stopCh chan struct{}
}

// New creates a Scheduler.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		tickers: make(map[string]*runner),
		timers:  make(map[string]*time.Timer),
		stopCh:  make(chan struct{}),
		logger:  logger,
	}
}

// Every runs fn on a fixed interval. Registering the same name again
// replaces the previous job.
func (s *Scheduler) Every(name string, interval time.Duration, fn Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tickers[name]; ok {
		close(old.stopCh)
		delete(s.tickers, name)
	}

	r := &runner{
		ticker: time.NewTicker(interval),
		stopCh: make(chan struct{}),
	}
	s.tickers[name] = r

	go func() {
		for {
			select {
			case <-r.ticker.C:
				s.run(name, fn)
			case <-r.stopCh:
				r.ticker.Stop()
				return
			case <-s.stopCh:
				r.ticker.Stop()
				return
			}
		}
	}()
	s.logger.Info("job registered",
		zap.String("name", name), zap.Duration("interval", interval))
}

// After runs fn once after the given delay. Registering the same name
// again cancels the pending run.
func (s *Scheduler) After(name string, delay time.Duration, fn Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[name]; ok {
		old.Stop()
	}
	s.timers[name] = time.AfterFunc(delay, func() {
		defer func() {
			s.mu.Lock()
			delete(s.timers, name)
			s.mu.Unlock()
		}()
		s.run(name, fn)
	})
}

// run executes fn, containing any panic.
func (s *Scheduler) run(name string, fn Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked",
				zap.String("name", name), zap.Any("recover", r))
		}
	}()
	fn()
}

// Remove stops the named job, periodic or pending.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.tickers[name]; ok {
		close(r.stopCh)
		delete(s.tickers, name)
	}
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
}

// Stop halts every job. Safe to call more than once.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Jobs returns the names of the registered periodic jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tickers))
	for name := range s.tickers {
		names = append(names, name)
	}
	return names
}
