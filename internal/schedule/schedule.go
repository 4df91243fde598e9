// Package schedule runs timer callbacks and submitted work on a single
// serial queue, so that no two jobs ever interleave.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var ErrStopped = errors.New("scheduler stopped")

// Cancel stops a timer. Calling it more than once is harmless, and a job
// already queued by the timer is dropped rather than run.
type Cancel func()

type Scheduler interface {
	// Every runs fn on the queue every d until cancelled.
	Every(d time.Duration, fn func()) Cancel
	// After runs fn on the queue once, after d, unless cancelled first.
	After(d time.Duration, fn func()) Cancel
	// Do runs fn on the queue and waits for it to finish. It must not be
	// called from inside a queued job.
	Do(ctx context.Context, fn func()) error
}

// Serial is a Scheduler backed by one worker goroutine started with Run.
type Serial struct {
	logger *slog.Logger
	jobs   chan func()

	stopCh   chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	mu     sync.Mutex
	nextID uint64
	timers map[uint64]Cancel
}

func NewSerial(logger *slog.Logger) *Serial {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serial{
		logger: logger,
		jobs:   make(chan func(), 64),
		stopCh: make(chan struct{}),
		timers: make(map[uint64]Cancel),
	}
}

// Run executes queued jobs until ctx is done or Close is called.
func (s *Serial) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case job := <-s.jobs:
			s.exec(job)
		}
	}
}

// Running reports whether the worker goroutine is executing jobs.
func (s *Serial) Running() bool {
	return s.running.Load()
}

// Close stops the worker and cancels every outstanding timer.
// Idempotent and safe to call multiple times.
func (s *Serial) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	pending := s.timers
	s.timers = make(map[uint64]Cancel)
	s.mu.Unlock()

	for _, c := range pending {
		c()
	}
}

func (s *Serial) Every(d time.Duration, fn func()) Cancel {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
	id := s.track(stop)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.enqueue(func() {
					select {
					case <-done:
						return
					default:
					}
					fn()
				})
			}
		}
	}()

	return func() {
		s.untrack(id)
		stop()
	}
}

func (s *Serial) After(d time.Duration, fn func()) Cancel {
	done := make(chan struct{})
	var once sync.Once
	// claim decides, exactly once, whether the timer fires or is cancelled.
	claim := func() (won bool) {
		once.Do(func() {
			close(done)
			won = true
		})
		return won
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	stop := func() {
		if !claim() {
			return
		}
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}
	id := s.track(stop)

	mu.Lock()
	timer = time.AfterFunc(d, func() {
		s.enqueue(func() {
			if claim() {
				s.untrack(id)
				fn()
			}
		})
	})
	mu.Unlock()

	return func() {
		s.untrack(id)
		stop()
	}
}

func (s *Serial) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	job := func() {
		defer close(done)
		fn()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return ErrStopped
	case s.jobs <- job:
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

func (s *Serial) enqueue(job func()) {
	select {
	case <-s.stopCh:
	case s.jobs <- job:
	}
}

func (s *Serial) exec(job func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked", "panic", r)
		}
	}()
	job()
}

func (s *Serial) track(c Cancel) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.timers[s.nextID] = c
	return s.nextID
}

func (s *Serial) untrack(id uint64) {
	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()
}
