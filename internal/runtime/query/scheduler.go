package query

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/l0p7/influencehub/internal/metrics"
)

// PollOptions controls one background refresh loop.
type PollOptions struct {
	Interval   time.Duration
	Retries    int
	RetryDelay time.Duration
}

type pollJob struct {
	refs   int
	cancel context.CancelFunc
}

// Scheduler runs at most one refresh loop per key no matter how many views
// register it. Each tick invalidates the key and refetches it, retrying
// failed loads; failures keep the previous data in place.
type Scheduler struct {
	cache   *Cache
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu      sync.Mutex
	jobs    map[string]*pollJob
	wg      sync.WaitGroup
	stopped bool
}

func NewScheduler(cache *Cache, logger *slog.Logger, recorder *metrics.Recorder) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cache:   cache,
		logger:  logger.With(slog.String("agent", "query_scheduler")),
		metrics: recorder,
		jobs:    make(map[string]*pollJob),
	}
}

// Register starts polling key unless a loop for it already runs, in which
// case the existing loop and its loader are shared. The returned release
// func drops this registration; the loop stops with the last one.
func (s *Scheduler) Register(key string, loader Loader, opts PollOptions) func() {
	if opts.Interval <= 0 || loader == nil {
		return func() {}
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return func() {}
	}
	job, ok := s.jobs[key]
	if ok {
		job.refs++
	} else {
		ctx, cancel := context.WithCancel(context.Background())
		job = &pollJob{refs: 1, cancel: cancel}
		s.jobs[key] = job
		s.wg.Add(1)
		go s.run(ctx, key, loader, opts)
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.release(key, job) })
	}
}

func (s *Scheduler) release(key string, job *pollJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.refs--
	if job.refs > 0 {
		return
	}
	job.cancel()
	if s.jobs[key] == job {
		delete(s.jobs, key)
	}
}

// Active reports whether a loop currently runs for key.
func (s *Scheduler) Active(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[key]
	return ok
}

func (s *Scheduler) run(ctx context.Context, key string, loader Loader, opts PollOptions) {
	defer s.wg.Done()
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, key, loader, opts)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, key string, loader Loader, opts PollOptions) {
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	operation := func() (Entry, error) {
		s.cache.Invalidate(key)
		entry := s.cache.Fetch(ctx, key, loader)
		if entry.Status != StatusSuccess {
			if ctx.Err() != nil {
				return entry, backoff.Permanent(ctx.Err())
			}
			return entry, errors.New(entry.Err)
		}
		return entry, nil
	}
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(opts.RetryDelay)),
		backoff.WithMaxTries(uint(retries+1)),
	)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.metrics.ObservePoll(key, metrics.PollFailed)
		s.logger.Warn("poll refresh failed", slog.String("key", key), slog.Int("attempts", retries+1), slog.Any("error", err))
		return
	}
	s.metrics.ObservePoll(key, metrics.PollRefreshed)
}

// Stop cancels every loop and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key, job := range s.jobs {
		job.cancel()
		delete(s.jobs, key)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
