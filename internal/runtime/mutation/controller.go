// Package mutation runs a single write operation against the backend with an
// optimistic cache update that is reconciled on success and rolled back on
// failure.
package mutation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/l0p7/influencehub/internal/metrics"
	"github.com/l0p7/influencehub/internal/runtime/apierror"
	"github.com/l0p7/influencehub/internal/runtime/notify"
	"github.com/l0p7/influencehub/internal/runtime/query"
)

var (
	// ErrInFlight is returned when Invoke is called while an earlier
	// invocation on the same controller has not resolved.
	ErrInFlight = errors.New("mutation: already in flight")
	// ErrClosed is returned by Invoke after Close.
	ErrClosed = errors.New("mutation: controller closed")
)

// Error is returned by Invoke when the network call fails. Its text is the
// normalized message shown to the user.
type Error struct {
	Mutation   string
	Normalized apierror.Normalized
	Err        error
}

func (e *Error) Error() string { return e.Normalized.Text }

func (e *Error) Unwrap() error { return e.Err }

// Rollback describes what a failed invocation restored.
type Rollback struct {
	Keys []string
}

// Options wires a Controller. Mutate, OnError and Name are required.
type Options[In, Out any] struct {
	Name   string
	Mutate func(ctx context.Context, in In) (Out, error)

	// OnMutate returns the optimistic writes applied before Mutate runs.
	OnMutate func(in In) []Optimistic
	// Reconcile returns the writes that record the server's stated value.
	Reconcile func(in In, out Out) []Optimistic
	OnSuccess func(out Out, in In)
	OnError   func(err apierror.Normalized, in In, rollback Rollback)

	// Invalidates lists keys marked stale after every success.
	Invalidates []string
	// InvalidatesFor adds keys derived from the input.
	InvalidatesFor func(in In) []string

	Notifier notify.Notifier
	Messages *notify.Messages
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
}

// State is the per-controller record the view renders.
type State[Out any] struct {
	Pending    bool                 `json:"pending"`
	Error      *apierror.Normalized `json:"error"`
	LastResult *Out                 `json:"lastResult"`
}

// Controller executes one write operation at a time.
type Controller[In, Out any] struct {
	cache    *query.Cache
	opts     Options[In, Out]
	logger   *slog.Logger
	notifier notify.Notifier

	mu      sync.Mutex
	pending bool
	err     *apierror.Normalized
	last    *Out
	closed  bool
}

func New[In, Out any](cache *query.Cache, opts Options[In, Out]) (*Controller[In, Out], error) {
	if cache == nil {
		return nil, errors.New("mutation: cache required")
	}
	if opts.Name == "" {
		return nil, errors.New("mutation: name required")
	}
	if opts.Mutate == nil {
		return nil, errors.New("mutation: mutate func required")
	}
	if opts.OnError == nil {
		return nil, errors.New("mutation: onError hook required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Controller[In, Out]{
		cache:    cache,
		opts:     opts,
		logger:   logger.With(slog.String("agent", "mutation"), slog.String("mutation", opts.Name)),
		notifier: notifier,
	}, nil
}

// Name reports the mutation name.
func (c *Controller[In, Out]) Name() string { return c.opts.Name }

// Invoke runs the mutation. A call made while another is pending returns
// ErrInFlight and has no side effects. On failure the returned error is an
// *Error carrying the normalized message.
func (c *Controller[In, Out]) Invoke(ctx context.Context, in In) (Out, error) {
	var zero Out
	start := time.Now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, ErrClosed
	}
	if c.pending {
		c.mu.Unlock()
		c.opts.Metrics.ObserveMutation(c.opts.Name, metrics.MutationSkipped, 0)
		return zero, ErrInFlight
	}
	c.pending = true
	c.err = nil
	c.mu.Unlock()

	invocation := uuid.NewString()
	logger := c.logger.With(slog.String("invocation", invocation))

	var snapshots []query.Snapshot
	if c.opts.OnMutate != nil {
		snapshots = c.write(logger, c.opts.OnMutate(in), true)
	}

	out, err := c.opts.Mutate(ctx, in)
	if err != nil {
		return zero, c.fail(ctx, logger, invocation, in, snapshots, err, start)
	}
	c.succeed(ctx, logger, invocation, in, out, start)
	return out, nil
}

func (c *Controller[In, Out]) succeed(ctx context.Context, logger *slog.Logger, invocation string, in In, out Out, start time.Time) {
	if c.opts.Reconcile != nil {
		c.write(logger, c.opts.Reconcile(in, out), false)
	}

	c.mu.Lock()
	active := !c.closed
	if active {
		c.pending = false
		result := out
		c.last = &result
	}
	c.mu.Unlock()

	if active && c.opts.OnSuccess != nil {
		c.opts.OnSuccess(out, in)
	}

	for _, key := range c.dependents(in) {
		c.cache.Invalidate(key)
	}

	c.emit(ctx, invocation, notify.LevelSuccess, c.opts.Messages.Success(c.opts.Name, notify.Data{Input: in, Result: out}))
	c.opts.Metrics.ObserveMutation(c.opts.Name, metrics.MutationSuccess, time.Since(start))
	logger.Debug("mutation succeeded", slog.Duration("latency", time.Since(start)))
}

func (c *Controller[In, Out]) fail(ctx context.Context, logger *slog.Logger, invocation string, in In, snapshots []query.Snapshot, cause error, start time.Time) error {
	rollback := Rollback{Keys: make([]string, 0, len(snapshots))}
	for i := len(snapshots) - 1; i >= 0; i-- {
		c.cache.Restore(snapshots[i])
		rollback.Keys = append(rollback.Keys, snapshots[i].Key())
	}
	if len(snapshots) > 0 {
		c.opts.Metrics.ObserveRollback(c.opts.Name)
	}

	normalized := apierror.Normalize(cause)

	c.mu.Lock()
	active := !c.closed
	if active {
		c.pending = false
		recorded := normalized
		c.err = &recorded
	}
	c.mu.Unlock()

	if active {
		c.opts.OnError(normalized, in, rollback)
	}

	c.emit(ctx, invocation, notify.LevelError, c.opts.Messages.Failure(c.opts.Name, notify.Data{Input: in, Error: normalized.Text}))
	c.opts.Metrics.ObserveMutation(c.opts.Name, metrics.MutationError, time.Since(start))
	logger.Warn("mutation failed",
		slog.String("kind", string(normalized.Kind)),
		slog.Int("status", normalized.Status),
		slog.Int("rolled_back", len(snapshots)),
		slog.Any("error", cause),
	)
	return &Error{Mutation: c.opts.Name, Normalized: normalized, Err: cause}
}

// write applies cache writes in order. With capture set it snapshots each key
// before its first write and returns the snapshots for rollback.
func (c *Controller[In, Out]) write(logger *slog.Logger, writes []Optimistic, capture bool) []query.Snapshot {
	var snapshots []query.Snapshot
	seen := make(map[string]bool, len(writes))
	for _, w := range writes {
		if w.apply == nil || w.Key == "" {
			continue
		}
		entry, _ := c.cache.Get(w.Key)
		value, skip, err := w.apply(entry)
		if err != nil {
			logger.Warn("cache write skipped", slog.String("key", w.Key), slog.Any("error", err))
			continue
		}
		if skip {
			continue
		}
		if capture && !seen[w.Key] {
			seen[w.Key] = true
			snapshots = append(snapshots, c.cache.Snapshot(w.Key))
		}
		if err := c.cache.SetData(w.Key, value); err != nil {
			logger.Warn("cache write failed", slog.String("key", w.Key), slog.Any("error", err))
		}
	}
	return snapshots
}

func (c *Controller[In, Out]) dependents(in In) []string {
	keys := append([]string(nil), c.opts.Invalidates...)
	if c.opts.InvalidatesFor != nil {
		keys = append(keys, c.opts.InvalidatesFor(in)...)
	}
	return keys
}

func (c *Controller[In, Out]) emit(ctx context.Context, invocation string, level notify.Level, text string) {
	c.notifier.Notify(ctx, notify.Notice{
		ID:       invocation,
		Mutation: c.opts.Name,
		Level:    level,
		Text:     text,
		At:       time.Now().UTC(),
	})
}

// State returns a copy of the controller state.
func (c *Controller[In, Out]) State() State[Out] {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := State[Out]{Pending: c.pending}
	if c.err != nil {
		errCopy := *c.err
		state.Error = &errCopy
	}
	if c.last != nil {
		last := *c.last
		state.LastResult = &last
	}
	return state
}

// Pending reports whether an invocation is in flight.
func (c *Controller[In, Out]) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Reset clears the recorded error and last result. It does not affect an
// invocation in flight.
func (c *Controller[In, Out]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = nil
	c.last = nil
}

// Close detaches the controller from its view. An invocation still in flight
// finishes its cache reconcile or rollback and emits its notice but no longer
// updates controller state or calls OnSuccess and OnError.
func (c *Controller[In, Out]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
