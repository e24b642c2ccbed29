package query

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/l0p7/influencehub/internal/metrics"
	"github.com/l0p7/influencehub/internal/runtime/apierror"
)

const (
	defaultPersistTTL = 10 * time.Minute
	persistTimeout    = 2 * time.Second
)

// ErrDisposed is recorded on entries fetched after Dispose.
var ErrDisposed = errors.New("query: cache disposed")

// Options configures a Cache.
type Options struct {
	// StaleTime is how long a successful fetch is served without refetching.
	// Zero means every Fetch that is not coalesced hits the loader.
	StaleTime  time.Duration
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
	Persister  Persister
	PersistTTL time.Duration
	Now        func() time.Time
}

// Cache is the key-addressed store of server-derived data shared by every
// view of a session. All writes go through Fetch, SetData, Invalidate and
// Restore; payload bytes are copied on the way in and out.
type Cache struct {
	staleTime  time.Duration
	persistTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Recorder
	persister  Persister

	sf singleflight.Group
	bg sync.WaitGroup

	mu       sync.Mutex
	entries  map[string]Entry
	gens     map[string]uint64
	loading  map[string]int
	subs     map[string]map[uint64]func(Entry)
	nextSub  uint64
	disposed bool
}

// New creates an isolated cache.
func New(opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ttl := opts.PersistTTL
	if ttl <= 0 {
		ttl = defaultPersistTTL
	}
	staleTime := opts.StaleTime
	if staleTime < 0 {
		staleTime = 0
	}
	return &Cache{
		staleTime:  staleTime,
		persistTTL: ttl,
		now:        now,
		logger:     logger.With(slog.String("agent", "query_cache")),
		metrics:    opts.Metrics,
		persister:  opts.Persister,
		entries:    make(map[string]Entry),
		gens:       make(map[string]uint64),
		loading:    make(map[string]int),
		subs:       make(map[string]map[uint64]func(Entry)),
	}
}

// Fetch returns the cached entry when fresh and otherwise loads it. Callers
// arriving while a load for key is in flight share that load. Loader failures
// are recorded on the entry (Status error) rather than returned; callers
// branch on Status. When ctx ends first the current entry is returned and the
// load keeps running for the other callers.
func (c *Cache) Fetch(ctx context.Context, key string, loader Loader) Entry {
	start := time.Now()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return Entry{Key: key, Status: StatusError, Err: ErrDisposed.Error()}
	}
	entry, ok := c.entries[key]
	if ok && entry.Fresh(c.now()) {
		out := entry.clone()
		c.mu.Unlock()
		c.metrics.ObserveFetch(key, metrics.FetchHit, time.Since(start))
		return out
	}
	c.mu.Unlock()

	if !ok && c.persister != nil {
		if hydrated, fresh := c.hydrate(ctx, key); fresh {
			c.metrics.ObserveFetch(key, metrics.FetchHit, time.Since(start))
			return hydrated
		}
	}

	loadCtx := context.WithoutCancel(ctx)
	ran := false
	ch := c.sf.DoChan(key, func() (any, error) {
		ran = true
		gen := c.markLoading(key)
		return c.load(loadCtx, key, gen, loader), nil
	})

	select {
	case res := <-ch:
		out, _ := res.Val.(Entry)
		result := metrics.FetchCoalesced
		switch {
		case out.Status == StatusError:
			result = metrics.FetchError
		case ran:
			result = metrics.FetchMiss
		}
		c.metrics.ObserveFetch(key, result, time.Since(start))
		return out.clone()
	case <-ctx.Done():
		current, _ := c.Get(key)
		return current
	}
}

// load runs loader and records its result unless key was written,
// invalidated or restored after the load started. A superseded result is
// dropped; once no load for key remains, a leftover loading status settles to
// success (data kept, still stale) or idle.
func (c *Cache) load(ctx context.Context, key string, gen uint64, loader Loader) Entry {
	data, err := loader(ctx)
	now := c.now()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return Entry{Key: key, Status: StatusError, Err: ErrDisposed.Error()}
	}
	c.loading[key]--
	if c.loading[key] <= 0 {
		delete(c.loading, key)
	}
	if c.gens[key] != gen {
		out, subs := c.settleLocked(key)
		c.mu.Unlock()
		c.logger.Debug("query load superseded", slog.String("key", key), slog.Bool("failed", err != nil))
		notify(subs, out)
		return out
	}
	entry := c.entries[key]
	entry.Key = key
	if err != nil {
		entry.Status = StatusError
		entry.Err = apierror.Normalize(err).Text
	} else {
		entry.Data = cloneBytes(data)
		entry.Status = StatusSuccess
		entry.Err = ""
		entry.UpdatedAt = now
		entry.StaleAt = now.Add(c.staleTime)
	}
	c.entries[key] = entry
	out := entry.clone()
	subs := c.subscribersLocked(key)
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("query load failed", slog.String("key", key), slog.Any("error", err))
	} else {
		c.persist(ctx, out)
	}
	notify(subs, out)
	return out
}

func (c *Cache) settleLocked(key string) (Entry, []func(Entry)) {
	entry, ok := c.entries[key]
	if !ok {
		return Entry{Key: key, Status: StatusIdle}, nil
	}
	if entry.Status != StatusLoading || c.loading[key] > 0 {
		return entry.clone(), nil
	}
	entry.Status = StatusIdle
	if entry.HasData() {
		entry.Status = StatusSuccess
	}
	c.entries[key] = entry
	return entry.clone(), c.subscribersLocked(key)
}

// markLoading flags key as loading and returns the generation the load
// belongs to.
func (c *Cache) markLoading(key string) uint64 {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return 0
	}
	gen := c.gens[key]
	c.loading[key]++
	entry := c.entries[key]
	entry.Key = key
	entry.Status = StatusLoading
	c.entries[key] = entry
	out := entry.clone()
	subs := c.subscribersLocked(key)
	c.mu.Unlock()
	notify(subs, out)
	return gen
}

func (c *Cache) hydrate(ctx context.Context, key string) (Entry, bool) {
	lookupCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	persisted, found, err := c.persister.Load(lookupCtx, key)
	if err != nil {
		c.logger.Warn("query hydrate failed", slog.String("key", key), slog.Any("error", err))
		return Entry{}, false
	}
	if !found || persisted.Status != StatusSuccess {
		return Entry{}, false
	}
	persisted.Key = key

	c.mu.Lock()
	if _, exists := c.entries[key]; exists || c.disposed {
		c.mu.Unlock()
		return Entry{}, false
	}
	c.entries[key] = persisted.clone()
	subs := c.subscribersLocked(key)
	c.mu.Unlock()

	notify(subs, persisted.clone())
	return persisted.clone(), persisted.Fresh(c.now())
}

func (c *Cache) persist(ctx context.Context, entry Entry) {
	if c.persister == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := c.persister.Store(storeCtx, entry.Key, entry, c.persistTTL); err != nil {
		c.logger.Warn("query persist failed", slog.String("key", entry.Key), slog.Any("error", err))
	}
}

// Get returns a copy of the entry for key.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Entry{Key: key, Status: StatusIdle}, false
	}
	return entry.clone(), true
}

// SetData synchronously overwrites the payload for key. Values other than
// json.RawMessage or []byte are JSON-encoded. Optimistic writes are never
// persisted.
func (c *Cache) SetData(key string, value any) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	now := c.now()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	entry, ok := c.entries[key]
	if !ok {
		entry = Entry{Key: key, StaleAt: now.Add(c.staleTime)}
	}
	entry.Data = data
	entry.Status = StatusSuccess
	entry.Err = ""
	entry.UpdatedAt = now
	c.entries[key] = entry
	c.gens[key]++
	out := entry.clone()
	subs := c.subscribersLocked(key)
	c.mu.Unlock()

	notify(subs, out)
	return nil
}

// Invalidate marks key stale so the next Fetch reloads it. Data stays in
// place for display until the reload lands.
func (c *Cache) Invalidate(key string) {
	c.invalidate(func(k string) bool { return k == key })
}

// InvalidatePrefix marks every key with the given prefix stale.
func (c *Cache) InvalidatePrefix(prefix string) {
	if prefix == "" {
		return
	}
	c.invalidate(func(k string) bool { return strings.HasPrefix(k, prefix) })
}

func (c *Cache) invalidate(match func(string) bool) {
	type change struct {
		entry Entry
		subs  []func(Entry)
	}
	var changes []change

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	for key, entry := range c.entries {
		if !match(key) {
			continue
		}
		entry.StaleAt = time.Time{}
		c.entries[key] = entry
		c.gens[key]++
		c.sf.Forget(key)
		changes = append(changes, change{entry: entry.clone(), subs: c.subscribersLocked(key)})
	}
	if c.persister != nil && len(changes) > 0 {
		keys := make([]string, 0, len(changes))
		for _, ch := range changes {
			keys = append(keys, ch.entry.Key)
		}
		c.bg.Add(1)
		go c.forget(keys)
	}
	c.mu.Unlock()

	for _, ch := range changes {
		notify(ch.subs, ch.entry)
	}
}

func (c *Cache) forget(keys []string) {
	defer c.bg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	for _, key := range keys {
		if err := c.persister.Delete(ctx, key); err != nil {
			c.logger.Warn("query persist delete failed", slog.String("key", key), slog.Any("error", err))
		}
	}
}

// Snapshot captures the exact state of key for a later Restore.
type Snapshot struct {
	key     string
	entry   Entry
	existed bool
}

// Key reports which entry the snapshot covers.
func (s Snapshot) Key() string { return s.key }

// Entry returns a copy of the captured entry.
func (s Snapshot) Entry() (Entry, bool) { return s.entry.clone(), s.existed }

// Snapshot captures key as it is now.
func (c *Cache) Snapshot(key string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return Snapshot{key: key, entry: entry.clone(), existed: ok}
}

// Restore puts the captured entry back byte for byte, removing the entry if
// it did not exist when the snapshot was taken.
func (c *Cache) Restore(s Snapshot) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	var out Entry
	if s.existed {
		c.entries[s.key] = s.entry.clone()
		out = s.entry.clone()
	} else {
		delete(c.entries, s.key)
		out = Entry{Key: s.key, Status: StatusIdle}
	}
	c.gens[s.key]++
	subs := c.subscribersLocked(s.key)
	c.mu.Unlock()

	notify(subs, out)
}

// Subscribe registers fn for every change to key. fn runs on the goroutine
// that made the change and must not block. The returned func unsubscribes.
func (c *Cache) Subscribe(key string, fn func(Entry)) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return func() {}
	}
	c.nextSub++
	id := c.nextSub
	if c.subs[key] == nil {
		c.subs[key] = make(map[uint64]func(Entry))
	}
	c.subs[key][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs[key], id)
			if len(c.subs[key]) == 0 {
				delete(c.subs, key)
			}
		})
	}
}

// Keys lists cached keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Dispose drops every entry and subscriber and closes the persister. The
// cache rejects further writes; Fetch returns an error entry.
func (c *Cache) Dispose(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	c.entries = make(map[string]Entry)
	c.gens = make(map[string]uint64)
	c.loading = make(map[string]int)
	c.subs = make(map[string]map[uint64]func(Entry))
	c.mu.Unlock()

	c.bg.Wait()
	if c.persister == nil {
		return nil
	}
	return c.persister.Close(ctx)
}

func (c *Cache) subscribersLocked(key string) []func(Entry) {
	registered := c.subs[key]
	if len(registered) == 0 {
		return nil
	}
	out := make([]func(Entry), 0, len(registered))
	for _, fn := range registered {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(Entry), entry Entry) {
	for _, fn := range subs {
		fn(entry.clone())
	}
}
