// Package runtime assembles one dashboard session: the query cache, the
// polling scheduler, notices, the API client and the marketplace bindings.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/l0p7/influencehub/internal/config"
	"github.com/l0p7/influencehub/internal/marketplace"
	"github.com/l0p7/influencehub/internal/metrics"
	"github.com/l0p7/influencehub/internal/runtime/apiclient"
	"github.com/l0p7/influencehub/internal/runtime/dashboard"
	"github.com/l0p7/influencehub/internal/runtime/form"
	"github.com/l0p7/influencehub/internal/runtime/notify"
	"github.com/l0p7/influencehub/internal/runtime/query"
	"github.com/l0p7/influencehub/internal/templates"
)

// SessionOptions wires a Session. Config is required; the rest default.
type SessionOptions struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	// Doer replaces the HTTP transport of the API client.
	Doer apiclient.Doer
	// Persister overrides the backend named by cache.persist.backend.
	Persister query.Persister
	Now       func() time.Time
}

// Session is the provider every view of one dashboard shares. Sessions are
// isolated from each other: two sessions never share cache entries.
type Session struct {
	logger    *slog.Logger
	metrics   *metrics.Recorder
	cache     *query.Cache
	scheduler *query.Scheduler
	inbox     *notify.Inbox
	market    *marketplace.Marketplace
	navigator *dashboard.Navigator
	poll      query.PollOptions

	mu          sync.Mutex
	releasePoll func()
	disposed    bool
}

// NewSession builds a session for the configured role.
func NewSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	role, err := dashboard.ParseRole(cfg.Dashboard.Role)
	if err != nil {
		return nil, err
	}

	persister := opts.Persister
	if persister == nil {
		persister = buildPersister(ctx, logger.With(slog.String("agent", "persist_factory")), cfg.Cache.Persist)
	}
	cache := query.New(query.Options{
		StaleTime:  cfg.StaleTime(),
		Logger:     logger,
		Metrics:    opts.Metrics,
		Persister:  persister,
		PersistTTL: cfg.PersistTTL(),
		Now:        opts.Now,
	})

	client, err := apiclient.New(apiclient.Options{
		BaseURL:           cfg.API.BaseURL,
		Token:             cfg.API.Token,
		UserAgent:         cfg.API.UserAgent,
		Timeout:           cfg.APITimeout(),
		CorrelationHeader: cfg.Server.Logging.CorrelationHeader,
		Doer:              opts.Doer,
		Logger:            logger,
	})
	if err != nil {
		_ = cache.Dispose(ctx)
		return nil, err
	}

	inbox := notify.NewInbox(0)
	market, err := marketplace.New(marketplace.Options{
		Role:      role,
		Client:    client,
		Cache:     cache,
		Notifier:  notify.Fanout{notify.NewLog(logger), inbox},
		Messages:  notify.NewMessages(templates.NewRenderer()),
		Templates: cfg.Notifications.Templates,
		OAuth:     cfg.OAuth,
		Logger:    logger,
		Metrics:   opts.Metrics,
	})
	if err != nil {
		_ = cache.Dispose(ctx)
		return nil, err
	}

	s := &Session{
		logger:    logger.With(slog.String("agent", "session"), slog.String("role", string(role))),
		metrics:   opts.Metrics,
		cache:     cache,
		scheduler: query.NewScheduler(cache, logger, opts.Metrics),
		inbox:     inbox,
		market:    market,
		poll: query.PollOptions{
			Interval:   cfg.Polling.Analytics.Every(),
			Retries:    cfg.Polling.Analytics.Retries,
			RetryDelay: cfg.Polling.Analytics.Delay(),
		},
	}
	navigator, err := dashboard.NewNavigator(role, s.onTab)
	if err != nil {
		market.Close()
		_ = cache.Dispose(ctx)
		return nil, err
	}
	s.navigator = navigator
	return s, nil
}

func buildPersister(ctx context.Context, logger *slog.Logger, cfg config.PersistConfig) query.Persister {
	switch strings.TrimSpace(strings.ToLower(cfg.Backend)) {
	case "", "none":
		return nil
	case "redis":
		persister, err := query.NewValkeyPersister(ctx, query.ValkeyConfig{
			Address:   cfg.Redis.Address,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Namespace: cfg.Namespace,
			TLS: query.ValkeyTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("valkey persister initialization failed", slog.Any("error", err))
			logger.Info("continuing without query persistence")
			return nil
		}
		logger.Info("using valkey query persistence", slog.String("address", cfg.Redis.Address))
		return persister
	default:
		logger.Warn("unsupported persist backend, persistence disabled", slog.String("backend", cfg.Backend))
		return nil
	}
}

// onTab scrolls to the top and keeps analytics polling registered exactly
// while the analytics tab is selected.
func (s *Session) onTab(tab dashboard.Tab) {
	s.logger.Debug("tab selected, scrolling to top", slog.String("tab", string(tab)))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	if tab != dashboard.TabAnalytics {
		if s.releasePoll != nil {
			s.releasePoll()
			s.releasePoll = nil
		}
		return
	}
	if s.releasePoll != nil {
		return
	}
	key := marketplace.AnalyticsKey(s.market.Role())
	loader, err := s.market.Loader(key)
	if err != nil {
		s.logger.Warn("analytics polling unavailable", slog.Any("error", err))
		return
	}
	s.releasePoll = s.scheduler.Register(key, loader, s.poll)
}

func (s *Session) Role() dashboard.Role { return s.market.Role() }

// Cache exposes the session's query cache.
func (s *Session) Cache() *query.Cache { return s.cache }

func (s *Session) Marketplace() *marketplace.Marketplace { return s.market }

// Scheduler exposes the polling scheduler.
func (s *Session) Scheduler() *query.Scheduler { return s.scheduler }

// Keys lists the static query keys of the role.
func (s *Session) Keys() []string { return s.market.Keys() }

// Fetch reads key through the cache.
func (s *Session) Fetch(ctx context.Context, key string) (query.Entry, error) {
	return s.market.Fetch(ctx, key)
}

// Invalidate marks key stale.
func (s *Session) Invalidate(key string) { s.cache.Invalidate(key) }

// Mutations lists the mutation names of the role.
func (s *Session) Mutations() []string { return s.market.Mutations() }

// Submit replaces the input of the named form and submits it.
func (s *Session) Submit(ctx context.Context, name string, values map[string]string) (any, error) {
	return s.market.Submit(ctx, name, values)
}

// FormView is a form's declared fields together with its current state.
type FormView struct {
	Name    string       `json:"name"`
	Pending bool         `json:"pending"`
	Fields  []form.Field `json:"fields"`
	State   form.State   `json:"state"`
}

// Form describes the named mutation form.
func (s *Session) Form(name string) (FormView, error) {
	f, err := s.market.Form(name)
	if err != nil {
		return FormView{}, err
	}
	pending, err := s.market.Pending(name)
	if err != nil {
		return FormView{}, err
	}
	return FormView{Name: name, Pending: pending, Fields: f.Fields(), State: f.State()}, nil
}

func (s *Session) View() dashboard.View { return s.navigator.View() }

// SelectTab switches the dashboard tab.
func (s *Session) SelectTab(id string) error { return s.navigator.SelectTab(id) }

// Notices returns the retained notices, emptying the inbox when drain is set.
func (s *Session) Notices(drain bool) []notify.Notice {
	if drain {
		return s.inbox.Drain()
	}
	return s.inbox.List()
}

// ConnectURL starts a provider connect flow.
func (s *Session) ConnectURL(provider, state string) (string, string, error) {
	return s.market.ConnectURL(provider, state)
}

// Dispose stops polling, detaches every mutation and disposes the cache.
// In-flight network calls are abandoned: their results still resolve but no
// longer reach any view.
func (s *Session) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	if s.releasePoll != nil {
		s.releasePoll()
		s.releasePoll = nil
	}
	s.mu.Unlock()

	s.scheduler.Stop()
	s.market.Close()
	if err := s.cache.Dispose(ctx); err != nil {
		return fmt.Errorf("runtime: dispose cache: %w", err)
	}
	s.logger.Info("session disposed")
	return nil
}

// ErrDisposed is reported by Healthy after Dispose.
var ErrDisposed = errors.New("runtime: session disposed")

// Healthy reports whether the session still serves views.
func (s *Session) Healthy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	return nil
}
