package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/l0p7/influencehub/internal/config"
	"github.com/l0p7/influencehub/internal/expr"
	"github.com/l0p7/influencehub/internal/metrics"
	"github.com/l0p7/influencehub/internal/runtime/apiclient"
	"github.com/l0p7/influencehub/internal/runtime/dashboard"
	"github.com/l0p7/influencehub/internal/runtime/form"
	"github.com/l0p7/influencehub/internal/runtime/notify"
	"github.com/l0p7/influencehub/internal/runtime/query"
)

// ErrUnknownMutation is returned for mutation names the role does not offer.
var ErrUnknownMutation = errors.New("marketplace: unknown mutation")

// Form is the untyped view of a mutation's form binder.
type Form interface {
	Name() string
	Fields() []form.Field
	Set(name, raw string) error
	Raw() map[string]string
	State() form.State
	Reset()
	Dispatch(ctx context.Context, raw map[string]string) (any, error)
}

// Options wires a Marketplace.
type Options struct {
	Role      dashboard.Role
	Client    *apiclient.Client
	Cache     *query.Cache
	Notifier  notify.Notifier
	Messages  *notify.Messages
	// Templates override the built-in notice texts per mutation.
	Templates map[string]config.NoticeTemplateConfig
	OAuth     config.OAuthConfig
	Location  *time.Location
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

type controller interface {
	Pending() bool
	Close()
}

// Marketplace owns the forms, mutations and loaders of one dashboard role.
type Marketplace struct {
	role     dashboard.Role
	client   *apiclient.Client
	cache    *query.Cache
	notifier notify.Notifier
	messages *notify.Messages
	rules    *expr.Environment
	location *time.Location
	logger   *slog.Logger
	metrics  *metrics.Recorder
	oauth    config.OAuthConfig

	forms       map[string]Form
	controllers map[string]controller
	tempIDs     atomic.Int64
}

func New(opts Options) (*Marketplace, error) {
	if opts.Client == nil {
		return nil, errors.New("marketplace: api client required")
	}
	if opts.Cache == nil {
		return nil, errors.New("marketplace: cache required")
	}
	if _, ok := queryPaths[opts.Role]; !ok {
		return nil, fmt.Errorf("%w: %q", dashboard.ErrUnknownRole, opts.Role)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	messages := opts.Messages
	if messages == nil {
		messages = notify.NewMessages(nil)
	}
	location := opts.Location
	if location == nil {
		location = time.Local
	}
	rules, err := expr.NewEnvironment()
	if err != nil {
		return nil, err
	}
	m := &Marketplace{
		role:        opts.Role,
		client:      opts.Client,
		cache:       opts.Cache,
		notifier:    opts.Notifier,
		messages:    messages,
		rules:       rules,
		location:    location,
		logger:      logger.With(slog.String("agent", "marketplace"), slog.String("role", string(opts.Role))),
		metrics:     opts.Metrics,
		oauth:       opts.OAuth,
		forms:       make(map[string]Form),
		controllers: make(map[string]controller),
	}
	if err := registerDefaultMessages(messages); err != nil {
		return nil, err
	}
	if err := messages.Apply(opts.Templates); err != nil {
		return nil, err
	}

	var build []func() error
	switch opts.Role {
	case dashboard.RoleCompany:
		build = []func() error{m.createCampaign, m.updateCampaign, m.deleteCampaign, m.markPaymentPaid, m.updateProfile}
	case dashboard.RoleInfluencer:
		build = []func() error{m.acceptRequest, m.rejectRequest, m.updateProfile}
	}
	for _, fn := range build {
		if err := fn(); err != nil {
			m.Close()
			return nil, err
		}
	}
	return m, nil
}

func (m *Marketplace) Role() dashboard.Role { return m.role }

// Cache exposes the shared query cache.
func (m *Marketplace) Cache() *query.Cache { return m.cache }

// Form returns the binder behind a mutation name.
func (m *Marketplace) Form(name string) (Form, error) {
	f, ok := m.forms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMutation, name)
	}
	return f, nil
}

// Mutations lists the mutation names available to the role.
func (m *Marketplace) Mutations() []string {
	names := make([]string, 0, len(m.forms))
	for name := range m.forms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Submit replaces the form input of a mutation with values and submits it.
// Keys not declared by the form are rejected before anything is dispatched.
func (m *Marketplace) Submit(ctx context.Context, name string, values map[string]string) (any, error) {
	f, err := m.Form(name)
	if err != nil {
		return nil, err
	}
	return f.Dispatch(ctx, values)
}

// Pending reports whether the named mutation has an invocation in flight.
func (m *Marketplace) Pending(name string) (bool, error) {
	c, ok := m.controllers[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownMutation, name)
	}
	return c.Pending(), nil
}

// Close detaches every mutation controller.
func (m *Marketplace) Close() {
	for _, c := range m.controllers {
		c.Close()
	}
}

func (m *Marketplace) register(f Form, c controller) {
	m.forms[f.Name()] = f
	m.controllers[f.Name()] = c
}

func (m *Marketplace) nextTempID() int64 { return -m.tempIDs.Add(1) }
