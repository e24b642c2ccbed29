// Package server exposes a dashboard session to views over local HTTP: views
// read cache state as JSON and dispatch mutations through it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/l0p7/influencehub/internal/marketplace"
	"github.com/l0p7/influencehub/internal/runtime"
	"github.com/l0p7/influencehub/internal/runtime/dashboard"
	"github.com/l0p7/influencehub/internal/runtime/form"
	"github.com/l0p7/influencehub/internal/runtime/mutation"
	"github.com/l0p7/influencehub/internal/runtime/notify"
	"github.com/l0p7/influencehub/internal/runtime/query"
)

const maxMutationBody = 64 << 10

// Session is the surface the bridge needs from a dashboard session.
type Session interface {
	Keys() []string
	Fetch(ctx context.Context, key string) (query.Entry, error)
	Invalidate(key string)
	Mutations() []string
	Form(name string) (runtime.FormView, error)
	Submit(ctx context.Context, name string, values map[string]string) (any, error)
	View() dashboard.View
	SelectTab(id string) error
	Notices(drain bool) []notify.Notice
	ConnectURL(provider, state string) (string, string, error)
	Healthy() error
}

type router struct {
	session Session
	logger  *slog.Logger
}

// NewHandler routes view requests onto session. metrics may be nil.
func NewHandler(session Session, logger *slog.Logger, metrics http.Handler) http.Handler {
	if session == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		})
	}
	if logger == nil {
		logger = slog.Default()
	}
	rt := &router{session: session, logger: logger.With(slog.String("agent", "router"))}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.health)
	mux.HandleFunc("GET /queries", rt.listQueries)
	mux.HandleFunc("GET /queries/{key}", rt.getQuery)
	mux.HandleFunc("POST /queries/{key}/invalidate", rt.invalidate)
	mux.HandleFunc("GET /mutations", rt.listMutations)
	mux.HandleFunc("GET /mutations/{name}", rt.getForm)
	mux.HandleFunc("POST /mutations/{name}", rt.submit)
	mux.HandleFunc("GET /tabs", rt.tabs)
	mux.HandleFunc("POST /tabs/{id}", rt.selectTab)
	mux.HandleFunc("GET /notices", rt.notices)
	mux.HandleFunc("GET /connect/{provider}", rt.connect)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

func (rt *router) health(w http.ResponseWriter, _ *http.Request) {
	if err := rt.session.Healthy(); err != nil {
		rt.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "role": rt.session.View().Role})
}

func (rt *router) listQueries(w http.ResponseWriter, _ *http.Request) {
	rt.writeJSON(w, http.StatusOK, map[string]any{"keys": rt.session.Keys()})
}

func (rt *router) getQuery(w http.ResponseWriter, r *http.Request) {
	entry, err := rt.session.Fetch(r.Context(), r.PathValue("key"))
	if err != nil {
		rt.writeError(w, statusFor(err), err.Error())
		return
	}
	rt.writeJSON(w, http.StatusOK, entry)
}

func (rt *router) invalidate(w http.ResponseWriter, r *http.Request) {
	rt.session.Invalidate(r.PathValue("key"))
	w.WriteHeader(http.StatusNoContent)
}

func (rt *router) listMutations(w http.ResponseWriter, _ *http.Request) {
	rt.writeJSON(w, http.StatusOK, map[string]any{"mutations": rt.session.Mutations()})
}

func (rt *router) getForm(w http.ResponseWriter, r *http.Request) {
	view, err := rt.session.Form(r.PathValue("name"))
	if err != nil {
		rt.writeError(w, statusFor(err), err.Error())
		return
	}
	rt.writeJSON(w, http.StatusOK, view)
}

func (rt *router) submit(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	values, err := decodeValues(http.MaxBytesReader(w, r.Body, maxMutationBody))
	if err != nil {
		rt.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// A client that hangs up must not cancel a write the API may already
	// have committed.
	out, err := rt.session.Submit(context.WithoutCancel(r.Context()), name, values)
	if err == nil {
		rt.writeJSON(w, http.StatusOK, map[string]any{"result": out})
		return
	}

	var validation *form.ValidationError
	var mutErr *mutation.Error
	switch {
	case errors.As(err, &validation):
		rt.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": validation.Fields})
	case errors.As(err, &mutErr):
		rt.writeJSON(w, http.StatusBadGateway, map[string]any{"error": mutErr.Normalized})
	default:
		rt.writeError(w, statusFor(err), err.Error())
	}
}

func (rt *router) tabs(w http.ResponseWriter, _ *http.Request) {
	rt.writeJSON(w, http.StatusOK, rt.session.View())
}

func (rt *router) selectTab(w http.ResponseWriter, r *http.Request) {
	if err := rt.session.SelectTab(r.PathValue("id")); err != nil {
		rt.writeError(w, statusFor(err), err.Error())
		return
	}
	rt.writeJSON(w, http.StatusOK, rt.session.View())
}

func (rt *router) notices(w http.ResponseWriter, r *http.Request) {
	drain, _ := strconv.ParseBool(r.URL.Query().Get("drain"))
	notices := rt.session.Notices(drain)
	if notices == nil {
		notices = []notify.Notice{}
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"notices": notices})
}

func (rt *router) connect(w http.ResponseWriter, r *http.Request) {
	target, state, err := rt.session.ConnectURL(r.PathValue("provider"), r.URL.Query().Get("state"))
	if err != nil {
		rt.writeError(w, statusFor(err), err.Error())
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]string{"url": target, "state": state})
}

// decodeValues reads a JSON object of form fields. Numbers and booleans are
// accepted and passed on as their JSON text.
func decodeValues(body io.Reader) (map[string]string, error) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(body)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	values := make(map[string]string, len(raw))
	for name, member := range raw {
		var text string
		if err := json.Unmarshal(member, &text); err == nil {
			values[name] = text
			continue
		}
		var scalar any
		if err := json.Unmarshal(member, &scalar); err != nil {
			return nil, fmt.Errorf("invalid value for %s", name)
		}
		switch scalar.(type) {
		case nil:
			values[name] = ""
		case float64, bool:
			values[name] = string(member)
		default:
			return nil, fmt.Errorf("field %s must be a scalar", name)
		}
	}
	return values, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, marketplace.ErrUnknownMutation),
		errors.Is(err, marketplace.ErrUnknownQuery),
		errors.Is(err, marketplace.ErrUnknownProvider),
		errors.Is(err, dashboard.ErrUnknownTab):
		return http.StatusNotFound
	case errors.Is(err, form.ErrUnknownField):
		return http.StatusBadRequest
	case errors.Is(err, mutation.ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, mutation.ErrClosed),
		errors.Is(err, marketplace.ErrProviderDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (rt *router) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		rt.logger.Error("response encode failed", slog.Any("error", err))
	}
}

func (rt *router) writeError(w http.ResponseWriter, status int, message string) {
	rt.writeJSON(w, status, map[string]string{"error": message})
}
