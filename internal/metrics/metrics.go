package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FetchResult captures how a query fetch was satisfied.
type FetchResult string

const (
	// FetchHit indicates a fresh cached entry was returned without a network call.
	FetchHit FetchResult = "hit"
	// FetchMiss indicates the caller triggered the loader.
	FetchMiss FetchResult = "miss"
	// FetchCoalesced indicates the caller joined a loader call already in flight.
	FetchCoalesced FetchResult = "coalesced"
	// FetchError indicates the loader failed.
	FetchError FetchResult = "error"
)

// MutationOutcome captures the terminal state of a mutation invocation.
type MutationOutcome string

const (
	MutationSuccess MutationOutcome = "success"
	MutationError   MutationOutcome = "error"
	// MutationSkipped indicates the single-flight guard rejected the call.
	MutationSkipped MutationOutcome = "skipped"
)

// PollResult captures the result of one scheduler tick.
type PollResult string

const (
	PollRefreshed PollResult = "refreshed"
	PollFailed    PollResult = "failed"
)

// Recorder publishes Prometheus metrics for cache and mutation activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	fetches      *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec

	mutations       *prometheus.CounterVec
	mutationLatency *prometheus.HistogramVec
	rollbacks       *prometheus.CounterVec

	polls *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "influencehub",
		Subsystem: "query",
		Name:      "fetches_total",
		Help:      "Query cache fetches by key and how they were satisfied.",
	}, []string{"key", "result"})

	fetchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "influencehub",
		Subsystem: "query",
		Name:      "fetch_duration_seconds",
		Help:      "Latency distribution for query cache fetches.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"key", "result"})

	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "influencehub",
		Subsystem: "mutation",
		Name:      "invocations_total",
		Help:      "Mutation invocations by terminal outcome.",
	}, []string{"mutation", "outcome"})

	mutationLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "influencehub",
		Subsystem: "mutation",
		Name:      "duration_seconds",
		Help:      "Latency distribution for completed mutations.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"mutation", "outcome"})

	rollbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "influencehub",
		Subsystem: "mutation",
		Name:      "rollbacks_total",
		Help:      "Optimistic patches restored after a failed mutation.",
	}, []string{"mutation"})

	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "influencehub",
		Subsystem: "poll",
		Name:      "runs_total",
		Help:      "Scheduler ticks by key and result.",
	}, []string{"key", "result"})

	reg.MustRegister(fetches, fetchLatency, mutations, mutationLatency, rollbacks, polls)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		fetches:         fetches,
		fetchLatency:    fetchLatency,
		mutations:       mutations,
		mutationLatency: mutationLatency,
		rollbacks:       rollbacks,
		polls:           polls,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveFetch records how a query fetch was satisfied.
func (r *Recorder) ObserveFetch(key string, result FetchResult, duration time.Duration) {
	if r == nil {
		return
	}
	keyLabel := normalizeLabel(key)
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(FetchMiss)
	}
	r.fetches.WithLabelValues(keyLabel, resultLabel).Inc()
	r.fetchLatency.WithLabelValues(keyLabel, resultLabel).Observe(duration.Seconds())
}

// ObserveMutation records the terminal outcome of a mutation.
func (r *Recorder) ObserveMutation(name string, outcome MutationOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	nameLabel := normalizeLabel(name)
	outcomeLabel := normalizeLabel(string(outcome))
	r.mutations.WithLabelValues(nameLabel, outcomeLabel).Inc()
	if outcome == MutationSkipped {
		return
	}
	r.mutationLatency.WithLabelValues(nameLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveRollback records that a failed mutation restored its snapshots.
func (r *Recorder) ObserveRollback(name string) {
	if r == nil {
		return
	}
	r.rollbacks.WithLabelValues(normalizeLabel(name)).Inc()
}

// ObservePoll records one scheduler tick.
func (r *Recorder) ObservePoll(key string, result PollResult) {
	if r == nil {
		return
	}
	r.polls.WithLabelValues(normalizeLabel(key), normalizeLabel(string(result))).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
