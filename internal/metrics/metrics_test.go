package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveFetch(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveFetch("company-campaigns", FetchMiss, 250*time.Millisecond)
	rec.ObserveFetch("company-campaigns", FetchCoalesced, 250*time.Millisecond)

	families := gather(t, rec, "influencehub_query_fetches_total", "influencehub_query_fetch_duration_seconds")

	counter := findMetric(t, families["influencehub_query_fetches_total"], map[string]string{
		"key":    "company-campaigns",
		"result": "miss",
	})
	if counter.GetCounter() == nil {
		t.Fatalf("expected counter metric for fetches")
	}
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter value 1, got %v", got)
	}

	histMetric := findMetric(t, families["influencehub_query_fetch_duration_seconds"], map[string]string{
		"key":    "company-campaigns",
		"result": "coalesced",
	})
	hist := histMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for fetch latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.25
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveMutations(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveMutation("update-campaign", MutationError, 5*time.Millisecond)
	rec.ObserveMutation("update-campaign", MutationSkipped, 0)
	rec.ObserveRollback("update-campaign")

	families := gather(t, rec,
		"influencehub_mutation_invocations_total",
		"influencehub_mutation_duration_seconds",
		"influencehub_mutation_rollbacks_total",
	)

	errMetric := findMetric(t, families["influencehub_mutation_invocations_total"], map[string]string{
		"mutation": "update-campaign",
		"outcome":  string(MutationError),
	})
	if got := errMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected error counter 1, got %v", got)
	}

	skipped := findMetric(t, families["influencehub_mutation_invocations_total"], map[string]string{
		"mutation": "update-campaign",
		"outcome":  string(MutationSkipped),
	})
	if got := skipped.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected skipped counter 1, got %v", got)
	}

	for _, metric := range families["influencehub_mutation_duration_seconds"] {
		if matchLabels(metric, map[string]string{"outcome": string(MutationSkipped)}) {
			t.Fatalf("skipped invocations must not record latency")
		}
	}

	rollback := findMetric(t, families["influencehub_mutation_rollbacks_total"], map[string]string{
		"mutation": "update-campaign",
	})
	if got := rollback.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected rollback counter 1, got %v", got)
	}
}

func TestRecorderObservePoll(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObservePoll("influencer-analytics", PollFailed)
	rec.ObservePoll("", PollRefreshed)

	families := gather(t, rec, "influencehub_poll_runs_total")
	findMetric(t, families["influencehub_poll_runs_total"], map[string]string{"key": "influencer-analytics", "result": "failed"})
	findMetric(t, families["influencehub_poll_runs_total"], map[string]string{"key": "unknown", "result": "refreshed"})
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveFetch("k", FetchHit, time.Millisecond)
	rec.ObserveMutation("m", MutationSuccess, time.Millisecond)
	rec.ObserveRollback("m")
	rec.ObservePoll("k", PollRefreshed)

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 503 {
		t.Fatalf("expected 503 from nil recorder, got %d", rr.Code)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
