package form

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/influencehub/internal/runtime/apiclient"
	"github.com/l0p7/influencehub/internal/runtime/apierror"
	"github.com/l0p7/influencehub/internal/runtime/mutation"
)

var campaignFields = []Field{
	{Name: "title", Label: "Title", Required: true, Rule: `size(value) <= 40`, RuleMessage: "Title is too long"},
	{Name: "budget", Label: "Budget", Kind: KindCurrency, Required: true, Rule: `value > 0.0`, RuleMessage: "Budget must be positive"},
	{Name: "start_date", Label: "Start date", Kind: KindDatetime, Required: true},
	{Name: "end_date", Label: "End date", Kind: KindDatetime, Rule: `value > form.start_date`, RuleMessage: "End date must be after start date"},
	{Name: "slots", Label: "Slots", Kind: KindInteger, Default: "1"},
}

type recorder struct {
	calls  int
	values Values
	err    error
}

func (r *recorder) submit(_ context.Context, values Values) (string, error) {
	r.calls++
	r.values = values
	if r.err != nil {
		return "", r.err
	}
	return "ok", nil
}

func newCampaignBinder(t *testing.T, rec *recorder, onClose func(string)) *Binder[string] {
	t.Helper()
	loc := time.FixedZone("EDT", -4*60*60)
	b, err := New(Options[string]{
		Name:     "create-campaign",
		Fields:   campaignFields,
		Location: loc,
		Submit:   rec.submit,
		OnClose:  onClose,
		Now:      func() time.Time { return time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return b
}

func fill(t *testing.T, b *Binder[string], values map[string]string) {
	t.Helper()
	for name, value := range values {
		require.NoError(t, b.Set(name, value))
	}
}

func TestSubmitBlocksMissingRequiredFields(t *testing.T) {
	rec := &recorder{}
	b := newCampaignBinder(t, rec, nil)
	require.NoError(t, b.Set("title", "Spring"))

	_, err := b.Submit(context.Background())
	require.ErrorIs(t, err, ErrInvalid)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Budget is required", verr.Fields["budget"])
	assert.Equal(t, "Start date is required", verr.Fields["start_date"])
	assert.NotContains(t, verr.Fields, "end_date")
	assert.Zero(t, rec.calls, "mutation must not be dispatched")
	assert.Equal(t, verr.Fields, b.State().Errors)
}

func TestSubmitAppliesTransforms(t *testing.T) {
	rec := &recorder{}
	closed := ""
	b := newCampaignBinder(t, rec, func(out string) { closed = out })
	fill(t, b, map[string]string{
		"title":      "  Spring Launch ",
		"budget":     "1,500.5",
		"start_date": "2026-05-01T09:30",
		"end_date":   "2026-05-31T18:00:00",
	})

	out, err := b.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, Values{
		"title":      "Spring Launch",
		"budget":     "1500.50",
		"start_date": "2026-05-01T13:30:00Z",
		"end_date":   "2026-05-31T22:00:00Z",
		"slots":      int64(1),
	}, rec.values)

	assert.Equal(t, "ok", closed)
	assert.Equal(t, map[string]string{
		"title": "", "budget": "", "start_date": "", "end_date": "", "slots": "1",
	}, b.Raw(), "fields reset to defaults after success")
}

func TestSubmitRunsRules(t *testing.T) {
	rec := &recorder{}
	b := newCampaignBinder(t, rec, nil)
	fill(t, b, map[string]string{
		"title":      "Spring",
		"budget":     "0",
		"start_date": "2026-05-10T09:00",
		"end_date":   "2026-05-01T09:00",
		"slots":      "two",
	})

	errs := b.Validate()
	assert.Equal(t, FieldErrors{
		"budget":   "Budget must be positive",
		"end_date": "End date must be after start date",
		"slots":    "Slots must be a whole number",
	}, errs)

	_, err := b.Submit(context.Background())
	require.ErrorIs(t, err, ErrInvalid)
	assert.Zero(t, rec.calls)
}

func TestSubmitFailureRetainsValuesAndRecordsError(t *testing.T) {
	rec := &recorder{err: &mutation.Error{
		Mutation:   "create-campaign",
		Normalized: apierror.Normalized{Kind: apierror.KindDetail, Text: "Budget must be positive"},
	}}
	closed := false
	b := newCampaignBinder(t, rec, func(string) { closed = true })
	entered := map[string]string{
		"title":      "Spring",
		"budget":     "10",
		"start_date": "2026-05-01T09:00",
		"end_date":   "",
		"slots":      "3",
	}
	fill(t, b, entered)

	_, err := b.Submit(context.Background())
	require.Error(t, err)
	assert.False(t, closed)
	assert.Equal(t, entered, b.Raw())
	state := b.State()
	require.NotNil(t, state.SubmitError)
	assert.Equal(t, "Budget must be positive", state.SubmitError.Text)

	rec.err = nil
	_, err = b.Submit(context.Background())
	require.NoError(t, err)
	assert.Nil(t, b.State().SubmitError)
}

func TestSubmitNormalizesRawAPIErrors(t *testing.T) {
	rec := &recorder{err: &apiclient.ResponseError{Status: http.StatusNotFound, Body: []byte(`{}`)}}
	b := newCampaignBinder(t, rec, nil)
	fill(t, b, map[string]string{"title": "x", "budget": "1", "start_date": "2026-05-01T09:00"})

	_, err := b.Submit(context.Background())
	require.Error(t, err)
	assert.Equal(t, apierror.NotFoundText, b.State().SubmitError.Text)
}

func TestSubmitInFlightIsNotRecorded(t *testing.T) {
	rec := &recorder{err: mutation.ErrInFlight}
	b := newCampaignBinder(t, rec, nil)
	fill(t, b, map[string]string{"title": "x", "budget": "1", "start_date": "2026-05-01T09:00"})

	_, err := b.Dispatch(context.Background(), map[string]string{"title": "y", "budget": "2", "start_date": "2026-05-01T09:00"})
	require.True(t, errors.Is(err, mutation.ErrInFlight))
	assert.Nil(t, b.State().SubmitError)
	assert.Equal(t, "x", b.Raw()["title"], "rejected input does not replace the form")
}

func TestSubmitWithWhilePendingKeepsPendingInput(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	b, err := New(Options[string]{
		Name:   "update-campaign",
		Fields: []Field{{Name: "title", Label: "Title", Required: true}},
		Submit: func(context.Context, Values) (string, error) {
			close(entered)
			<-release
			return "", &apiclient.ResponseError{Status: http.StatusBadRequest, Body: []byte(`{"detail":"Campaign is locked"}`)}
		},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := b.SubmitWith(context.Background(), map[string]string{"title": "First"})
		done <- err
	}()
	<-entered

	_, err = b.SubmitWith(context.Background(), map[string]string{"title": "Second"})
	require.ErrorIs(t, err, mutation.ErrInFlight)
	_, err = b.Submit(context.Background())
	require.ErrorIs(t, err, mutation.ErrInFlight)
	assert.Equal(t, "First", b.Raw()["title"])

	close(release)
	require.Error(t, <-done)
	state := b.State()
	assert.Equal(t, "First", state.Values["title"], "failed submission retains what was submitted")
	require.NotNil(t, state.SubmitError)
	assert.Equal(t, "Campaign is locked", state.SubmitError.Text)
}

func TestSubmitWithReplacesInput(t *testing.T) {
	rec := &recorder{}
	b := newCampaignBinder(t, rec, nil)
	require.NoError(t, b.Set("title", "stale"))
	require.NoError(t, b.Set("slots", "9"))

	_, err := b.SubmitWith(context.Background(), map[string]string{
		"title":      "Fresh",
		"budget":     "5",
		"start_date": "2026-05-01T09:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "Fresh", rec.values["title"])
	assert.Equal(t, int64(1), rec.values["slots"], "unspecified fields fall back to defaults")

	_, err = b.SubmitWith(context.Background(), map[string]string{"bogus": "x"})
	require.ErrorIs(t, err, ErrUnknownField)
	assert.Equal(t, 1, rec.calls)
}

func TestSetRejectsUnknownFields(t *testing.T) {
	b := newCampaignBinder(t, &recorder{}, nil)
	require.ErrorIs(t, b.Set("nope", "x"), ErrUnknownField)
}

func TestNewValidatesDeclarations(t *testing.T) {
	_, err := New(Options[string]{})
	require.Error(t, err)

	submit := func(context.Context, Values) (string, error) { return "", nil }
	_, err = New(Options[string]{Submit: submit, Fields: []Field{{Name: "a"}, {Name: "a"}}})
	require.Error(t, err)
	_, err = New(Options[string]{Submit: submit, Fields: []Field{{Name: "a", Rule: "1 +"}}})
	require.Error(t, err)
}

func TestTransformHelpers(t *testing.T) {
	got, err := FormatCurrency("$12.345")
	require.NoError(t, err)
	assert.Equal(t, "12.35", got)
	_, err = FormatCurrency("twelve")
	require.Error(t, err)

	ts, err := CanonicalTimestamp("2026-01-15T08:00", time.FixedZone("UTC+2", 2*60*60))
	require.NoError(t, err)
	assert.Equal(t, "2026-01-15T06:00:00Z", ts)

	ts, err = CanonicalTimestamp("2026-01-15T08:00:00+01:00", nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-15T07:00:00Z", ts)
}

func TestFieldErrorsString(t *testing.T) {
	errs := FieldErrors{"title": "required", "budget": "must be positive"}
	assert.Equal(t, "budget: must be positive; title: required", errs.Error())
}
