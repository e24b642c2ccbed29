package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHTTPDoer implements Doer for testing
type mockHTTPDoer struct {
	resp     *http.Response
	err      error
	requests []*http.Request
}

func (m *mockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	m.requests = append(m.requests, req)
	return m.resp, m.err
}

func mockResponseBody(body string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(body))
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{BaseURL: "/relative"})
	require.Error(t, err)
}

func TestResolveJoinsOntoBasePath(t *testing.T) {
	client, err := New(Options{BaseURL: "https://api.example.com/v1"})
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/v1/campaigns/7/", client.Resolve("/campaigns/7/"))
	assert.Equal(t, "https://api.example.com/v1/campaigns/", client.Resolve("campaigns/"))
	assert.Equal(t, "https://api.example.com/v1/analytics/?range=30d", client.Resolve("/analytics/?range=30d"))
}

func TestDoInjectsHeadersAndEncodesBody(t *testing.T) {
	var captured *http.Request
	var capturedBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&capturedBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":3,"title":"New"}`))
	}))
	defer server.Close()

	client, err := New(Options{
		BaseURL:           server.URL + "/api",
		Token:             "secret",
		UserAgent:         "influencehub-test",
		CorrelationHeader: "X-Request-ID",
	})
	require.NoError(t, err)

	body, err := client.Do(context.Background(), http.MethodPatch, "/campaigns/3/", map[string]any{"title": "New"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3,"title":"New"}`, string(body))

	require.NotNil(t, captured)
	assert.Equal(t, http.MethodPatch, captured.Method)
	assert.Equal(t, "/api/campaigns/3/", captured.URL.Path)
	assert.Equal(t, "Bearer secret", captured.Header.Get("Authorization"))
	assert.Equal(t, "application/json", captured.Header.Get("Content-Type"))
	assert.Equal(t, "influencehub-test", captured.Header.Get("User-Agent"))
	assert.NotEmpty(t, captured.Header.Get("X-Request-ID"))
	assert.Equal(t, "New", capturedBody["title"])
}

func TestDoReturnsResponseErrorForNon2xx(t *testing.T) {
	doer := &mockHTTPDoer{resp: &http.Response{
		StatusCode: http.StatusBadRequest,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       mockResponseBody(`{"detail":"Budget must be positive"}`),
	}}
	client, err := New(Options{BaseURL: "https://api.example.com", Doer: doer})
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "/campaigns/")
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusBadRequest, respErr.Status)
	assert.JSONEq(t, `{"detail":"Budget must be positive"}`, string(respErr.Body))
	assert.Empty(t, doer.requests[0].Header.Get("Authorization"))
}

func TestDoWrapsTransportErrors(t *testing.T) {
	boom := errors.New("connection refused")
	client, err := New(Options{BaseURL: "https://api.example.com", Doer: &mockHTTPDoer{err: boom}})
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "/profile/")
	require.ErrorIs(t, err, boom)
	var respErr *ResponseError
	require.False(t, errors.As(err, &respErr))
}

func TestUnwrap(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		extra []string
		want  string
	}{
		{name: "bare resource", body: `{"id":7,"payment_status":"paid"}`, want: `{"id":7,"payment_status":"paid"}`},
		{name: "campaign envelope", body: `{"campaign":{"id":7}}`, want: `{"id":7}`},
		{name: "data envelope", body: `{"data":[1,2]}`, want: `[1,2]`},
		{name: "null envelope falls through", body: `{"campaign":null,"id":1}`, want: `{"campaign":null,"id":1}`},
		{name: "extra wrapper first", body: `{"request":{"id":2},"data":{"id":9}}`, extra: []string{"request"}, want: `{"id":2}`},
		{name: "array body", body: `[{"id":1}]`, want: `[{"id":1}]`},
		{name: "empty body", body: ``, want: ``},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Unwrap([]byte(tc.body), tc.extra...)
			if tc.want == "" {
				assert.Empty(t, got)
				return
			}
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type campaign struct {
		ID            int64  `json:"id"`
		PaymentStatus string `json:"payment_status"`
	}
	got, err := DecodeJSON[campaign]([]byte(`{"campaign":{"id":7,"payment_status":"paid"}}`))
	require.NoError(t, err)
	assert.Equal(t, campaign{ID: 7, PaymentStatus: "paid"}, got)

	empty, err := DecodeJSON[campaign](nil)
	require.NoError(t, err)
	assert.Zero(t, empty)

	_, err = DecodeJSON[campaign]([]byte(`{"id":"seven"}`))
	require.Error(t, err)
}
