package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// Doer is the minimal transport contract; *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	Token             string
	UserAgent         string
	Timeout           time.Duration
	CorrelationHeader string
	Doer              Doer
	Logger            *slog.Logger
}

// Client is a thin JSON wrapper over the marketplace REST API. It owns base
// URL resolution and auth header injection; everything else belongs to the
// caller.
type Client struct {
	base              *url.URL
	token             string
	userAgent         string
	correlationHeader string
	doer              Doer
	logger            *slog.Logger
}

// ResponseError is returned for any non-2xx response. Body holds the raw
// (size-limited) response payload for the error normalizer.
type ResponseError struct {
	Method string
	URL    string
	Status int
	Body   []byte
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("apiclient: %s %s: status %d", e.Method, e.URL, e.Status)
}

// New validates the base URL and prepares a client.
func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, errors.New("apiclient: base url required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("apiclient: base url must be absolute: %q", raw)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	doer := opts.Doer
	if doer == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		doer = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:              base,
		token:             strings.TrimSpace(opts.Token),
		userAgent:         strings.TrimSpace(opts.UserAgent),
		correlationHeader: strings.TrimSpace(opts.CorrelationHeader),
		doer:              doer,
		logger:            logger.With(slog.String("agent", "api_client")),
	}, nil
}

// Resolve joins a relative API path onto the base URL.
func (c *Client) Resolve(path string) string {
	ref := &url.URL{Path: strings.TrimPrefix(path, "/")}
	if i := strings.IndexByte(ref.Path, '?'); i >= 0 {
		ref.RawQuery = ref.Path[i+1:]
		ref.Path = ref.Path[:i]
	}
	return c.base.ResolveReference(ref).String()
}

// Do sends body (JSON-encoded when non-nil) and returns the raw success
// payload. Non-2xx statuses yield *ResponseError.
func (c *Client) Do(ctx context.Context, method, path string, body any) ([]byte, error) {
	target := c.Resolve(path)

	var reader io.Reader
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("apiclient: encode body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	if encoded != nil {
		snap := encoded
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(snap)), nil
		}
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	correlationID := ""
	if c.correlationHeader != "" {
		correlationID = uuid.NewString()
		req.Header.Set(c.correlationHeader, correlationID)
	}

	start := time.Now()
	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: %s %s: %w", method, target, err)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	closeErr := resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("apiclient: read body: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("apiclient: close body: %w", closeErr)
	}

	c.logger.LogAttrs(ctx, slog.LevelDebug, "api call completed",
		slog.String("method", method),
		slog.String("url", target),
		slog.Int("status", resp.StatusCode),
		slog.String("correlation_id", correlationID),
		slog.Float64("latency_ms", float64(time.Since(start))/float64(time.Millisecond)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ResponseError{Method: method, URL: target, Status: resp.StatusCode, Body: payload}
	}
	return payload, nil
}

// Get is shorthand for a body-less GET.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// defaultWrappers are the envelope members observed across mutation endpoints.
var defaultWrappers = []string{"campaign", "data"}

// Unwrap absorbs the inconsistent success envelopes of the backend: when body
// is a JSON object holding one of the wrapper members, that member is
// returned; otherwise body is returned unchanged. Extra wrapper names are
// checked before the defaults.
func Unwrap(body []byte, extra ...string) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return body
	}
	names := append(append([]string(nil), extra...), defaultWrappers...)
	for _, name := range names {
		inner, ok := members[name]
		if !ok {
			continue
		}
		inner = bytes.TrimSpace(inner)
		if len(inner) == 0 || bytes.Equal(inner, []byte("null")) {
			continue
		}
		return inner
	}
	return body
}

// DecodeJSON unwraps the envelope and decodes into T. Empty bodies (204
// responses) decode to the zero value.
func DecodeJSON[T any](body []byte, extra ...string) (T, error) {
	var out T
	inner := Unwrap(body, extra...)
	if len(bytes.TrimSpace(inner)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(inner, &out); err != nil {
		return out, fmt.Errorf("apiclient: decode %T: %w", out, err)
	}
	return out, nil
}
