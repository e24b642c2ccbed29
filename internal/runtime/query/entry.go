package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the fetch state of an Entry.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Entry is the cached view of one server-derived value. Data always holds the
// last successful (or optimistically written) payload; a failed refetch keeps
// it as placeholder and only flips Status.
type Entry struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data,omitempty"`
	Status    Status          `json:"status"`
	Err       string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
	StaleAt   time.Time       `json:"staleAt"`
}

// Loader performs the network read for a key. It returns raw JSON.
type Loader func(ctx context.Context) (json.RawMessage, error)

// ErrNoData is returned by Decode when the entry holds no payload yet.
var ErrNoData = errors.New("query: entry has no data")

// Fresh reports whether the entry can be served without refetching.
func (e Entry) Fresh(now time.Time) bool {
	return e.Status == StatusSuccess && now.Before(e.StaleAt)
}

// HasData reports whether a payload is present.
func (e Entry) HasData() bool { return len(e.Data) > 0 }

// Decode unmarshals the entry payload into T.
func Decode[T any](e Entry) (T, error) {
	var out T
	if !e.HasData() {
		return out, ErrNoData
	}
	if err := json.Unmarshal(e.Data, &out); err != nil {
		return out, fmt.Errorf("query: decode %s: %w", e.Key, err)
	}
	return out, nil
}

func (e Entry) clone() Entry {
	out := e
	out.Data = cloneBytes(e.Data)
	return out
}

func cloneBytes(in []byte) json.RawMessage {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

// encodeValue turns a SetData argument into owned JSON bytes.
func encodeValue(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("query: invalid raw json")
		}
		return cloneBytes(v), nil
	case []byte:
		if !json.Valid(v) {
			return nil, errors.New("query: invalid raw json")
		}
		return cloneBytes(v), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("query: encode value: %w", err)
		}
		return encoded, nil
	}
}
