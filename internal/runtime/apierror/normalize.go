// Package apierror turns backend error payloads into the single message a
// view shows after a failed mutation.
package apierror

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/l0p7/influencehub/internal/runtime/apiclient"
)

// Kind tags which part of the payload produced the message.
type Kind string

const (
	KindDetail      Kind = "detail"
	KindMessage     Kind = "message"
	KindError       Kind = "error"
	KindFieldErrors Kind = "fieldErrors"
	KindNotFound    Kind = "notFound"
	KindGeneric     Kind = "generic"
)

const (
	// GenericText is shown when the payload carries nothing usable.
	GenericText = "Something went wrong. Please try again."
	// NotFoundText replaces the generic text for 403/404 responses.
	NotFoundText = "Not found or you do not have permission to perform this action."
)

// Normalized is the classified form of an API failure.
type Normalized struct {
	Kind   Kind   `json:"kind"`
	Text   string `json:"text"`
	Status int    `json:"status,omitempty"`
}

func (n Normalized) Error() string { return n.Text }

// Generic returns the fallback classification.
func Generic() Normalized { return Normalized{Kind: KindGeneric, Text: GenericText} }

// Normalize classifies any error returned by a mutation call. A Normalized
// passes through unchanged; a *apiclient.ResponseError is classified from its
// payload; everything else (transport failures, decode errors) is generic.
func Normalize(err error) Normalized {
	if err == nil {
		return Normalized{}
	}
	var normalized Normalized
	if errors.As(err, &normalized) {
		return normalized
	}
	var respErr *apiclient.ResponseError
	if errors.As(err, &respErr) {
		return Classify(respErr.Status, respErr.Body)
	}
	return Generic()
}

// Classify applies the fixed precedence detail > message > error > field
// errors > 403/404 override > generic.
func Classify(status int, body []byte) Normalized {
	out := classifyBody(body)
	if out.Kind == KindGeneric && (status == http.StatusNotFound || status == http.StatusForbidden) {
		out = Normalized{Kind: KindNotFound, Text: NotFoundText}
	}
	out.Status = status
	return out
}

func classifyBody(body []byte) Normalized {
	members, ok := decodeOrderedObject(body)
	if !ok {
		return Generic()
	}
	for _, candidate := range []struct {
		name string
		kind Kind
	}{
		{"detail", KindDetail},
		{"message", KindMessage},
		{"error", KindError},
	} {
		for _, m := range members {
			if m.name != candidate.name {
				continue
			}
			var text string
			if err := json.Unmarshal(m.raw, &text); err == nil && strings.TrimSpace(text) != "" {
				return Normalized{Kind: candidate.kind, Text: text}
			}
		}
	}
	if text := aggregateFieldErrors(members); text != "" {
		return Normalized{Kind: KindFieldErrors, Text: text}
	}
	return Generic()
}

// aggregateFieldErrors renders "field: msg1, msg2" entries joined by "; " in
// payload order. Members that are neither a string nor a list of strings are
// ignored.
func aggregateFieldErrors(members []member) string {
	parts := make([]string, 0, len(members))
	for _, m := range members {
		messages := fieldMessages(m.raw)
		if len(messages) == 0 {
			continue
		}
		parts = append(parts, m.name+": "+strings.Join(messages, ", "))
	}
	return strings.Join(parts, "; ")
}

func fieldMessages(raw json.RawMessage) []string {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if strings.TrimSpace(single) == "" {
			return nil
		}
		return []string{single}
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		text, ok := item.(string)
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, text)
	}
	return out
}

type member struct {
	name string
	raw  json.RawMessage
}

// decodeOrderedObject reads a top-level JSON object keeping member order,
// which map decoding would lose.
func decodeOrderedObject(body []byte) ([]member, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	tok, err := dec.Token()
	if err != nil {
		return nil, false
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, false
	}
	var members []member
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		name, ok := tok.(string)
		if !ok {
			return nil, false
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, false
		}
		members = append(members, member{name: name, raw: raw})
	}
	return members, true
}
