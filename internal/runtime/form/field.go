package form

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind selects the transform applied to a field before submission.
type Kind string

const (
	KindText     Kind = "text"
	KindCurrency Kind = "currency"
	KindDatetime Kind = "datetime"
	KindInteger  Kind = "integer"
)

// Field describes one input of a form.
type Field struct {
	Name     string `json:"name"`
	Label    string `json:"label,omitempty"`
	Kind     Kind   `json:"kind"`
	Required bool   `json:"required,omitempty"`
	Default  string `json:"default,omitempty"`
	// Rule is an optional CEL expression that must hold for a non-empty
	// value. It sees value, form and now.
	Rule        string `json:"rule,omitempty"`
	RuleMessage string `json:"ruleMessage,omitempty"`
}

func (f Field) label() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// FieldErrors maps field names to the inline message shown next to them.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e[name])
	}
	return strings.Join(parts, "; ")
}

// ErrInvalid marks a submission blocked by client-side validation.
var ErrInvalid = errors.New("form: invalid input")

// ValidationError carries the per-field messages of a blocked submission.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string { return "form: invalid input: " + e.Fields.Error() }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

var datetimeLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// FormatCurrency normalizes a numeric string to two decimal places.
func FormatCurrency(raw string) (string, error) {
	d, err := parseCurrency(raw)
	if err != nil {
		return "", err
	}
	return d.StringFixed(2), nil
}

func parseCurrency(raw string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	cleaned = strings.TrimPrefix(cleaned, "$")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("form: %q is not a number", raw)
	}
	return d, nil
}

// CanonicalTimestamp converts a local datetime string in loc to RFC 3339 UTC.
// Values that already carry an offset are accepted as-is.
func CanonicalTimestamp(raw string, loc *time.Location) (string, error) {
	t, err := parseDatetime(raw, loc)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(time.RFC3339), nil
}

func parseDatetime(raw string, loc *time.Location) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("form: %q is not a date and time", raw)
}

// transform returns the submitted value and the value rules evaluate.
func (f Field) transform(raw string, loc *time.Location) (submitted any, ruleValue any, err error) {
	switch f.Kind {
	case KindCurrency:
		d, err := parseCurrency(raw)
		if err != nil {
			return nil, nil, errors.New("must be a number")
		}
		return d.StringFixed(2), d.Round(2).InexactFloat64(), nil
	case KindDatetime:
		t, err := parseDatetime(raw, loc)
		if err != nil {
			return nil, nil, errors.New("must be a date and time")
		}
		return t.UTC().Format(time.RFC3339), t.UTC(), nil
	case KindInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, nil, errors.New("must be a whole number")
		}
		return n, n, nil
	default:
		text := strings.TrimSpace(raw)
		return text, text, nil
	}
}
