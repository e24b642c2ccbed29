// Package form collects and validates user input before it reaches a
// mutation.
package form

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/l0p7/influencehub/internal/expr"
	"github.com/l0p7/influencehub/internal/runtime/apierror"
	"github.com/l0p7/influencehub/internal/runtime/mutation"
)

// ErrUnknownField is returned by Set for names the form does not declare.
var ErrUnknownField = errors.New("form: unknown field")

// Values holds transformed field values keyed by name. Empty optional
// fields are absent.
type Values map[string]any

// String returns the value for name as text.
func (v Values) String(name string) string {
	value, ok := v[name]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// Int returns the integer value for name, or zero.
func (v Values) Int(name string) int64 {
	n, _ := v[name].(int64)
	return n
}

// Options wires a Binder. Submit is required.
type Options[Out any] struct {
	Name     string
	Fields   []Field
	Location *time.Location
	Submit   func(ctx context.Context, values Values) (Out, error)
	// OnClose runs after a successful submission, after the reset.
	OnClose func(out Out)
	Env     *expr.Environment
	Now     func() time.Time
}

// State is the binder snapshot rendered by the view.
type State struct {
	Values      map[string]string    `json:"values"`
	Errors      FieldErrors          `json:"errors,omitempty"`
	SubmitError *apierror.Normalized `json:"submitError,omitempty"`
}

type compiledField struct {
	Field
	rule *expr.Rule
}

// Binder holds the raw input of one form.
type Binder[Out any] struct {
	opts   Options[Out]
	fields []compiledField
	index  map[string]int
	now    func() time.Time

	mu        sync.Mutex
	inflight  bool
	raw       map[string]string
	fieldErrs FieldErrors
	submitErr *apierror.Normalized
}

func New[Out any](opts Options[Out]) (*Binder[Out], error) {
	if opts.Submit == nil {
		return nil, errors.New("form: submit func required")
	}
	env := opts.Env
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	b := &Binder[Out]{
		opts:  opts,
		index: make(map[string]int, len(opts.Fields)),
		now:   now,
	}
	for i, field := range opts.Fields {
		if field.Name == "" {
			return nil, fmt.Errorf("form %s: field %d has no name", opts.Name, i)
		}
		if _, dup := b.index[field.Name]; dup {
			return nil, fmt.Errorf("form %s: duplicate field %s", opts.Name, field.Name)
		}
		if field.Kind == "" {
			field.Kind = KindText
		}
		compiled := compiledField{Field: field}
		if strings.TrimSpace(field.Rule) != "" {
			if env == nil {
				var err error
				if env, err = expr.NewEnvironment(); err != nil {
					return nil, err
				}
			}
			rule, err := env.Rule(field.Rule)
			if err != nil {
				return nil, fmt.Errorf("form %s: field %s: %w", opts.Name, field.Name, err)
			}
			compiled.rule = rule
		}
		b.index[field.Name] = len(b.fields)
		b.fields = append(b.fields, compiled)
	}
	b.raw = b.defaults()
	return b, nil
}

func (b *Binder[Out]) Name() string { return b.opts.Name }

// Fields lists the declared fields in order.
func (b *Binder[Out]) Fields() []Field {
	out := make([]Field, len(b.fields))
	for i, f := range b.fields {
		out[i] = f.Field
	}
	return out
}

// Set records raw input for a field and clears its inline error.
func (b *Binder[Out]) Set(name, raw string) error {
	if _, ok := b.index[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.raw[name] = raw
	delete(b.fieldErrs, name)
	return nil
}

// Raw returns a copy of the entered values.
func (b *Binder[Out]) Raw() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copyStrings(b.raw)
}

// Values transforms the current input. Field errors are reported for
// values that cannot be transformed or fail validation.
func (b *Binder[Out]) Values() (Values, FieldErrors) {
	return b.evaluate(b.Raw())
}

// Validate runs required checks, transforms and rules, records the result
// for State and returns the errors found.
func (b *Binder[Out]) Validate() FieldErrors {
	_, errs := b.Values()
	b.mu.Lock()
	b.fieldErrs = errs
	b.mu.Unlock()
	return errs
}

// Submit validates and, when valid, hands the transformed values to the
// submit func. Invalid input returns a *ValidationError (ErrInvalid) and
// nothing is dispatched. On success the form resets and OnClose runs; on
// failure the entered values stay and the normalized error is recorded.
func (b *Binder[Out]) Submit(ctx context.Context) (Out, error) {
	var zero Out
	b.mu.Lock()
	if b.inflight {
		b.mu.Unlock()
		return zero, mutation.ErrInFlight
	}
	b.inflight = true
	prev := b.saveLocked()
	raw := copyStrings(b.raw)
	b.mu.Unlock()
	return b.submit(ctx, raw, prev)
}

// SubmitWith replaces the whole input with defaults overlaid by raw and
// submits it in one step, so concurrent callers never mix inputs. While a
// submission is in flight the input is left alone and ErrInFlight returned.
func (b *Binder[Out]) SubmitWith(ctx context.Context, raw map[string]string) (Out, error) {
	var zero Out
	for name := range raw {
		if _, ok := b.index[name]; !ok {
			return zero, fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
	}
	b.mu.Lock()
	if b.inflight {
		b.mu.Unlock()
		return zero, mutation.ErrInFlight
	}
	b.inflight = true
	prev := b.saveLocked()
	b.raw = b.defaults()
	for name, value := range raw {
		b.raw[name] = value
	}
	snapshot := copyStrings(b.raw)
	b.mu.Unlock()
	return b.submit(ctx, snapshot, prev)
}

// saved is the input and error state a rejected submission puts back.
type saved struct {
	raw       map[string]string
	fieldErrs FieldErrors
	submitErr *apierror.Normalized
}

func (b *Binder[Out]) saveLocked() saved {
	return saved{raw: copyStrings(b.raw), fieldErrs: b.fieldErrs, submitErr: b.submitErr}
}

func (b *Binder[Out]) submit(ctx context.Context, raw map[string]string, prev saved) (Out, error) {
	var zero Out
	defer func() {
		b.mu.Lock()
		b.inflight = false
		b.mu.Unlock()
	}()
	values, errs := b.evaluate(raw)

	b.mu.Lock()
	b.fieldErrs = errs
	if len(errs) > 0 {
		b.mu.Unlock()
		return zero, &ValidationError{Fields: errs}
	}
	b.submitErr = nil
	b.mu.Unlock()

	out, err := b.opts.Submit(ctx, values)
	if err != nil {
		b.mu.Lock()
		if errors.Is(err, mutation.ErrInFlight) {
			b.raw, b.fieldErrs, b.submitErr = prev.raw, prev.fieldErrs, prev.submitErr
		} else {
			normalized := normalize(err)
			b.submitErr = &normalized
		}
		b.mu.Unlock()
		return zero, err
	}

	b.Reset()
	if b.opts.OnClose != nil {
		b.opts.OnClose(out)
	}
	return out, nil
}

// Dispatch is SubmitWith without the typed result.
func (b *Binder[Out]) Dispatch(ctx context.Context, raw map[string]string) (any, error) {
	out, err := b.SubmitWith(ctx, raw)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reset restores defaults and clears every error.
func (b *Binder[Out]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.raw = b.defaults()
	b.fieldErrs = nil
	b.submitErr = nil
}

func (b *Binder[Out]) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := State{Values: copyStrings(b.raw)}
	if len(b.fieldErrs) > 0 {
		state.Errors = make(FieldErrors, len(b.fieldErrs))
		for k, v := range b.fieldErrs {
			state.Errors[k] = v
		}
	}
	if b.submitErr != nil {
		errCopy := *b.submitErr
		state.SubmitError = &errCopy
	}
	return state
}

func (b *Binder[Out]) evaluate(raw map[string]string) (Values, FieldErrors) {
	values := make(Values, len(b.fields))
	ruleValues := make(map[string]any, len(b.fields))
	errs := FieldErrors{}

	for _, f := range b.fields {
		input := raw[f.Name]
		if strings.TrimSpace(input) == "" {
			if f.Required {
				errs[f.Name] = f.label() + " is required"
			}
			continue
		}
		submitted, ruleValue, err := f.transform(input, b.opts.Location)
		if err != nil {
			errs[f.Name] = f.label() + " " + err.Error()
			continue
		}
		values[f.Name] = submitted
		ruleValues[f.Name] = ruleValue
	}

	now := b.now().UTC()
	for _, f := range b.fields {
		if f.rule == nil {
			continue
		}
		value, ok := ruleValues[f.Name]
		if !ok {
			continue
		}
		pass, err := f.rule.Check(value, ruleValues, now)
		if err != nil || !pass {
			msg := f.RuleMessage
			if msg == "" {
				msg = f.label() + " is invalid"
			}
			errs[f.Name] = msg
		}
	}

	if len(errs) == 0 {
		return values, nil
	}
	return values, errs
}

func (b *Binder[Out]) defaults() map[string]string {
	out := make(map[string]string, len(b.fields))
	for _, f := range b.fields {
		out[f.Name] = f.Default
	}
	return out
}

func normalize(err error) apierror.Normalized {
	var mutErr *mutation.Error
	if errors.As(err, &mutErr) {
		return mutErr.Normalized
	}
	return apierror.Normalize(err)
}

func copyStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
