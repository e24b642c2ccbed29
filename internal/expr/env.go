// Package expr compiles the CEL rules attached to form fields.
package expr

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Environment compiles field rules. A rule sees the field under validation as
// value, every transformed field of the form as form, and the evaluation time
// as now. Compiled rules are shared by source, so forms that repeat a rule
// compile it once.
type Environment struct {
	env *cel.Env

	mu    sync.Mutex
	rules map[string]*Rule
}

func NewEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("form", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}
	return &Environment{env: env, rules: make(map[string]*Rule)}, nil
}

// Rule is a compiled boolean field rule.
type Rule struct {
	source  string
	program cel.Program
}

// Rule compiles source, which must yield a bool.
func (e *Environment) Rule(source string) (*Rule, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("expr: expression required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if rule, ok := e.rules[source]; ok {
		return rule, nil
	}
	ast, issues := e.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expr: compile %q: %w", source, issues.Err())
	}
	if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
		return nil, fmt.Errorf("expr: %q must return bool, got %s", source, cel.FormatCELType(t))
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("expr: program %q: %w", source, err)
	}
	rule := &Rule{source: source, program: program}
	e.rules[source] = rule
	return rule, nil
}

// Source returns the trimmed expression.
func (r *Rule) Source() string { return r.source }

// Check evaluates the rule. A dyn-typed rule that yields anything but a bool
// is an error.
func (r *Rule) Check(value any, form map[string]any, now time.Time) (bool, error) {
	if form == nil {
		form = map[string]any{}
	}
	out, _, err := r.program.Eval(map[string]any{
		"value": value,
		"form":  form,
		"now":   now,
	})
	if err != nil {
		return false, fmt.Errorf("expr: eval %q: %w", r.source, err)
	}
	pass, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("expr: %q yielded %s, want bool", r.source, out.Type().TypeName())
	}
	return bool(pass), nil
}
