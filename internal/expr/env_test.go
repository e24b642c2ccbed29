package expr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRuleCheck(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		rule  string
		value any
		form  map[string]any
		want  bool
	}{
		{name: "positive budget", rule: `value > 0.0`, value: 1500.0, want: true},
		{name: "zero budget", rule: `value > 0.0`, value: 0.0, want: false},
		{name: "string length", rule: `size(value) <= 10`, value: "short", want: true},
		{name: "handle pattern", rule: `value.matches("^[a-z0-9._]+$")`, value: "acme.co", want: true},
		{
			name:  "end after start",
			rule:  `value > form.start_date`,
			value: start.Add(24 * time.Hour),
			form:  map[string]any{"start_date": start},
			want:  true,
		},
		{
			name:  "start missing",
			rule:  `!has(form.start_date) || value > form.start_date`,
			value: start,
			want:  true,
		},
		{name: "start in the future", rule: `value > now`, value: start, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rule, err := env.Rule(tc.rule)
			require.NoError(t, err)
			got, err := rule.Check(tc.value, tc.form, start.Add(time.Hour))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestRuleRejectsNonBool(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	_, err = env.Rule(`"text"`)
	require.Error(t, err)
	_, err = env.Rule(`   `)
	require.Error(t, err)
	_, err = env.Rule(`value >`)
	require.Error(t, err)

	dyn, err := env.Rule(`form.title`)
	require.NoError(t, err, "dyn-typed rules compile")
	_, err = dyn.Check(nil, map[string]any{"title": "Launch"}, time.Now())
	require.Error(t, err, "non-bool result at evaluation")
}

func TestRulesAreSharedBySource(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	first, err := env.Rule(`value > 0`)
	require.NoError(t, err)
	second, err := env.Rule("  value > 0 ")
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, "value > 0", second.Source())
}
