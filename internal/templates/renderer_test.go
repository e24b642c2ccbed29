package templates

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRendererRemovesEnvironmentAndFileHelpers(t *testing.T) {
	renderer := NewRenderer()
	for _, source := range []string{
		`{{ env "HOME" }}`,
		`{{ expandenv "$HOME" }}`,
		`{{ readFile "/etc/passwd" }}`,
	} {
		_, err := renderer.CompileInline("inline", source)
		require.Error(t, err, source)
	}
}

func TestRendererRendersNoticeData(t *testing.T) {
	renderer := NewRenderer()

	tests := []struct {
		name     string
		template string
		data     map[string]any
		want     string
	}{
		{
			name:     "field access",
			template: `Campaign "{{ .Result.title }}" updated`,
			data:     map[string]any{"Result": map[string]any{"title": "Spring Launch"}},
			want:     `Campaign "Spring Launch" updated`,
		},
		{
			name:     "sprig helpers",
			template: `{{ .Input.status | title }} request`,
			data:     map[string]any{"Input": map[string]any{"status": "accepted"}},
			want:     "Accepted request",
		},
		{
			name:     "currency from float",
			template: `Paid ${{ .Result.amount | currency }}`,
			data:     map[string]any{"Result": map[string]any{"amount": 1500.5}},
			want:     "Paid $1500.50",
		},
		{
			name:     "currency from string",
			template: `{{ currency "99.999" }}`,
			want:     "100.00",
		},
		{
			name:     "output is trimmed",
			template: "\n  Done  \n",
			want:     "Done",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tmpl, err := renderer.CompileInline(tc.name, tc.template)
			require.NoError(t, err)
			rendered, err := tmpl.Render(tc.data)
			require.NoError(t, err)
			require.Equal(t, tc.want, rendered)
		})
	}
}

func TestCompileInlineEmptySourceReturnsNil(t *testing.T) {
	tmpl, err := NewRenderer().CompileInline("empty", "   ")
	require.NoError(t, err)
	require.Nil(t, tmpl)

	_, err = tmpl.Render(nil)
	require.Error(t, err)
	require.Empty(t, tmpl.Name())
}

func TestCompileInlineReportsSyntaxErrors(t *testing.T) {
	_, err := NewRenderer().CompileInline("broken", "{{ .Result ")
	require.Error(t, err)
}

func TestFormatCurrency(t *testing.T) {
	require.Equal(t, "12.30", formatCurrency(decimal.RequireFromString("12.3")))
	require.Equal(t, "7.00", formatCurrency(7))
	require.Equal(t, "not a number", formatCurrency("not a number"))
	require.Empty(t, formatCurrency(nil))
}
