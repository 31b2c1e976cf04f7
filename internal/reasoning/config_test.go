package reasoning

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	for _, raw := range []string{"", "  \n", "---\n"} {
		cfg, err := ParseConfig([]byte(raw))
		require.NoError(t, err)
		require.Equal(t, DefaultConfig(), cfg)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	raw := `
profile:
  model: gpt-4o
  temperature: 0
analyzer:
  max_tokens: 400
  prompt_template: "回复：{doctor_response}"
`
	cfg, err := ParseConfig([]byte(raw))
	require.NoError(t, err)

	require.Equal(t, "gpt-4o", cfg.Profile.Model)
	require.Equal(t, 0.0, *cfg.Profile.Temperature)
	require.Equal(t, 1500, cfg.Profile.MaxTokens)
	require.Equal(t, defaultProfileTemplate, cfg.Profile.PromptTemplate)

	require.Equal(t, DefaultConfig().Patient, cfg.Patient)

	require.Equal(t, "gpt-4", cfg.Analyzer.Model)
	require.Equal(t, 400, cfg.Analyzer.MaxTokens)
	require.Equal(t, "回复：{doctor_response}", cfg.Analyzer.PromptTemplate)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		msg  string
	}{
		{name: "unknown role", raw: "triage:\n  model: x\n", msg: "decode agents"},
		{name: "unknown field", raw: "patient:\n  top_p: 1\n", msg: "decode agents"},
		{name: "bad yaml", raw: "patient: [", msg: "decode agents"},
		{name: "temperature", raw: "patient:\n  temperature: 3\n", msg: "patient temperature"},
		{name: "max tokens", raw: "analyzer:\n  max_tokens: -1\n", msg: "analyzer max_tokens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.raw))
			require.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestRender(t *testing.T) {
	got := render("{a} and {b} {{literal}} {unknown}", map[string]string{"a": "1", "b": "{a}"})
	require.Equal(t, "1 and {a} {literal} {unknown}", got)
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "bare", in: `{"a":1}`, want: `{"a":1}`, ok: true},
		{name: "fenced", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`, ok: true},
		{name: "prose", in: `sure: {"a":{"b":2}} done`, want: `{"a":{"b":2}}`, ok: true},
		{name: "none", in: "no json", ok: false},
		{name: "reversed", in: "} {", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSONObject(tt.in)
			if !tt.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
