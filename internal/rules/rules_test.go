package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-systems/vigil/pkg/types"
)

const sampleRules = `
rules:
  - name: high_error_rate
    expr: rate(http_errors_total{code="500"}, 5m) > 0.5
    for: 2m
    severity: critical
    annotations:
      summary: "5xx rate above 0.5/s"
  - name: queue_backlog
    expr: value(queue_depth) >= 1000
  - name: slow_requests
    expr: quantile(latency_seconds, 0.99) > 2
    for: 1m
    severity: warning
`

func TestParse_ValidSet(t *testing.T) {
	set, err := Parse([]byte(sampleRules))
	require.NoError(t, err)
	require.Len(t, set.Rules, 3)

	r := set.Rules[0]
	assert.Equal(t, "high_error_rate", r.Name)
	assert.Equal(t, 2*time.Minute, r.For)
	assert.Equal(t, types.SeverityCritical, r.Severity)
	assert.Equal(t, "5xx rate above 0.5/s", r.Annotations["summary"])

	assert.Equal(t, types.SeverityWarning, set.Rules[1].Severity, "severity defaults to warning")
	assert.Equal(t, time.Duration(0), set.Rules[1].For)
}

func TestParse_Failures(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"not yaml", "rules: ["},
		{"missing name", "rules:\n  - expr: value(x) > 1\n"},
		{"bad expression", "rules:\n  - name: a\n    expr: nope\n"},
		{"bad for", "rules:\n  - name: a\n    expr: value(x) > 1\n    for: sometimes\n"},
		{"negative for", "rules:\n  - name: a\n    expr: value(x) > 1\n    for: -5m\n"},
		{"bad severity", "rules:\n  - name: a\n    expr: value(x) > 1\n    severity: panic\n"},
		{"duplicate name", "rules:\n  - name: a\n    expr: value(x) > 1\n  - name: a\n    expr: value(y) > 1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.ErrorIs(t, err, ErrInvalidRuleSet)
		})
	}
}

func TestParse_DuplicateNameIsDuplicateRule(t *testing.T) {
	_, err := Parse([]byte("rules:\n  - name: a\n    expr: value(x) > 1\n  - name: a\n    expr: value(y) > 1\n"))
	assert.ErrorIs(t, err, ErrDuplicateRule)
}

func TestLoadFiles_MergesAndGlobs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"),
		[]byte("rules:\n  - name: one\n    expr: value(x) > 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"),
		[]byte("rules:\n  - name: two\n    expr: value(y) > 1\n"), 0o644))

	set, err := LoadFiles([]string{filepath.Join(dir, "*.yml")})
	require.NoError(t, err)
	assert.Len(t, set.Rules, 2)
}

func TestLoadFiles_DuplicateAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"),
		[]byte("rules:\n  - name: same\n    expr: value(x) > 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"),
		[]byte("rules:\n  - name: same\n    expr: value(y) > 1\n"), 0o644))

	_, err := LoadFiles([]string{filepath.Join(dir, "*.yml")})
	assert.ErrorIs(t, err, ErrInvalidRuleSet)
	assert.ErrorIs(t, err, ErrDuplicateRule)
}

func TestLoadFiles_EmptyGlob(t *testing.T) {
	_, err := LoadFiles([]string{filepath.Join(t.TempDir(), "*.yml")})
	assert.ErrorIs(t, err, ErrInvalidRuleSet)
}

func TestRuleSet_MaxWindowAndRateSelectors(t *testing.T) {
	set, err := Parse([]byte(`
rules:
  - name: r1
    expr: rate(a_total, 5m) > 1
  - name: r2
    expr: rate(a_total{x="1"}, 15m) > 1
  - name: r3
    expr: value(g) > 1
`))
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, set.MaxWindow())

	sels := set.RateSelectors()
	assert.Len(t, sels, 2)
	assert.Contains(t, sels, "a_total")

	empty, err := Parse([]byte("rules:\n  - name: v\n    expr: value(g) > 1\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), empty.MaxWindow())
	assert.Empty(t, empty.RateSelectors())
}
