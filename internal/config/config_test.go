package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-systems/vigil/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vigil.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `listen: ":8181"
evaluation:
  interval: 30s
  timeout: 10s
rule_files:
  - rules/*.yaml
notifiers:
  - type: console
  - type: webhook
    url: https://hooks.example.com/vigil
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8181", cfg.Listen)
	assert.Equal(t, 30*time.Second, cfg.Evaluation.Interval)
	assert.Equal(t, 10*time.Second, cfg.Evaluation.Timeout)
	assert.Equal(t, []string{"rules/*.yaml"}, cfg.RuleFiles)
	require.Len(t, cfg.Notifiers, 2)
	assert.Equal(t, types.NotifierConsole, cfg.Notifiers[0].Type)
	assert.Equal(t, "https://hooks.example.com/vigil", cfg.Notifiers[1].URL)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `rule_files: [rules.yaml]`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultInterval, cfg.Evaluation.Interval)
	assert.Equal(t, DefaultTimeout, cfg.Evaluation.Timeout)
	assert.Empty(t, cfg.Notifiers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/vigil.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "no rule files",
			content: `listen: ":9090"`,
			errMsg:  "rule_files",
		},
		{
			name: "negative interval",
			content: `rule_files: [rules.yaml]
evaluation:
  interval: -1s
`,
			errMsg: "evaluation.interval",
		},
		{
			name: "file notifier without path",
			content: `rule_files: [rules.yaml]
notifiers:
  - type: file
`,
			errMsg: "requires path",
		},
		{
			name: "webhook notifier without url",
			content: `rule_files: [rules.yaml]
notifiers:
  - type: webhook
`,
			errMsg: "requires url",
		},
		{
			name: "unknown notifier type",
			content: `rule_files: [rules.yaml]
notifiers:
  - type: pager
`,
			errMsg: "unknown notifier type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
