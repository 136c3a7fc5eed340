package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsledger/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_EmptyFile_UsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, ""), nil)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultDB, cfg.DB)
	assert.True(t, cfg.Lock)
	assert.Empty(t, cfg.Journal)
	assert.Empty(t, cfg.MetricsFile)
	assert.Equal(t, config.DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, config.FormatConsole, cfg.Log.Format)
	assert.Empty(t, cfg.Walk.SkipGlobs)
	assert.Equal(t, "ext-prefixed", cfg.Group.Scheme)
	assert.False(t, cfg.Group.CopyDuplicates)
	assert.Equal(t, config.DefaultVerifyWorkers, cfg.Verify.Workers)
}

func TestLoadConfig_ValidFile_Unmarshals(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
db: /var/lib/fsledger/ledger.db
lock: false
journal: /var/log/fsledger.jsonl
metrics_file: /var/lib/node_exporter/fsledger.prom
log:
  level: debug
  format: json
walk:
  skip_globs: ["**/node_modules", "*.tmp"]
  skip_files: [".DS_Store"]
group:
  scheme: stem
  copy_duplicates: true
verify:
  workers: 3
`)

	cfg, err := config.LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/fsledger/ledger.db", cfg.DB)
	assert.False(t, cfg.Lock)
	assert.Equal(t, "/var/log/fsledger.jsonl", cfg.Journal)
	assert.Equal(t, "/var/lib/node_exporter/fsledger.prom", cfg.MetricsFile)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, config.FormatJSON, cfg.Log.Format)
	assert.Equal(t, []string{"**/node_modules", "*.tmp"}, cfg.Walk.SkipGlobs)
	assert.Equal(t, []string{".DS_Store"}, cfg.Walk.SkipFiles)
	assert.Equal(t, "stem", cfg.Group.Scheme)
	assert.True(t, cfg.Group.CopyDuplicates)
	assert.Equal(t, 3, cfg.Verify.Workers)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "db: from-file.db\nlog:\n  level: warn\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("db", "flag-default.db", "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--db", "from-flag.db"}))

	cfg, err := config.LoadConfig(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "from-flag.db", cfg.DB)
	assert.Equal(t, "warn", cfg.Log.Level, "unset flags do not override the file")
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("FSLEDGER_LOG_FORMAT", "json")
	t.Setenv("FSLEDGER_METRICS_FILE", "/tmp/m.prom")

	cfg, err := config.LoadConfig(writeConfig(t, ""), nil)
	require.NoError(t, err)

	assert.Equal(t, config.FormatJSON, cfg.Log.Format)
	assert.Equal(t, "/tmp/m.prom", cfg.MetricsFile)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"log level", "log:\n  level: loud\n"},
		{"log format", "log:\n  format: xml\n"},
		{"scheme", "group:\n  scheme: colour\n"},
		{"skip glob", "walk:\n  skip_globs: [\"[\"]\n"},
		{"workers", "verify:\n  workers: 0\n"},
		{"empty db", "db: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.LoadConfig(writeConfig(t, tt.content), nil)
			require.Error(t, err)
			assert.True(t, config.IsInvalid(err))
		})
	}
}

func TestLoadConfig_MalformedYAML_ReturnsError(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(writeConfig(t, "db: [unclosed\n"), nil)
	require.Error(t, err)
	assert.False(t, config.IsInvalid(err))
}

func TestLoadConfig_ExplicitPath_NotFound_ReturnsError(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}
