// Package config loads fsledger settings from a YAML file, FSLEDGER_*
// environment variables and command-line flags.
package config

import (
	"runtime"
	"slices"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"fsledger/pkg/collector"
	"fsledger/pkg/organizer"
)

// Defaults.
const (
	DefaultDB             = "fsledger.db"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = FormatConsole
	DefaultLock           = true
	DefaultCopyDuplicates = false
)

// Log formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// DefaultVerifyWorkers is the verify parallelism when none is configured.
var DefaultVerifyWorkers = runtime.NumCPU()

var errInvalid = errors.Base("invalid configuration")

// Config is the top-level configuration. Field tags use mapstructure for
// viper unmarshalling.
type Config struct {
	DB          string       `mapstructure:"db"`
	Lock        bool         `mapstructure:"lock"`
	Journal     string       `mapstructure:"journal"`
	MetricsFile string       `mapstructure:"metrics_file"`
	Log         LogConfig    `mapstructure:"log"`
	Walk        WalkConfig   `mapstructure:"walk"`
	Group       GroupConfig  `mapstructure:"group"`
	Verify      VerifyConfig `mapstructure:"verify"`
}

// LogConfig selects the zerolog level and output format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// WalkConfig holds the collector skip lists.
type WalkConfig struct {
	SkipGlobs []string `mapstructure:"skip_globs"`
	SkipFiles []string `mapstructure:"skip_files"`
	SkipDirs  []string `mapstructure:"skip_dirs"`
}

// GroupConfig holds the defaults of the group job.
type GroupConfig struct {
	Scheme         string `mapstructure:"scheme"`
	CopyDuplicates bool   `mapstructure:"copy_duplicates"`
}

// VerifyConfig holds the verify job settings.
type VerifyConfig struct {
	Workers int `mapstructure:"workers"`
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.DB == "" {
		return errors.Errorf("%w: db path is empty", errInvalid)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return errors.Errorf("%w: log.level %q", errInvalid, c.Log.Level)
	}
	if !slices.Contains([]string{FormatConsole, FormatJSON}, c.Log.Format) {
		return errors.Errorf("%w: log.format %q (want %s or %s)", errInvalid, c.Log.Format, FormatConsole, FormatJSON)
	}
	if _, err := organizer.ParseScheme(c.Group.Scheme); err != nil {
		return errors.Errorf("%w: group.scheme: %s", errInvalid, err.Error())
	}
	if err := collector.ValidatePatterns(c.Walk.SkipGlobs); err != nil {
		return errors.Errorf("%w: walk.skip_globs: %s", errInvalid, err.Error())
	}
	if c.Verify.Workers < 1 {
		return errors.Errorf("%w: verify.workers must be positive, got %d", errInvalid, c.Verify.Workers)
	}
	return nil
}

// IsInvalid reports whether err came from Validate.
func IsInvalid(err error) bool {
	return errors.Is(err, errInvalid)
}
