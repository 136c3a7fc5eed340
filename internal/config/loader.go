package config

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gitlab.com/tozd/go/errors"
)

// configName is the config file name without extension.
const configName = ".fsledger"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for fsledger settings.
const envPrefix = "FSLEDGER"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"db":              "db",
	"lock":            "lock",
	"journal":         "journal",
	"metrics-file":    "metrics_file",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"skip-glob":       "walk.skip_globs",
	"scheme":          "group.scheme",
	"copy-duplicates": "group.copy_duplicates",
	"workers":         "verify.workers",
}

// LoadConfig loads configuration from defaults, the config file, env vars
// and flags, later sources winning. Only flags the user set override.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	if err := viperCfg.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(viperCfg, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := viperCfg.Unmarshal(&cfg); err != nil {
		return nil, errors.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func bindFlags(viperCfg *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := viperCfg.BindPFlag(key, f); err != nil {
			return errors.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("db", DefaultDB)
	viperCfg.SetDefault("lock", DefaultLock)
	viperCfg.SetDefault("journal", "")
	viperCfg.SetDefault("metrics_file", "")

	viperCfg.SetDefault("log.level", DefaultLogLevel)
	viperCfg.SetDefault("log.format", DefaultLogFormat)

	viperCfg.SetDefault("walk.skip_globs", []string{})
	viperCfg.SetDefault("walk.skip_files", []string{})
	viperCfg.SetDefault("walk.skip_dirs", []string{})

	viperCfg.SetDefault("group.scheme", "ext-prefixed")
	viperCfg.SetDefault("group.copy_duplicates", DefaultCopyDuplicates)

	viperCfg.SetDefault("verify.workers", DefaultVerifyWorkers)
}
