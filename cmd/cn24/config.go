package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the cmd/cn24 process configuration: where the architecture,
// model and bundle files live, plus the runtime knobs every subcommand
// shares. It is populated from defaults, an optional config file, then CLI
// flags, in that order, mirroring CWBudde-go-pocket-tts's config.Load shape.
type Config struct {
	ArchPath     string `mapstructure:"arch_path"`
	ModelPath    string `mapstructure:"model_path"`
	SnapshotDir  string `mapstructure:"snapshot_dir"`
	StatsCSVPath string `mapstructure:"stats_csv_path"`
	Seed         int64  `mapstructure:"seed"`
	LogLevel     string `mapstructure:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		ArchPath:     "architecture.json",
		ModelPath:    "model.par",
		SnapshotDir:  "",
		StatsCSVPath: "",
		Seed:         1,
		LogLevel:     "info",
	}
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

// LoadOptions mirrors the teacher's config.LoadOptions: a command whose
// already-registered flags should override file/env values, an explicit
// config file path (empty means "look for cn24.yaml in .") and defaults.
type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("arch-path", defaults.ArchPath, "Path to the architecture/hyperparameters JSON file")
	fs.String("model-path", defaults.ModelPath, "Path to the PAR parameter file to load/save")
	fs.String("snapshot-dir", defaults.SnapshotDir, "Directory to write per-epoch snapshots to (empty disables snapshotting)")
	fs.String("stats-csv-path", defaults.StatsCSVPath, "Path to append per-epoch stats CSV rows to (empty disables the CSV sink)")
	fs.Int64("seed", defaults.Seed, "Weight initialization seed")
	fs.String("log-level", defaults.LogLevel, "slog level: debug|info|warn|error")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	v.SetDefault("arch_path", opts.Defaults.ArchPath)
	v.SetDefault("model_path", opts.Defaults.ModelPath)
	v.SetDefault("snapshot_dir", opts.Defaults.SnapshotDir)
	v.SetDefault("stats_csv_path", opts.Defaults.StatsCSVPath)
	v.SetDefault("seed", opts.Defaults.Seed)
	v.SetDefault("log_level", opts.Defaults.LogLevel)

	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	v.SetEnvPrefix("CN24")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("cn24")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
