// Command cn24 is the CLI entrypoint over the computation-graph core:
// train/test a network against an architecture file, run prediction on a
// single image, and manage bundle/segment data and legacy model files.
// Grounded on CWBudde-go-pocket-tts's cmd/pockettts cobra+viper shape.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	activeCfg Config
)

func NewRootCmd() *cobra.Command {
	defaults := DefaultConfig()

	cmd := &cobra.Command{
		Use:   "cn24",
		Short: "CN24 computation-graph trainer/predictor",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := Load(LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newTrainCmd())
	cmd.AddCommand(newTestCmd())
	cmd.AddCommand(newPredictCmd())
	cmd.AddCommand(newBundleCmd())
	cmd.AddCommand(newSegmentCmd())
	cmd.AddCommand(newModelCmd())

	return cmd
}

func setupLogger(levelStr string) {
	var lvl slog.Level
	switch levelStr {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func requireConfig() (Config, error) {
	if activeCfg.ArchPath == "" {
		return Config{}, fmt.Errorf("configuration not loaded")
	}
	return activeCfg, nil
}

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
