// Package cmd implements the moon command line.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/joan6141318-ai/Moon-sub000/config"
	"github.com/joan6141318-ai/Moon-sub000/internal/logging"
)

var (
	cfg       *config.Config
	cfgFile   string
	logLevel  string
	logCloser io.Closer

	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "moon",
	Short: "Real-time voice assistant for the talent agency widget",
	Long: `Moon runs live voice sessions between a browser widget and a
streaming speech model: the widget microphone is forwarded to the model,
spoken replies are played back in order, and both sides are transcribed.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// config init writes defaults and must work without a readable file.
		if cmd.Name() == "init" {
			cfg = config.DefaultConfig()
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}

		logCloser, err = logging.Setup(cfg.Log, os.Stderr)
		if err != nil {
			return fmt.Errorf("setup logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

// Execute runs the root command.
func Execute(v string) {
	version = v
	rootCmd.Version = v
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/moon/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(converseCmd)
	rootCmd.AddCommand(configCmd)
}
