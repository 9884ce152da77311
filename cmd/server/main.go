package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AnnixInvestments/annix-sub033/internal/config"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voicefilter"
	serviceVersion    = "1.0.0"
)

// cliDeps is filled by the root command before any subcommand runs.
type cliDeps struct {
	configPath string
	config     *config.Config
	logger     *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	deps := &cliDeps{}

	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Speaker-gated microphone filter with meeting transcription",
		Long:          "Passes your microphone to a virtual audio device only while you are verified to be speaking, transcribes meeting audio, and mails a summary after each meeting.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(deps.configPath)
			if err != nil {
				return err
			}
			deps.config = cfg
			deps.logger = initLogger(cfg.Logging)
			return nil
		},
	}

	rootCmd.Version = serviceVersion
	rootCmd.PersistentFlags().StringVar(&deps.configPath, "config", defaultConfigPath, "Path to configuration file")

	rootCmd.AddCommand(newServeCmd(deps))
	rootCmd.AddCommand(newDevicesCmd(deps))
	rootCmd.AddCommand(newJobsCmd(deps))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		// Overrides the root hook: no config is needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, serviceVersion)
		},
	})

	return rootCmd
}

// loadConfig reads path, or falls back to defaults plus environment when the
// default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == defaultConfigPath {
		cfg := config.Default()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Anything else is a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
