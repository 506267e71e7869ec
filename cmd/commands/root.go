// Package commands implements the voiceclient command line.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/satriahrh/arunika/client/adapters/kv"
	"github.com/satriahrh/arunika/client/internal/app"
	"github.com/satriahrh/arunika/client/internal/config"
)

var (
	// Global flags
	envFile      string
	configFile   string
	outputFormat string
	ephemeral    bool

	settings *config.Settings
	logger   *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "voiceclient",
	Short: "Voice assistant client",
	Long: `voiceclient talks to a voice assistant backend by text or microphone and
plays the spoken answers.

Settings come from flags, VOICECLIENT_* environment variables, a .env file
and config.yaml in the data directory. The backend URL and model are stored
with 'voiceclient config'.

Examples:
  voiceclient config set-url http://localhost:8000
  voiceclient say "What is the capital of France?" --play
  voiceclient ask --file question.wav
  voiceclient chat
  voiceclient serve --listen-addr 127.0.0.1:8787`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.Load(config.LoadOptions{
			EnvFile:    envFile,
			ConfigFile: configFile,
			Flags:      cmd.Flags(),
		})
		if err != nil {
			return err
		}
		settings = s

		logger, err = newLogger(s.Verbose, cmd.Name() == serveCmd.Name())
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file to load")
	flags.StringVar(&configFile, "config", "", "settings file (default <data-dir>/config.yaml)")
	flags.StringVarP(&outputFormat, "output", "o", "", "output format: yaml or json (default: styled text)")
	flags.String("data-dir", "", "directory for settings, recordings and cached audio")
	flags.String("platform", "", "default backend address: web or native")
	flags.String("auto-play", "", "auto-play scope: audio, text, all or none")
	flags.String("resolve-mode", "", "answer audio handling: buffered or direct")
	flags.BoolP("verbose", "v", false, "verbose output")
	flags.BoolVar(&ephemeral, "ephemeral", false, "keep backend settings in memory only")
}

// newLogger builds the production logger. Interactive commands only log
// warnings unless verbose.
func newLogger(verbose, server bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if !server {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	return cfg.Build()
}

// newApp builds the client for a command
func newApp(ctx context.Context) (*app.App, error) {
	var opts app.Options
	if ephemeral {
		opts.Store = kv.NewMemoryStore()
	}
	return app.New(ctx, settings, logger, opts)
}
