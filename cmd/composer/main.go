package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chatcompose/internal/config"
	"chatcompose/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool
	timeout    time.Duration

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "composer",
	Short: "Compose LLM generation inputs from stored chats",
	Long: `composer turns a stored chat, its uploaded files and the configured
prompts into the ordered message list sent to a language model.

Composition runs in three phases:
  1. Build an abstract sequence of prompt parts and message references
  2. Resolve references against the store, files and prompt sources
  3. Convert to a concrete request with merged model settings and tool allowlist`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := logging.Initialize(loggingConfig(cfg.Logging, verbose)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Get(logging.CategoryBoot).Debug("configuration loaded",
			zap.String("path", configPath),
			zap.String("command", cmd.CommandPath()),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "composer.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	configCmd.AddCommand(configInitCmd, configValidateCmd)
	chatCmd.AddCommand(chatCreateCmd)
	messageCmd.AddCommand(messageAddCmd)
	assistantCmd.AddCommand(assistantCreateCmd)

	rootCmd.AddCommand(
		configCmd,
		chatCmd,
		messageCmd,
		assistantCmd,
		uploadCmd,
		composeCmd,
		prepareCmd,
		filesCmd,
		facetsCmd,
		tokensCmd,
		usageCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp validates the configuration, wires the components and runs fn
// under the global timeout. SIGINT and SIGTERM cancel the context.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
