package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"socialbot/internal/config"
	"socialbot/internal/logging"
	"socialbot/internal/storage"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

type globalFlags struct {
	configPath string
	debug      bool
}

func main() {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "socialbot",
		Short:         "Publish new RSS items to chat, microblog and professional network bots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to the YAML settings file")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		runCmd(&flags),
		importCmd(&flags),
		feedsCmd(&flags),
		versionCmd(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "socialbot %s\n", version)
		},
	}
}

// setup loads the configuration, builds the logger and opens the unlocked
// database shared by every subcommand.
func setup(ctx context.Context, flags *globalFlags) (*config.Config, *logging.Logger, *storage.SQLite, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	level := cfg.LogLevel
	if flags.debug {
		level = "debug"
	}
	logger := logging.New(level)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	store, err := storage.NewSQLite(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	if err := store.UnlockSecrets(ctx, cfg.SecretKey); err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("unlock secrets: %w", err)
	}
	return cfg, logger, store, nil
}
