package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"shopsavr-agent/internal/config"
	"shopsavr-agent/internal/logging"
)

var (
	configPath   string
	workspaceDir string
	noWorkspace  bool
)

var rootCmd = &cobra.Command{
	Use:           "shopsavr-agent",
	Short:         "Finds and applies coupons at checkout and keeps wishlist and preferences in sync.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Explicit config file, applied over the workspace config")
	rootCmd.PersistentFlags().StringVar(&workspaceDir, "workspace-dir", "", "Use this directory as the workspace root instead of searching upwards")
	rootCmd.PersistentFlags().BoolVar(&noWorkspace, "no-workspace", false, "Skip .shopsavr workspace discovery")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, string, error) {
	cfg, ws, err := config.LoadWithWorkspace(configPath, config.WorkspaceOptions{
		Disable:     noWorkspace,
		ExplicitDir: workspaceDir,
	})
	if err != nil {
		return cfg, ws, fmt.Errorf("load config: %w", err)
	}
	return cfg, ws, nil
}

// setupLogger builds the process logger. Stdout carries the MCP protocol
// in stdio mode, so nothing is ever logged there.
func setupLogger(cfg config.ServerConfig) (zerolog.Logger, io.Closer, error) {
	log, closer, err := logging.New(cfg)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("logging: %w", err)
	}
	return log, closer, nil
}
