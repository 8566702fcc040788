package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"shopsavr-agent/internal/agent"
	mcpserver "shopsavr-agent/internal/mcp"
)

var (
	ssePort     int
	metricsPort int
)

func init() {
	serveCmd.Flags().IntVar(&ssePort, "sse-port", 0, "Serve MCP over SSE on this port instead of stdio (falls back to config)")
	serveCmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Expose metrics on this port in stdio mode (falls back to config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent and expose it as an MCP server.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, ws, err := loadConfig()
		if err != nil {
			return err
		}
		if ssePort != 0 {
			cfg.MCP.SSEPort = ssePort
		}
		if metricsPort != 0 {
			cfg.MCP.MetricsPort = metricsPort
		}

		log, closer, err := setupLogger(cfg.Server)
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer.Close()
		}
		if ws != "" {
			log.Info().Str("workspace", ws).Msg("using workspace config")
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		a, err := agent.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		server, err := mcpserver.NewServer(cfg, a, log)
		if err != nil {
			a.Close()
			return err
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return a.Run(ctx) })
		if cfg.MCP.SSEPort > 0 {
			log.Info().Int("port", cfg.MCP.SSEPort).Msg("starting MCP SSE server")
			g.Go(func() error {
				defer cancel()
				return ignoreCanceled(server.StartSSE(ctx, cfg.MCP.SSEPort))
			})
		} else {
			log.Info().Msg("starting MCP stdio server")
			// The client closing stdin ends the process.
			g.Go(func() error {
				defer cancel()
				return ignoreCanceled(server.Start(ctx))
			})
			if cfg.MCP.MetricsPort > 0 {
				g.Go(func() error { return server.ServeMetrics(ctx, cfg.MCP.MetricsPort) })
			}
		}
		return g.Wait()
	},
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
