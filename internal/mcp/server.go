package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"shopsavr-agent/internal/agent"
	"shopsavr-agent/internal/config"
)

// Server exposes the agent to MCP clients.
type Server struct {
	cfg       config.Config
	agent     *agent.Agent
	log       zerolog.Logger
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// NewServer constructs the MCP server and registers all tools.
func NewServer(cfg config.Config, a *agent.Agent, log zerolog.Logger) (*Server, error) {
	if a == nil {
		return nil, fmt.Errorf("agent is required")
	}
	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:       cfg,
		agent:     a,
		log:       log.With().Str("component", "mcp").Logger(),
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}

	server.registerAllTools()
	server.registerAllResources()
	return server, nil
}

// Start serves MCP over stdio.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful
// shutdown. Metrics are served on the same listener.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())
	mux.Handle(s.metricsPath(), s.agent.Metrics().Handler())

	return s.serve(ctx, ":"+strconv.Itoa(port), mux, "SSE")
}

// ServeMetrics exposes only the metrics endpoint, for stdio mode.
func (s *Server) ServeMetrics(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle(s.metricsPath(), s.agent.Metrics().Handler())
	return s.serve(ctx, ":"+strconv.Itoa(port), mux, "metrics")
}

func (s *Server) metricsPath() string {
	if s.cfg.MCP.MetricsPath == "" {
		return "/metrics"
	}
	return s.cfg.MCP.MetricsPath
}

func (s *Server) serve(ctx context.Context, addr string, h http.Handler, what string) error {
	httpServer := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info().Str("addr", addr).Msgf("%s server listening", what)

	select {
	case <-ctx.Done():
		s.log.Info().Msgf("%s server shutting down", what)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool executes a tool directly (used by the CLI and tests).
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return tool.Execute(ctx, args)
}

func (s *Server) registerAllTools() {
	// One tool per message kind, answered through the router.
	for _, t := range messageTools(s.agent) {
		s.registerTool(t)
	}

	// Sync and local state
	s.registerTool(&SyncNowTool{agent: s.agent})
	s.registerTool(&SyncStateTool{agent: s.agent})
	s.registerTool(&PendingChangesTool{agent: s.agent})
	s.registerTool(&WishlistTool{agent: s.agent})
	s.registerTool(&RemoveWishlistItemTool{agent: s.agent})
	s.registerTool(&CouponHistoryTool{agent: s.agent})
	s.registerTool(&NoticesTool{agent: s.agent})
	s.registerTool(&SavingsTool{agent: s.agent})

	// Browser tabs
	s.registerTool(&LaunchBrowserTool{agent: s.agent})
	s.registerTool(&ShutdownBrowserTool{agent: s.agent})
	s.registerTool(&ListTargetsTool{agent: s.agent})
	s.registerTool(&OpenTabTool{agent: s.agent})
	s.registerTool(&AttachTabTool{agent: s.agent})
	s.registerTool(&ListTabsTool{agent: s.agent})
	s.registerTool(&UnwatchTabTool{agent: s.agent})
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %s failed: %v", tool.Name(), err))},
				IsError: true,
			}, nil
		}

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}

	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}
