package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"shopsavr-agent/internal/agent"
	"shopsavr-agent/internal/config"
	"shopsavr-agent/internal/router"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.LogFile = ""
	cfg.Server.TraceDir = ""
	cfg.Store.Path = filepath.Join(dir, "agent.db")
	cfg.Browser.AutoStart = false
	cfg.Browser.SessionStore = ""
	cfg.Backend.BaseURL = "http://127.0.0.1:1"
	cfg.Sync.Enabled = false

	a, err := agent.New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("agent.New failed: %v", err)
	}
	t.Cleanup(a.Close)

	s, err := NewServer(cfg, a, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return s
}

func TestNewServerRequiresAgent(t *testing.T) {
	if _, err := NewServer(config.DefaultConfig(), nil, zerolog.Nop()); err == nil {
		t.Error("expected error without an agent")
	}
}

func TestRegisteredTools(t *testing.T) {
	s := newTestServer(t)
	expected := []string{
		"search-coupons", "apply-coupon", "show-coupon-widget", "hide-coupon-widget",
		"get-page-data", "add-to-wishlist", "update-preferences",
		"sync-now", "sync-state", "pending-changes", "get-wishlist",
		"remove-from-wishlist", "coupon-history", "get-notices", "savings-summary",
		"launch-browser", "shutdown-browser", "list-targets", "open-tab",
		"attach-tab", "list-tabs", "unwatch-tab",
	}
	for _, name := range expected {
		tool, ok := s.tools[name]
		if !ok {
			t.Errorf("tool %s not registered", name)
			continue
		}
		if tool.Description() == "" {
			t.Errorf("tool %s has no description", name)
		}
		schema, err := json.Marshal(tool.InputSchema())
		if err != nil || !strings.Contains(string(schema), `"type":"object"`) {
			t.Errorf("tool %s has invalid schema %s: %v", name, schema, err)
		}
	}
	if len(s.tools) != len(expected) {
		t.Errorf("expected %d tools, got %d", len(expected), len(s.tools))
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.ExecuteTool(context.Background(), "no-such-tool", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestMessageToolsAnswerThroughRouter(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.ExecuteTool(ctx, "hide-coupon-widget", nil)
	if err != nil {
		t.Fatalf("hide-coupon-widget failed: %v", err)
	}
	if resp, ok := res.(router.Response); !ok || !resp.Success {
		t.Errorf("expected successful response, got %#v", res)
	}

	res, err = s.ExecuteTool(ctx, "apply-coupon", map[string]interface{}{"couponCode": "SAVE10"})
	if err != nil {
		t.Fatalf("apply-coupon failed: %v", err)
	}
	resp, ok := res.(router.Response)
	if !ok || resp.Success {
		t.Fatalf("expected failed response without a watched tab, got %#v", res)
	}
	if resp.Error != agent.ErrNoTab.Error() {
		t.Errorf("unexpected error %q", resp.Error)
	}
}

func TestWishlistAddShowsAsPending(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.ExecuteTool(ctx, "add-to-wishlist", map[string]interface{}{
		"productData": map[string]interface{}{"productId": "p-1", "title": "Lamp", "price": 25},
	})
	if err != nil {
		t.Fatalf("add-to-wishlist failed: %v", err)
	}
	if resp := res.(router.Response); !resp.Success {
		t.Fatalf("add-to-wishlist response: %s", resp.Error)
	}

	res, err = s.ExecuteTool(ctx, "pending-changes", nil)
	if err != nil {
		t.Fatalf("pending-changes failed: %v", err)
	}
	payload := res.(map[string]interface{})
	if payload["count"] != 1 {
		t.Errorf("expected 1 pending change, got %v", payload["count"])
	}

	res, err = s.ExecuteTool(ctx, "get-notices", nil)
	if err != nil {
		t.Fatalf("get-notices failed: %v", err)
	}
	if _, ok := res.(map[string]interface{})["notices"]; !ok {
		t.Error("expected notices key")
	}
}

func TestBrowserToolsValidateArguments(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for _, name := range []string{"open-tab", "attach-tab", "unwatch-tab"} {
		if _, err := s.ExecuteTool(ctx, name, nil); err == nil {
			t.Errorf("%s: expected error for missing argument", name)
		}
	}
	if _, err := s.ExecuteTool(ctx, "list-targets", nil); err == nil {
		t.Error("list-targets: expected error before the browser is connected")
	}

	res, err := s.ExecuteTool(ctx, "list-tabs", nil)
	if err != nil {
		t.Fatalf("list-tabs failed: %v", err)
	}
	if tabs := res.(map[string]interface{})["tabs"].([]agent.TabInfo); len(tabs) != 0 {
		t.Errorf("expected no tabs, got %d", len(tabs))
	}
}

func TestAboutResource(t *testing.T) {
	s := newTestServer(t)
	req := mcp.ReadResourceRequest{}
	req.Params.URI = "shopsavr://about"

	contents, err := s.handleAboutResource(context.Background(), req)
	if err != nil {
		t.Fatalf("about resource failed: %v", err)
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("unexpected content type %T", contents[0])
	}
	if !strings.Contains(text.Text, "applyCouponToPage") || !strings.Contains(text.Text, "generic") {
		t.Errorf("about resource missing kinds or profiles: %s", text.Text)
	}
}

func TestTabResourceUnknownTab(t *testing.T) {
	s := newTestServer(t)
	req := mcp.ReadResourceRequest{}
	req.Params.URI = "shopsavr://tab/missing"
	req.Params.Arguments = map[string]any{"tabId": "missing"}

	if _, err := s.handleTabResource(context.Background(), req); err == nil {
		t.Error("expected error for an unknown tab")
	}
}

func TestMarshalToolPayloadFallback(t *testing.T) {
	payload := marshalToolPayload("bad", map[string]interface{}{"ch": make(chan int)})
	if !strings.Contains(string(payload), `"success":false`) {
		t.Errorf("expected fallback payload, got %s", payload)
	}
}
