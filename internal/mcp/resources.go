package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"shopsavr-agent/internal/router"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"shopsavr://about",
			"ShopSavr Agent",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Agent info, message kinds and site profiles."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"shopsavr://tab/{tabId}",
			"Watched Tab",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Page data for one watched tab: checkout state, order total and coupon session."),
		),
		s.handleTabResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	profiles := []string{}
	for _, p := range s.agent.Registry().Profiles() {
		profiles = append(profiles, p.Name())
	}
	payload := map[string]interface{}{
		"name":          s.cfg.Server.Name,
		"version":       s.cfg.Server.Version,
		"message_kinds": router.Kinds(),
		"profiles":      profiles,
		"fallback":      s.agent.Registry().Fallback().Name(),
		"notes": []string{
			"Resources are read-only; use tools for actions.",
			"Page-scoped tools default to the tab that last entered checkout.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	return jsonContents(request.Params.URI, payload)
}

func (s *Server) handleTabResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	tabID := argString(request.Params.Arguments["tabId"])
	if tabID == "" {
		return nil, fmt.Errorf("missing tabId")
	}
	msg, err := router.NewMessage(router.GetPageData, router.PageDataRequest{SessionID: tabID})
	if err != nil {
		return nil, err
	}
	resp := s.agent.Router().Send(ctx, msg)
	if !resp.Success {
		return nil, fmt.Errorf("tab %s: %s", tabID, resp.Error)
	}
	return jsonContents(request.Params.URI, resp.Data)
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}
