package mcp

import (
	"context"
	"fmt"

	"shopsavr-agent/internal/agent"
)

type LaunchBrowserTool struct {
	agent *agent.Agent
}

func (t *LaunchBrowserTool) Name() string { return "launch-browser" }
func (t *LaunchBrowserTool) Description() string {
	return `Connect to Chrome using the configured debugger_url, or launch it with
the configured command. A healthy existing connection is reused.

Returns: {status, control_url}`
}
func (t *LaunchBrowserTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}
func (t *LaunchBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	// The connection outlives the tool call.
	if err := t.agent.Browser().Start(context.WithoutCancel(ctx)); err != nil {
		return map[string]interface{}{"success": false, "error": err.Error()}, nil
	}
	return map[string]interface{}{"status": "connected", "control_url": t.agent.Browser().ControlURL()}, nil
}

type ShutdownBrowserTool struct {
	agent *agent.Agent
}

func (t *ShutdownBrowserTool) Name() string { return "shutdown-browser" }
func (t *ShutdownBrowserTool) Description() string {
	return `Stop watching every tab and disconnect from Chrome. Tabs the agent
attached to stay open.`
}
func (t *ShutdownBrowserTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}
func (t *ShutdownBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	for _, tab := range t.agent.Tabs() {
		_ = t.agent.Unwatch(tab.ID)
	}
	if err := t.agent.Browser().Shutdown(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "stopped"}, nil
}

type ListTargetsTool struct {
	agent *agent.Agent
}

func (t *ListTargetsTool) Name() string { return "list-targets" }
func (t *ListTargetsTool) Description() string {
	return `List the tabs open in Chrome. Use a target_id with attach-tab to start
watching a tab the user already has open.`
}
func (t *ListTargetsTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}
func (t *ListTargetsTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	targets, err := t.agent.Browser().Targets(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"targets": targets}, nil
}

type OpenTabTool struct {
	agent *agent.Agent
}

func (t *OpenTabTool) Name() string { return "open-tab" }
func (t *OpenTabTool) Description() string {
	return `Open a URL in a new tab and watch it for checkout.

Returns: {tab: {id, url, profile, state}}`
}
func (t *OpenTabTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{"url": stringProp("URL to open")}, "url")
}
func (t *OpenTabTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	url := getStringArg(args, "url")
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}
	tab, err := t.agent.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tab": tab}, nil
}

type AttachTabTool struct {
	agent *agent.Agent
}

func (t *AttachTabTool) Name() string { return "attach-tab" }
func (t *AttachTabTool) Description() string {
	return `Watch an existing Chrome tab for checkout, by CDP TargetID (see list-targets).`
}
func (t *AttachTabTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{"target_id": stringProp("CDP TargetID to attach")}, "target_id")
}
func (t *AttachTabTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	targetID := getStringArg(args, "target_id")
	if targetID == "" {
		return nil, fmt.Errorf("target_id is required")
	}
	tab, err := t.agent.Attach(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tab": tab}, nil
}

type ListTabsTool struct {
	agent *agent.Agent
}

func (t *ListTabsTool) Name() string { return "list-tabs" }
func (t *ListTabsTool) Description() string {
	return `List watched tabs with their checkout state and current coupon session.`
}
func (t *ListTabsTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}
func (t *ListTabsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"tabs": t.agent.Tabs(), "sessions": t.agent.Browser().List()}, nil
}

type UnwatchTabTool struct {
	agent *agent.Agent
}

func (t *UnwatchTabTool) Name() string { return "unwatch-tab" }
func (t *UnwatchTabTool) Description() string {
	return `Stop watching a tab. The tab stays open.`
}
func (t *UnwatchTabTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{"id": stringProp("Watched tab id")}, "id")
}
func (t *UnwatchTabTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "id")
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	if err := t.agent.Unwatch(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "unwatched": id}, nil
}
