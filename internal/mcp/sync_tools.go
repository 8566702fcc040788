package mcp

import (
	"context"
	"fmt"

	"shopsavr-agent/internal/agent"
)

type SyncNowTool struct {
	agent *agent.Agent
}

func (t *SyncNowTool) Name() string { return "sync-now" }
func (t *SyncNowTool) Description() string {
	return `Run a sync pass now: pull the wishlist and preferences, merge them with
local state, then push pending changes in order.

Returns: {pulled, pushed, failed, remaining, conflicts, lastSyncTime}`
}
func (t *SyncNowTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}
func (t *SyncNowTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	res, err := t.agent.SyncNow(ctx)
	if err != nil {
		return map[string]interface{}{"success": false, "error": err.Error(), "result": res}, nil
	}
	return map[string]interface{}{"success": true, "result": res}, nil
}

type SyncStateTool struct {
	agent *agent.Agent
}

func (t *SyncStateTool) Name() string { return "sync-state" }
func (t *SyncStateTool) Description() string {
	return `Report the last successful sync time, the consecutive failure count,
whether a pass is running and whether the backend is reachable.`
}
func (t *SyncStateTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}
func (t *SyncStateTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	st, err := t.agent.SyncState(ctx)
	if err != nil {
		return nil, err
	}
	errs, err := t.agent.SyncErrors(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"state":  st,
		"online": t.agent.Online(),
		"errors": errs,
	}, nil
}

type PendingChangesTool struct {
	agent *agent.Agent
}

func (t *PendingChangesTool) Name() string { return "pending-changes" }
func (t *PendingChangesTool) Description() string {
	return `List local changes waiting for the backend, oldest first.`
}
func (t *PendingChangesTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}
func (t *PendingChangesTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	changes, err := t.agent.PendingChanges(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"count": len(changes), "changes": changes}, nil
}

type WishlistTool struct {
	agent *agent.Agent
}

func (t *WishlistTool) Name() string        { return "get-wishlist" }
func (t *WishlistTool) Description() string { return `List the locally cached wishlist.` }
func (t *WishlistTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}
func (t *WishlistTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	items, err := t.agent.Wishlist(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"items": items}, nil
}

type RemoveWishlistItemTool struct {
	agent *agent.Agent
}

func (t *RemoveWishlistItemTool) Name() string { return "remove-from-wishlist" }
func (t *RemoveWishlistItemTool) Description() string {
	return `Remove a product from the wishlist by its key. The removal is queued for sync.`
}
func (t *RemoveWishlistItemTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{"key": stringProp("Wishlist item key")}, "key")
}
func (t *RemoveWishlistItemTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	key := getStringArg(args, "key")
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	if err := t.agent.RemoveFromWishlist(ctx, key); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "removed": key}, nil
}

type CouponHistoryTool struct {
	agent *agent.Agent
}

func (t *CouponHistoryTool) Name() string        { return "coupon-history" }
func (t *CouponHistoryTool) Description() string { return `List applied coupons, newest first.` }
func (t *CouponHistoryTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"limit": map[string]interface{}{"type": "integer", "description": "Maximum entries (default 20)"},
	})
}
func (t *CouponHistoryTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	history, err := t.agent.CouponHistory(ctx, getIntArg(args, "limit", 20))
	if err != nil {
		return nil, err
	}
	saved := 0.0
	for _, u := range history {
		saved += u.AmountSaved
	}
	return map[string]interface{}{"history": history, "saved": saved}, nil
}

type NoticesTool struct {
	agent *agent.Agent
}

func (t *NoticesTool) Name() string        { return "get-notices" }
func (t *NoticesTool) Description() string { return `List recent user notifications, oldest first.` }
func (t *NoticesTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}
func (t *NoticesTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"notices": t.agent.Notices()}, nil
}

type SavingsTool struct {
	agent *agent.Agent
}

func (t *SavingsTool) Name() string { return "savings-summary" }
func (t *SavingsTool) Description() string {
	return `Ask the backend for the user's total savings, coupons used and savings this month.`
}
func (t *SavingsTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}
func (t *SavingsTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	summary, err := t.agent.Savings(ctx)
	if err != nil {
		return map[string]interface{}{"success": false, "error": err.Error()}, nil
	}
	return map[string]interface{}{"success": true, "savings": summary}, nil
}
