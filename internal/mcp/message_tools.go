package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"shopsavr-agent/internal/agent"
	"shopsavr-agent/internal/router"
)

// MessageTool forwards its arguments as the payload of one router message.
// The router response is returned as is, so a failed message is a normal
// {success:false,error} result rather than a tool error.
type MessageTool struct {
	agent       *agent.Agent
	kind        router.Kind
	name        string
	description string
	schema      map[string]interface{}
}

func (t *MessageTool) Name() string                        { return t.name }
func (t *MessageTool) Description() string                 { return t.description }
func (t *MessageTool) InputSchema() map[string]interface{} { return t.schema }

func (t *MessageTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	var payload json.RawMessage
	if len(args) > 0 {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode arguments: %w", err)
		}
		payload = raw
	}
	return t.agent.Router().Send(ctx, router.Message{Kind: t.kind, Payload: payload}), nil
}

func messageTools(a *agent.Agent) []Tool {
	sessionProp := stringProp("Watched tab id; defaults to the tab that last entered checkout")
	return []Tool{
		&MessageTool{
			agent: a,
			kind:  router.SearchCoupons,
			name:  "search-coupons",
			description: `Look up the coupons the backend knows for a store.

Pass a backend store id, a page URL or the store domain. Nothing is applied.

Returns: {success, data: {store, coupons[]}}`,
			schema: objectSchema(map[string]interface{}{
				"domain":  stringProp("Store domain, e.g. shop.example"),
				"url":     stringProp("Page URL; takes precedence over domain"),
				"storeId": stringProp("Backend store id; lists every active coupon of the store"),
			}),
		},
		&MessageTool{
			agent: a,
			kind:  router.ApplyCouponToPage,
			name:  "apply-coupon",
			description: `Test one coupon code on a watched checkout page.

The code is typed into the discount field and activated. The result says
whether it worked and what it saved. A working code is recorded in the
coupon history and queued for sync.

Returns: {success, data: {candidate, success, savingsObserved, failureReason}}`,
			schema: objectSchema(map[string]interface{}{
				"couponCode": stringProp("Code to test"),
				"couponId":   stringProp("Backend coupon id, for usage reporting"),
				"storeId":    stringProp("Backend store id, for usage reporting"),
				"sessionId":  sessionProp,
			}, "couponCode"),
		},
		&MessageTool{
			agent:       a,
			kind:        router.ShowCouponWidget,
			name:        "show-coupon-widget",
			description: `Show coupons in the coupon widget without testing them.`,
			schema: objectSchema(map[string]interface{}{
				"storeId": stringProp("Backend store id"),
				"coupons": map[string]interface{}{
					"type":        "array",
					"description": "Coupons to list: {id, code, title, discountValue, discountType, successRate}",
					"items":       map[string]interface{}{"type": "object"},
				},
			}, "coupons"),
		},
		&MessageTool{
			agent:       a,
			kind:        router.HideCouponWidget,
			name:        "hide-coupon-widget",
			description: `Hide the coupon widget.`,
			schema:      objectSchema(map[string]interface{}{}),
		},
		&MessageTool{
			agent: a,
			kind:  router.GetPageData,
			name:  "get-page-data",
			description: `Describe a watched tab: URL, capability profile, checkout state,
order total, the current coupon session and the last checkout result.`,
			schema: objectSchema(map[string]interface{}{"sessionId": sessionProp}),
		},
		&MessageTool{
			agent: a,
			kind:  router.AddToWishlist,
			name:  "add-to-wishlist",
			description: `Save a product to the wishlist. The item is stored locally at once and
pushed to the backend by the next sync pass.

productData needs a productId (or id, sku) or a url.`,
			schema: objectSchema(map[string]interface{}{
				"productData": map[string]interface{}{
					"type":        "object",
					"description": "Product fields: productId, title, url, price, currency, imageUrl, store",
				},
			}, "productData"),
		},
		&MessageTool{
			agent: a,
			kind:  router.UpdatePreferences,
			name:  "update-preferences",
			description: `Change user settings. Only the given fields change.

Fields: autoApplyEnabled, autoApplyDelay (ms), maxCouponsToTest,
showNotifications, syncIntervalMs.`,
			schema: objectSchema(map[string]interface{}{
				"preferences": map[string]interface{}{
					"type":        "object",
					"description": "Partial preferences object",
				},
			}, "preferences"),
		},
	}
}
