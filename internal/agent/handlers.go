package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"shopsavr-agent/internal/backend"
	"shopsavr-agent/internal/checkout"
	"shopsavr-agent/internal/router"
)

// PageData answers getPageData.
type PageData struct {
	TabInfo
	OrderTotal *float64             `json:"orderTotal,omitempty"`
	Widget     checkout.WidgetState `json:"widget"`
	Online     bool                 `json:"online"`
}

func (a *Agent) registerHandlers() error {
	handlers := map[router.Kind]router.HandlerFunc{
		router.SearchCoupons:     a.handleSearchCoupons,
		router.ApplyCouponToPage: a.handleApplyCoupon,
		router.GetPageData:       a.handlePageData,
		router.AddToWishlist:     a.handleAddToWishlist,
		router.UpdatePreferences: a.handleUpdatePreferences,
	}
	for kind, h := range handlers {
		if err := a.router.Handle(kind, h); err != nil {
			return err
		}
	}
	return a.widget.Register(a.router)
}

func (a *Agent) handleSearchCoupons(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req router.SearchCouponsRequest
	if err := router.Decode(payload, &req); err != nil {
		return nil, err
	}
	if id := strings.TrimSpace(req.StoreID); id != "" {
		coupons, err := a.backend.AvailableCoupons(ctx, id)
		if err != nil {
			return nil, err
		}
		return backend.Detection{Store: backend.StoreInfo{ID: id}, Coupons: coupons}, nil
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		domain := strings.TrimSpace(req.Domain)
		if domain == "" {
			return nil, errors.New("storeId, url or domain is required")
		}
		url = "https://" + domain + "/"
	}
	det, err := a.backend.DetectCoupons(ctx, url)
	if err != nil {
		return nil, err
	}
	return det, nil
}

func (a *Agent) handleApplyCoupon(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req router.ApplyCouponRequest
	if err := router.Decode(payload, &req); err != nil {
		return nil, err
	}
	t, err := a.tab(req.SessionID)
	if err != nil {
		return nil, err
	}
	return t.flow.ApplyCode(ctx, req)
}

func (a *Agent) handlePageData(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req router.PageDataRequest
	if err := router.Decode(payload, &req); err != nil {
		return nil, err
	}
	t, err := a.tab(req.SessionID)
	if err != nil {
		return nil, err
	}
	data := PageData{TabInfo: t.Info(), Widget: a.widget.State(), Online: a.network.Online()}
	if total, ok := a.registry.ResolveURL(data.URL).ExtractOrderTotal(t.page); ok {
		data.OrderTotal = &total
	}
	return data, nil
}

func (a *Agent) handleAddToWishlist(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req router.AddToWishlistRequest
	if err := router.Decode(payload, &req); err != nil {
		return nil, err
	}
	if len(req.ProductData) == 0 {
		return nil, errors.New("productData is required")
	}
	return a.queue.AddToWishlist(ctx, req.ProductData)
}

func (a *Agent) handleUpdatePreferences(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req router.UpdatePreferencesRequest
	if err := router.Decode(payload, &req); err != nil {
		return nil, err
	}
	if len(req.Preferences) == 0 {
		return nil, errors.New("preferences is required")
	}
	prefs, err := a.queue.UpdatePreferences(ctx, req.Preferences)
	if err != nil {
		return nil, err
	}
	if err := a.syncer.SetInterval(prefs.SyncInterval()); err != nil {
		a.log.Warn().Err(err).Msg("rescheduling sync")
	}
	return prefs, nil
}
