package checkout

import (
	"context"
	"encoding/json"
	"sync"

	"shopsavr-agent/internal/router"
)

// WidgetState is what the coupon widget currently shows.
type WidgetState struct {
	Visible bool                  `json:"visible"`
	StoreID string                `json:"storeId,omitempty"`
	Coupons []router.WidgetCoupon `json:"coupons"`
}

// Widget answers showCouponWidget and hideCouponWidget messages.
type Widget struct {
	mu    sync.Mutex
	state WidgetState
}

func (w *Widget) State() WidgetState {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.state
	s.Coupons = append([]router.WidgetCoupon(nil), w.state.Coupons...)
	return s
}

func (w *Widget) Show(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req router.ShowWidgetRequest
	if err := router.Decode(payload, &req); err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.state = WidgetState{Visible: true, StoreID: req.StoreID, Coupons: req.Coupons}
	w.mu.Unlock()
	return map[string]int{"shown": len(req.Coupons)}, nil
}

func (w *Widget) Hide(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	w.mu.Lock()
	w.state = WidgetState{}
	w.mu.Unlock()
	return nil, nil
}

// Register installs the widget handlers on r.
func (w *Widget) Register(r *router.Router) error {
	if err := r.Handle(router.ShowCouponWidget, w.Show); err != nil {
		return err
	}
	return r.Handle(router.HideCouponWidget, w.Hide)
}
