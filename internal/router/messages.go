package router

import "encoding/json"

// OrderData describes the cart a coupon search is for.
type OrderData struct {
	Total    float64 `json:"total,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

// SearchCouponsRequest names the store by StoreID, by page URL or by domain,
// in that order of precedence.
type SearchCouponsRequest struct {
	Domain    string     `json:"domain"`
	URL       string     `json:"url,omitempty"`
	StoreID   string     `json:"storeId,omitempty"`
	OrderData *OrderData `json:"orderData,omitempty"`
}

// ApplyCouponRequest targets the page of SessionID, or the most recent
// checkout page when it is empty.
type ApplyCouponRequest struct {
	CouponCode string `json:"couponCode"`
	CouponID   string `json:"couponId,omitempty"`
	StoreID    string `json:"storeId,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
}

type PageDataRequest struct {
	SessionID string `json:"sessionId,omitempty"`
}

// WidgetCoupon is one entry of the coupon widget.
type WidgetCoupon struct {
	ID            string   `json:"id,omitempty"`
	Code          string   `json:"code"`
	Title         string   `json:"title,omitempty"`
	DiscountValue float64  `json:"discountValue,omitempty"`
	DiscountType  string   `json:"discountType,omitempty"`
	SuccessRate   *float64 `json:"successRate,omitempty"`
}

type ShowWidgetRequest struct {
	Coupons []WidgetCoupon `json:"coupons"`
	StoreID string         `json:"storeId,omitempty"`
}

type AddToWishlistRequest struct {
	ProductData json.RawMessage `json:"productData"`
}

type UpdatePreferencesRequest struct {
	Preferences json.RawMessage `json:"preferences"`
}
