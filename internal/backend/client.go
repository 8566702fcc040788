// Package backend is the REST client for the coupon and sync backend.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"shopsavr-agent/internal/config"
	"shopsavr-agent/internal/model"
)

// TokenEnv overrides the configured bearer token.
const TokenEnv = "SHOPSAVR_TOKEN"

// ErrUnauthorized means the backend refused the credentials (401/403).
// Callers treat it as "skip", not as a failure to retry.
var ErrUnauthorized = errors.New("backend: unauthorized")

// NetworkError is any other failed call. StatusCode is zero when no HTTP
// response arrived.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backend %s: status %d: %v", e.Op, e.StatusCode, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Offline reports whether the call never reached the backend.
func (e *NetworkError) Offline() bool { return e.StatusCode == 0 }

// IsOffline reports whether err is a NetworkError without a response.
func IsOffline(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) && ne.Offline()
}

// Coupon is a backend coupon record.
type Coupon struct {
	ID            string   `json:"id"`
	Code          string   `json:"code"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	DiscountValue float64  `json:"discountValue"`
	DiscountType  string   `json:"discountType"`
	SuccessRate   *float64 `json:"successRate,omitempty"`
}

// StoreInfo identifies the retailer a page belongs to.
type StoreInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// Detection is the answer to "which coupons apply to this page".
type Detection struct {
	Store   StoreInfo `json:"store"`
	Coupons []Coupon  `json:"coupons"`
}

// SavingsSummary is the user's aggregate savings.
type SavingsSummary struct {
	TotalSaved  float64 `json:"totalSaved"`
	CouponsUsed int64   `json:"couponsUsed"`
	ThisMonth   float64 `json:"thisMonth"`
}

// Client talks to the backend over HTTP.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// New builds a client from cfg. The SHOPSAVR_TOKEN environment variable
// takes precedence over the configured token.
func New(cfg config.BackendConfig, log zerolog.Logger) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetTimeout(cfg.RequestTimeout())
	client.SetHeader("Accept", "application/json")
	client.SetHeader("Content-Type", "application/json")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	token := cfg.Token
	if env := os.Getenv(TokenEnv); env != "" {
		token = env
	}
	if token != "" {
		client.SetAuthToken(token)
	}
	return &Client{http: client, log: log.With().Str("component", "backend").Logger()}
}

// HTTP exposes the underlying resty client for page fetching.
func (c *Client) HTTP() *resty.Client { return c.http }

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (gjson.Result, int, error) {
	op := method + " " + path
	start := time.Now()
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return gjson.Result{}, 0, &NetworkError{Op: op, Err: err}
	}
	status := resp.StatusCode()
	c.log.Debug().Str("op", op).Int("status", status).Dur("elapsed", time.Since(start)).Msg("backend call")

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return gjson.Result{}, status, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	case status >= 300:
		msg := gjson.GetBytes(resp.Body(), "error").String()
		if msg == "" {
			msg = gjson.GetBytes(resp.Body(), "message").String()
		}
		if msg == "" {
			msg = http.StatusText(status)
		}
		return gjson.Result{}, status, &NetworkError{Op: op, StatusCode: status, Err: errors.New(msg)}
	}
	return payload(resp.Body()), status, nil
}

// payload unwraps the {"data": ...} envelope some endpoints use.
func payload(body []byte) gjson.Result {
	r := gjson.ParseBytes(body)
	if d := r.Get("data"); d.Exists() && (d.IsObject() || d.IsArray()) {
		return d
	}
	return r
}

// DetectCoupons asks which coupons apply to pageURL.
func (c *Client) DetectCoupons(ctx context.Context, pageURL string) (Detection, error) {
	r, _, err := c.do(ctx, http.MethodPost, "/coupons/detect", map[string]string{"url": pageURL})
	if err != nil {
		return Detection{}, err
	}
	d := Detection{
		Store: StoreInfo{
			ID:     firstString(r, "store.id", "store._id", "storeId"),
			Name:   r.Get("store.name").String(),
			Domain: r.Get("store.domain").String(),
		},
		Coupons: parseCoupons(r.Get("coupons")),
	}
	return d, nil
}

// AvailableCoupons lists every active coupon of a store.
func (c *Client) AvailableCoupons(ctx context.Context, storeID string) ([]Coupon, error) {
	r, _, err := c.do(ctx, http.MethodGet, "/coupons/available?storeId="+url.QueryEscape(storeID), nil)
	if err != nil {
		return nil, err
	}
	if r.IsArray() {
		return parseCoupons(r), nil
	}
	return parseCoupons(r.Get("coupons")), nil
}

// ApplyCoupon reports a successful application.
func (c *Client) ApplyCoupon(ctx context.Context, couponID, storeID string, amountSaved float64) error {
	_, _, err := c.do(ctx, http.MethodPost, "/coupons/apply", map[string]interface{}{
		"couponId":    couponID,
		"storeId":     storeID,
		"amountSaved": amountSaved,
	})
	return err
}

// Wishlist returns the remote wishlist.
func (c *Client) Wishlist(ctx context.Context) ([]model.WishlistItem, error) {
	r, _, err := c.do(ctx, http.MethodGet, "/wishlist", nil)
	if err != nil {
		return nil, err
	}
	if !r.IsArray() {
		r = r.Get("items")
	}
	var items []model.WishlistItem
	r.ForEach(func(_, v gjson.Result) bool {
		item := model.WishlistItem{
			RemoteID: firstString(v, "id", "_id"),
			Key:      firstString(v, "key", "productId", "url"),
			Title:    firstString(v, "title", "name"),
			URL:      v.Get("url").String(),
			ImageURL: v.Get("imageUrl").String(),
			Store:    v.Get("store").String(),
			Price:    v.Get("price").Float(),
			Currency: v.Get("currency").String(),
		}
		if item.Key == "" {
			item.Key = item.RemoteID
		}
		if ts := v.Get("createdAt"); ts.Exists() {
			item.CreatedAt = parseTime(ts)
		}
		if item.Key != "" {
			items = append(items, item)
		}
		return true
	})
	return items, nil
}

// AddWishlistItem posts a queued wishlist payload as-is.
func (c *Client) AddWishlistItem(ctx context.Context, body []byte) error {
	_, _, err := c.do(ctx, http.MethodPost, "/wishlist", body)
	return err
}

// RemoveWishlistItem deletes an item. A 404 means it is already gone.
func (c *Client) RemoveWishlistItem(ctx context.Context, id string) error {
	_, status, err := c.do(ctx, http.MethodDelete, "/wishlist/"+url.PathEscape(id), nil)
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

// Preferences returns the remote settings, or nil when none were saved.
func (c *Client) Preferences(ctx context.Context) (*model.Preferences, error) {
	r, status, err := c.do(ctx, http.MethodGet, "/preferences", nil)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p := r.Get("preferences"); p.IsObject() {
		r = p
	}
	if !r.IsObject() {
		return nil, nil
	}
	prefs := model.DefaultPreferences()
	if v := r.Get("autoApplyEnabled"); v.Exists() {
		prefs.AutoApplyEnabled = v.Bool()
	}
	if v := r.Get("autoApplyDelay"); v.Exists() {
		prefs.AutoApplyDelayMs = int(v.Int())
	}
	if v := r.Get("maxCouponsToTest"); v.Exists() {
		prefs.MaxCouponsToTest = int(v.Int())
	}
	if v := r.Get("showNotifications"); v.Exists() {
		prefs.ShowNotifications = v.Bool()
	}
	if v := r.Get("syncIntervalMs"); v.Exists() {
		prefs.SyncIntervalMs = int(v.Int())
	}
	if v := r.Get("updatedAt"); v.Exists() {
		prefs.UpdatedAt = parseTime(v)
	}
	return &prefs, nil
}

// UpdatePreferences replaces the remote settings with a queued payload.
func (c *Client) UpdatePreferences(ctx context.Context, body []byte) error {
	_, _, err := c.do(ctx, http.MethodPut, "/preferences", body)
	return err
}

// Savings returns the user's savings summary.
func (c *Client) Savings(ctx context.Context) (SavingsSummary, error) {
	r, _, err := c.do(ctx, http.MethodGet, "/savings/summary", nil)
	if err != nil {
		return SavingsSummary{}, err
	}
	return SavingsSummary{
		TotalSaved:  r.Get("totalSaved").Float(),
		CouponsUsed: r.Get("couponsUsed").Int(),
		ThisMonth:   r.Get("thisMonth").Float(),
	}, nil
}

// Ping probes GET /health. Any HTTP answer below 500 counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, status, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil && (status == 0 || status >= 500) {
		return err
	}
	return nil
}

func parseCoupons(arr gjson.Result) []Coupon {
	var out []Coupon
	arr.ForEach(func(_, v gjson.Result) bool {
		cp := Coupon{
			ID:            firstString(v, "id", "_id"),
			Code:          v.Get("code").String(),
			Title:         v.Get("title").String(),
			Description:   v.Get("description").String(),
			DiscountValue: v.Get("discountValue").Float(),
			DiscountType:  firstString(v, "discountType", "type"),
		}
		if sr := v.Get("successRate"); sr.Exists() && sr.Type == gjson.Number {
			rate := sr.Float()
			cp.SuccessRate = &rate
		}
		if cp.Code != "" {
			out = append(out, cp)
		}
		return true
	})
	return out
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// parseTime accepts RFC 3339 strings and Unix milliseconds.
func parseTime(v gjson.Result) time.Time {
	if v.Type == gjson.Number {
		return time.UnixMilli(v.Int())
	}
	t, err := time.Parse(time.RFC3339Nano, v.String())
	if err != nil {
		return time.Time{}
	}
	return t
}
