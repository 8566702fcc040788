package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"shopsavr-agent/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Setenv(TokenEnv, "")
	return New(config.BackendConfig{BaseURL: srv.URL + "/", Token: "cfg-token", Timeout: "2s"}, zerolog.Nop())
}

func TestDetectCouponsParsesEnvelope(t *testing.T) {
	var gotBody, gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coupons/detect", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		gotAuth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{"data":{"store":{"_id":"s1","name":"Walmart","domain":"walmart.com"},
			"coupons":[{"_id":"c1","code":"SAVE10","title":"10% off","discountValue":10,"discountType":"percentage","successRate":0.8},
			{"id":"c2","title":"no code"},
			{"id":"c3","code":"FREESHIP","discountType":"fixed"}]}}`)
	})

	d, err := c.DetectCoupons(context.Background(), "https://walmart.com/checkout")
	require.NoError(t, err)
	assert.Equal(t, "https://walmart.com/checkout", gjson.Get(gotBody, "url").String())
	assert.Equal(t, "Bearer cfg-token", gotAuth)

	assert.Equal(t, "s1", d.Store.ID)
	assert.Equal(t, "Walmart", d.Store.Name)
	require.Len(t, d.Coupons, 2)
	assert.Equal(t, "SAVE10", d.Coupons[0].Code)
	assert.Equal(t, "c1", d.Coupons[0].ID)
	require.NotNil(t, d.Coupons[0].SuccessRate)
	assert.InDelta(t, 0.8, *d.Coupons[0].SuccessRate, 1e-9)
	assert.Nil(t, d.Coupons[1].SuccessRate)
}

func TestAvailableCouponsAcceptsBareArray(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coupons/available", r.URL.Path)
		assert.Equal(t, "st 1", r.URL.Query().Get("storeId"))
		_, _ = io.WriteString(w, `[{"id":"c1","code":"TAKE5"},{"id":"c2","code":""}]`)
	})

	coupons, err := c.AvailableCoupons(context.Background(), "st 1")
	require.NoError(t, err)
	require.Len(t, coupons, 1)
	assert.Equal(t, "TAKE5", coupons[0].Code)
}

func TestTokenFromEnvironment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer env-token", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"totalSaved":12.5,"couponsUsed":3,"thisMonth":4}`)
	}))
	defer srv.Close()
	t.Setenv(TokenEnv, "env-token")

	c := New(config.BackendConfig{BaseURL: srv.URL, Token: "cfg-token"}, zerolog.Nop())
	s, err := c.Savings(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 12.5, s.TotalSaved, 1e-9)
	assert.Equal(t, int64(3), s.CouponsUsed)
}

func TestUnauthorizedIsDistinct(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.Wishlist(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, IsOffline(err))
}

func TestServerErrorCarriesMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"error":"coupon expired"}`)
	})
	err := c.ApplyCoupon(context.Background(), "c1", "s1", 3)
	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, http.StatusUnprocessableEntity, ne.StatusCode)
	assert.Contains(t, ne.Error(), "coupon expired")
	assert.False(t, ne.Offline())
}

func TestUnreachableIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := New(config.BackendConfig{BaseURL: base, Timeout: "500ms"}, zerolog.Nop())
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, IsOffline(err))
}

func TestPingToleratesClientErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	assert.NoError(t, c.Ping(context.Background()))
}

func TestRemoveMissingItemSucceeds(t *testing.T) {
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusNotFound)
	})
	require.NoError(t, c.RemoveWishlistItem(context.Background(), "srv-1"))
	assert.Equal(t, "/wishlist/srv-1", path)
}

func TestWishlistAndPreferences(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wishlist":
			_, _ = io.WriteString(w, `{"items":[
				{"_id":"w1","productId":"B1","name":"Lamp","price":19.99,"createdAt":"2026-02-01T10:00:00Z"},
				{"id":"w2","url":"https://shop.example/rug","createdAt":1767225600000},
				{"title":"keyless"}]}`)
		case "/preferences":
			_, _ = io.WriteString(w, `{"preferences":{"autoApplyEnabled":false,"maxCouponsToTest":4,"updatedAt":"2026-02-02T00:00:00Z"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	items, err := c.Wishlist(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "B1", items[0].Key)
	assert.Equal(t, "w1", items[0].RemoteID)
	assert.Equal(t, "Lamp", items[0].Title)
	assert.Equal(t, 2026, items[0].CreatedAt.Year())
	assert.Equal(t, "https://shop.example/rug", items[1].Key)
	assert.Equal(t, int64(1767225600000), items[1].CreatedAt.UnixMilli())

	prefs, err := c.Preferences(ctx)
	require.NoError(t, err)
	require.NotNil(t, prefs)
	assert.False(t, prefs.AutoApplyEnabled)
	assert.Equal(t, 4, prefs.MaxCouponsToTest)
	assert.True(t, prefs.ShowNotifications, "missing fields keep defaults")
	assert.False(t, prefs.UpdatedAt.IsZero())
}

func TestPreferencesAbsent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	prefs, err := c.Preferences(context.Background())
	require.NoError(t, err)
	assert.Nil(t, prefs)
}

func TestQueuedPayloadSentVerbatim(t *testing.T) {
	var got string
	var method string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		got = string(raw)
		method = r.Method
		w.WriteHeader(http.StatusCreated)
	})
	require.NoError(t, c.UpdatePreferences(context.Background(), []byte(`{"autoApplyEnabled":true}`)))
	assert.Equal(t, http.MethodPut, method)
	assert.JSONEq(t, `{"autoApplyEnabled":true}`, got)
}
