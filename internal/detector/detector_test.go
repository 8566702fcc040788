package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopsavr-agent/internal/page/htmlpage"
)

const genericCheckout = `<html><body>
<form id="newsletter"><input type="email" name="email" placeholder="Email for 10% discount"></form>
<div class="summary">
  <div class="row subtotal">Subtotal <span class="subtotal">$120.00</span></div>
  <div class="row order-total">Order total: $100.00</div>
</div>
<div class="promo">
  <div class="promo-inner">
    <label for="pc">Have a code?</label>
    <input id="pc" type="text" name="promo_code" placeholder="Promo code">
  </div>
  <button id="apply" type="button">Apply</button>
</div>
<div class="promo-message" role="status"></div>
</body></html>`

func TestRegistryResolve(t *testing.T) {
	reg, err := Default(0)
	require.NoError(t, err)

	tests := []struct {
		domain string
		want   string
	}{
		{"amazon.com", "amazon"},
		{"www.amazon.com", "amazon"},
		{"smile.amazon.com", "amazon"},
		{"AMAZON.CO.UK:443", "amazon"},
		{"walmart.com", "walmart"},
		{"checkout.bestbuy.com", "bestbuy"},
		{"shop-etsy.com.example.net", "etsy"},
		{"example.org", "generic"},
		{"", "generic"},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			assert.Equal(t, tt.want, reg.Resolve(tt.domain).Name())
		})
	}

	assert.Equal(t, "target", reg.ResolveURL("https://www.target.com/checkout?x=1").Name())
}

func TestRegistryRejectsDuplicateDomain(t *testing.T) {
	a := &SiteProfile{ID: "a", Hosts: []string{"shop.example"}}
	b := &SiteProfile{ID: "b", Hosts: []string{"www.shop.example"}}
	_, err := NewRegistry(nil, a, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shop.example")

	_, err = NewRegistry(nil, &SiteProfile{ID: "empty"})
	require.Error(t, err)
}

func TestRegistryProfilesListedOnce(t *testing.T) {
	reg, err := Default(0)
	require.NoError(t, err)
	names := make([]string, 0)
	for _, p := range reg.Profiles() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"amazon", "bestbuy", "ebay", "etsy", "newegg", "target", "walmart"}, names)
}

func TestGenericIsCheckoutPage(t *testing.T) {
	g := NewGeneric(0)
	assert.True(t, g.IsCheckoutPage("https://shop.example/cart"))
	assert.True(t, g.IsCheckoutPage("https://shop.example/Checkout/step-2"))
	assert.True(t, g.IsCheckoutPage("https://shop.example/#/basket"))
	assert.False(t, g.IsCheckoutPage("https://shop.example/products/shoe"))
	assert.False(t, g.IsCheckoutPage("::not a url"))
}

func TestGenericLocatesFieldAndApplyControl(t *testing.T) {
	doc := htmlpage.MustParse("https://shop.example/cart", genericCheckout)
	g := NewGeneric(0)

	field, ok := g.LocateDiscountField(doc)
	require.True(t, ok)
	assert.Equal(t, "pc", field.Attr("id"), "the newsletter email field must not match")

	apply, ok := g.LocateApplyControl(doc, field)
	require.True(t, ok)
	assert.Equal(t, "apply", apply.Attr("id"))

	total, ok := g.ExtractOrderTotal(doc)
	require.True(t, ok)
	assert.Equal(t, 100.0, total)

	assert.True(t, LooksLikeCheckout(g, doc))
}

func TestGenericApplyControlOutsideSearchDepth(t *testing.T) {
	doc := htmlpage.MustParse("https://shop.example/cart", `<html><body>
<button>Apply</button>
<div><div><div><div><div><input name="coupon"></div></div></div></div></div>
</body></html>`)

	shallow := NewGeneric(2)
	field, ok := shallow.LocateDiscountField(doc)
	require.True(t, ok)
	_, ok = shallow.LocateApplyControl(doc, field)
	assert.False(t, ok)

	deep := NewGeneric(6)
	_, ok = deep.LocateApplyControl(doc, field)
	assert.True(t, ok)
}

func TestGenericAbsentFieldIsNotAnError(t *testing.T) {
	doc := htmlpage.MustParse("https://shop.example/product", `<html><body><p>Nothing to see</p>
<input type="hidden" name="coupon" value="x"></body></html>`)
	g := NewGeneric(0)

	_, ok := g.LocateDiscountField(doc)
	assert.False(t, ok)
	_, ok = g.LocateApplyControl(doc, nil)
	assert.False(t, ok)
	_, ok = g.ExtractOrderTotal(doc)
	assert.False(t, ok)
	assert.False(t, LooksLikeCheckout(g, doc))
}

func TestGenericSuccessIndicator(t *testing.T) {
	g := NewGeneric(0)

	rejected := htmlpage.MustParse("https://shop.example/cart",
		`<html><body><div role="alert">Sorry, this code is invalid</div></body></html>`)
	_, ok := g.LocateSuccessIndicator(rejected)
	assert.False(t, ok)

	applied := htmlpage.MustParse("https://shop.example/cart",
		`<html><body><div class="promo-message">Code SAVE10 applied</div></body></html>`)
	el, ok := g.LocateSuccessIndicator(applied)
	require.True(t, ok)
	assert.Contains(t, el.Text(), "SAVE10")

	hidden := htmlpage.MustParse("https://shop.example/cart",
		`<html><body><div class="coupon-success" style="display: none">Applied</div></body></html>`)
	_, ok = g.LocateSuccessIndicator(hidden)
	assert.False(t, ok)
}

func TestSiteProfileFallsThroughToHeuristics(t *testing.T) {
	reg, err := Default(0)
	require.NoError(t, err)
	prof := reg.Resolve("walmart.com")

	doc := htmlpage.MustParse("https://www.walmart.com/checkout", `<html><body>
<input data-automation-id="promo-code-input" id="wm">
<button data-automation-id="promo-code-apply" id="wm-apply">Apply</button>
<div data-testid="order-total">$54.10</div>
</body></html>`)

	assert.True(t, prof.IsCheckoutPage(doc.URL()))
	assert.False(t, prof.IsCheckoutPage("https://www.walmart.com/ip/123"))

	field, ok := prof.LocateDiscountField(doc)
	require.True(t, ok)
	assert.Equal(t, "wm", field.Attr("id"))

	apply, ok := prof.LocateApplyControl(doc, field)
	require.True(t, ok)
	assert.Equal(t, "wm-apply", apply.Attr("id"))

	total, ok := prof.ExtractOrderTotal(doc)
	require.True(t, ok)
	assert.InDelta(t, 54.10, total, 0.001)

	// No site selector matches here; the heuristic finds the field.
	bare := htmlpage.MustParse("https://www.walmart.com/checkout",
		`<html><body><input id="fallback" placeholder="Enter coupon"></body></html>`)
	field, ok = prof.LocateDiscountField(bare)
	require.True(t, ok)
	assert.Equal(t, "fallback", field.Attr("id"))
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$1,234.56", 1234.56, true},
		{"1.234,56 €", 1234.56, true},
		{"Total (3 items): $45.00", 45, true},
		{"Total $45.00 (incl. tax 3.60)", 45, true},
		{"12,50", 12.5, true},
		{"1 299,00", 1299, true},
		{"£7", 7, true},
		{"free", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePrice(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 0.0001)
		})
	}
}
