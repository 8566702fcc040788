package detector

import (
	"regexp"
	"strings"

	"shopsavr-agent/internal/page"
)

// DefaultSearchDepth bounds how many ancestors of the discount field are
// searched for its apply control.
const DefaultSearchDepth = 4

var (
	fieldKeywords  = []string{"coupon", "promo", "discount", "voucher", "giftcard", "gift-card", "gift_card", "redeem", "offer-code", "offercode"}
	fieldExclusion = []string{"email", "newsletter", "search", "zip", "postal", "phone"}
	fieldAttrs     = []string{"placeholder", "name", "id", "aria-label", "class", "data-testid", "autocomplete"}

	applyText   = regexp.MustCompile(`(?i)\b(apply|submit|redeem)\b`)
	successText = regexp.MustCompile(`(?i)(applied|success|accepted|you sav|saved|savings|discount:)`)
	failureText = regexp.MustCompile(`(?i)(invalid|not valid|expired|not applicable|not eligible|doesn'?t|does not|can'?t|cannot|unable|error|isn'?t|try again|not recogni[sz]ed)`)

	checkoutPaths = []string{"/cart", "/checkout", "/basket", "/bag", "/payment", "/order/review", "/shipping", "/purchase"}
)

const (
	applyCandidates   = `button, input[type="submit"], input[type="button"], [role="button"], a`
	successCandidates = `[class*="success"], [class*="applied"], [class*="Applied"], [class*="promo-message"], [class*="coupon-message"], [role="status"], [role="alert"], [aria-live]`
	totalCandidates   = `[class*="grand-total"], [class*="order-total"], [id*="order-total"], [data-testid*="order-total"], [class*="total"], [id*="total"], [data-testid*="total"]`
)

// Generic is the fallback profile. It matches attributes and text instead
// of site-specific structure.
type Generic struct {
	SearchDepth int
}

var _ Profile = (*Generic)(nil)

var generic = &Generic{SearchDepth: DefaultSearchDepth}

// NewGeneric returns a fallback profile searching depth ancestors for the
// apply control. A depth of zero selects DefaultSearchDepth.
func NewGeneric(depth int) *Generic {
	if depth <= 0 {
		depth = DefaultSearchDepth
	}
	return &Generic{SearchDepth: depth}
}

func (g *Generic) Name() string      { return "generic" }
func (g *Generic) Domains() []string { return nil }

func (g *Generic) IsCheckoutPage(rawURL string) bool {
	path := urlPath(rawURL)
	for _, p := range checkoutPaths {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

func (g *Generic) LocateDiscountField(p page.Page) (page.Element, bool) {
	for _, el := range p.Query(`input, textarea`) {
		if !isTextInput(el) || !el.Visible() {
			continue
		}
		if looksLikeDiscountField(el) {
			return el, true
		}
	}
	return nil, false
}

// LocateApplyControl walks up from field and takes the first control in
// the nearest ancestor whose label reads apply, submit or redeem.
func (g *Generic) LocateApplyControl(p page.Page, field page.Element) (page.Element, bool) {
	if field == nil {
		return nil, false
	}
	depth := g.SearchDepth
	if depth <= 0 {
		depth = DefaultSearchDepth
	}
	for _, anc := range page.Ancestors(field, depth) {
		for _, el := range anc.Query(applyCandidates) {
			if !el.Visible() {
				continue
			}
			if applyText.MatchString(controlLabel(el)) {
				return el, true
			}
		}
	}
	return nil, false
}

func (g *Generic) LocateSuccessIndicator(p page.Page) (page.Element, bool) {
	for _, el := range p.Query(successCandidates) {
		if !el.Visible() {
			continue
		}
		text := el.Text()
		if text == "" || failureText.MatchString(text) {
			continue
		}
		if successText.MatchString(text) || strings.Contains(strings.ToLower(el.Attr("class")), "success") {
			return el, true
		}
	}
	return nil, false
}

// ExtractOrderTotal prefers explicit grand/order total nodes and otherwise
// takes the last total-like node, which is where summaries put the sum.
func (g *Generic) ExtractOrderTotal(p page.Page) (float64, bool) {
	var last float64
	found := false
	for _, el := range p.Query(totalCandidates) {
		// Skip summary containers; their text holds every row.
		if isTextInput(el) || len(el.Query(totalCandidates)) > 0 {
			continue
		}
		v, ok := ParsePrice(el.Text())
		if !ok {
			continue
		}
		marker := strings.ToLower(el.Attr("class") + " " + el.Attr("id") + " " + el.Attr("data-testid"))
		if strings.Contains(marker, "grand") || strings.Contains(marker, "order-total") {
			return v, true
		}
		if strings.Contains(marker, "subtotal") {
			continue
		}
		last, found = v, true
	}
	return last, found
}

func isTextInput(el page.Element) bool {
	if el.Tag() == "textarea" {
		return true
	}
	if el.Tag() != "input" {
		return false
	}
	switch strings.ToLower(el.Attr("type")) {
	case "", "text", "search", "tel":
		return true
	}
	return false
}

func looksLikeDiscountField(el page.Element) bool {
	var b strings.Builder
	for _, a := range fieldAttrs {
		b.WriteString(strings.ToLower(el.Attr(a)))
		b.WriteByte(' ')
	}
	attrs := b.String()
	for _, x := range fieldExclusion {
		if strings.Contains(attrs, x) {
			return false
		}
	}
	for _, k := range fieldKeywords {
		if strings.Contains(attrs, k) {
			return true
		}
	}
	// A bare "code" also names zip and postal fields.
	return strings.Contains(attrs, "code") && strings.Contains(attrs, "gift")
}

func controlLabel(el page.Element) string {
	return strings.Join([]string{el.Text(), el.Attr("value"), el.Attr("aria-label"), el.Attr("title")}, " ")
}
