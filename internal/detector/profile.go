// Package detector resolves a retailer capability profile for a page and
// answers the structural questions the automation engine asks of it: where
// the discount field is, what applies it, whether it worked, and what the
// order costs.
package detector

import (
	"net"
	"net/url"
	"strings"

	"shopsavr-agent/internal/page"
)

// Profile is the capability interface implemented once per known retailer
// plus a heuristic fallback. Implementations are immutable and only read
// the page.
type Profile interface {
	Name() string
	Domains() []string
	IsCheckoutPage(rawURL string) bool
	LocateDiscountField(p page.Page) (page.Element, bool)
	// LocateApplyControl finds the control that submits field.
	LocateApplyControl(p page.Page, field page.Element) (page.Element, bool)
	LocateSuccessIndicator(p page.Page) (page.Element, bool)
	ExtractOrderTotal(p page.Page) (float64, bool)
}

// SiteProfile is a selector-driven Profile. Any question its selectors
// cannot answer falls through to the heuristics, so a profile only needs
// the selectors that differ from the generic layout.
type SiteProfile struct {
	ID               string   `yaml:"name"`
	Hosts            []string `yaml:"domains"`
	CheckoutPaths    []string `yaml:"checkout_paths"`
	FieldSelectors   []string `yaml:"field_selectors"`
	ApplySelectors   []string `yaml:"apply_selectors"`
	SuccessSelectors []string `yaml:"success_selectors"`
	TotalSelectors   []string `yaml:"total_selectors"`
}

var _ Profile = (*SiteProfile)(nil)

func (s *SiteProfile) Name() string      { return s.ID }
func (s *SiteProfile) Domains() []string { return s.Hosts }

func (s *SiteProfile) IsCheckoutPage(rawURL string) bool {
	if len(s.CheckoutPaths) == 0 {
		return generic.IsCheckoutPage(rawURL)
	}
	path := urlPath(rawURL)
	for _, p := range s.CheckoutPaths {
		if strings.Contains(path, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (s *SiteProfile) LocateDiscountField(p page.Page) (page.Element, bool) {
	if el, ok := page.First(p, s.FieldSelectors...); ok {
		return el, true
	}
	return generic.LocateDiscountField(p)
}

func (s *SiteProfile) LocateApplyControl(p page.Page, field page.Element) (page.Element, bool) {
	if el, ok := page.First(p, s.ApplySelectors...); ok {
		return el, true
	}
	return generic.LocateApplyControl(p, field)
}

// LocateSuccessIndicator only trusts a site selector whose text does not
// read as a rejection; some retailers reuse one message box for both.
func (s *SiteProfile) LocateSuccessIndicator(p page.Page) (page.Element, bool) {
	for _, sel := range s.SuccessSelectors {
		for _, el := range p.Query(sel) {
			if el.Visible() && !failureText.MatchString(el.Text()) {
				return el, true
			}
		}
	}
	return generic.LocateSuccessIndicator(p)
}

func (s *SiteProfile) ExtractOrderTotal(p page.Page) (float64, bool) {
	for _, sel := range s.TotalSelectors {
		for _, el := range p.Query(sel) {
			if v, ok := ParsePrice(el.Text()); ok {
				return v, true
			}
		}
	}
	return generic.ExtractOrderTotal(p)
}

// LooksLikeCheckout is the content-based checkout test: a discount field
// and a parseable order total are both present.
func LooksLikeCheckout(prof Profile, p page.Page) bool {
	if _, ok := prof.LocateDiscountField(p); !ok {
		return false
	}
	_, ok := prof.ExtractOrderTotal(p)
	return ok
}

// Host returns the lower-cased host of rawURL without port or "www.".
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		u, err = url.Parse("https://" + rawURL)
		if err != nil {
			return ""
		}
	}
	return normalizeHost(u.Hostname())
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	h = strings.TrimSuffix(h, ".")
	return strings.TrimPrefix(h, "www.")
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(rawURL)
	}
	p := u.Path
	if u.Fragment != "" {
		// Hash routers keep the route in the fragment.
		p += "#" + u.Fragment
	}
	return strings.ToLower(p)
}
