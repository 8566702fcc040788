package detector

// Builtin returns fresh copies of the retailer profiles shipped with the agent.
func Builtin() []Profile {
	return []Profile{
		&SiteProfile{
			ID:            "amazon",
			Hosts:         []string{"amazon.com", "amazon.co.uk", "amazon.ca", "amazon.de"},
			CheckoutPaths: []string{"/gp/buy/", "/checkout/", "/gp/cart/"},
			FieldSelectors: []string{
				`input[name="claimCode"]`,
				`#spc-gcpromoinput`,
				`input[name="ppw-claimCode"]`,
			},
			ApplySelectors: []string{
				`input[name="ppw-claimCodeApplyPressed"]`,
				`#gcApplyButtonId input`,
				`span#gcApplyButtonId`,
			},
			SuccessSelectors: []string{`.pmts-claim-code-success`, `#gc-promo-success`, `.a-alert-success`},
			TotalSelectors:   []string{`#subtotals-marketplace-spp-bottom .grand-total-price`, `.grand-total-price`, `#sc-subtotal-amount-buybox`},
		},
		&SiteProfile{
			ID:               "walmart",
			Hosts:            []string{"walmart.com", "walmart.ca"},
			CheckoutPaths:    []string{"/checkout", "/cart"},
			FieldSelectors:   []string{`input[data-automation-id="promo-code-input"]`, `input[name="promoCode"]`},
			ApplySelectors:   []string{`button[data-automation-id="promo-code-apply"]`},
			SuccessSelectors: []string{`[data-automation-id="promo-code-success"]`, `[data-testid="promo-applied"]`},
			TotalSelectors:   []string{`[data-testid="order-total"]`, `[data-automation-id="pos-grand-total-amount"]`},
		},
		&SiteProfile{
			ID:               "target",
			Hosts:            []string{"target.com"},
			CheckoutPaths:    []string{"/checkout", "/cart"},
			FieldSelectors:   []string{`input[data-test="promoCodeInput"]`, `#promoCode`},
			ApplySelectors:   []string{`button[data-test="promoCodeApplyButton"]`},
			SuccessSelectors: []string{`[data-test="appliedPromoCode"]`},
			TotalSelectors:   []string{`[data-test="cart-summary-total"]`, `[data-test="checkout-order-summary-total"]`},
		},
		&SiteProfile{
			ID:               "bestbuy",
			Hosts:            []string{"bestbuy.com", "bestbuy.ca"},
			CheckoutPaths:    []string{"/checkout", "/cart"},
			FieldSelectors:   []string{`#promo-code-input`, `input[name="promoCode"]`},
			ApplySelectors:   []string{`button.promo-code__apply`, `.promo-code-form button[type="submit"]`},
			SuccessSelectors: []string{`.promo-code__applied`, `.promo-code-applied`},
			TotalSelectors:   []string{`.order-summary__total .order-summary__price`, `.price-summary__total-value`},
		},
		&SiteProfile{
			ID:               "ebay",
			Hosts:            []string{"ebay.com", "ebay.co.uk", "ebay.de"},
			CheckoutPaths:    []string{"/rxo", "/cart", "/checkout"},
			FieldSelectors:   []string{`#redemptionCode`, `input[name="redemptionCode"]`},
			ApplySelectors:   []string{`button[data-test-id="cta-apply-redemption-code"]`, `.redemption-code button`},
			SuccessSelectors: []string{`.redemption-code__success`, `[data-test-id="redemption-code-success"]`},
			TotalSelectors:   []string{`[data-test-id="TOTAL"] .text-display`, `.order-total .value`},
		},
		&SiteProfile{
			ID:               "etsy",
			Hosts:            []string{"etsy.com"},
			CheckoutPaths:    []string{"/cart", "/checkout"},
			FieldSelectors:   []string{`input[name="coupon_code"]`, `#coupon-code-input`},
			ApplySelectors:   []string{`button[data-coupon-apply]`, `.coupon-code-form button`},
			SuccessSelectors: []string{`.coupon-applied`, `[data-coupon-applied]`},
			TotalSelectors:   []string{`.order-total .currency-value`, `[data-selector="cart-order-total"] .currency-value`},
		},
		&SiteProfile{
			ID:               "newegg",
			Hosts:            []string{"newegg.com", "newegg.ca"},
			CheckoutPaths:    []string{"/shop/cart", "/shop/checkout", "/checkout"},
			FieldSelectors:   []string{`input[name="PromotionCode"]`, `#PromotionCode`, `.summary-promo input`},
			ApplySelectors:   []string{`.summary-promo button`, `button[title="Apply"]`},
			SuccessSelectors: []string{`.summary-promo .color-green`, `.promo-applied`},
			TotalSelectors:   []string{`.summary-content-total span strong`, `.summary-content-total`},
		},
	}
}
