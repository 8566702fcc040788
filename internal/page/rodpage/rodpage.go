// Package rodpage implements page.Page over a live rod tab.
package rodpage

import (
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"shopsavr-agent/internal/page"
)

// DefaultTimeout bounds every CDP call made through the adapter.
const DefaultTimeout = 5 * time.Second

// Page adapts a rod page. Queries do not wait for elements to appear.
type Page struct {
	page    *rod.Page
	timeout time.Duration
}

var _ page.Page = (*Page)(nil)

// New wraps p. A zero timeout selects DefaultTimeout.
func New(p *rod.Page, timeout time.Duration) *Page {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Page{page: p, timeout: timeout}
}

// Rod returns the underlying rod page.
func (p *Page) Rod() *rod.Page { return p.page }

// URL reads location.href so SPA history changes are seen.
func (p *Page) URL() string {
	res, err := p.page.Timeout(p.timeout).Eval(`() => location.href`)
	if err == nil {
		return res.Value.Str()
	}
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *Page) Query(selector string) []page.Element {
	els, err := p.page.Timeout(p.timeout).Elements(selector)
	if err != nil {
		return nil
	}
	return wrap(els, p.timeout)
}

func (p *Page) Text() string {
	res, err := p.page.Timeout(p.timeout).Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

func wrap(els rod.Elements, timeout time.Duration) []page.Element {
	out := make([]page.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &Element{el: el, timeout: timeout})
	}
	return out
}

// Element adapts a rod element.
type Element struct {
	el      *rod.Element
	timeout time.Duration
}

var _ page.Element = (*Element)(nil)

func (e *Element) eval(js string) (*proto.RuntimeRemoteObject, error) {
	return e.el.Timeout(e.timeout).Eval(js)
}

func (e *Element) Tag() string {
	res, err := e.eval(`() => this.tagName.toLowerCase()`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

func (e *Element) Attr(name string) string {
	v, err := e.el.Timeout(e.timeout).Attribute(name)
	if err != nil || v == nil {
		return ""
	}
	return *v
}

// Text returns the live value for form controls and innerText otherwise.
func (e *Element) Text() string {
	res, err := e.eval(`() => ("value" in this && this.tagName !== "BUTTON") ? String(this.value) : (this.innerText || "")`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

func (e *Element) Visible() bool {
	ok, err := e.el.Timeout(e.timeout).Visible()
	return err == nil && ok
}

func (e *Element) Parent() (page.Element, bool) {
	parent, err := e.el.Timeout(e.timeout).Parent()
	if err != nil || parent == nil {
		return nil, false
	}
	return &Element{el: parent, timeout: e.timeout}, true
}

func (e *Element) Query(selector string) []page.Element {
	els, err := e.el.Timeout(e.timeout).Elements(selector)
	if err != nil {
		return nil
	}
	return wrap(els, e.timeout)
}

// Fill types the value so framework-bound inputs see real key events, then
// dispatches change and blur for listeners that only watch those.
func (e *Element) Fill(value string) error {
	if err := e.clear(); err != nil {
		return err
	}
	if err := e.el.Timeout(e.timeout).Input(value); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	_, err := e.eval(`() => {
		this.dispatchEvent(new Event("input", { bubbles: true }));
		this.dispatchEvent(new Event("change", { bubbles: true }));
		this.dispatchEvent(new Event("blur"));
	}`)
	return err
}

// clear empties the control and fails if the old value survives.
func (e *Element) clear() error {
	res, err := e.eval(`() => {
		if (!("value" in this)) return "";
		this.value = "";
		this.dispatchEvent(new Event("input", { bubbles: true }));
		return String(this.value);
	}`)
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if left := res.Value.Str(); left != "" {
		return fmt.Errorf("clear: field still holds %q", left)
	}
	return nil
}

func (e *Element) Click() error {
	return e.el.Timeout(e.timeout).Click("left", 1)
}

func (e *Element) Submit() (bool, error) {
	res, err := e.eval(`() => {
		const form = this.form || this.closest("form");
		if (!form) return false;
		if (form.requestSubmit) form.requestSubmit(); else form.submit();
		return true;
	}`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}
