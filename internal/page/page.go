// Package page defines the document surface that capability profiles read
// and the automation engine acts on. Implementations exist for a live Chrome
// tab (rodpage) and for a parsed static document (htmlpage).
//
// Query methods never fail: an unreadable or missing element is reported as
// an empty result, because absence is a normal outcome on pages we do not
// control.
package page

// Page is a single document.
type Page interface {
	// URL returns the current location, including SPA history changes.
	URL() string
	// Query returns the elements matching a CSS selector in document order.
	Query(selector string) []Element
	// Text returns the rendered text of the document body.
	Text() string
}

// Element is one node of a Page.
type Element interface {
	Tag() string
	Attr(name string) string
	Text() string
	Visible() bool
	Parent() (Element, bool)
	Query(selector string) []Element

	// Fill replaces the element value and fires the input and change
	// events page scripts listen for.
	Fill(value string) error
	Click() error
	// Submit submits the enclosing form. It reports false when there is
	// no form to submit.
	Submit() (bool, error)
}

// First returns the first visible element matching any of the selectors,
// trying them in order.
func First(p Page, selectors ...string) (Element, bool) {
	for _, sel := range selectors {
		for _, el := range p.Query(sel) {
			if el.Visible() {
				return el, true
			}
		}
	}
	return nil, false
}

// Ancestors returns up to depth ancestors of el, nearest first.
func Ancestors(el Element, depth int) []Element {
	out := make([]Element, 0, depth)
	cur := el
	for i := 0; i < depth; i++ {
		parent, ok := cur.Parent()
		if !ok {
			break
		}
		out = append(out, parent)
		cur = parent
	}
	return out
}
