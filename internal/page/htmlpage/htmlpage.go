// Package htmlpage implements page.Page over a parsed HTML document.
// It backs the resolve command (pages fetched over HTTP) and the tests,
// where click and submit hooks stand in for the retailer's scripts.
package htmlpage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"

	"shopsavr-agent/internal/page"
)

// ActivateFunc reacts to a click or a form submission. It runs synchronously
// on the goroutine that activated el and may mutate the document.
type ActivateFunc func(d *Document, el *Element) error

// Document is a static page. It is not safe for concurrent mutation.
type Document struct {
	mu       sync.Mutex
	url      string
	doc      *goquery.Document
	onClick  ActivateFunc
	onSubmit ActivateFunc
	events   []string
}

var _ page.Page = (*Document)(nil)

// Parse reads an HTML document served at url.
func Parse(url string, r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{url: url, doc: doc}, nil
}

// MustParse is Parse for literal markup.
func MustParse(url, markup string) *Document {
	d, err := Parse(url, strings.NewReader(markup))
	if err != nil {
		panic(err)
	}
	return d
}

// Fetch downloads url with client and parses the response body.
func Fetch(ctx context.Context, client *resty.Client, url string) (*Document, error) {
	resp, err := client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode())
	}
	return Parse(url, body)
}

// OnClick installs the hook run by Element.Click.
func (d *Document) OnClick(fn ActivateFunc) { d.onClick = fn }

// OnSubmit installs the hook run by Element.Submit.
func (d *Document) OnSubmit(fn ActivateFunc) { d.onSubmit = fn }

// SetURL simulates a navigation or an SPA history change.
func (d *Document) SetURL(url string) {
	d.mu.Lock()
	d.url = url
	d.mu.Unlock()
}

func (d *Document) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// Mutate gives fn direct access to the underlying tree.
func (d *Document) Mutate(fn func(doc *goquery.Document)) { fn(d.doc) }

// Events returns the DOM events fired so far, formatted "type:tag#id".
func (d *Document) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func (d *Document) Query(selector string) []page.Element {
	return wrap(d, d.doc.Find(selector))
}

func (d *Document) Text() string {
	return strings.TrimSpace(d.doc.Find("body").Text())
}

func (d *Document) fire(event string, el *Element) {
	d.mu.Lock()
	d.events = append(d.events, event+":"+el.Tag()+"#"+el.Attr("id"))
	d.mu.Unlock()
}

func wrap(d *Document, sel *goquery.Selection) []page.Element {
	out := make([]page.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Element{doc: d, sel: s})
	})
	return out
}

// Element is a single node of a Document.
type Element struct {
	doc *Document
	sel *goquery.Selection
}

var _ page.Element = (*Element)(nil)

// Selection exposes the node for hooks that need to edit around it.
func (e *Element) Selection() *goquery.Selection { return e.sel }

func (e *Element) Tag() string { return goquery.NodeName(e.sel) }

func (e *Element) Attr(name string) string {
	v, _ := e.sel.Attr(name)
	return v
}

func (e *Element) Text() string {
	if e.Tag() == "input" {
		return e.Attr("value")
	}
	return strings.TrimSpace(e.sel.Text())
}

// Visible applies the static rules a browser would: hidden inputs, the
// hidden attribute, and inline display:none on the node or an ancestor.
func (e *Element) Visible() bool {
	if e.Tag() == "input" && strings.EqualFold(e.Attr("type"), "hidden") {
		return false
	}
	for n := e.sel.Nodes[0]; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		for _, a := range n.Attr {
			switch a.Key {
			case "hidden":
				return false
			case "style":
				style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
				if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
					return false
				}
			}
		}
	}
	return true
}

func (e *Element) Parent() (page.Element, bool) {
	p := e.sel.Parent()
	if p.Length() == 0 || goquery.NodeName(p) == "html" {
		return nil, false
	}
	return &Element{doc: e.doc, sel: p}, true
}

func (e *Element) Query(selector string) []page.Element {
	return wrap(e.doc, e.sel.Find(selector))
}

func (e *Element) Fill(value string) error {
	_, disabled := e.sel.Attr("disabled")
	_, readonly := e.sel.Attr("readonly")
	if disabled || readonly {
		return fmt.Errorf("element %s is not editable", e.Tag())
	}
	e.sel.SetAttr("value", value)
	e.doc.fire("input", e)
	e.doc.fire("change", e)
	return nil
}

func (e *Element) Click() error {
	e.doc.fire("click", e)
	if e.doc.onClick != nil {
		return e.doc.onClick(e.doc, e)
	}
	return nil
}

func (e *Element) Submit() (bool, error) {
	form := e.sel.Closest("form")
	if form.Length() == 0 {
		return false, nil
	}
	f := &Element{doc: e.doc, sel: form}
	e.doc.fire("submit", f)
	if e.doc.onSubmit != nil {
		return true, e.doc.onSubmit(e.doc, f)
	}
	return true, nil
}
