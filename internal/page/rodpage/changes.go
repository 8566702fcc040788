package rodpage

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Changes reports structural DOM changes of a tab. It is the change source
// the checkout monitor debounces.
type Changes struct {
	page *Page
}

// NewChanges watches p.
func NewChanges(p *Page) *Changes {
	return &Changes{page: p}
}

// Changes subscribes to CDP DOM events until ctx ends. Signals are
// coalesced: a burst that arrives before the consumer reads collapses into
// one pending signal. The channel is closed when the subscription ends.
func (c *Changes) Changes(ctx context.Context) (<-chan struct{}, error) {
	p := c.page.page
	if err := (proto.DOMEnable{}).Call(p); err != nil {
		return nil, fmt.Errorf("DOM.enable: %w", err)
	}
	// Mutation events are only emitted for nodes the client has seen, so
	// request the whole tree, shadow roots included.
	if err := track(p); err != nil {
		return nil, err
	}

	out := make(chan struct{}, 1)
	signal := func() {
		select {
		case out <- struct{}{}:
		default:
		}
	}

	wait := p.Context(ctx).EachEvent(
		func(*proto.DOMChildNodeInserted) { signal() },
		func(*proto.DOMChildNodeRemoved) { signal() },
		func(*proto.DOMAttributeModified) { signal() },
		func(*proto.DOMCharacterDataModified) { signal() },
		func(*proto.DOMDocumentUpdated) {
			// The old node ids are gone after a document swap.
			_ = track(p)
			signal()
		},
		func(*proto.PageFrameNavigated) { signal() },
	)
	go func() {
		defer close(out)
		wait()
	}()
	return out, nil
}

func track(p *rod.Page) error {
	depth := -1
	if _, err := (proto.DOMGetDocument{Depth: &depth, Pierce: true}).Call(p); err != nil {
		return fmt.Errorf("DOM.getDocument: %w", err)
	}
	return nil
}
