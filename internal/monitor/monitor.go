// Package monitor watches a page for transitions into and out of checkout.
// Two producers feed it: structural page changes, coalesced by a debouncer,
// and a fixed-interval URL poll for single-page navigations that leave the
// page structure alone. Either can be disabled independently.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"shopsavr-agent/internal/detector"
	"shopsavr-agent/internal/metrics"
	"shopsavr-agent/internal/page"
)

// State is the checkout state of a page.
type State int

const (
	NotCheckout State = iota
	Checkout
)

func (s State) String() string {
	if s == Checkout {
		return "Checkout"
	}
	return "NotCheckout"
}

// Handler reacts to transitions. OnCheckout runs on its own goroutine and
// its context is cancelled when the page leaves checkout. OnLeave runs on
// the monitor goroutine and must not block.
type Handler interface {
	OnCheckout(ctx context.Context)
	OnLeave()
}

// ChangeSource streams a value per structural change of the page. The
// channel closes when ctx ends or the page goes away.
type ChangeSource interface {
	Changes(ctx context.Context) (<-chan struct{}, error)
}

// Resolver picks the capability profile for a URL.
type Resolver interface {
	ResolveURL(rawURL string) detector.Profile
}

// Config sets the producer timings of a Monitor.
type Config struct {
	// DebounceWindow coalesces change events; zero disables the change source.
	DebounceWindow time.Duration
	// PollInterval re-reads the URL; zero disables polling.
	PollInterval time.Duration
	// MaxBurst forces a recheck after this many events in one window.
	MaxBurst int
}

// DefaultConfig debounces changes for one second and polls every two.
func DefaultConfig() Config {
	return Config{DebounceWindow: time.Second, PollInterval: 2 * time.Second, MaxBurst: 500}
}

// Monitor tracks the checkout state of one page and drives a Handler.
type Monitor struct {
	page     page.Page
	resolver Resolver
	handler  Handler
	source   ChangeSource
	cfg      Config
	log      zerolog.Logger
	metrics  *metrics.Metrics

	mu          sync.Mutex
	state       State
	lastURL     string
	checkoutURL string
	cancel      context.CancelFunc
	handling    bool
	rerun       bool

	wg sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithChangeSource adds the structural change producer. Without it only
// the URL poll runs.
func WithChangeSource(src ChangeSource) Option {
	return func(m *Monitor) { m.source = src }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Monitor) { m.log = l.With().Str("component", "monitor").Logger() }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// New builds a monitor for p. Nothing is evaluated until Run.
func New(p page.Page, r Resolver, h Handler, cfg Config, opts ...Option) *Monitor {
	m := &Monitor{
		page:     p,
		resolver: r,
		handler:  h,
		cfg:      cfg,
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current checkout state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run evaluates the page once, then reacts to both producers until ctx
// ends. Any handling still in flight is cancelled before Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	defer func() {
		m.mu.Lock()
		if m.cancel != nil {
			m.cancel()
		}
		m.mu.Unlock()
		m.wg.Wait()
	}()

	m.recheck(ctx, "init", true)

	var changes <-chan struct{}
	if m.source != nil && m.cfg.DebounceWindow > 0 {
		ch, err := m.source.Changes(ctx)
		if err != nil {
			m.log.Warn().Err(err).Msg("structural change source unavailable, polling only")
		} else {
			changes = ch
		}
	}

	var pollC <-chan time.Time
	if m.cfg.PollInterval > 0 {
		ticker := time.NewTicker(m.cfg.PollInterval)
		defer ticker.Stop()
		pollC = ticker.C
	}

	deb := newDebouncer(m.cfg.DebounceWindow, m.cfg.MaxBurst, func(events int) {
		m.log.Debug().Int("events", events).Msg("page changed")
		m.recheck(ctx, "dom", true)
	})
	defer deb.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				changes = nil
				deb.flush()
				continue
			}
			deb.add()
		case <-deb.timerC():
			deb.flush()
		case <-pollC:
			m.recheck(ctx, "poll", false)
		}
	}
}

// recheck evaluates the page. A poll only acts when the URL moved. While in
// checkout, content churn on an unchanged URL never leaves checkout, so a
// page re-rendering under an automation session does not abandon it.
func (m *Monitor) recheck(ctx context.Context, source string, changed bool) {
	url := m.page.URL()

	m.mu.Lock()
	moved := url != m.lastURL
	m.lastURL = url
	state := m.state
	checkoutURL := m.checkoutURL
	m.mu.Unlock()

	if !changed && !moved {
		return
	}
	if state == Checkout && url == checkoutURL {
		return
	}
	m.metrics.RecordRecheck(source)

	prof := m.resolver.ResolveURL(url)
	is := prof.IsCheckoutPage(url) || detector.LooksLikeCheckout(prof, m.page)

	switch {
	case is && state == NotCheckout:
		m.enter(ctx, url, prof.Name(), source)
	case is:
		m.mu.Lock()
		m.checkoutURL = url
		m.mu.Unlock()
	case state == Checkout:
		m.leave(url, source)
	}
}

func (m *Monitor) enter(ctx context.Context, url, profile, source string) {
	m.metrics.RecordTransition(true)
	m.log.Info().Str("url", url).Str("profile", profile).Str("trigger", source).Msg("checkout detected")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Checkout
	m.checkoutURL = url
	if m.handling {
		// The previous visit is still unwinding; run again once it returns.
		m.rerun = true
		m.log.Debug().Msg("checkout handling still running, queued another pass")
		return
	}
	m.handling = true
	hctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.handle(ctx, hctx, cancel)
}

// handle runs OnCheckout, then again for every checkout entry that arrived
// while it was running and is still current.
func (m *Monitor) handle(ctx, hctx context.Context, cancel context.CancelFunc) {
	defer m.wg.Done()
	for {
		m.handler.OnCheckout(hctx)
		cancel()

		m.mu.Lock()
		again := m.rerun && m.state == Checkout && ctx.Err() == nil
		m.rerun = false
		if !again {
			m.handling = false
			m.mu.Unlock()
			return
		}
		hctx, cancel = context.WithCancel(ctx)
		m.cancel = cancel
		m.mu.Unlock()
	}
}

func (m *Monitor) leave(url, source string) {
	m.mu.Lock()
	m.state = NotCheckout
	m.checkoutURL = ""
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.metrics.RecordTransition(false)
	m.log.Info().Str("url", url).Str("trigger", source).Msg("left checkout")
	m.handler.OnLeave()
}
