package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shopsavr-agent/internal/automation"
	"shopsavr-agent/internal/checkout"
	"shopsavr-agent/internal/monitor"
	"shopsavr-agent/internal/page"
	"shopsavr-agent/internal/page/rodpage"
)

// TabInfo describes a watched tab.
type TabInfo struct {
	ID           string             `json:"id"`
	URL          string             `json:"url"`
	Profile      string             `json:"profile"`
	State        string             `json:"state"`
	Session      automation.Session `json:"session"`
	LastCheckout checkout.Result    `json:"lastCheckout"`
	WatchedAt    time.Time          `json:"watchedAt"`
}

// Tab is one page under a checkout monitor. It owns at most one
// automation engine, so a page never runs two coupon sessions at once.
type Tab struct {
	id        string
	page      page.Page
	agent     *Agent
	monitor   *monitor.Monitor
	flow      *checkout.Flow
	watchedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.Mutex
	engine *automation.Engine
}

// Open loads url in a new browser tab and watches it.
func (a *Agent) Open(ctx context.Context, url string) (TabInfo, error) {
	sess, err := a.browser.OpenPage(ctx, url)
	if err != nil {
		return TabInfo{}, err
	}
	return a.WatchSession(sess.ID)
}

// Attach binds to an existing Chrome target and watches it.
func (a *Agent) Attach(ctx context.Context, targetID string) (TabInfo, error) {
	sess, err := a.browser.Attach(ctx, targetID)
	if err != nil {
		return TabInfo{}, err
	}
	return a.WatchSession(sess.ID)
}

// WatchSession starts monitoring a browser session's page.
func (a *Agent) WatchSession(sessionID string) (TabInfo, error) {
	rp, ok := a.browser.Page(sessionID)
	if !ok {
		return TabInfo{}, fmt.Errorf("session %q has no live page", sessionID)
	}
	p := rodpage.New(rp, a.cfg.Browser.GetActionTimeout())
	t, err := a.watch(sessionID, p, rodpage.NewChanges(p))
	if err != nil {
		return TabInfo{}, err
	}
	return t.Info(), nil
}

// Unwatch stops monitoring a tab. The page itself is left alone.
func (a *Agent) Unwatch(id string) error {
	a.mu.Lock()
	t, ok := a.tabs[id]
	delete(a.tabs, id)
	if a.focus == id {
		a.focus = ""
	}
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("tab %q is not watched", id)
	}
	t.stop()
	return nil
}

func (a *Agent) watch(id string, p page.Page, src monitor.ChangeSource) (*Tab, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runCtx == nil || a.runCtx.Err() != nil {
		return nil, errors.New("agent is not running")
	}
	if existing, ok := a.tabs[id]; ok {
		return existing, nil
	}

	log := a.log.With().Str("tab", id).Logger()
	t := &Tab{id: id, page: p, agent: a, watchedAt: time.Now(), done: make(chan struct{})}
	t.flow = checkout.New(p, t.engineFor, checkout.Deps{
		Coupons:   a.backend,
		Usage:     a.queue,
		Settings:  a.store,
		Messenger: a.router,
		Notifier:  a.notifier,
	}, checkout.WithLogger(log))

	opts := []monitor.Option{monitor.WithLogger(log), monitor.WithMetrics(a.metrics)}
	if src != nil {
		opts = append(opts, monitor.WithChangeSource(src))
	}
	t.monitor = monitor.New(p, a.registry, focusHandler{tab: t}, monitor.Config{
		DebounceWindow: a.cfg.Monitor.GetDebounceWindow(),
		PollInterval:   a.cfg.Monitor.GetPollInterval(),
		MaxBurst:       500,
	}, opts...)

	ctx, cancel := context.WithCancel(a.runCtx)
	t.cancel = cancel
	go func() {
		defer close(t.done)
		if err := t.monitor.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("monitor stopped")
		}
	}()

	a.tabs[id] = t
	if a.focus == "" {
		a.focus = id
	}
	log.Info().Str("url", p.URL()).Msg("watching tab")
	return t, nil
}

func (a *Agent) setFocus(id string) {
	a.mu.Lock()
	if _, ok := a.tabs[id]; ok {
		a.focus = id
	}
	a.mu.Unlock()
}

// tab returns the tab with id, or the focused tab when id is empty.
func (a *Agent) tab(id string) (*Tab, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == "" {
		id = a.focus
	}
	t, ok := a.tabs[id]
	if !ok {
		if id == "" {
			return nil, ErrNoTab
		}
		return nil, fmt.Errorf("%w: %s", ErrNoTab, id)
	}
	return t, nil
}

// engineFor returns the tab's engine for the profile of url. The engine is
// only replaced between sessions.
func (t *Tab) engineFor(url string) checkout.Tester {
	prof := t.agent.registry.ResolveURL(url)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.engine != nil && (t.engine.Profile().Name() == prof.Name() || t.engine.Session().Status == automation.StatusTesting) {
		return t.engine
	}

	a := t.agent
	name := prof.Name()
	opts := []automation.Option{
		automation.WithLogger(a.log.With().Str("tab", t.id).Logger()),
		automation.WithObserver(
			func(out automation.TestOutcome) {
				a.metrics.RecordCandidate(name, out.Success, string(out.FailureReason))
			},
			func(s automation.Session) {
				saved := 0.0
				if win, ok := s.Winner(); ok && win.SavingsObserved != nil {
					saved = *win.SavingsObserved
				}
				a.metrics.RecordSession(string(s.Status), saved)
			},
		),
	}
	if a.recorder != nil {
		opts = append(opts, automation.WithRecorder(a.recorder))
	}
	t.engine = automation.New(t.page, prof, automation.Config{
		SettleDelay:       a.cfg.Automation.GetSettleDelay(),
		InterAttemptDelay: a.cfg.Automation.GetInterAttemptDelay(),
	}, opts...)
	return t.engine
}

func (t *Tab) Info() TabInfo {
	url := t.page.URL()
	info := TabInfo{
		ID:           t.id,
		URL:          url,
		Profile:      t.agent.registry.ResolveURL(url).Name(),
		State:        t.monitor.State().String(),
		LastCheckout: t.flow.Last(),
		WatchedAt:    t.watchedAt,
	}
	t.mu.Lock()
	if t.engine != nil {
		info.Session = t.engine.Session()
	}
	t.mu.Unlock()
	return info
}

func (t *Tab) stop() {
	t.cancel()
	<-t.done
}

// focusHandler makes the tab that entered checkout the target of
// page-scoped messages.
type focusHandler struct {
	tab *Tab
}

func (h focusHandler) OnCheckout(ctx context.Context) {
	h.tab.agent.setFocus(h.tab.id)
	h.tab.flow.OnCheckout(ctx)
}

func (h focusHandler) OnLeave() { h.tab.flow.OnLeave() }
