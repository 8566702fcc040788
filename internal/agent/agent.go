// Package agent assembles the running process: local store, change queue,
// backend client, sync engine, message router and one checkout monitor per
// watched browser tab.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"shopsavr-agent/internal/backend"
	"shopsavr-agent/internal/browser"
	"shopsavr-agent/internal/changequeue"
	"shopsavr-agent/internal/checkout"
	"shopsavr-agent/internal/config"
	"shopsavr-agent/internal/detector"
	"shopsavr-agent/internal/metrics"
	"shopsavr-agent/internal/model"
	"shopsavr-agent/internal/recorder"
	"shopsavr-agent/internal/router"
	"shopsavr-agent/internal/store"
	"shopsavr-agent/internal/syncer"
)

// ErrNoTab is returned by page-scoped requests when no tab is watched.
var ErrNoTab = errors.New("no watched tab")

type Agent struct {
	cfg      config.Config
	log      zerolog.Logger
	store    *store.Store
	queue    *changequeue.Queue
	backend  *backend.Client
	syncer   *syncer.Engine
	network  *syncer.NetworkWatcher
	metrics  *metrics.Metrics
	router   *router.Router
	registry *detector.Registry
	browser  *browser.SessionManager
	recorder *recorder.Recorder
	notifier *checkout.LogNotifier
	widget   *checkout.Widget

	mu     sync.Mutex
	tabs   map[string]*Tab
	focus  string
	runCtx context.Context
	wg     sync.WaitGroup
}

// New opens the store and builds every component. Nothing runs until Run.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Agent, error) {
	registry, err := detector.Default(cfg.Automation.ApplySearchDepth, cfg.SiteProfiles()...)
	if err != nil {
		return nil, fmt.Errorf("site profiles: %w", err)
	}

	st, err := store.Open(cfg.Store.Path, log.With().Str("component", "store").Logger())
	if err != nil {
		return nil, err
	}
	if _, err := st.SeedPreferences(ctx, cfg.Settings.Preferences()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("seed preferences: %w", err)
	}

	m := metrics.New()
	client := backend.New(cfg.Backend, log)

	var rec *recorder.Recorder
	if cfg.Server.TraceDir != "" {
		if rec, err = recorder.NewRecorder(cfg.Server.TraceDir, cfg.Server.TraceMaxFiles, log); err != nil {
			log.Warn().Err(err).Msg("session traces disabled")
			rec = nil
		}
	}

	a := &Agent{
		cfg:      cfg,
		log:      log.With().Str("component", "agent").Logger(),
		store:    st,
		queue:    changequeue.New(st, log),
		backend:  client,
		metrics:  m,
		registry: registry,
		browser:  browser.NewSessionManager(cfg.Browser, log),
		recorder: rec,
		notifier: checkout.NewLogNotifier(log, 50),
		widget:   &checkout.Widget{},
		router:   router.New(cfg.MCP.GetMessageTimeout(), router.WithLogger(log), router.WithMetrics(m)),
		tabs:     make(map[string]*Tab),
	}
	a.syncer = syncer.New(st, client, syncer.Config{
		RetryAttempts:     cfg.Sync.GetRetryAttempts(),
		RetryBackoff:      cfg.Sync.GetRetryBackoff(),
		MaxChangeAttempts: cfg.Sync.MaxChangeAttempts,
	}, syncer.WithLogger(log), syncer.WithMetrics(m))
	a.network = syncer.NewNetworkWatcher(client, cfg.Sync.GetProbeInterval(), log, m)

	if err := a.registerHandlers(); err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

func (a *Agent) Metrics() *metrics.Metrics        { return a.metrics }
func (a *Agent) Router() *router.Router           { return a.router }
func (a *Agent) Browser() *browser.SessionManager { return a.browser }
func (a *Agent) Notices() []checkout.Notice       { return a.notifier.Recent() }
func (a *Agent) Widget() checkout.WidgetState     { return a.widget.State() }
func (a *Agent) Registry() *detector.Registry     { return a.registry }
func (a *Agent) Backend() *backend.Client         { return a.backend }
func (a *Agent) Online() bool                     { return a.network.Online() }

// Run starts the sync loop, the connectivity probe and, when configured,
// the browser. It blocks until ctx ends and then releases everything.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()
	defer a.shutdown()

	if a.cfg.Sync.Enabled {
		a.wg.Add(2)
		go func() {
			defer a.wg.Done()
			a.network.Run(ctx)
		}()
		go func() {
			defer a.wg.Done()
			err := a.syncer.Run(ctx,
				syncer.Signal{Name: "local_change", C: a.queue.Signals()},
				syncer.Signal{Name: "network_restored", C: a.network.Restored()},
			)
			if err != nil {
				a.log.Error().Err(err).Msg("sync engine stopped")
			}
		}()
		a.syncer.Trigger("startup")
	}

	if a.cfg.Browser.AutoStart {
		if err := a.browser.Start(ctx); err != nil {
			a.log.Warn().Err(err).Msg("browser not available; use the MCP tools to attach later")
		} else {
			for _, url := range a.cfg.Browser.StartURLs {
				if _, err := a.Open(ctx, url); err != nil {
					a.log.Warn().Err(err).Str("url", url).Msg("opening start page")
				}
			}
		}
	}

	<-ctx.Done()
	return nil
}

func (a *Agent) shutdown() {
	a.mu.Lock()
	tabs := make([]*Tab, 0, len(a.tabs))
	for _, t := range a.tabs {
		tabs = append(tabs, t)
	}
	a.tabs = make(map[string]*Tab)
	a.mu.Unlock()
	for _, t := range tabs {
		t.stop()
	}
	a.wg.Wait()

	if err := a.browser.Shutdown(context.Background()); err != nil {
		a.log.Warn().Err(err).Msg("browser shutdown")
	}
	if a.recorder != nil {
		_ = a.recorder.Close()
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing store")
	}
	a.log.Info().Msg("agent stopped")
}

// Close releases an agent that was never Run.
func (a *Agent) Close() { a.shutdown() }

// Savings asks the backend for the user's savings summary.
func (a *Agent) Savings(ctx context.Context) (backend.SavingsSummary, error) {
	return a.backend.Savings(ctx)
}

// SyncNow runs a pass immediately.
func (a *Agent) SyncNow(ctx context.Context) (syncer.Result, error) {
	return a.syncer.RunPass(ctx)
}

func (a *Agent) SyncState(ctx context.Context) (syncer.State, error) {
	return a.syncer.State(ctx)
}

func (a *Agent) PendingChanges(ctx context.Context) ([]model.PendingChange, error) {
	return a.queue.Pending(ctx)
}

func (a *Agent) SyncErrors(ctx context.Context) ([]model.ErrorEntry, error) {
	return a.store.Errors(ctx)
}

func (a *Agent) Wishlist(ctx context.Context) ([]model.WishlistItem, error) {
	return a.store.Wishlist(ctx)
}

func (a *Agent) RemoveFromWishlist(ctx context.Context, key string) error {
	return a.queue.RemoveFromWishlist(ctx, key)
}

func (a *Agent) CouponHistory(ctx context.Context, limit int) ([]model.CouponUsage, error) {
	return a.store.CouponHistory(ctx, limit)
}

func (a *Agent) Preferences(ctx context.Context) (model.Preferences, error) {
	return a.store.Preferences(ctx)
}

// Tabs lists the watched tabs, oldest first.
func (a *Agent) Tabs() []TabInfo {
	a.mu.Lock()
	tabs := make([]*Tab, 0, len(a.tabs))
	for _, t := range a.tabs {
		tabs = append(tabs, t)
	}
	a.mu.Unlock()

	out := make([]TabInfo, 0, len(tabs))
	for _, t := range tabs {
		out = append(out, t.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WatchedAt.Before(out[j].WatchedAt) })
	return out
}
