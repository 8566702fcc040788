// Package syncer reconciles the local store with the backend. A pass pulls
// the remote wishlist and preferences, merges them with the local copy by
// recency, pushes queued changes oldest first, and advances the last sync
// time. Passes never overlap.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"shopsavr-agent/internal/backend"
	"shopsavr-agent/internal/metrics"
	"shopsavr-agent/internal/model"
	"shopsavr-agent/internal/store"
)

// ErrPassInProgress is returned when a pass is requested while one runs.
var ErrPassInProgress = errors.New("sync pass already in progress")

// Remote is the subset of the backend the engine talks to.
type Remote interface {
	Wishlist(ctx context.Context) ([]model.WishlistItem, error)
	Preferences(ctx context.Context) (*model.Preferences, error)
	AddWishlistItem(ctx context.Context, body []byte) error
	RemoveWishlistItem(ctx context.Context, id string) error
	ApplyCoupon(ctx context.Context, couponID, storeID string, amountSaved float64) error
	UpdatePreferences(ctx context.Context, body []byte) error
}

// Config tunes scheduling and retries of an Engine.
type Config struct {
	// Interval between scheduled passes. Zero uses the stored preference.
	Interval time.Duration
	// Attempts per remote call within one pass.
	RetryAttempts int
	RetryBackoff  time.Duration
	// Failed passes after which a change is copied to the error queue.
	MaxChangeAttempts int
}

// DefaultConfig returns three attempts per call with a one second base
// backoff and a budget of five failed passes per change.
func DefaultConfig() Config {
	return Config{
		RetryAttempts:     3,
		RetryBackoff:      time.Second,
		MaxChangeAttempts: 5,
	}
}

// Result summarises one pass.
type Result struct {
	Skipped      bool       `json:"skipped"`
	Pulled       int        `json:"pulled"`
	Pushed       int        `json:"pushed"`
	Failed       int        `json:"failed"`
	Remaining    int64      `json:"remaining"`
	Conflicts    []Conflict `json:"conflicts,omitempty"`
	LastSyncTime time.Time  `json:"lastSyncTime"`
}

// State is the process-wide sync state. The engine is its only writer.
type State struct {
	LastSyncTime time.Time `json:"lastSyncTime"`
	RetryCount   int       `json:"retryCount"`
	InProgress   bool      `json:"inProgress"`
}

// Signal is an external event source that requests a pass.
type Signal struct {
	Name string
	C    <-chan struct{}
}

// Engine runs sync passes on a schedule and on demand.
type Engine struct {
	store   *store.Store
	remote  Remote
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	inProgress atomic.Bool
	trigger    chan string

	mu    sync.Mutex
	cron  *cron.Cron
	entry cron.EntryID
	every time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l.With().Str("component", "syncer").Logger() }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds an engine over st and remote. Nothing is scheduled until Run.
func New(st *store.Store, remote Remote, cfg Config, opts ...Option) *Engine {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	e := &Engine{
		store:   st,
		remote:  remote,
		cfg:     cfg,
		log:     zerolog.Nop(),
		now:     time.Now,
		trigger: make(chan string, 1),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// State reads the persisted state and the in-memory pass flag.
func (e *Engine) State(ctx context.Context) (State, error) {
	s, err := e.store.SyncState(ctx)
	if err != nil {
		return State{}, err
	}
	return State{LastSyncTime: s.LastSyncTime, RetryCount: s.RetryCount, InProgress: e.inProgress.Load()}, nil
}

// Trigger requests a pass from the Run loop without blocking. Requests
// made while one is already waiting collapse into it.
func (e *Engine) Trigger(reason string) {
	select {
	case e.trigger <- reason:
	default:
	}
}

// Run schedules passes until ctx ends. Each signal triggers a pass as well.
func (e *Engine) Run(ctx context.Context, signals ...Signal) error {
	every := e.cfg.Interval
	if every <= 0 {
		prefs, err := e.store.Preferences(ctx)
		if err != nil {
			return fmt.Errorf("read sync interval: %w", err)
		}
		every = prefs.SyncInterval()
	}

	e.mu.Lock()
	e.cron = cron.New(cron.WithLogger(cronLogger{log: e.log}), cron.WithChain(cron.Recover(cronLogger{log: e.log})))
	e.mu.Unlock()
	if err := e.SetInterval(every); err != nil {
		return err
	}
	e.cron.Start()
	defer func() {
		<-e.cron.Stop().Done()
	}()

	for _, s := range signals {
		go e.forward(ctx, s)
	}

	e.log.Info().Dur("interval", every).Msg("sync engine started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-e.trigger:
			e.runLogged(ctx, reason)
		}
	}
}

func (e *Engine) forward(ctx context.Context, s Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-s.C:
			if !ok {
				return
			}
			e.Trigger(s.Name)
		}
	}
}

// SetInterval reschedules the periodic pass. It is a no-op before Run.
func (e *Engine) SetInterval(every time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cron == nil || every <= 0 || every == e.every {
		return nil
	}
	if e.entry != 0 {
		e.cron.Remove(e.entry)
	}
	id, err := e.cron.AddFunc("@every "+every.String(), func() { e.Trigger("schedule") })
	if err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}
	e.entry = id
	e.every = every
	return nil
}

func (e *Engine) runLogged(ctx context.Context, reason string) {
	res, err := e.RunPass(ctx)
	switch {
	case errors.Is(err, ErrPassInProgress):
		e.log.Debug().Str("reason", reason).Msg("sync pass already running")
	case err != nil:
		e.log.Warn().Err(err).Str("reason", reason).Int64("remaining", res.Remaining).Msg("sync pass failed")
	case res.Skipped:
		e.log.Info().Str("reason", reason).Msg("sync pass skipped: not authorized")
	default:
		e.log.Info().Str("reason", reason).
			Int("pulled", res.Pulled).Int("pushed", res.Pushed).Int("failed", res.Failed).
			Int64("remaining", res.Remaining).Msg("sync pass done")
	}
}

// RunPass performs one pass now. It returns ErrPassInProgress if another
// pass holds the flag. Unauthorized responses skip the pass without error.
func (e *Engine) RunPass(ctx context.Context) (Result, error) {
	if !e.inProgress.CompareAndSwap(false, true) {
		return Result{}, ErrPassInProgress
	}
	defer e.inProgress.Store(false)

	start := e.now()
	res, offline, err := e.pass(ctx, start)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "failed"
	case res.Skipped:
		outcome = "skipped"
	case res.Failed > 0 || offline:
		outcome = "partial"
	}
	if n, cerr := e.store.CountPending(context.WithoutCancel(ctx)); cerr == nil {
		res.Remaining = n
		e.metrics.SetPending(n)
	}
	e.metrics.RecordSyncPass(outcome, time.Since(start))
	return res, err
}

func (e *Engine) pass(ctx context.Context, start time.Time) (Result, bool, error) {
	var res Result
	state, err := e.store.SyncState(ctx)
	if err != nil {
		return res, false, err
	}

	var remoteItems []model.WishlistItem
	var remotePrefs *model.Preferences
	err = e.retry(ctx, func(ctx context.Context) error {
		var err error
		remoteItems, err = e.remote.Wishlist(ctx)
		return err
	})
	if err == nil {
		err = e.retry(ctx, func(ctx context.Context) error {
			var err error
			remotePrefs, err = e.remote.Preferences(ctx)
			return err
		})
	}
	if errors.Is(err, backend.ErrUnauthorized) {
		res.Skipped = true
		return res, false, nil
	}
	if err != nil {
		e.bumpRetry(ctx, state)
		return res, false, fmt.Errorf("pull: %w", err)
	}
	res.Pulled = len(remoteItems)

	// Remote timestamps are not comparable with local ones beyond the pass
	// start; a later pass must not mistake them for fresh local items.
	for i := range remoteItems {
		if remoteItems[i].CreatedAt.IsZero() || remoteItems[i].CreatedAt.After(start) {
			remoteItems[i].CreatedAt = start
		}
	}

	var pulledPrefs *model.Preferences
	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		local, err := tx.Wishlist(ctx)
		if err != nil {
			return err
		}
		pending, err := tx.PendingChanges(ctx)
		if err != nil {
			return err
		}
		merged := Merge(remoteItems, local, state.LastSyncTime)
		res.Conflicts = merged.Conflicts
		if err := tx.ReplaceWishlist(ctx, overlayPending(merged.Items, local, pending)); err != nil {
			return err
		}

		localPrefs, err := tx.Preferences(ctx)
		if err != nil {
			return err
		}
		// An unconfirmed preference update keeps the local settings until
		// the backend has accepted it.
		if hasPending(pending, model.ChangePreferenceUpdate) {
			return nil
		}
		if prefs, side := mergePreferences(remotePrefs, localPrefs, state.LastSyncTime); side == SideRemote {
			if err := tx.SavePreferences(ctx, prefs); err != nil {
				return err
			}
			pulledPrefs = &prefs
		}
		return nil
	})
	if err != nil {
		return res, false, fmt.Errorf("merge: %w", err)
	}
	if pulledPrefs != nil && e.cfg.Interval <= 0 {
		if err := e.SetInterval(pulledPrefs.SyncInterval()); err != nil {
			e.log.Warn().Err(err).Msg("rescheduling sync from remote preferences")
		}
	}
	for _, c := range res.Conflicts {
		e.log.Debug().Str("key", c.Key).Str("kept", string(c.Kept)).Msg("wishlist conflict resolved")
	}
	e.metrics.AddConflicts(len(res.Conflicts))

	offline, err := e.push(ctx, &res)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			res.Skipped = true
			return res, false, nil
		}
		return res, offline, err
	}

	state.LastSyncTime = start
	if res.Failed > 0 || offline {
		state.RetryCount++
	} else {
		state.RetryCount = 0
	}
	if err := e.store.SaveSyncState(ctx, state); err != nil {
		return res, offline, err
	}
	res.LastSyncTime = start
	return res, offline, nil
}

// push sends pending changes oldest first. It stops early when the backend
// is unreachable, since every later change would fail the same way.
func (e *Engine) push(ctx context.Context, res *Result) (offline bool, err error) {
	pending, err := e.store.PendingChanges(ctx)
	if err != nil {
		return false, err
	}
	for _, ch := range pending {
		change := ch
		err := e.retry(ctx, func(ctx context.Context) error { return e.send(ctx, change) })
		switch {
		case err == nil:
			if err := e.store.DeleteChange(ctx, change.ID); err != nil {
				return false, err
			}
			res.Pushed++
			e.metrics.RecordPush(string(change.Kind), true)
		case errors.Is(err, backend.ErrUnauthorized):
			return false, err
		case ctx.Err() != nil:
			return false, ctx.Err()
		case backend.IsOffline(err):
			e.log.Debug().Err(err).Str("change", change.ID).Msg("backend unreachable, keeping remaining changes")
			e.metrics.RecordPush(string(change.Kind), false)
			return true, nil
		default:
			res.Failed++
			e.metrics.RecordPush(string(change.Kind), false)
			if err := e.recordFailure(ctx, change, err); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

func (e *Engine) recordFailure(ctx context.Context, change model.PendingChange, cause error) error {
	n, err := e.store.MarkAttempt(ctx, change.ID, cause.Error())
	if err != nil {
		return err
	}
	ev := e.log.Debug()
	if n >= e.cfg.MaxChangeAttempts && e.cfg.MaxChangeAttempts > 0 {
		ev = e.log.Warn()
	}
	ev.Err(cause).Str("change", change.ID).Str("kind", string(change.Kind)).Int("attempts", n).Msg("pending change push failed")
	if n != e.cfg.MaxChangeAttempts {
		return nil
	}
	return e.store.AppendError(ctx, &model.ErrorEntry{
		ChangeID:  change.ID,
		Kind:      change.Kind,
		Attempts:  n,
		Message:   cause.Error(),
		CreatedAt: e.now(),
	})
}

var errMalformed = errors.New("malformed pending change")

func (e *Engine) send(ctx context.Context, ch model.PendingChange) error {
	p := gjson.Parse(ch.Payload)
	switch ch.Kind {
	case model.ChangeWishlistAdd:
		return e.remote.AddWishlistItem(ctx, []byte(ch.Payload))
	case model.ChangeWishlistRemove:
		id := p.Get("id").String()
		if id == "" {
			id = p.Get("key").String()
		}
		if id == "" {
			return fmt.Errorf("%w: %s has no id", errMalformed, ch.ID)
		}
		return e.remote.RemoveWishlistItem(ctx, id)
	case model.ChangeCouponUsage:
		return e.remote.ApplyCoupon(ctx, p.Get("couponId").String(), p.Get("storeId").String(), p.Get("amountSaved").Float())
	case model.ChangePreferenceUpdate:
		return e.remote.UpdatePreferences(ctx, []byte(ch.Payload))
	}
	return fmt.Errorf("%w: unknown kind %q", errMalformed, ch.Kind)
}

func (e *Engine) retry(ctx context.Context, fn func(context.Context) error) error {
	return withRetry(ctx, e.cfg.RetryAttempts, e.cfg.RetryBackoff, fn)
}

func (e *Engine) bumpRetry(ctx context.Context, state model.SyncState) {
	state.RetryCount++
	if err := e.store.SaveSyncState(context.WithoutCancel(ctx), state); err != nil {
		e.log.Warn().Err(err).Msg("save sync state")
	}
}

func hasPending(pending []model.PendingChange, kind model.ChangeKind) bool {
	for _, ch := range pending {
		if ch.Kind == kind {
			return true
		}
	}
	return false
}

// overlayPending reapplies queued wishlist changes on top of the merge so a
// change the backend has not confirmed yet is never undone locally.
func overlayPending(items, local []model.WishlistItem, pending []model.PendingChange) []model.WishlistItem {
	cached := make(map[string]model.WishlistItem, len(local))
	for _, it := range local {
		cached[it.Key] = it
	}
	byKey := make(map[string]int, len(items))
	for i, it := range items {
		byKey[it.Key] = i
	}

	for _, ch := range pending {
		key := gjson.Get(ch.Payload, "key").String()
		if key == "" {
			continue
		}
		switch ch.Kind {
		case model.ChangeWishlistAdd:
			it, ok := cached[key]
			if !ok {
				continue
			}
			if i, exists := byKey[key]; exists {
				items[i] = it
			} else {
				byKey[key] = len(items)
				items = append(items, it)
			}
		case model.ChangeWishlistRemove:
			if i, exists := byKey[key]; exists {
				items = append(items[:i], items[i+1:]...)
				delete(byKey, key)
				for k, j := range byKey {
					if j > i {
						byKey[k] = j - 1
					}
				}
			}
		}
	}
	return items
}
