// Package checkout reacts to a page entering checkout: it looks up coupons
// for the store, then either shows them in the coupon widget or tests them
// against the page, and records the code that worked.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"shopsavr-agent/internal/automation"
	"shopsavr-agent/internal/backend"
	"shopsavr-agent/internal/model"
	"shopsavr-agent/internal/page"
	"shopsavr-agent/internal/router"
)

// ErrSessionActive is returned by ApplyCode while another coupon session
// owns the page.
var ErrSessionActive = errors.New("a coupon session is already running on this page")

type CouponSource interface {
	DetectCoupons(ctx context.Context, pageURL string) (backend.Detection, error)
}

type UsageRecorder interface {
	RecordCouponUsage(ctx context.Context, u model.CouponUsage) error
}

type Settings interface {
	Preferences(ctx context.Context) (model.Preferences, error)
}

type Messenger interface {
	Send(ctx context.Context, msg router.Message) router.Response
}

// Tester runs coupon sessions on one page. *automation.Engine implements it.
type Tester interface {
	TestCandidates(ctx context.Context, candidates []automation.Candidate) ([]automation.TestOutcome, error)
}

// Deps are the collaborators of a Flow. Notifier and Messenger may be nil.
type Deps struct {
	Coupons   CouponSource
	Usage     UsageRecorder
	Settings  Settings
	Messenger Messenger
	Notifier  Notifier
}

// Result summarizes the last checkout handled by a Flow.
type Result struct {
	URL        string                   `json:"url"`
	Store      backend.StoreInfo        `json:"store"`
	Candidates []automation.Candidate   `json:"candidates"`
	Outcomes   []automation.TestOutcome `json:"outcomes,omitempty"`
	Applied    string                   `json:"applied,omitempty"`
	Saved      float64                  `json:"saved,omitempty"`
	Error      string                   `json:"error,omitempty"`
	HandledAt  time.Time                `json:"handledAt"`
}

// Flow implements monitor.Handler for one page.
type Flow struct {
	page      page.Page
	engineFor func(pageURL string) Tester
	deps      Deps
	log       zerolog.Logger

	mu   sync.Mutex
	last Result
}

type Option func(*Flow)

func WithLogger(l zerolog.Logger) Option {
	return func(f *Flow) { f.log = l.With().Str("component", "checkout").Logger() }
}

// New builds a flow. engineFor returns the automation engine for the
// page's current URL.
func New(p page.Page, engineFor func(pageURL string) Tester, deps Deps, opts ...Option) *Flow {
	f := &Flow{page: p, engineFor: engineFor, deps: deps, log: zerolog.Nop()}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Last returns the result of the most recent checkout.
func (f *Flow) Last() Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.last
	r.Candidates = append([]automation.Candidate(nil), f.last.Candidates...)
	r.Outcomes = append([]automation.TestOutcome(nil), f.last.Outcomes...)
	return r
}

func (f *Flow) setLast(r Result) {
	f.mu.Lock()
	f.last = r
	f.mu.Unlock()
}

// OnCheckout runs once per checkout entry. It returns early when ctx is
// cancelled because the page left checkout.
func (f *Flow) OnCheckout(ctx context.Context) {
	url := f.page.URL()
	res := Result{URL: url, HandledAt: time.Now()}
	defer func() { f.setLast(res) }()

	prefs := f.preferences(ctx)
	log := f.log.With().Str("url", url).Logger()

	det, err := f.deps.Coupons.DetectCoupons(ctx, url)
	if err != nil {
		res.Error = err.Error()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, backend.ErrUnauthorized) {
			log.Debug().Msg("not signed in, skipping coupon lookup")
			return
		}
		log.Warn().Err(err).Msg("coupon lookup failed")
		f.notify(prefs, Notice{
			Kind:    NoticeNetwork,
			Title:   "ShopSavr",
			Message: "Could not reach ShopSavr to look up coupons. Try again in a moment.",
			URL:     url,
		})
		return
	}
	res.Store = det.Store

	cands := Candidates(det, prefs.MaxCouponsToTest)
	res.Candidates = cands
	if len(cands) == 0 {
		log.Info().Str("store", det.Store.Name).Msg("no coupons found")
		f.notify(prefs, Notice{Kind: NoticeNoCoupon, Title: "No coupons found", Message: "We could not find coupons for " + storeName(det.Store) + ".", URL: url})
		return
	}

	if !prefs.AutoApplyEnabled {
		f.showWidget(ctx, det.Store.ID, cands)
		return
	}

	if err := sleepWithContext(ctx, prefs.AutoApplyDelay()); err != nil {
		return
	}

	outcomes, err := f.engineFor(url).TestCandidates(ctx, cands)
	if err != nil {
		if !errors.Is(err, automation.ErrAbandoned) {
			res.Error = err.Error()
		}
		return
	}
	if outcomes == nil {
		log.Debug().Msg("coupon session already running")
		return
	}
	res.Outcomes = outcomes

	win, ok := winner(outcomes)
	if !ok {
		f.notify(prefs, Notice{
			Kind:    NoticeNoneWork,
			Title:   "Coupons didn't work",
			Message: fmt.Sprintf("None of the %d coupons we tried applied to this order.", len(outcomes)),
			URL:     url,
		})
		return
	}
	res.Applied, res.Saved = win.Candidate.Code, saved(win)
	f.recordUsage(ctx, url, win)
	f.notify(prefs, appliedNotice(win, url))
}

// OnLeave hides the widget. The message is sent off the caller's goroutine.
func (f *Flow) OnLeave() {
	if f.deps.Messenger == nil {
		return
	}
	go f.deps.Messenger.Send(context.Background(), router.Message{Kind: router.HideCouponWidget})
}

// ApplyCode tests a single code chosen by the user and records it when it
// works.
func (f *Flow) ApplyCode(ctx context.Context, req router.ApplyCouponRequest) (automation.TestOutcome, error) {
	code := strings.TrimSpace(req.CouponCode)
	if code == "" {
		return automation.TestOutcome{}, errors.New("couponCode is required")
	}
	url := f.page.URL()
	outcomes, err := f.engineFor(url).TestCandidates(ctx, []automation.Candidate{{Code: code, CouponID: req.CouponID, StoreID: req.StoreID}})
	if err != nil {
		return automation.TestOutcome{}, err
	}
	if len(outcomes) == 0 {
		return automation.TestOutcome{}, ErrSessionActive
	}
	out := outcomes[0]
	if out.Success {
		f.recordUsage(ctx, url, out)
		f.notify(f.preferences(ctx), appliedNotice(out, url))
	}
	return out, nil
}

func (f *Flow) preferences(ctx context.Context) model.Preferences {
	if f.deps.Settings == nil {
		return model.DefaultPreferences()
	}
	prefs, err := f.deps.Settings.Preferences(ctx)
	if err != nil {
		f.log.Warn().Err(err).Msg("reading preferences, using defaults")
		return model.DefaultPreferences()
	}
	return prefs
}

func (f *Flow) showWidget(ctx context.Context, storeID string, cands []automation.Candidate) {
	if f.deps.Messenger == nil {
		return
	}
	coupons := make([]router.WidgetCoupon, 0, len(cands))
	for _, c := range cands {
		coupons = append(coupons, router.WidgetCoupon{
			ID:            c.CouponID,
			Code:          c.Code,
			Title:         c.Title,
			DiscountValue: c.DiscountValue,
			DiscountType:  string(c.DiscountKind),
			SuccessRate:   c.SuccessRate,
		})
	}
	msg, err := router.NewMessage(router.ShowCouponWidget, router.ShowWidgetRequest{Coupons: coupons, StoreID: storeID})
	if err != nil {
		f.log.Error().Err(err).Msg("building widget message")
		return
	}
	if resp := f.deps.Messenger.Send(ctx, msg); !resp.Success {
		f.log.Warn().Str("error", resp.Error).Msg("coupon widget not shown")
	}
}

func (f *Flow) recordUsage(ctx context.Context, url string, out automation.TestOutcome) {
	if f.deps.Usage == nil {
		return
	}
	u := model.CouponUsage{
		CouponID:    out.Candidate.CouponID,
		StoreID:     out.Candidate.StoreID,
		Code:        out.Candidate.Code,
		PageURL:     url,
		AmountSaved: saved(out),
		AppliedAt:   time.Now(),
	}
	// The code is already on the order; keep the record even if the page
	// is leaving checkout.
	if err := f.deps.Usage.RecordCouponUsage(context.WithoutCancel(ctx), u); err != nil {
		f.log.Error().Err(err).Str("code", u.Code).Msg("recording coupon usage")
	}
}

func (f *Flow) notify(prefs model.Preferences, n Notice) {
	if f.deps.Notifier == nil || !prefs.ShowNotifications {
		return
	}
	f.deps.Notifier.Notify(n)
}

// Candidates converts a detection into automation candidates in backend
// order, dropping repeated codes and keeping at most max (zero means all).
func Candidates(d backend.Detection, max int) []automation.Candidate {
	seen := make(map[string]bool, len(d.Coupons))
	out := make([]automation.Candidate, 0, len(d.Coupons))
	for _, c := range d.Coupons {
		code := strings.TrimSpace(c.Code)
		key := strings.ToUpper(code)
		if code == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, automation.Candidate{
			Code:          code,
			Title:         c.Title,
			DiscountValue: c.DiscountValue,
			DiscountKind:  automation.DiscountKind(c.DiscountType),
			SuccessRate:   c.SuccessRate,
			CouponID:      c.ID,
			StoreID:       d.Store.ID,
		})
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

func winner(outcomes []automation.TestOutcome) (automation.TestOutcome, bool) {
	if n := len(outcomes); n > 0 && outcomes[n-1].Success {
		return outcomes[n-1], true
	}
	return automation.TestOutcome{}, false
}

func saved(out automation.TestOutcome) float64 {
	if out.SavingsObserved == nil {
		return 0
	}
	return *out.SavingsObserved
}

func appliedNotice(out automation.TestOutcome, url string) Notice {
	msg := fmt.Sprintf("Code %s was applied to your order.", out.Candidate.Code)
	if s := saved(out); s > 0 {
		msg = fmt.Sprintf("Code %s saved you $%.2f.", out.Candidate.Code, s)
	}
	return Notice{Kind: NoticeApplied, Title: "Coupon applied", Message: msg, URL: url}
}

func storeName(s backend.StoreInfo) string {
	if s.Name != "" {
		return s.Name
	}
	return "this store"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
