package automation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shopsavr-agent/internal/detector"
	"shopsavr-agent/internal/page"
)

const (
	DefaultSettleDelay       = 1200 * time.Millisecond
	DefaultInterAttemptDelay = 750 * time.Millisecond
)

// ErrAbandoned is returned when the context ends mid-session, typically
// because the page navigated away. The partial result is discarded.
var ErrAbandoned = errors.New("automation session abandoned")

// Config holds the engine timings.
type Config struct {
	// SettleDelay is how long to wait after activation before reading the
	// page again.
	SettleDelay time.Duration
	// InterAttemptDelay separates consecutive candidates.
	InterAttemptDelay time.Duration
}

func (c *Config) defaults() {
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.InterAttemptDelay < 0 {
		c.InterAttemptDelay = 0
	}
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{SettleDelay: DefaultSettleDelay, InterAttemptDelay: DefaultInterAttemptDelay}
}

// Recorder receives session trace events.
type Recorder interface {
	Record(sessionID, event string, data interface{})
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithRecorder traces every session event to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithObserver calls fn for every outcome and with every final session.
func WithObserver(onOutcome func(TestOutcome), onSession func(Session)) Option {
	return func(e *Engine) {
		e.onOutcome = onOutcome
		e.onSession = onSession
	}
}

// Engine runs sessions against one page. At most one session is Testing
// at a time; a request that arrives meanwhile is ignored, not queued.
type Engine struct {
	page    page.Page
	profile detector.Profile
	cfg     Config
	log     zerolog.Logger

	recorder  Recorder
	onOutcome func(TestOutcome)
	onSession func(Session)

	mu      sync.Mutex
	session Session
}

// New returns an engine for p using profile to read it.
func New(p page.Page, profile detector.Profile, cfg Config, opts ...Option) *Engine {
	cfg.defaults()
	e := &Engine{
		page:    p,
		profile: profile,
		cfg:     cfg,
		log:     zerolog.Nop(),
		session: Session{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Session returns a copy of the current session.
func (e *Engine) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session
	s.Outcomes = append([]TestOutcome(nil), e.session.Outcomes...)
	return s
}

// Profile returns the profile the engine reads the page with.
func (e *Engine) Profile() detector.Profile { return e.profile }

// TestCandidates tries each candidate in order until one succeeds. It
// returns the outcomes of the candidates actually tried; the last one is
// the only one that can be successful. While another session is Testing it
// returns (nil, nil). If ctx ends first it returns ErrAbandoned and the
// session goes back to Idle.
func (e *Engine) TestCandidates(ctx context.Context, candidates []Candidate) ([]TestOutcome, error) {
	id, ok := e.begin()
	if !ok {
		e.log.Info().Msg("coupon session already active; ignoring request")
		return nil, nil
	}
	log := e.log.With().Str("session", id).Str("profile", e.profile.Name()).Logger()
	log.Info().Int("candidates", len(candidates)).Msg("coupon session started")
	e.record(id, "session_start", map[string]interface{}{"url": e.page.URL(), "candidates": len(candidates)})

	outcomes := make([]TestOutcome, 0, len(candidates))
	for i, c := range candidates {
		if i > 0 {
			if err := sleepWithContext(ctx, e.cfg.InterAttemptDelay); err != nil {
				return nil, e.abandon(id, log, err)
			}
		}
		e.setActive(i)

		out, err := e.testOne(ctx, c)
		if err != nil {
			return nil, e.abandon(id, log, err)
		}
		outcomes = append(outcomes, out)
		e.appendOutcome(out)
		e.record(id, "candidate_tested", out)
		if e.onOutcome != nil {
			e.onOutcome(out)
		}

		ev := log.Debug().Str("code", c.Code).Bool("success", out.Success)
		if out.FailureReason != ReasonNone {
			ev = ev.Str("reason", string(out.FailureReason))
		}
		ev.Msg("candidate tested")

		if out.Success {
			break
		}
	}

	status := StatusExhausted
	if n := len(outcomes); n > 0 && outcomes[n-1].Success {
		status = StatusSucceeded
	}
	final := e.finish(status)
	log.Info().Str("status", string(status)).Int("tested", len(outcomes)).Msg("coupon session finished")
	e.record(id, "session_end", map[string]interface{}{"status": status, "tested": len(outcomes)})
	if e.onSession != nil {
		e.onSession(final)
	}
	return outcomes, nil
}

// testOne runs the per-candidate protocol. The returned error is only ever
// the context's; page failures become failure reasons.
func (e *Engine) testOne(ctx context.Context, c Candidate) (TestOutcome, error) {
	out := TestOutcome{Candidate: c, TestedAt: time.Now()}

	field, ok := e.profile.LocateDiscountField(e.page)
	if !ok {
		out.FailureReason = ReasonFieldNotFound
		return out, nil
	}

	before, hasBefore := e.profile.ExtractOrderTotal(e.page)
	priorIndicator := e.indicatorText()

	if err := field.Fill(c.Code); err != nil {
		out.FailureReason = ReasonActivationFailed
		out.Detail = err.Error()
		return out, nil
	}

	if control, ok := e.profile.LocateApplyControl(e.page, field); ok {
		if err := control.Click(); err != nil {
			out.FailureReason = ReasonActivationFailed
			out.Detail = err.Error()
			return out, nil
		}
	} else {
		submitted, err := field.Submit()
		if err != nil {
			out.FailureReason = ReasonActivationFailed
			out.Detail = err.Error()
			return out, nil
		}
		if !submitted {
			out.FailureReason = ReasonApplyControlMissing
			return out, nil
		}
	}

	if err := sleepWithContext(ctx, e.cfg.SettleDelay); err != nil {
		return TestOutcome{}, err
	}

	indicator := false
	if el, ok := e.profile.LocateSuccessIndicator(e.page); ok {
		// A message that was already showing before activation belongs to
		// an earlier code.
		indicator = priorIndicator == nil || *priorIndicator != el.Text()
	}
	if hasBefore {
		if after, ok := e.profile.ExtractOrderTotal(e.page); ok && before-after > 0 {
			saved := before - after
			out.SavingsObserved = &saved
		}
	}

	out.Success = indicator || out.SavingsObserved != nil
	if !out.Success {
		out.FailureReason = ReasonRejected
	}
	return out, nil
}

func (e *Engine) indicatorText() *string {
	el, ok := e.profile.LocateSuccessIndicator(e.page)
	if !ok {
		return nil
	}
	text := el.Text()
	return &text
}

func (e *Engine) begin() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status == StatusTesting {
		return "", false
	}
	e.session = Session{
		ID:        uuid.NewString(),
		Status:    StatusTesting,
		StartedAt: time.Now(),
	}
	return e.session.ID, true
}

func (e *Engine) setActive(i int) {
	e.mu.Lock()
	e.session.ActiveIndex = i
	e.mu.Unlock()
}

func (e *Engine) appendOutcome(out TestOutcome) {
	e.mu.Lock()
	e.session.Outcomes = append(e.session.Outcomes, out)
	e.mu.Unlock()
}

func (e *Engine) finish(status Status) Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.Status = status
	e.session.EndedAt = time.Now()
	s := e.session
	s.Outcomes = append([]TestOutcome(nil), e.session.Outcomes...)
	return s
}

func (e *Engine) abandon(id string, log zerolog.Logger, cause error) error {
	e.mu.Lock()
	e.session = Session{Status: StatusIdle}
	e.mu.Unlock()
	log.Info().Err(cause).Msg("coupon session abandoned")
	e.record(id, "session_abandoned", map[string]interface{}{"error": cause.Error()})
	return ErrAbandoned
}

func (e *Engine) record(id, event string, data interface{}) {
	if e.recorder != nil {
		e.recorder.Record(id, event, data)
	}
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
