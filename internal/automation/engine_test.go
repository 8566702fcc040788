package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopsavr-agent/internal/detector"
	"shopsavr-agent/internal/page/htmlpage"
)

const checkoutHTML = `<html><body>
<div class="cart">
  <div class="order-total">Order total: $100.00</div>
  <div class="promo">
    <input id="pc" name="coupon" placeholder="Coupon code">
    <button id="apply">Apply</button>
  </div>
  <div id="msg" class="promo-message" role="status"></div>
</div>
</body></html>`

// acceptCodes simulates a retailer that knows the given codes and their
// savings off a $100 order.
func acceptCodes(good map[string]float64) htmlpage.ActivateFunc {
	return func(d *htmlpage.Document, _ *htmlpage.Element) error {
		code := d.Query("#pc")[0].Attr("value")
		saving, ok := good[code]
		d.Mutate(func(doc *goquery.Document) {
			if !ok {
				doc.Find("#msg").SetText("Sorry, " + code + " is invalid")
				return
			}
			doc.Find("#msg").SetText("Code " + code + " applied")
			doc.Find(".order-total").SetText(fmt.Sprintf("Order total: $%.2f", 100-saving))
		})
		return nil
	}
}

func candidates(codes ...string) []Candidate {
	out := make([]Candidate, 0, len(codes))
	for _, c := range codes {
		out = append(out, Candidate{Code: c})
	}
	return out
}

func newEngine(doc *htmlpage.Document, cfg Config, opts ...Option) *Engine {
	return New(doc, detector.NewGeneric(0), cfg, opts...)
}

func assertOutcomeInvariants(t *testing.T, cands []Candidate, outcomes []TestOutcome) {
	t.Helper()
	require.LessOrEqual(t, len(outcomes), len(cands))
	for i, out := range outcomes {
		assert.Equal(t, cands[i].Code, out.Candidate.Code, "outcomes keep candidate order")
		if out.Success {
			assert.Equal(t, len(outcomes)-1, i, "a success is always the last outcome")
			assert.Equal(t, ReasonNone, out.FailureReason)
		} else {
			assert.NotEqual(t, ReasonNone, out.FailureReason, "failures carry a reason")
		}
	}
}

func TestFirstWorkingCodeStopsSession(t *testing.T) {
	doc := htmlpage.MustParse("https://shop.example/checkout", checkoutHTML)
	doc.OnClick(acceptCodes(map[string]float64{"SAVE10": 10}))
	eng := newEngine(doc, Config{})

	cands := candidates("BAD1", "SAVE10", "NEVER")
	outcomes, err := eng.TestCandidates(context.Background(), cands)
	require.NoError(t, err)
	assertOutcomeInvariants(t, cands, outcomes)

	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[0].Success)
	assert.Equal(t, ReasonRejected, outcomes[0].FailureReason)
	assert.True(t, outcomes[1].Success)
	require.NotNil(t, outcomes[1].SavingsObserved)
	assert.InDelta(t, 10.0, *outcomes[1].SavingsObserved, 0.001)

	s := eng.Session()
	assert.Equal(t, StatusSucceeded, s.Status)
	assert.Equal(t, 1, s.ActiveIndex)
	win, ok := s.Winner()
	require.True(t, ok)
	assert.Equal(t, "SAVE10", win.Candidate.Code)

	assert.Equal(t, "SAVE10", doc.Query("#pc")[0].Attr("value"))
}

func TestAllCodesRejectedExhaustsSession(t *testing.T) {
	doc := htmlpage.MustParse("https://shop.example/checkout", checkoutHTML)
	doc.OnClick(acceptCodes(nil))
	eng := newEngine(doc, Config{})

	cands := candidates("A", "B", "C")
	outcomes, err := eng.TestCandidates(context.Background(), cands)
	require.NoError(t, err)
	assertOutcomeInvariants(t, cands, outcomes)

	require.Len(t, outcomes, 3)
	for _, out := range outcomes {
		assert.Equal(t, ReasonRejected, out.FailureReason)
		assert.Nil(t, out.SavingsObserved)
	}
	assert.Equal(t, StatusExhausted, eng.Session().Status)
}

func TestMissingFieldNeverActivates(t *testing.T) {
	doc := htmlpage.MustParse("https://shop.example/checkout",
		`<html><body><div class="order-total">$20.00</div><button>Apply</button></body></html>`)
	clicked := false
	doc.OnClick(func(*htmlpage.Document, *htmlpage.Element) error {
		clicked = true
		return nil
	})
	eng := newEngine(doc, Config{})

	cands := candidates("X", "Y")
	outcomes, err := eng.TestCandidates(context.Background(), cands)
	require.NoError(t, err)
	assertOutcomeInvariants(t, cands, outcomes)

	require.Len(t, outcomes, 2)
	for _, out := range outcomes {
		assert.Equal(t, ReasonFieldNotFound, out.FailureReason)
	}
	assert.False(t, clicked)
	assert.Empty(t, doc.Events())
	assert.Equal(t, StatusExhausted, eng.Session().Status)
}

func TestApplyFallsBackToFormSubmit(t *testing.T) {
	doc := htmlpage.MustParse("https://shop.example/checkout", `<html><body>
<div class="order-total">$50.00</div>
<form id="promo"><input id="pc" name="promo"></form>
</body></html>`)
	doc.OnSubmit(func(d *htmlpage.Document, form *htmlpage.Element) error {
		assert.Equal(t, "promo", form.Attr("id"))
		d.Mutate(func(doc *goquery.Document) { doc.Find(".order-total").SetText("$45.00") })
		return nil
	})
	eng := newEngine(doc, Config{})

	outcomes, err := eng.TestCandidates(context.Background(), candidates("FIVE"))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success, "a lower total alone counts as success")
	require.NotNil(t, outcomes[0].SavingsObserved)
	assert.InDelta(t, 5.0, *outcomes[0].SavingsObserved, 0.001)
	assert.Contains(t, doc.Events(), "submit:form#promo")
}

func TestNoControlAndNoForm(t *testing.T) {
	doc := htmlpage.MustParse("https://shop.example/checkout",
		`<html><body><div><input id="pc" name="coupon"></div></body></html>`)
	eng := newEngine(doc, Config{})

	outcomes, err := eng.TestCandidates(context.Background(), candidates("A"))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, ReasonApplyControlMissing, outcomes[0].FailureReason)
}

func TestActivationErrorsDoNotAbortSession(t *testing.T) {
	doc := htmlpage.MustParse("https://shop.example/checkout", checkoutHTML)
	accept := acceptCodes(map[string]float64{"OK": 3})
	doc.OnClick(func(d *htmlpage.Document, el *htmlpage.Element) error {
		if d.Query("#pc")[0].Attr("value") == "BOOM" {
			return errors.New("detached node")
		}
		return accept(d, el)
	})
	eng := newEngine(doc, Config{})

	cands := candidates("BOOM", "OK")
	outcomes, err := eng.TestCandidates(context.Background(), cands)
	require.NoError(t, err)
	assertOutcomeInvariants(t, cands, outcomes)
	require.Len(t, outcomes, 2)
	assert.Equal(t, ReasonActivationFailed, outcomes[0].FailureReason)
	assert.Equal(t, "detached node", outcomes[0].Detail)
	assert.True(t, outcomes[1].Success)
}

func TestReadOnlyFieldIsActivationFailure(t *testing.T) {
	doc := htmlpage.MustParse("https://shop.example/checkout",
		`<html><body><div><input id="pc" name="coupon" readonly><button>Apply</button></div></body></html>`)
	eng := newEngine(doc, Config{})

	outcomes, err := eng.TestCandidates(context.Background(), candidates("A"))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, ReasonActivationFailed, outcomes[0].FailureReason)
}

func TestStaleIndicatorIsNotSuccess(t *testing.T) {
	doc := htmlpage.MustParse("https://shop.example/checkout", `<html><body>
<div class="order-total">Order total: $80.00</div>
<div><input id="pc" name="coupon"><button>Apply</button></div>
<div class="promo-message">Code OLD applied</div>
</body></html>`)
	eng := newEngine(doc, Config{})

	outcomes, err := eng.TestCandidates(context.Background(), candidates("NEW"))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
	assert.Equal(t, ReasonRejected, outcomes[0].FailureReason)
}

func TestIndicatorWithoutSavings(t *testing.T) {
	doc := htmlpage.MustParse("https://shop.example/checkout", checkoutHTML)
	doc.OnClick(func(d *htmlpage.Document, _ *htmlpage.Element) error {
		d.Mutate(func(doc *goquery.Document) { doc.Find("#msg").SetText("Free shipping applied") })
		return nil
	})
	eng := newEngine(doc, Config{})

	outcomes, err := eng.TestCandidates(context.Background(), candidates("SHIP"))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	assert.Nil(t, outcomes[0].SavingsObserved)
}

func TestConcurrentRequestIsIgnored(t *testing.T) {
	doc := htmlpage.MustParse("https://shop.example/checkout", checkoutHTML)
	doc.OnClick(acceptCodes(nil))
	eng := newEngine(doc, Config{SettleDelay: 300 * time.Millisecond})

	var wg sync.WaitGroup
	wg.Add(1)
	var first []TestOutcome
	go func() {
		defer wg.Done()
		first, _ = eng.TestCandidates(context.Background(), candidates("A"))
	}()

	require.Eventually(t, func() bool { return eng.Session().Status == StatusTesting },
		time.Second, 5*time.Millisecond)

	second, err := eng.TestCandidates(context.Background(), candidates("B"))
	assert.NoError(t, err)
	assert.Nil(t, second)

	wg.Wait()
	require.Len(t, first, 1)
	assert.Equal(t, "A", first[0].Candidate.Code)
	assert.Equal(t, StatusExhausted, eng.Session().Status)
}

func TestCancellationAbandonsSession(t *testing.T) {
	doc := htmlpage.MustParse("https://shop.example/checkout", checkoutHTML)
	doc.OnClick(acceptCodes(map[string]float64{"A": 10}))
	eng := newEngine(doc, Config{SettleDelay: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := eng.TestCandidates(ctx, candidates("A"))
		done <- err
	}()

	require.Eventually(t, func() bool { return eng.Session().Status == StatusTesting },
		time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAbandoned)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop on cancellation")
	}

	s := eng.Session()
	assert.Equal(t, StatusIdle, s.Status)
	assert.Empty(t, s.Outcomes)

	// The engine accepts a new session afterwards.
	outcomes, err := eng.TestCandidates(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, outcomes, "an accepted session returns a non-nil result")
	assert.Equal(t, StatusExhausted, eng.Session().Status)
}

type memRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *memRecorder) Record(_ string, event string, _ interface{}) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func TestObserversAndRecorder(t *testing.T) {
	doc := htmlpage.MustParse("https://shop.example/checkout", checkoutHTML)
	doc.OnClick(acceptCodes(map[string]float64{"B": 1}))

	rec := &memRecorder{}
	var seen []TestOutcome
	var final Session
	eng := newEngine(doc, Config{},
		WithRecorder(rec),
		WithObserver(func(o TestOutcome) { seen = append(seen, o) }, func(s Session) { final = s }))

	_, err := eng.TestCandidates(context.Background(), candidates("A", "B"))
	require.NoError(t, err)

	assert.Len(t, seen, 2)
	assert.Equal(t, StatusSucceeded, final.Status)
	assert.Len(t, final.Outcomes, 2)
	assert.Equal(t, []string{"session_start", "candidate_tested", "candidate_tested", "session_end"}, rec.events)
}
