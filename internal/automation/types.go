// Package automation tests discount codes against a live checkout page, one
// candidate at a time, and decides heuristically whether each one worked.
package automation

import "time"

// DiscountKind describes how a candidate's value is expressed.
type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountFixed      DiscountKind = "fixed"
)

// Candidate is a code to try. Candidates are tested in the order given.
type Candidate struct {
	Code          string       `json:"code"`
	Title         string       `json:"title,omitempty"`
	DiscountValue float64      `json:"discountValue,omitempty"`
	DiscountKind  DiscountKind `json:"discountType,omitempty"`
	SuccessRate   *float64     `json:"successRate,omitempty"`
	CouponID      string       `json:"couponId,omitempty"`
	StoreID       string       `json:"storeId,omitempty"`
}

// FailureReason says why a candidate did not apply.
type FailureReason string

const (
	ReasonNone                FailureReason = ""
	ReasonFieldNotFound       FailureReason = "FieldNotFound"
	ReasonApplyControlMissing FailureReason = "ApplyControlNotFound"
	ReasonActivationFailed    FailureReason = "ActivationFailed"
	ReasonRejected            FailureReason = "Rejected"
)

// TestOutcome is the result of one candidate. It is never modified after
// it is appended to a session.
type TestOutcome struct {
	Candidate       Candidate     `json:"candidate"`
	Success         bool          `json:"success"`
	SavingsObserved *float64      `json:"savingsObserved,omitempty"`
	FailureReason   FailureReason `json:"failureReason,omitempty"`
	Detail          string        `json:"detail,omitempty"`
	TestedAt        time.Time     `json:"testedAt"`
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusTesting   Status = "testing"
	StatusSucceeded Status = "succeeded"
	StatusExhausted Status = "exhausted"
)

// Session is a snapshot of the engine's current or last run.
type Session struct {
	ID          string        `json:"id"`
	Status      Status        `json:"status"`
	Outcomes    []TestOutcome `json:"outcomes"`
	ActiveIndex int           `json:"activeIndex"`
	StartedAt   time.Time     `json:"startedAt,omitempty"`
	EndedAt     time.Time     `json:"endedAt,omitempty"`
}

// Winner returns the successful outcome, if any.
func (s Session) Winner() (TestOutcome, bool) {
	if n := len(s.Outcomes); n > 0 && s.Outcomes[n-1].Success {
		return s.Outcomes[n-1], true
	}
	return TestOutcome{}, false
}
