package fulfill

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Input-validation errors: rejected before anything is selected or mutated.
var (
	ErrInvalidPrice   = errors.New("price must be non-negative")
	ErrUnknownProduct = errors.New("unknown product")
)

// ErrStoreUnavailable means selection itself could not run; per-pledge
// collaborator failures never surface this, they degrade to failed attempts.
var ErrStoreUnavailable = errors.New("order store unavailable")

type Outcome string

const (
	OutcomeFulfilled Outcome = "fulfilled"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Attempt records what happened to one pledge during a fulfillment pass.
type Attempt struct {
	PledgeID    string   `json:"pledge_id"`
	Outcome     Outcome  `json:"outcome"`
	Reason      string   `json:"reason,omitempty"`
	SideEffects []string `json:"side_effects,omitempty"`
}

// Report is the result of one matchAndFulfill pass. Partial success is normal:
// failed attempts sit next to fulfilled ones and nothing here is an error.
type Report struct {
	ProductID      string          `json:"product_id"`
	NewPrice       decimal.Decimal `json:"new_price"`
	Attempts       []Attempt       `json:"attempts"`
	FulfilledCount int             `json:"fulfilled_count"`
	SkippedCount   int             `json:"skipped_count"`
	FailedCount    int             `json:"failed_count"`
}

func (r *Report) add(a Attempt) {
	r.Attempts = append(r.Attempts, a)
	switch a.Outcome {
	case OutcomeFulfilled:
		r.FulfilledCount++
	case OutcomeSkipped:
		r.SkippedCount++
	case OutcomeFailed:
		r.FailedCount++
	}
}

// CaptureResult is the outcome of capturing an escrowed payment. A decline is
// a value, not an error; errors are reserved for transport faults.
type CaptureResult struct {
	Captured  bool   `json:"captured"`
	Reference string `json:"reference,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// IssueResult is the outcome of minting a discount code.
type IssueResult struct {
	Issued bool   `json:"issued"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}
