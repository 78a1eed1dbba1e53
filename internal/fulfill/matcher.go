package fulfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	kafkax "github.com/dropfill/dropfill/internal/kafka"
	"github.com/dropfill/dropfill/internal/pledges"
	"github.com/dropfill/dropfill/internal/telemetry"
	kafkago "github.com/segmentio/kafka-go"
)

// OrderStore is the persistence contract the matcher drives. The conditional
// transition must be backed by an atomic compare-and-set at the storage layer;
// in-process locking is not enough once more than one instance runs.
type OrderStore interface {
	GetProduct(ctx context.Context, productID string) (pledges.Product, error)
	FindMonitoringPledges(ctx context.Context, productID string, maxTarget decimal.Decimal) ([]pledges.Pledge, error)
	TryTransitionToFulfilled(ctx context.Context, pledgeID string) (bool, error)
	RevertTransition(ctx context.Context, pledgeID string, prev pledges.Status) error
	RecordCapture(ctx context.Context, pledgeID, captureRef string) error
	RecordDiscount(ctx context.Context, pledgeID, code string) error
}

// PaymentAdapter captures a payment authorized up front. A decline comes back
// as a CaptureResult, not an error.
type PaymentAdapter interface {
	Capture(ctx context.Context, escrowRef string) (CaptureResult, error)
}

// DiscountAdapter mints a one-time discount code for the code-based
// fulfillment model.
type DiscountAdapter interface {
	Issue(ctx context.Context, productID, customerID string, target decimal.Decimal) (IssueResult, error)
}

// NotificationSink is fire-and-forget: a sink failure never changes a
// fulfillment outcome.
type NotificationSink interface {
	Enqueue(ctx context.Context, userID, kind string, payload any) error
}

// EventPublisher is satisfied by the kafka producer.
type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Matcher is the fulfillment core: given a product's new price it finds every
// monitoring pledge whose target is met, transitions each atomically and
// coordinates capture or code issuance, reverting on failure.
type Matcher struct {
	Store     OrderStore
	Payments  PaymentAdapter
	Discounts DiscountAdapter
	Notify    NotificationSink
	Events    EventPublisher // pledge.fulfilled; optional
	Service   string
	Timeout   time.Duration // bound on each adapter call
}

func (m *Matcher) timeout() time.Duration {
	if m.Timeout > 0 {
		return m.Timeout
	}
	return 5 * time.Second
}

// MatchAndFulfill runs one fulfillment pass. It only returns an error for
// input problems or when selection itself cannot run; per-pledge failures are
// absorbed into the report and never abort the batch. Re-invoking with the
// same product and price is safe: fulfilled pledges fall out of the selection
// predicate, so a webhook redelivery fulfills nothing further.
func (m *Matcher) MatchAndFulfill(ctx context.Context, productID string, newPrice decimal.Decimal) (Report, error) {
	if newPrice.IsNegative() {
		return Report{}, fmt.Errorf("%w: %s", ErrInvalidPrice, newPrice)
	}
	if _, err := m.Store.GetProduct(ctx, productID); err != nil {
		if errors.Is(err, pledges.ErrNotFound) {
			return Report{}, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
		}
		return Report{}, fmt.Errorf("%w: load product: %v", ErrStoreUnavailable, err)
	}

	eligible, err := m.Store.FindMonitoringPledges(ctx, productID, newPrice)
	if err != nil {
		return Report{}, fmt.Errorf("%w: select pledges: %v", ErrStoreUnavailable, err)
	}
	telemetry.EligiblePledges.Observe(float64(len(eligible)))

	rep := Report{ProductID: productID, NewPrice: newPrice}
	for _, p := range eligible {
		// committed attempts stand; cancellation only stops new ones
		if ctx.Err() != nil {
			break
		}
		rep.add(m.FulfillOne(ctx, p, newPrice))
	}
	return rep, nil
}

// FulfillOne attempts the transition for a single pledge. It is shared by the
// batch pass and by pledge creation when the target is already met (a pending
// pledge fulfilled inline).
func (m *Matcher) FulfillOne(ctx context.Context, p pledges.Pledge, matchedPrice decimal.Decimal) Attempt {
	at := Attempt{PledgeID: p.ID}

	won, err := m.Store.TryTransitionToFulfilled(ctx, p.ID)
	if err != nil {
		return m.finish(at, OutcomeFailed, "transition: "+err.Error())
	}
	if !won {
		// another actor handled it; expected under concurrency
		return m.finish(at, OutcomeSkipped, "already handled")
	}

	if p.EscrowRef != "" {
		res, err := m.capture(ctx, p.EscrowRef)
		if err != nil || !res.Captured {
			m.revert(p)
			return m.finish(at, OutcomeFailed, "capture: "+failReason(res.Reason, err))
		}
		if err := m.Store.RecordCapture(ctx, p.ID, res.Reference); err != nil {
			// money already moved: keep the fulfillment, flag the record
			slog.Error("record capture failed", "pledge_id", p.ID, "err", err)
			at.Reason = "capture recorded late: " + err.Error()
		}
		if res.Reference != "" {
			p.EscrowRef = res.Reference
		}
		at.SideEffects = append(at.SideEffects, "escrow_captured")
	} else {
		res, err := m.issue(ctx, p)
		if err != nil || !res.Issued {
			m.revert(p)
			return m.finish(at, OutcomeFailed, "issue: "+failReason(res.Reason, err))
		}
		if err := m.Store.RecordDiscount(ctx, p.ID, res.Code); err != nil {
			slog.Error("record discount failed", "pledge_id", p.ID, "err", err)
			at.Reason = "code recorded late: " + err.Error()
		}
		p.DiscountCode = res.Code
		at.SideEffects = append(at.SideEffects, "discount_issued")
	}

	m.notifyFulfilled(ctx, p, &at)
	m.publishFulfilled(p, matchedPrice)
	return m.finish(at, OutcomeFulfilled, at.Reason)
}

func (m *Matcher) finish(at Attempt, o Outcome, reason string) Attempt {
	at.Outcome, at.Reason = o, reason
	telemetry.FulfillAttemptsTotal.WithLabelValues(string(o)).Inc()
	return at
}

func (m *Matcher) capture(ctx context.Context, escrowRef string) (CaptureResult, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout())
	defer cancel()
	start := time.Now()
	res, err := m.Payments.Capture(ctx, escrowRef)
	telemetry.AdapterCallDuration.WithLabelValues("payment", callResult(res.Captured, err)).Observe(time.Since(start).Seconds())
	return res, err
}

func (m *Matcher) issue(ctx context.Context, p pledges.Pledge) (IssueResult, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout())
	defer cancel()
	start := time.Now()
	res, err := m.Discounts.Issue(ctx, p.ProductID, p.CustomerID, p.TargetPrice)
	telemetry.AdapterCallDuration.WithLabelValues("discount", callResult(res.Issued, err)).Observe(time.Since(start).Seconds())
	return res, err
}

// revert must run even when the pass context was cancelled mid-attempt, so it
// gets its own deadline.
func (m *Matcher) revert(p pledges.Pledge) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout())
	defer cancel()
	if err := m.Store.RevertTransition(ctx, p.ID, p.Status); err != nil {
		slog.Error("revert transition failed", "pledge_id", p.ID, "err", err)
	}
}

func (m *Matcher) notifyFulfilled(ctx context.Context, p pledges.Pledge, at *Attempt) {
	if m.Notify == nil {
		return
	}
	data := map[string]any{
		"pledge_id":    p.ID,
		"product_id":   p.ProductID,
		"target_price": p.TargetPrice,
		"currency":     p.Currency,
	}
	if err := m.Notify.Enqueue(ctx, p.CustomerID, pledges.NotifyPledgeFulfilled, data); err != nil {
		slog.Warn("customer notification dropped", "pledge_id", p.ID, "err", err)
	} else {
		at.SideEffects = append(at.SideEffects, "notified_customer")
	}
	if err := m.Notify.Enqueue(ctx, p.MerchantID, pledges.NotifyDemandRealized, data); err != nil {
		slog.Warn("merchant notification dropped", "pledge_id", p.ID, "err", err)
	} else {
		at.SideEffects = append(at.SideEffects, "notified_merchant")
	}
}

func (m *Matcher) publishFulfilled(p pledges.Pledge, matchedPrice decimal.Decimal) {
	if m.Events == nil {
		return
	}
	model, ref := "discount", p.DiscountCode
	if p.EscrowRef != "" {
		model, ref = "escrow", p.EscrowRef
	}
	ev := pledges.Envelope{
		EventID:       uuid.NewString(),
		EventType:     pledges.EventPledgeFulfilled,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      m.Service,
		CorrelationID: p.ID,
		Payload: kafkax.MustMarshal(pledges.PledgeFulfilledPayload{
			PledgeID:     p.ID,
			ProductID:    p.ProductID,
			MerchantID:   p.MerchantID,
			CustomerID:   p.CustomerID,
			TargetPrice:  p.TargetPrice,
			MatchedPrice: matchedPrice,
			Model:        model,
			Reference:    ref,
		}),
	}
	m.Events.Publish(pledges.PartitionKey(p.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(pledges.EventPledgeFulfilled)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func failReason(reason string, err error) string {
	if err != nil {
		return err.Error()
	}
	if reason == "" {
		return "declined"
	}
	return reason
}

func callResult(ok bool, err error) string {
	if err == nil && ok {
		return "ok"
	}
	return "failed"
}
