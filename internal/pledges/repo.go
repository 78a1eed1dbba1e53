package pledges

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repo struct{ DB *pgxpool.Pool }

const pledgeColumns = `id, external_id, merchant_id, product_id, customer_id,
	target_price, price_at_creation, currency, status, payment_status,
	escrow_ref, discount_code, expires_at, fulfilled_at, created_at, updated_at`

func scanPledge(row pgx.Row) (Pledge, error) {
	var p Pledge
	var status, pay string
	err := row.Scan(&p.ID, &p.ExternalID, &p.MerchantID, &p.ProductID, &p.CustomerID,
		&p.TargetPrice, &p.PriceAtCreation, &p.Currency, &status, &pay,
		&p.EscrowRef, &p.DiscountCode, &p.ExpiresAt, &p.FulfilledAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Pledge{}, err
	}
	p.Status, p.PaymentStatus = Status(status), PaymentStatus(pay)
	return p, nil
}

// CreatePledge persists a pledge built by NewPledge. Idempotent via
// external_id: when the external id was seen before, the existing pledge is
// returned with existed=true and nothing is written.
func (r *Repo) CreatePledge(ctx context.Context, p Pledge) (Pledge, bool, error) {
	existing, err := scanPledge(r.DB.QueryRow(ctx,
		`SELECT `+pledgeColumns+` FROM pledges WHERE external_id=$1`, p.ExternalID))
	if err == nil {
		return existing, true, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return Pledge{}, false, err
	}

	_, err = r.DB.Exec(ctx, `
		INSERT INTO pledges(id, external_id, merchant_id, product_id, customer_id,
			target_price, price_at_creation, currency, status, payment_status,
			escrow_ref, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.ID, p.ExternalID, p.MerchantID, p.ProductID, p.CustomerID,
		p.TargetPrice, p.PriceAtCreation, p.Currency, string(p.Status), string(p.PaymentStatus),
		p.EscrowRef, p.ExpiresAt)
	if err != nil {
		return Pledge{}, false, err
	}
	return p, false, nil
}

func (r *Repo) GetPledge(ctx context.Context, id string) (Pledge, error) {
	p, err := scanPledge(r.DB.QueryRow(ctx,
		`SELECT `+pledgeColumns+` FROM pledges WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Pledge{}, ErrNotFound
	}
	return p, err
}

// FindMonitoringPledges selects every pledge for the product that is still
// monitoring and whose target is met by the new price. Ordered oldest-first so
// reports are deterministic; attempts remain independent.
func (r *Repo) FindMonitoringPledges(ctx context.Context, productID string, maxTarget decimal.Decimal) ([]Pledge, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+pledgeColumns+` FROM pledges
		WHERE product_id=$1 AND status='monitoring' AND target_price >= $2
		ORDER BY created_at`, productID, maxTarget)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Pledge
	for rows.Next() {
		p, err := scanPledge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TryTransitionToFulfilled is the single concurrency-control primitive of the
// matcher. The conditional update re-checks the state at write time; exactly
// one caller can win a race for the same pledge. False means another actor
// (a concurrent matcher pass, a cancel, the expiry sweep) got there first.
func (r *Repo) TryTransitionToFulfilled(ctx context.Context, id string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE pledges SET status='fulfilled', fulfilled_at=now(), updated_at=now()
		WHERE id=$1 AND status IN ('pending','monitoring')`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// RevertTransition undoes a transition this process performed after the
// side-effecting step failed. payment_status is left untouched so the pledge
// stays retryable on the next price event.
func (r *Repo) RevertTransition(ctx context.Context, id string, prev Status) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE pledges SET status=$2, fulfilled_at=NULL, updated_at=now()
		WHERE id=$1 AND status='fulfilled'`, id, string(prev))
	return err
}

func (r *Repo) RecordCapture(ctx context.Context, id, captureRef string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE pledges SET payment_status='captured', escrow_ref=$2, updated_at=now()
		WHERE id=$1`, id, captureRef)
	return err
}

func (r *Repo) RecordDiscount(ctx context.Context, id, code string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE pledges SET discount_code=$2, updated_at=now()
		WHERE id=$1`, id, code)
	return err
}

// CancelPledge is the customer-initiated terminal transition. Same CAS
// discipline as fulfillment; false means the pledge was already terminal.
func (r *Repo) CancelPledge(ctx context.Context, id string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE pledges SET status='cancelled', updated_at=now()
		WHERE id=$1 AND status IN ('pending','monitoring')`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

type ExpiredPledge struct {
	ID         string
	CustomerID string
}

// ExpireDue sweeps active pledges past their expiry into expired and
// returns them so the caller can notify the customers. Pending is included
// so a pledge whose inline attempt was reverted still terminates.
func (r *Repo) ExpireDue(ctx context.Context, now time.Time) ([]ExpiredPledge, error) {
	rows, err := r.DB.Query(ctx, `
		UPDATE pledges SET status='expired', updated_at=now()
		WHERE status IN ('pending','monitoring') AND expires_at <= $1
		RETURNING id, customer_id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExpiredPledge
	for rows.Next() {
		var e ExpiredPledge
		if err := rows.Scan(&e.ID, &e.CustomerID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
