package pledges

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("not found")

type Product struct {
	ID           string          `json:"id"`
	MerchantID   string          `json:"merchant_id"`
	Source       string          `json:"source"` // shopify | woocommerce | stripe | manual
	ExternalID   string          `json:"external_id"`
	Name         string          `json:"name"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Currency     string          `json:"currency"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Pledge is a customer's conditional commitment: buy the product if its price
// drops to TargetPrice before ExpiresAt.
type Pledge struct {
	ID              string          `json:"id"`
	ExternalID      string          `json:"external_id"`
	MerchantID      string          `json:"merchant_id"`
	ProductID       string          `json:"product_id"`
	CustomerID      string          `json:"customer_id"`
	TargetPrice     decimal.Decimal `json:"target_price"`
	PriceAtCreation decimal.Decimal `json:"price_at_creation"`
	Currency        string          `json:"currency"`
	Status          Status          `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	EscrowRef       string          `json:"escrow_ref,omitempty"`
	DiscountCode    string          `json:"discount_code,omitempty"`
	ExpiresAt       time.Time       `json:"expires_at"`
	FulfilledAt     *time.Time      `json:"fulfilled_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type NewPledgeInput struct {
	ExternalID  string
	MerchantID  string
	CustomerID  string
	TargetPrice decimal.Decimal
	Currency    string
	EscrowRef   string
	ExpiresAt   time.Time
}

// NewPledge validates the input against the product and decides the initial
// state. A pledge whose target is already met never starts as monitoring: it
// becomes pending and must be fulfilled immediately by the caller.
func NewPledge(now time.Time, product Product, in NewPledgeInput) (Pledge, error) {
	if in.ExternalID == "" || in.CustomerID == "" {
		return Pledge{}, errors.New("external_id and customer_id are required")
	}
	if !in.TargetPrice.IsPositive() {
		return Pledge{}, fmt.Errorf("target price must be positive, got %s", in.TargetPrice)
	}
	if in.Currency != product.Currency {
		return Pledge{}, fmt.Errorf("currency %s does not match product currency %s", in.Currency, product.Currency)
	}
	if !in.ExpiresAt.After(now) {
		return Pledge{}, errors.New("expiry must be in the future")
	}

	status := StatusMonitoring
	if in.TargetPrice.GreaterThanOrEqual(product.CurrentPrice) {
		status = StatusPending
	}
	pay := PaymentNone
	if in.EscrowRef != "" {
		pay = PaymentAuthorized
	}

	return Pledge{
		ID:              uuid.NewString(),
		ExternalID:      in.ExternalID,
		MerchantID:      in.MerchantID,
		ProductID:       product.ID,
		CustomerID:      in.CustomerID,
		TargetPrice:     in.TargetPrice,
		PriceAtCreation: product.CurrentPrice,
		Currency:        in.Currency,
		Status:          status,
		PaymentStatus:   pay,
		EscrowRef:       in.EscrowRef,
		ExpiresAt:       in.ExpiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}
