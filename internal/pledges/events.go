package pledges

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventPledgeCreated   = "PledgeCreated"
	EventPledgeFulfilled = "PledgeFulfilled"
	EventPriceChanged    = "PriceChanged"
	EventNotifyRequested = "NotifyRequested"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "pledge-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually pledge_id or product_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- per-event payloads ----

type PledgeCreatedPayload struct {
	PledgeID    string          `json:"pledge_id"`
	ExternalID  string          `json:"external_id"`
	ProductID   string          `json:"product_id"`
	CustomerID  string          `json:"customer_id"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Currency    string          `json:"currency"`
	Status      Status          `json:"status"`
}

type PledgeFulfilledPayload struct {
	PledgeID     string          `json:"pledge_id"`
	ProductID    string          `json:"product_id"`
	MerchantID   string          `json:"merchant_id"`
	CustomerID   string          `json:"customer_id"`
	TargetPrice  decimal.Decimal `json:"target_price"`
	MatchedPrice decimal.Decimal `json:"matched_price"`
	Model        string          `json:"model"` // escrow | discount
	Reference    string          `json:"reference,omitempty"`
}

type PriceChangedPayload struct {
	ProductID string          `json:"product_id"`
	Source    string          `json:"source"`
	NewPrice  decimal.Decimal `json:"new_price"`
	Currency  string          `json:"currency"`
	EventID   string          `json:"upstream_event_id,omitempty"`
}

// Notification kinds carried in NotifyRequestPayload.Kind.
const (
	NotifyPledgeFulfilled = "pledge_fulfilled"       // to the customer
	NotifyDemandRealized  = "pledge_demand_realized" // to the merchant
	NotifyPledgeExpired   = "pledge_expired"         // to the customer
)

type NotifyRequestPayload struct {
	UserID string          `json:"user_id"`
	Kind   string          `json:"kind"`
	Data   json.RawMessage `json:"data,omitempty"`
}
