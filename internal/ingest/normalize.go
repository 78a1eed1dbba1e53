package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SourceShopify     = "shopify"
	SourceWooCommerce = "woocommerce"
	SourceStripe      = "stripe"
	SourceManual      = "manual"
)

// PriceChange is the single normalized fact every upstream signal becomes
// before it reaches the matcher. Signature verification happens upstream of
// this package.
type PriceChange struct {
	Source            string
	EventID           string
	ExternalProductID string
	MerchantID        string
	ProductName       string
	NewPrice          decimal.Decimal
	Currency          string
	OccurredAt        time.Time
}

func (pc PriceChange) Validate() error {
	if pc.Source == "" {
		return errors.New("missing source")
	}
	if pc.ExternalProductID == "" {
		return errors.New("missing product id")
	}
	if pc.NewPrice.IsNegative() {
		return fmt.Errorf("negative price %s", pc.NewPrice)
	}
	if pc.Currency == "" {
		return errors.New("missing currency")
	}
	return nil
}

// Shopify products/update: price lives on the first variant as a string.
type shopifyProduct struct {
	ID       json.Number `json:"id"`
	Title    string      `json:"title"`
	Variants []struct {
		Price string `json:"price"`
	} `json:"variants"`
}

func NormalizeShopify(eventID string, body []byte, currency string) (PriceChange, error) {
	var p shopifyProduct
	if err := json.Unmarshal(body, &p); err != nil {
		return PriceChange{}, fmt.Errorf("shopify payload: %w", err)
	}
	if p.ID.String() == "" || len(p.Variants) == 0 {
		return PriceChange{}, errors.New("shopify payload: missing id or variants")
	}
	price, err := decimal.NewFromString(p.Variants[0].Price)
	if err != nil {
		return PriceChange{}, fmt.Errorf("shopify price %q: %w", p.Variants[0].Price, err)
	}
	return PriceChange{
		Source:            SourceShopify,
		EventID:           eventID,
		ExternalProductID: p.ID.String(),
		ProductName:       p.Title,
		NewPrice:          price,
		Currency:          currency,
		OccurredAt:        time.Now().UTC(),
	}, nil
}

// WooCommerce product.updated.
type wooProduct struct {
	ID    json.Number `json:"id"`
	Name  string      `json:"name"`
	Price string      `json:"price"`
}

func NormalizeWooCommerce(eventID string, body []byte, currency string) (PriceChange, error) {
	var p wooProduct
	if err := json.Unmarshal(body, &p); err != nil {
		return PriceChange{}, fmt.Errorf("woocommerce payload: %w", err)
	}
	if p.ID.String() == "" || p.Price == "" {
		return PriceChange{}, errors.New("woocommerce payload: missing id or price")
	}
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return PriceChange{}, fmt.Errorf("woocommerce price %q: %w", p.Price, err)
	}
	return PriceChange{
		Source:            SourceWooCommerce,
		EventID:           eventID,
		ExternalProductID: p.ID.String(),
		ProductName:       p.Name,
		NewPrice:          price,
		Currency:          currency,
		OccurredAt:        time.Now().UTC(),
	}, nil
}

// Stripe price.updated event: amounts arrive in minor units.
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID         string `json:"id"`
			Product    string `json:"product"`
			UnitAmount int64  `json:"unit_amount"`
			Currency   string `json:"currency"`
		} `json:"object"`
	} `json:"data"`
}

func NormalizeStripe(body []byte) (PriceChange, error) {
	var ev stripeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return PriceChange{}, fmt.Errorf("stripe payload: %w", err)
	}
	if ev.Type != "price.updated" && ev.Type != "price.created" {
		return PriceChange{}, fmt.Errorf("stripe event type %q not a price change", ev.Type)
	}
	obj := ev.Data.Object
	if obj.Product == "" {
		return PriceChange{}, errors.New("stripe payload: missing product")
	}
	return PriceChange{
		Source:            SourceStripe,
		EventID:           ev.ID,
		ExternalProductID: obj.Product,
		NewPrice:          decimal.New(obj.UnitAmount, -2),
		Currency:          strings.ToUpper(obj.Currency),
		OccurredAt:        time.Now().UTC(),
	}, nil
}
