package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dropfill/dropfill/internal/fulfill"
	kafkax "github.com/dropfill/dropfill/internal/kafka"
	"github.com/dropfill/dropfill/internal/pledges"
	"github.com/dropfill/dropfill/internal/telemetry"
	kafkago "github.com/segmentio/kafka-go"
)

type ProductStore interface {
	GetProduct(ctx context.Context, id string) (pledges.Product, error)
	EnsureProduct(ctx context.Context, in pledges.Product) (pledges.Product, error)
	UpdatePrice(ctx context.Context, productID string, price decimal.Decimal, source, eventID string) (decimal.Decimal, error)
}

type Matcher interface {
	MatchAndFulfill(ctx context.Context, productID string, newPrice decimal.Decimal) (fulfill.Report, error)
}

type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// Ingestor turns a normalized PriceChange into durable state and a matcher
// pass: price first, matching second, so the matcher always matches against
// exactly what was persisted.
type Ingestor struct {
	Products ProductStore
	Matcher  Matcher
	Dedup    Deduper
	Events   fulfill.EventPublisher // price.changed; optional
	Service  string
}

// Apply handles an upstream (webhook) price change. The bool result is true
// when the event id was already processed: the caller should ack without
// re-matching, since a retried pass would be all-skipped anyway.
func (i *Ingestor) Apply(ctx context.Context, pc PriceChange) (fulfill.Report, bool, error) {
	if err := pc.Validate(); err != nil {
		telemetry.PriceEventsTotal.WithLabelValues(pc.Source, "invalid").Inc()
		return fulfill.Report{}, false, fmt.Errorf("invalid price change: %w", err)
	}

	if pc.EventID != "" && i.Dedup != nil {
		if seen, err := i.Dedup.Seen(ctx, pc.Source+":"+pc.EventID); err == nil && seen {
			telemetry.PriceEventsTotal.WithLabelValues(pc.Source, "duplicate").Inc()
			return fulfill.Report{}, true, nil
		}
	}

	product, err := i.Products.EnsureProduct(ctx, pledges.Product{
		MerchantID:   pc.MerchantID,
		Source:       pc.Source,
		ExternalID:   pc.ExternalProductID,
		Name:         pc.ProductName,
		CurrentPrice: pc.NewPrice,
		Currency:     pc.Currency,
	})
	if err != nil {
		return fulfill.Report{}, false, fmt.Errorf("ensure product: %w", err)
	}

	rep, err := i.apply(ctx, product.ID, pc)
	if err != nil {
		return fulfill.Report{}, false, err
	}

	if pc.EventID != "" && i.Dedup != nil {
		if err := i.Dedup.Mark(ctx, pc.Source+":"+pc.EventID); err != nil {
			slog.Warn("dedup mark failed", "event_id", pc.EventID, "err", err)
		}
	}
	return rep, false, nil
}

// ApplyManual handles a merchant-initiated price edit on an internal product
// id. Same code path as the webhook route past normalization.
func (i *Ingestor) ApplyManual(ctx context.Context, productID string, newPrice decimal.Decimal) (fulfill.Report, error) {
	if newPrice.IsNegative() {
		telemetry.PriceEventsTotal.WithLabelValues(SourceManual, "invalid").Inc()
		return fulfill.Report{}, fulfill.ErrInvalidPrice
	}
	product, err := i.Products.GetProduct(ctx, productID)
	if err != nil {
		return fulfill.Report{}, err
	}
	return i.apply(ctx, product.ID, PriceChange{
		Source:            SourceManual,
		ExternalProductID: product.ExternalID,
		NewPrice:          newPrice,
		Currency:          product.Currency,
		OccurredAt:        time.Now().UTC(),
	})
}

func (i *Ingestor) apply(ctx context.Context, productID string, pc PriceChange) (fulfill.Report, error) {
	// durable before matching; the matcher gets the persisted value
	persisted, err := i.Products.UpdatePrice(ctx, productID, pc.NewPrice, pc.Source, pc.EventID)
	if err != nil {
		return fulfill.Report{}, fmt.Errorf("persist price: %w", err)
	}

	i.publishPriceChanged(productID, pc, persisted)

	rep, err := i.Matcher.MatchAndFulfill(ctx, productID, persisted)
	if err != nil {
		return fulfill.Report{}, err
	}
	telemetry.PriceEventsTotal.WithLabelValues(pc.Source, "applied").Inc()
	slog.Info("price change applied",
		"product_id", productID, "source", pc.Source, "new_price", persisted.String(),
		"fulfilled", rep.FulfilledCount, "skipped", rep.SkippedCount, "failed", rep.FailedCount)
	return rep, nil
}

func (i *Ingestor) publishPriceChanged(productID string, pc PriceChange, persisted decimal.Decimal) {
	if i.Events == nil {
		return
	}
	ev := pledges.Envelope{
		EventID:       uuid.NewString(),
		EventType:     pledges.EventPriceChanged,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      i.Service,
		CorrelationID: productID,
		Payload: kafkax.MustMarshal(pledges.PriceChangedPayload{
			ProductID: productID,
			Source:    pc.Source,
			NewPrice:  persisted,
			Currency:  pc.Currency,
			EventID:   pc.EventID,
		}),
	}
	i.Events.Publish(pledges.PartitionKey(productID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(pledges.EventPriceChanged)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
