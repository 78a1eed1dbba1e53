package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/dropfill/dropfill/internal/fulfill"
	kafkax "github.com/dropfill/dropfill/internal/kafka"
	"github.com/dropfill/dropfill/internal/pledges"
	"github.com/dropfill/dropfill/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
)

type PledgeStore interface {
	CreatePledge(ctx context.Context, p pledges.Pledge) (pledges.Pledge, bool, error)
	GetPledge(ctx context.Context, id string) (pledges.Pledge, error)
	CancelPledge(ctx context.Context, id string) (bool, error)
}

type ProductGetter interface {
	GetProduct(ctx context.Context, id string) (pledges.Product, error)
}

type OneFulfiller interface {
	FulfillOne(ctx context.Context, p pledges.Pledge, matchedPrice decimal.Decimal) fulfill.Attempt
}

type PledgesHandler struct {
	Pledges  PledgeStore
	Products ProductGetter
	Matcher  OneFulfiller
	Producer *kafkax.Producer // pledge.created; optional
	Redis    *redis.Client    // status cache + idempotency shortcut; optional
	Service  string
}

func (h *PledgesHandler) Register(r *chi.Mux) {
	r.Post("/pledges", h.createPledge)
	r.Get("/pledges/{id}", h.getPledge)
	r.Post("/pledges/{id}/cancel", h.cancelPledge)
	r.Get("/products/{id}", h.getProduct)
}

type CreatePledgeReq struct {
	ExternalID  string          `json:"external_id"`
	MerchantID  string          `json:"merchant_id"`
	ProductID   string          `json:"product_id"`
	CustomerID  string          `json:"customer_id"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Currency    string          `json:"currency"`
	EscrowRef   string          `json:"escrow_ref"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

type CreatePledgeResp struct {
	PledgeID   string           `json:"pledge_id"`
	Status     pledges.Status   `json:"status"`
	Idempotent bool             `json:"idempotent"`
	Attempt    *fulfill.Attempt `json:"attempt,omitempty"`
}

func (h *PledgesHandler) createPledge(w http.ResponseWriter, r *http.Request) {
	var req CreatePledgeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ExternalID == "" || req.ProductID == "" || req.CustomerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	product, err := h.Products.GetProduct(ctx, req.ProductID)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}

	p, err := pledges.NewPledge(time.Now().UTC(), product, pledges.NewPledgeInput{
		ExternalID:  req.ExternalID,
		MerchantID:  req.MerchantID,
		CustomerID:  req.CustomerID,
		TargetPrice: req.TargetPrice,
		Currency:    req.Currency,
		EscrowRef:   req.EscrowRef,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	created, existed, err := h.Pledges.CreatePledge(ctx, p)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := CreatePledgeResp{PledgeID: created.ID, Status: created.Status, Idempotent: existed}

	// target already met at creation: fulfill inline through the one shared
	// path. An idempotent retry re-attempts a pledge still stuck in pending
	// (the earlier inline attempt failed and was reverted).
	if created.Status == pledges.StatusPending {
		at := h.Matcher.FulfillOne(ctx, created, product.CurrentPrice)
		resp.Attempt = &at
		if at.Outcome == fulfill.OutcomeFulfilled {
			resp.Status = pledges.StatusFulfilled
		}
	}

	h.cacheStatus(ctx, created.ID, resp.Status)
	if h.Redis != nil {
		idemKey := fmt.Sprintf(redisx.KeyIdemPledgeCreate, req.ExternalID)
		_ = h.Redis.Set(ctx, idemKey, created.ID, redisx.TTLIdempotency).Err()
	}
	if !existed {
		h.publishCreated(created, resp.Status, r.Header.Get("X-Request-Id"))
	}

	writeJSON(w, http.StatusAccepted, resp)
}

func (h *PledgesHandler) getPledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache first
	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyPledgeStatus, id)
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	p, err := h.Pledges.GetPledge(ctx, id)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	h.cacheStatus(ctx, p.ID, p.Status)
	writeJSON(w, http.StatusOK, p)
}

func (h *PledgesHandler) cancelPledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ok, err := h.Pledges.CancelPledge(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "pledge is no longer active"})
		return
	}
	h.cacheStatus(ctx, id, pledges.StatusCancelled)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(pledges.StatusCancelled)})
}

func (h *PledgesHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Products.GetProduct(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PledgesHandler) cacheStatus(ctx context.Context, id string, s pledges.Status) {
	if h.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyPledgeStatus, id)
	_ = h.Redis.Set(ctx, key, fmt.Sprintf(`{"status":%q}`, s), redisx.TTLStatusCache).Err()
}

func (h *PledgesHandler) publishCreated(p pledges.Pledge, status pledges.Status, traceID string) {
	if h.Producer == nil {
		return
	}
	ev := pledges.Envelope{
		EventID:       uuid.NewString(),
		EventType:     pledges.EventPledgeCreated,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       traceID,
		CorrelationID: p.ID,
		Payload: kafkax.MustMarshal(pledges.PledgeCreatedPayload{
			PledgeID:    p.ID,
			ExternalID:  p.ExternalID,
			ProductID:   p.ProductID,
			CustomerID:  p.CustomerID,
			TargetPrice: p.TargetPrice,
			Currency:    p.Currency,
			Status:      status,
		}),
	}
	h.Producer.Publish(pledges.PartitionKey(p.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(pledges.EventPledgeCreated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pledges.ErrNotFound), errors.Is(err, fulfill.ErrUnknownProduct):
		return http.StatusNotFound
	case errors.Is(err, fulfill.ErrInvalidPrice):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
