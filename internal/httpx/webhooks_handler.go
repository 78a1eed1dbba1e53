package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/dropfill/dropfill/internal/fulfill"
	"github.com/dropfill/dropfill/internal/ingest"
)

// PriceApplier is the ingestor surface the webhook routes need.
type PriceApplier interface {
	Apply(ctx context.Context, pc ingest.PriceChange) (fulfill.Report, bool, error)
	ApplyManual(ctx context.Context, productID string, newPrice decimal.Decimal) (fulfill.Report, error)
}

type WebhooksHandler struct {
	Ingest PriceApplier
}

func (h *WebhooksHandler) Register(r *chi.Mux) {
	r.Post("/webhooks/shopify", h.shopify)
	r.Post("/webhooks/woocommerce", h.woocommerce)
	r.Post("/webhooks/stripe", h.stripe)
	r.Post("/products/{id}/price", h.manualPrice)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type ackResp struct {
	Received  bool            `json:"received"`
	Duplicate bool            `json:"duplicate,omitempty"`
	Report    *fulfill.Report `json:"report,omitempty"`
}

// apply runs one normalized event and writes the webhook ack. The ack is a
// success even when some pledges failed to capture: the event itself was
// processed and the platform must not redeliver for that.
func (h *WebhooksHandler) apply(w http.ResponseWriter, r *http.Request, pc ingest.PriceChange) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rep, dup, err := h.Ingest.Apply(ctx, pc)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if dup {
		writeJSON(w, http.StatusOK, ackResp{Received: true, Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResp{Received: true, Report: &rep})
}

func (h *WebhooksHandler) shopify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	pc, err := ingest.NormalizeShopify(
		r.Header.Get("X-Shopify-Webhook-Id"), body,
		headerOr(r, "X-Shop-Currency", "USD"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	pc.MerchantID = r.Header.Get("X-Merchant-Id")
	h.apply(w, r, pc)
}

func (h *WebhooksHandler) woocommerce(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	pc, err := ingest.NormalizeWooCommerce(
		r.Header.Get("X-WC-Webhook-Delivery-ID"), body,
		headerOr(r, "X-Shop-Currency", "USD"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	pc.MerchantID = r.Header.Get("X-Merchant-Id")
	h.apply(w, r, pc)
}

func (h *WebhooksHandler) stripe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	pc, err := ingest.NormalizeStripe(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	pc.MerchantID = r.Header.Get("X-Merchant-Id")
	h.apply(w, r, pc)
}

type manualPriceReq struct {
	Price decimal.Decimal `json:"price"`
}

func (h *WebhooksHandler) manualPrice(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")
	var req manualPriceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Price.IsNegative() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "price must be non-negative"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rep, err := h.Ingest.ApplyManual(ctx, productID, req.Price)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResp{Received: true, Report: &rep})
}

func headerOr(r *http.Request, key, def string) string {
	if v := r.Header.Get(key); v != "" {
		return v
	}
	return def
}
