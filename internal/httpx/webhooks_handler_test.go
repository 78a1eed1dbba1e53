package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropfill/dropfill/internal/fulfill"
	"github.com/dropfill/dropfill/internal/ingest"
	"github.com/dropfill/dropfill/internal/pledges"
)

type fakeApplier struct {
	rep fulfill.Report
	dup bool
	err error
	got []ingest.PriceChange
}

func (f *fakeApplier) Apply(ctx context.Context, pc ingest.PriceChange) (fulfill.Report, bool, error) {
	f.got = append(f.got, pc)
	return f.rep, f.dup, f.err
}

func (f *fakeApplier) ApplyManual(ctx context.Context, productID string, newPrice decimal.Decimal) (fulfill.Report, error) {
	f.got = append(f.got, ingest.PriceChange{Source: ingest.SourceManual, ExternalProductID: productID, NewPrice: newPrice})
	return f.rep, f.err
}

func newWebhookServer(f *fakeApplier) *httptest.Server {
	r := NewRouter()
	(&WebhooksHandler{Ingest: f}).Register(r)
	return httptest.NewServer(r)
}

const shopifyBody = `{"id": 632910392, "title": "Widget", "variants": [{"price": "79.90"}]}`

func TestShopifyWebhook_AcksWithReport(t *testing.T) {
	f := &fakeApplier{rep: fulfill.Report{FulfilledCount: 2, FailedCount: 1}}
	srv := newWebhookServer(f)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/shopify", strings.NewReader(shopifyBody))
	req.Header.Set("X-Shopify-Webhook-Id", "wh-1")
	req.Header.Set("X-Merchant-Id", "merch-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// partial failure is still a processed event: the platform must not redeliver
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, f.got, 1)
	assert.Equal(t, "wh-1", f.got[0].EventID)
	assert.Equal(t, "merch-1", f.got[0].MerchantID)
	assert.Equal(t, "632910392", f.got[0].ExternalProductID)
}

func TestShopifyWebhook_MalformedPayload(t *testing.T) {
	f := &fakeApplier{}
	srv := newWebhookServer(f)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/webhooks/shopify", "application/json", strings.NewReader(`{"id": 1}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.got)
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	f := &fakeApplier{dup: true}
	srv := newWebhookServer(f)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/webhooks/shopify", "application/json", strings.NewReader(shopifyBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStripeWebhook(t *testing.T) {
	f := &fakeApplier{}
	srv := newWebhookServer(f)
	defer srv.Close()

	body := `{"id":"evt_1","type":"price.updated","data":{"object":{"product":"prod_x","unit_amount":500,"currency":"usd"}}}`
	resp, err := http.Post(srv.URL+"/webhooks/stripe", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, f.got, 1)
	assert.True(t, f.got[0].NewPrice.Equal(decimal.RequireFromString("5.00")))
}

func TestManualPrice(t *testing.T) {
	f := &fakeApplier{rep: fulfill.Report{FulfilledCount: 1}}
	srv := newWebhookServer(f)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/products/prod-1/price", "application/json", strings.NewReader(`{"price":"70.00"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, f.got, 1)
	assert.Equal(t, "prod-1", f.got[0].ExternalProductID)
}

func TestManualPrice_Negative(t *testing.T) {
	f := &fakeApplier{}
	srv := newWebhookServer(f)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/products/prod-1/price", "application/json", strings.NewReader(`{"price":"-1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.got)
}

func TestManualPrice_UnknownProduct(t *testing.T) {
	f := &fakeApplier{err: pledges.ErrNotFound}
	srv := newWebhookServer(f)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/products/nope/price", "application/json", strings.NewReader(`{"price":"1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhook_IngestError(t *testing.T) {
	f := &fakeApplier{err: errors.New("invalid price change: missing currency")}
	srv := newWebhookServer(f)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/webhooks/shopify", "application/json", strings.NewReader(shopifyBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
