package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropfill/dropfill/internal/fulfill"
	"github.com/dropfill/dropfill/internal/pledges"
)

type fakePledgeStore struct {
	byExternal map[string]pledges.Pledge
	byID       map[string]pledges.Pledge
}

func newFakePledgeStore() *fakePledgeStore {
	return &fakePledgeStore{byExternal: map[string]pledges.Pledge{}, byID: map[string]pledges.Pledge{}}
}

func (f *fakePledgeStore) CreatePledge(ctx context.Context, p pledges.Pledge) (pledges.Pledge, bool, error) {
	if existing, ok := f.byExternal[p.ExternalID]; ok {
		return existing, true, nil
	}
	f.byExternal[p.ExternalID] = p
	f.byID[p.ID] = p
	return p, false, nil
}

func (f *fakePledgeStore) GetPledge(ctx context.Context, id string) (pledges.Pledge, error) {
	p, ok := f.byID[id]
	if !ok {
		return pledges.Pledge{}, pledges.ErrNotFound
	}
	return p, nil
}

func (f *fakePledgeStore) CancelPledge(ctx context.Context, id string) (bool, error) {
	p, ok := f.byID[id]
	if !ok || !p.Status.Active() {
		return false, nil
	}
	p.Status = pledges.StatusCancelled
	f.byID[id] = p
	return true, nil
}

type fakeProductGetter struct{ product pledges.Product }

func (f *fakeProductGetter) GetProduct(ctx context.Context, id string) (pledges.Product, error) {
	if id != f.product.ID {
		return pledges.Product{}, pledges.ErrNotFound
	}
	return f.product, nil
}

type fakeFulfiller struct {
	calls   int
	outcome fulfill.Outcome
}

func (f *fakeFulfiller) FulfillOne(ctx context.Context, p pledges.Pledge, matchedPrice decimal.Decimal) fulfill.Attempt {
	f.calls++
	return fulfill.Attempt{PledgeID: p.ID, Outcome: f.outcome}
}

func newPledgeServer() (*httptest.Server, *fakePledgeStore, *fakeFulfiller) {
	store := newFakePledgeStore()
	matcher := &fakeFulfiller{outcome: fulfill.OutcomeFulfilled}
	r := NewRouter()
	(&PledgesHandler{
		Pledges: store,
		Products: &fakeProductGetter{product: pledges.Product{
			ID: "prod-1", CurrentPrice: decimal.RequireFromString("100.00"), Currency: "USD",
		}},
		Matcher: matcher,
		Service: "test",
	}).Register(r)
	return httptest.NewServer(r), store, matcher
}

func createBody(externalID, target string) string {
	return `{
		"external_id": "` + externalID + `",
		"product_id": "prod-1",
		"customer_id": "cust-1",
		"target_price": "` + target + `",
		"currency": "USD",
		"expires_at": "` + time.Now().Add(720*time.Hour).Format(time.RFC3339) + `"
	}`
}

func postJSON(t *testing.T, url, body string) (*http.Response, CreatePledgeResp) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var out CreatePledgeResp
	_ = json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	return resp, out
}

func TestCreatePledge_Monitoring(t *testing.T) {
	srv, _, matcher := newPledgeServer()
	defer srv.Close()

	resp, out := postJSON(t, srv.URL+"/pledges", createBody("ext-1", "80.00"))

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, pledges.StatusMonitoring, out.Status)
	assert.False(t, out.Idempotent)
	assert.Equal(t, 0, matcher.calls, "a strictly conditional pledge is not fulfilled inline")
}

func TestCreatePledge_TargetAlreadyMetFulfillsInline(t *testing.T) {
	srv, _, matcher := newPledgeServer()
	defer srv.Close()

	resp, out := postJSON(t, srv.URL+"/pledges", createBody("ext-2", "110.00"))

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, matcher.calls)
	assert.Equal(t, pledges.StatusFulfilled, out.Status)
	require.NotNil(t, out.Attempt)
	assert.Equal(t, fulfill.OutcomeFulfilled, out.Attempt.Outcome)
}

func TestCreatePledge_Idempotent(t *testing.T) {
	srv, _, matcher := newPledgeServer()
	defer srv.Close()

	_, first := postJSON(t, srv.URL+"/pledges", createBody("ext-3", "80.00"))
	_, second := postJSON(t, srv.URL+"/pledges", createBody("ext-3", "80.00"))

	assert.False(t, first.Idempotent)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.PledgeID, second.PledgeID)
	assert.Equal(t, 0, matcher.calls)
}

func TestCreatePledge_Validation(t *testing.T) {
	srv, _, _ := newPledgeServer()
	defer srv.Close()

	resp, _ := postJSON(t, srv.URL+"/pledges", `{"external_id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/pledges", createBody("ext-4", "-5.00"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreatePledge_UnknownProduct(t *testing.T) {
	srv, _, _ := newPledgeServer()
	defer srv.Close()

	body := strings.Replace(createBody("ext-5", "80.00"), "prod-1", "nope", 1)
	resp, _ := postJSON(t, srv.URL+"/pledges", body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetPledge(t *testing.T) {
	srv, store, _ := newPledgeServer()
	defer srv.Close()

	_, created := postJSON(t, srv.URL+"/pledges", createBody("ext-6", "80.00"))

	resp, err := http.Get(srv.URL + "/pledges/" + created.PledgeID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/pledges/missing")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)

	_, ok := store.byID[created.PledgeID]
	assert.True(t, ok)
}

func TestCancelPledge(t *testing.T) {
	srv, _, _ := newPledgeServer()
	defer srv.Close()

	_, created := postJSON(t, srv.URL+"/pledges", createBody("ext-7", "80.00"))

	resp, err := http.Post(srv.URL+"/pledges/"+created.PledgeID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// second cancel hits a terminal pledge
	resp, err = http.Post(srv.URL+"/pledges/"+created.PledgeID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreatePledge_RetryReattemptsPendingPledge(t *testing.T) {
	srv, _, matcher := newPledgeServer()
	defer srv.Close()

	// inline attempt fails and is reverted: the pledge stays pending
	matcher.outcome = fulfill.OutcomeFailed
	_, first := postJSON(t, srv.URL+"/pledges", createBody("ext-retry", "110.00"))
	assert.Equal(t, pledges.StatusPending, first.Status)
	assert.Equal(t, 1, matcher.calls)

	// the redelivered create must try again, not just echo the stored row
	matcher.outcome = fulfill.OutcomeFulfilled
	_, second := postJSON(t, srv.URL+"/pledges", createBody("ext-retry", "110.00"))
	assert.True(t, second.Idempotent)
	assert.Equal(t, 2, matcher.calls)
	assert.Equal(t, pledges.StatusFulfilled, second.Status)
}
