package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapture_Approved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/captures", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "esc-1", req["escrow_reference"])
		_ = json.NewEncoder(w).Encode(map[string]any{"captured": true, "reference": "cap_42"})
	}))
	defer srv.Close()

	res, err := New(srv.URL, time.Second).Capture(context.Background(), "esc-1")
	require.NoError(t, err)
	assert.True(t, res.Captured)
	assert.Equal(t, "cap_42", res.Reference)
}

func TestCapture_Declined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{"captured": false, "reason": "card_declined"})
	}))
	defer srv.Close()

	res, err := New(srv.URL, time.Second).Capture(context.Background(), "esc-1")
	require.NoError(t, err, "a decline is a result, not an error")
	assert.False(t, res.Captured)
	assert.Equal(t, "card_declined", res.Reason)
}

func TestCapture_ServerFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Capture(context.Background(), "esc-1")
	assert.Error(t, err)
}

func TestCapture_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	_, err := New(srv.URL, time.Second).Capture(context.Background(), "esc-1")
	assert.Error(t, err)
}

func TestCapture_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(srv.URL, time.Second).Capture(ctx, "esc-1")
	assert.Error(t, err)
}
