package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dropfill/dropfill/internal/fulfill"
)

// Client talks to the payment escrow collaborator. Business declines come
// back as CaptureResult values; only transport and server faults are errors.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type captureReq struct {
	EscrowReference string `json:"escrow_reference"`
}

type captureResp struct {
	Captured  bool   `json:"captured"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

func (c *Client) Capture(ctx context.Context, escrowRef string) (fulfill.CaptureResult, error) {
	body, _ := json.Marshal(captureReq{EscrowReference: escrowRef})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/captures", bytes.NewReader(body))
	if err != nil {
		return fulfill.CaptureResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fulfill.CaptureResult{}, fmt.Errorf("payment adapter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fulfill.CaptureResult{}, fmt.Errorf("payment adapter: status %d", resp.StatusCode)
	}

	var out captureResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fulfill.CaptureResult{}, fmt.Errorf("payment adapter: decode: %w", err)
	}
	// 402/422 carry a decline reason in the same shape
	return fulfill.CaptureResult{
		Captured:  out.Captured && resp.StatusCode < 300,
		Reference: out.Reference,
		Reason:    out.Reason,
	}, nil
}
