package discounts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dropfill/dropfill/internal/fulfill"
)

// Client asks the storefront-side collaborator to mint a one-time discount
// code that lets the customer check out at the target price.
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

type issueReq struct {
	ProductID   string          `json:"product_id"`
	CustomerID  string          `json:"customer_id"`
	TargetPrice decimal.Decimal `json:"target_price"`
}

type issueResp struct {
	Issued bool   `json:"issued"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (c *Client) Issue(ctx context.Context, productID, customerID string, target decimal.Decimal) (fulfill.IssueResult, error) {
	body, _ := json.Marshal(issueReq{ProductID: productID, CustomerID: customerID, TargetPrice: target})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/discount-codes", bytes.NewReader(body))
	if err != nil {
		return fulfill.IssueResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fulfill.IssueResult{}, fmt.Errorf("discount adapter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fulfill.IssueResult{}, fmt.Errorf("discount adapter: status %d", resp.StatusCode)
	}

	var out issueResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fulfill.IssueResult{}, fmt.Errorf("discount adapter: decode: %w", err)
	}
	return fulfill.IssueResult{
		Issued: out.Issued && resp.StatusCode < 300,
		Code:   out.Code,
		Reason: out.Reason,
	}, nil
}
