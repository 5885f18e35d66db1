// Package payments talks to the Paddle Billing API.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable is returned when the gateway cannot be reached or answers non-2xx.
var ErrUnavailable = errors.New("payment gateway unavailable")

// Item is one line of a checkout transaction.
type Item struct {
	PriceID  string `json:"price_id"`
	Quantity int    `json:"quantity"`
}

// TransactionRequest describes a checkout to open.
type TransactionRequest struct {
	Items      []Item
	CustomData map[string]string
	SuccessURL string
}

// Gateway is the contract the analysis service relies on.
type Gateway interface {
	CreateTransaction(ctx context.Context, req TransactionRequest) (string, error)
	VerifyTransaction(ctx context.Context, transactionID string) (bool, error)
}

type PaddleClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewPaddleClient(baseURL, apiKey string) *PaddleClient {
	return &PaddleClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type createTransactionBody struct {
	Items      []Item            `json:"items"`
	CustomData map[string]string `json:"custom_data,omitempty"`
	Checkout   *checkoutBody     `json:"checkout,omitempty"`
}

type checkoutBody struct {
	Settings checkoutSettings `json:"settings"`
}

type checkoutSettings struct {
	SuccessURL  string `json:"success_url,omitempty"`
	DisplayMode string `json:"display_mode"`
	Theme       string `json:"theme"`
}

type transactionEnvelope struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

func (c *PaddleClient) CreateTransaction(ctx context.Context, req TransactionRequest) (string, error) {
	body := createTransactionBody{
		Items:      req.Items,
		CustomData: req.CustomData,
		Checkout: &checkoutBody{Settings: checkoutSettings{
			SuccessURL:  req.SuccessURL,
			DisplayMode: "overlay",
			Theme:       "dark",
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal transaction: %w", err)
	}

	var env transactionEnvelope
	if err := c.do(ctx, http.MethodPost, "/transactions", payload, &env); err != nil {
		return "", err
	}
	if env.Data.ID == "" {
		return "", fmt.Errorf("%w: transaction id missing from response", ErrUnavailable)
	}
	return env.Data.ID, nil
}

// VerifyTransaction reports whether the gateway considers the transaction settled.
func (c *PaddleClient) VerifyTransaction(ctx context.Context, transactionID string) (bool, error) {
	var env transactionEnvelope
	if err := c.do(ctx, http.MethodGet, "/transactions/"+transactionID, nil, &env); err != nil {
		return false, err
	}
	return env.Data.Status == "completed" || env.Data.Status == "paid", nil
}

func (c *PaddleClient) do(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
