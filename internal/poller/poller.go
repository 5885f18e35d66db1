// Package poller drives the client side of payment confirmation: it retries
// confirm-payment while the gateway has not caught up, then polls status
// until the analysis is terminal.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/contractear/contractear-api/internal/dto"
	"github.com/google/uuid"
)

var ErrNotConfirmed = errors.New("payment not confirmed yet")

// APIError is a non-retryable answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

type Poller struct {
	baseURL         string
	token           string
	client          *http.Client
	confirmAttempts int
	interval        time.Duration
	sleep           func(ctx context.Context, d time.Duration) error
}

type Option func(*Poller)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Poller) { p.client = c }
}

// WithSchedule sets how many confirm attempts are made and the wait between polls.
func WithSchedule(attempts int, interval time.Duration) Option {
	return func(p *Poller) {
		if attempts > 0 {
			p.confirmAttempts = attempts
		}
		p.interval = interval
	}
}

func New(baseURL, token string, opts ...Option) *Poller {
	p := &Poller{
		baseURL:         strings.TrimRight(baseURL, "/"),
		token:           token,
		client:          &http.Client{Timeout: 15 * time.Second},
		confirmAttempts: 15,
		interval:        2 * time.Second,
		sleep:           sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ConfirmAndWait returns the terminal view of the analysis.
func (p *Poller) ConfirmAndWait(ctx context.Context, id uuid.UUID) (*dto.AnalysisView, error) {
	if err := p.Confirm(ctx, id); err != nil {
		return nil, err
	}
	return p.Wait(ctx, id)
}

// Confirm retries while the API answers 402 or 503.
func (p *Poller) Confirm(ctx context.Context, id uuid.UUID) error {
	payload, _ := json.Marshal(dto.AnalysisIDRequest{AnalysisID: id.String()})
	for attempt := 1; attempt <= p.confirmAttempts; attempt++ {
		status, body, err := p.do(ctx, http.MethodPost, "/api/confirm-payment", payload)
		if err != nil {
			return err
		}
		switch status {
		case http.StatusOK:
			return nil
		case http.StatusPaymentRequired, http.StatusServiceUnavailable:
			if attempt < p.confirmAttempts {
				if err := p.sleep(ctx, p.interval); err != nil {
					return err
				}
			}
		default:
			return apiError(status, body)
		}
	}
	return ErrNotConfirmed
}

// Wait polls the public status view until it reports completed or error.
func (p *Poller) Wait(ctx context.Context, id uuid.UUID) (*dto.AnalysisView, error) {
	path := "/api/analysis?id=" + url.QueryEscape(id.String())
	for {
		status, body, err := p.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, apiError(status, body)
		}
		var view dto.AnalysisView
		if err := json.Unmarshal(body, &view); err != nil {
			return nil, fmt.Errorf("decode status: %w", err)
		}
		if view.Status == "completed" || view.Status == "error" {
			return &view, nil
		}
		if err := p.sleep(ctx, p.interval); err != nil {
			return nil, err
		}
	}
}

func (p *Poller) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

func apiError(status int, body []byte) error {
	var e dto.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: e.Message}
}
