// Package downstream wires the admission-control filter chain (bulkhead,
// then breaker, then retry, then the HTTP client with a per-hop timeout
// bounded by the remaining deadline) into a single reusable client used
// by the order orchestrator to call payments and inventory.
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/meridian-commerce/backbone/internal/clock"
	"github.com/meridian-commerce/backbone/internal/resilience/breaker"
	"github.com/meridian-commerce/backbone/internal/resilience/bulkhead"
	"github.com/meridian-commerce/backbone/internal/resilience/deadline"
	"github.com/meridian-commerce/backbone/internal/resilience/retry"
)

// Client calls one downstream service through the full resilience chain.
type Client struct {
	httpClient *http.Client
	baseURL    string
	downstream string // the "to" label: "payments", "inventory"

	bulkhead    *bulkhead.Bulkhead
	breaker     *breaker.Breaker
	retryCfg    retry.Config
	deadlineCfg deadline.Config
	correlation CorrelationSource
	clock       clock.Clock
}

// CorrelationSource extracts the inbound correlation id to propagate to
// the downstream call, kept as an interface so this package doesn't
// depend on httpmw directly.
type CorrelationSource func(ctx context.Context) string

// Config bundles the knobs New needs for one downstream. Retry should
// already carry the Service label (e.g. via retry.DefaultConfig); PostJSON
// sets Downstream and Op per call, and Budget when ctx carries one.
type Config struct {
	Downstream  string
	BaseURL     string
	Bulkhead    bulkhead.Config
	Breaker     breaker.Config
	Retry       retry.Config
	Deadline    deadline.Config
	Correlation CorrelationSource
}

// New constructs a Client for one downstream.
func New(cfg Config) *Client {
	return &Client{
		httpClient:  &http.Client{},
		baseURL:     cfg.BaseURL,
		downstream:  cfg.Downstream,
		bulkhead:    bulkhead.New(cfg.Bulkhead),
		breaker:     breaker.New(cfg.Breaker),
		retryCfg:    cfg.Retry,
		deadlineCfg: cfg.Deadline,
		correlation: cfg.Correlation,
		clock:       clock.Real{},
	}
}

// Breaker exposes the underlying breaker for /status/breakers reporting.
func (c *Client) Breaker() *breaker.Breaker { return c.breaker }

// Bulkhead exposes the underlying bulkhead for diagnostics.
func (c *Client) Bulkhead() *bulkhead.Bulkhead { return c.bulkhead }

// PostJSON POSTs reqBody as JSON to path and decodes the response into
// respBody, running the whole call through bulkhead admission, then a
// breaker-gated, retried HTTP attempt. The deadline attached to ctx
// bounds every hop's read timeout; if it has already passed, the call
// fails immediately without acquiring a bulkhead slot.
func (c *Client) PostJSON(ctx context.Context, op, path, idempotencyKey string, reqBody, respBody any) error {
	if err := deadline.CheckNotExpired(ctx, c.clock); err != nil {
		return err
	}

	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}

	release, err := c.bulkhead.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	cfg := c.retryCfg
	cfg.Downstream = c.downstream
	cfg.Op = op
	if b := retry.BudgetFromContext(ctx); b != nil {
		cfg.Budget = b
	}

	// The breaker brackets the whole retried call: one Allow and one
	// recorded outcome per logical downstream call, no matter how many
	// attempts the retry engine ran inside it.
	raw, err := breaker.Do(c.breaker, func() ([]byte, error) {
		return retry.Do(ctx, cfg, func(ctx context.Context, attempt int) (retry.Result[[]byte], error) {
			return c.attempt(ctx, op, path, idempotencyKey, encoded)
		})
	})
	if err != nil {
		return err
	}
	if respBody != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, respBody); err != nil {
			return fmt.Errorf("decode %s response: %w", op, err)
		}
	}
	return nil
}

// attempt performs exactly one HTTP call with a per-hop timeout bounded
// by the remaining deadline. Breaker accounting lives one level up, in
// PostJSON's breaker.Do bracket.
func (c *Client) attempt(ctx context.Context, op, path, idempotencyKey string, body []byte) (retry.Result[[]byte], error) {
	hopCtx, cancel := deadline.HopTimeout(ctx, c.clock, c.deadlineCfg.ReadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(hopCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return retry.Result[[]byte]{}, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	deadline.WriteHeader(ctx, req.Header)
	if c.correlation != nil {
		if id := c.correlation(ctx); id != "" {
			req.Header.Set("X-Correlation-ID", id)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Result[[]byte]{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Result[[]byte]{}, fmt.Errorf("read %s response: %w", op, err)
	}

	return retry.Result[[]byte]{Value: raw, StatusCode: resp.StatusCode}, nil
}
