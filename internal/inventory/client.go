package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"segmentpam/internal/observability"
)

// HTTPClient is a PlacementClient over the placement service's REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	logger     observability.Logger
	maxRetries int
	backoff    time.Duration
}

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	// BaseURL is the placement service endpoint, without a trailing slash.
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Timeout bounds each individual HTTP request.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt for
	// transport errors and 5xx responses.
	MaxRetries int
	// Backoff is the base delay between retries, doubled per attempt.
	Backoff time.Duration
}

// NewHTTPClient creates a placement client for the given endpoint.
func NewHTTPClient(cfg HTTPClientConfig, logger observability.Logger) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Second
	}
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     logger.WithComponent("placement"),
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
	}
}

func (c *HTTPClient) providerURL(segmentID uuid.UUID) string {
	return fmt.Sprintf("%s/resource_providers/%s", c.baseURL, segmentID)
}

func (c *HTTPClient) inventoryURL(segmentID uuid.UUID) string {
	return fmt.Sprintf("%s/resource_providers/%s/inventories/%s", c.baseURL, segmentID, ResourceClassIPv4)
}

func (c *HTTPClient) aggregateURL(segmentID uuid.UUID) string {
	return fmt.Sprintf("%s/aggregates/%s", c.baseURL, segmentID)
}

// EnsureResourceProvider creates the provider for a segment if missing.
func (c *HTTPClient) EnsureResourceProvider(ctx context.Context, segmentID uuid.UUID, name string) error {
	body := struct {
		UUID string `json:"uuid"`
		Name string `json:"name"`
	}{UUID: segmentID.String(), Name: name}

	resp, err := c.do(ctx, http.MethodPut, c.providerURL(segmentID), body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return c.statusError(resp, "ensure resource provider")
}

// GetInventory returns the segment's IPv4 inventory record, if any.
func (c *HTTPClient) GetInventory(ctx context.Context, segmentID uuid.UUID) (Record, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, c.inventoryURL(segmentID), nil)
	if err != nil {
		return Record{}, false, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Record{}, false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var rec Record
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			return Record{}, false, fmt.Errorf("decode inventory: %w", err)
		}
		return rec, true, nil
	default:
		return Record{}, false, c.statusError(resp, "get inventory")
	}
}

// UpdateInventory upserts the segment's IPv4 inventory record.
func (c *HTTPClient) UpdateInventory(ctx context.Context, segmentID uuid.UUID, rec Record) error {
	resp, err := c.do(ctx, http.MethodPut, c.inventoryURL(segmentID), rec)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return ErrGenerationConflict
	case resp.StatusCode == http.StatusNotFound:
		return ErrProviderNotFound
	default:
		return c.statusError(resp, "update inventory")
	}
}

// DeleteInventory removes the segment's IPv4 inventory record.
func (c *HTTPClient) DeleteInventory(ctx context.Context, segmentID uuid.UUID) error {
	resp, err := c.do(ctx, http.MethodDelete, c.inventoryURL(segmentID), nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	return c.statusError(resp, "delete inventory")
}

// EnsureAggregate creates the segment's host aggregate if missing.
func (c *HTTPClient) EnsureAggregate(ctx context.Context, segmentID uuid.UUID, name string) error {
	body := struct {
		UUID string `json:"uuid"`
		Name string `json:"name"`
	}{UUID: segmentID.String(), Name: name}

	resp, err := c.do(ctx, http.MethodPut, c.aggregateURL(segmentID), body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return c.statusError(resp, "ensure aggregate")
}

// SetAggregateHosts replaces the hosts associated with the aggregate.
func (c *HTTPClient) SetAggregateHosts(ctx context.Context, segmentID uuid.UUID, hosts []string) error {
	body := struct {
		Hosts []string `json:"hosts"`
	}{Hosts: hosts}

	resp, err := c.do(ctx, http.MethodPut, c.aggregateURL(segmentID)+"/hosts", body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return c.statusError(resp, "set aggregate hosts")
}

// do performs one request with retries on transport errors and 5xx
// responses. 4xx responses are returned to the caller without retrying.
func (c *HTTPClient) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff * time.Duration(1<<uint(attempt-1))
			c.logger.Info("retrying placement request", "method", method, "url", url, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var reader *bytes.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			c.logger.Error("placement request failed", "error", lastErr, "attempt", attempt+1)
			continue
		}

		if resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("placement error (status %d)", resp.StatusCode)
			c.logger.Error("placement request failed", "error", lastErr, "attempt", attempt+1)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("placement request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// statusError drains a non-2xx response into an error.
func (c *HTTPClient) statusError(resp *http.Response, op string) error {
	var errBody struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errBody)
	return fmt.Errorf("%s failed (status %d): %s - %s", op, resp.StatusCode, errBody.Error, errBody.Detail)
}
