package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Pusher handles HTTP communication with the segmentpam server.
type Pusher struct {
	serverURL string
	apiKey    string
	client    *http.Client
	logger    *slog.Logger
}

// NewPusher creates a new Pusher instance.
func NewPusher(serverURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Pusher {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return &Pusher{
		serverURL: serverURL,
		apiKey:    apiKey,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// ReportPhysnets reports the host's reachable physical networks with
// retry logic. The server converts the report into segment mappings.
func (p *Pusher) ReportPhysnets(ctx context.Context, host string, physnets []string, maxRetries int, backoff time.Duration) error {
	if physnets == nil {
		physnets = []string{}
	}
	body, err := json.Marshal(struct {
		PhysicalNetworks []string `json:"physical_networks"`
	}{PhysicalNetworks: physnets})
	if err != nil {
		return fmt.Errorf("marshal physnet report: %w", err)
	}

	endpoint := p.serverURL + "/api/v1/hosts/" + url.PathEscape(host) + "/physnets"
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Wait before retry (exponential backoff)
			delay := backoff * time.Duration(1<<uint(attempt-1))
			p.logger.Info("retrying physnet report", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		httpReq.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		resp, err := p.client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			p.logger.Error("physnet report failed", "error", lastErr, "attempt", attempt+1)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			_ = resp.Body.Close()
			p.logger.Info("reported physical networks", "host", host, "physnets", physnets)
			return nil
		}

		// Client error (4xx) - don't retry
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			var errBody struct {
				Error  string `json:"error"`
				Detail string `json:"detail"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&errBody)
			_ = resp.Body.Close()
			return fmt.Errorf("server rejected report (status %d): %s - %s", resp.StatusCode, errBody.Error, errBody.Detail)
		}

		// Server error (5xx) - retry
		_ = resp.Body.Close()
		lastErr = fmt.Errorf("server error (status %d)", resp.StatusCode)
		p.logger.Error("physnet report failed", "error", lastErr, "attempt", attempt+1)
	}

	return fmt.Errorf("physnet report failed after %d attempts: %w", maxRetries+1, lastErr)
}
