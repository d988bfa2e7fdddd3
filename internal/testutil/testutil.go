// Package testutil provides testing utilities for integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	segmentpamhttp "segmentpam/internal/http"
	"segmentpam/internal/inventory"
	"segmentpam/internal/ipam"
	"segmentpam/internal/observability"
	"segmentpam/internal/ports"
	"segmentpam/internal/segments"
	"segmentpam/internal/storage"
)

// TestServerConfig holds configuration for creating a test server.
type TestServerConfig struct {
	// EnableRateLimit enables rate limiting middleware.
	EnableRateLimit bool
	// RateLimitConfig configures rate limiting if enabled.
	RateLimitConfig segmentpamhttp.RateLimitConfig
	// EnableMetrics enables metrics collection.
	EnableMetrics bool
	// EnablePlacement wires an in-memory placement service and a running
	// inventory publisher into the domain services.
	EnablePlacement bool
}

// DefaultTestServerConfig returns a basic test server configuration.
func DefaultTestServerConfig() TestServerConfig {
	return TestServerConfig{
		EnableRateLimit: false,
		EnableMetrics:   false,
		EnablePlacement: false,
	}
}

// TestServerComponents holds all the components created for a test server.
type TestServerComponents struct {
	// Server is the test HTTP server.
	Server *httptest.Server
	// Store is the storage backend.
	Store *storage.MemoryStore
	// Registry manages networks and segments.
	Registry *segments.Registry
	// Binder manages subnet-segment bindings.
	Binder *ipam.Binder
	// Allocator hands out addresses.
	Allocator *ipam.Allocator
	// Resolver drives the port lifecycle.
	Resolver *ports.Resolver
	// Placement is the in-memory placement double, nil unless enabled.
	Placement *inventory.MemoryPlacement
	// Publisher syncs segment inventories, nil unless placement is enabled.
	Publisher *inventory.Publisher
	// Metrics is the metrics collector, nil unless enabled.
	Metrics *observability.Metrics
	// Logger is the structured logger.
	Logger observability.Logger
	// Cleanup tears down the test server.
	Cleanup func()
}

// NewTestServer creates a fully configured test server with all dependencies.
// It returns the server components and a cleanup function.
func NewTestServer(t *testing.T, cfg TestServerConfig) *TestServerComponents {
	t.Helper()

	store := storage.NewMemoryStore()

	// Discard log output in tests.
	logger := observability.NewLogger(observability.Config{
		Level:  "debug",
		Format: "json",
		Output: io.Discard,
	})

	var metrics *observability.Metrics
	if cfg.EnableMetrics {
		metrics = observability.NewMetrics(observability.MetricsConfig{
			Namespace: "segmentpam_test",
			Version:   "test",
		})
	}

	var placement *inventory.MemoryPlacement
	var publisher *inventory.Publisher
	var segNotifier segments.Notifier
	var ipamNotifier ipam.Notifier

	if cfg.EnablePlacement {
		placement = inventory.NewMemoryPlacement()
		publisher = inventory.NewPublisher(store, placement, logger, metrics, inventory.DefaultPublisherConfig())
		publisher.Start()
		segNotifier = publisher
		ipamNotifier = publisher
	}

	registry := segments.NewRegistry(store, logger, segNotifier)
	binder := ipam.NewBinder(store, logger, registry, ipamNotifier)
	allocator := ipam.NewAllocator(store, logger, metrics, ipamNotifier)
	resolver := ports.NewResolver(store, allocator, logger, metrics, nil)

	mux := http.NewServeMux()
	srv := segmentpamhttp.NewServer(mux, store, registry, binder, allocator, resolver, logger, metrics)
	srv.RegisterRoutes()

	var handler http.Handler = mux

	if cfg.EnableRateLimit {
		handler = segmentpamhttp.RateLimitMiddleware(cfg.RateLimitConfig, logger.Slog())(handler)
	}
	if cfg.EnableMetrics && metrics != nil {
		handler = observability.MetricsMiddleware(metrics)(handler)
	}
	handler = segmentpamhttp.RequestIDMiddleware()(handler)
	handler = segmentpamhttp.LoggingMiddleware(logger.Slog())(handler)

	testServer := httptest.NewServer(handler)

	cleanup := func() {
		testServer.Close()
		if publisher != nil {
			publisher.Close()
		}
		_ = store.Close()
	}

	return &TestServerComponents{
		Server:    testServer,
		Store:     store,
		Registry:  registry,
		Binder:    binder,
		Allocator: allocator,
		Resolver:  resolver,
		Placement: placement,
		Publisher: publisher,
		Metrics:   metrics,
		Logger:    logger,
		Cleanup:   cleanup,
	}
}

// DoRequest performs an HTTP request and returns the response.
func DoRequest(t *testing.T, client *http.Client, req *http.Request) *http.Response {
	t.Helper()

	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	return resp
}

// AssertStatus checks that the response has the expected status code.
func AssertStatus(t *testing.T, got, expected int) {
	t.Helper()

	if got != expected {
		t.Errorf("expected status %d, got %d", expected, got)
	}
}

// AssertContains checks that the response body contains the expected string.
func AssertContains(t *testing.T, body io.Reader, expected string) {
	t.Helper()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	if !bytes.Contains(data, []byte(expected)) {
		t.Errorf("expected body to contain %q, got: %s", expected, string(data))
	}
}

// AssertHeader checks that the response has the expected header value.
func AssertHeader(t *testing.T, resp *http.Response, key, expected string) {
	t.Helper()

	got := resp.Header.Get(key)
	if got != expected {
		t.Errorf("expected header %s=%q, got %q", key, expected, got)
	}
}

// AssertHeaderExists checks that the response has the specified header.
func AssertHeaderExists(t *testing.T, resp *http.Response, key string) {
	t.Helper()

	if resp.Header.Get(key) == "" {
		t.Errorf("expected header %s to exist", key)
	}
}

// JSONBody creates an io.Reader from a JSON-serializable value.
func JSONBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}

	return bytes.NewReader(data)
}

// ReadJSONResponse reads and unmarshals a JSON response body.
func ReadJSONResponse(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("failed to unmarshal response: %v\nBody: %s", err, string(data))
	}
}

// HTTPClient returns the test server's client configured for the server.
func (c *TestServerComponents) HTTPClient() *http.Client {
	return c.Server.Client()
}

// URL returns the full URL for a given path.
func (c *TestServerComponents) URL(path string) string {
	return c.Server.URL + path
}
