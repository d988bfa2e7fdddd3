// Package http exposes the REST API for segmentpam: networks, segments,
// subnets, ports, and host/segment mappings, plus health and metrics
// endpoints. Routing uses a plain ServeMux with per-resource handlers.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"

	"segmentpam/internal/ipam"
	"segmentpam/internal/observability"
	"segmentpam/internal/ports"
	"segmentpam/internal/segments"
	"segmentpam/internal/storage"
)

type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) { s.status = code; s.ResponseWriter.WriteHeader(code) }

// Server wires the HTTP routes to the registry, binder, allocator, and
// port resolver. All handlers share the same storage.Store.
type Server struct {
	mux       *http.ServeMux
	store     storage.Store
	registry  *segments.Registry
	binder    *ipam.Binder
	allocator *ipam.Allocator
	resolver  *ports.Resolver
	logger    observability.Logger
	metrics   *observability.Metrics
}

// NewServer creates a new HTTP server with the given dependencies.
// If logger is nil, a default logger will be used.
// If metrics is nil, metrics collection is disabled.
func NewServer(mux *http.ServeMux, store storage.Store, registry *segments.Registry, binder *ipam.Binder, allocator *ipam.Allocator, resolver *ports.Resolver, logger observability.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return &Server{
		mux:       mux,
		store:     store,
		registry:  registry,
		binder:    binder,
		allocator: allocator,
		resolver:  resolver,
		logger:    logger,
		metrics:   metrics,
	}
}

// RegisterRoutes registers all HTTP routes on the server's mux.
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
	s.mux.HandleFunc("/api/v1/networks", s.handleNetworks)
	s.mux.HandleFunc("/api/v1/networks/", s.handleNetworksSubroutes)
	s.mux.HandleFunc("/api/v1/segments", s.handleSegments)
	s.mux.HandleFunc("/api/v1/segments/", s.handleSegmentsSubroutes)
	s.mux.HandleFunc("/api/v1/subnets", s.handleSubnets)
	s.mux.HandleFunc("/api/v1/subnets/", s.handleSubnetsSubroutes)
	s.mux.HandleFunc("/api/v1/ports", s.handlePorts)
	s.mux.HandleFunc("/api/v1/ports/", s.handlePortsSubroutes)
	s.mux.HandleFunc("/api/v1/hosts/", s.handleHostsSubroutes)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeErr(ctx context.Context, w http.ResponseWriter, code int, msg string, detail string) {
	fields := []any{
		"status", code,
		"error", msg,
	}
	if detail != "" {
		fields = append(fields, "detail", detail)
	}
	fields = appendRequestID(ctx, fields)
	if code >= 500 {
		s.logger.ErrorContext(ctx, "request failed", fields...)
		sentry.CaptureMessage(fmt.Sprintf("HTTP %d: %s (detail: %s)", code, msg, detail))
	} else {
		s.logger.WarnContext(ctx, "request failed", fields...)
	}
	writeJSON(w, code, apiError{Error: msg, Detail: detail})
}

// writeDomainErr maps a domain-layer error to the appropriate HTTP status
// code and writes the error response. Every registry, binder, allocator,
// and resolver error wraps one of the package sentinels, so errors.Is
// covers the full surface; anything unrecognized becomes a 500.
func (s *Server) writeDomainErr(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeErr(ctx, w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, storage.ErrValidation),
		errors.Is(err, segments.ErrInvalidSegmentationID),
		errors.Is(err, ipam.ErrInvalidSegmentReference),
		errors.Is(err, ipam.ErrGatewayInPool):
		s.writeErr(ctx, w, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, storage.ErrConflict),
		errors.Is(err, segments.ErrDuplicatePhysicalNetwork),
		errors.Is(err, segments.ErrSegmentInUse),
		errors.Is(err, segments.ErrNetworkInUse),
		errors.Is(err, ipam.ErrSegmentBindingMismatch),
		errors.Is(err, ipam.ErrSubnetOverlap),
		errors.Is(err, ipam.ErrAddressNotAvailable),
		errors.Is(err, ipam.ErrPoolExhausted),
		errors.Is(err, ports.ErrNoReachableSegment),
		errors.Is(err, ports.ErrAllocationFailed):
		s.writeErr(ctx, w, http.StatusConflict, err.Error(), "")
	default:
		s.writeErr(ctx, w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", joinMethods(allowed))
	s.writeErr(r.Context(), w, http.StatusMethodNotAllowed, "method not allowed", "")
}

func joinMethods(methods []string) string {
	out := ""
	for i, m := range methods {
		if i > 0 {
			out += ", "
		}
		out += m
	}
	return out
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
