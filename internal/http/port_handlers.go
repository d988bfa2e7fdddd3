package http

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"segmentpam/internal/domain"
)

// /api/v1/ports
func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		raw := strings.TrimSpace(r.URL.Query().Get("network_id"))
		if raw == "" {
			s.writeErr(r.Context(), w, http.StatusBadRequest, "network_id is required", "")
			return
		}
		networkID, err := uuid.Parse(raw)
		if err != nil {
			s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid network_id", "")
			return
		}
		list, err := s.resolver.ListPorts(r.Context(), networkID)
		if err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var in domain.CreatePort
		if err := decodeJSON(r, &in); err != nil {
			s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid json", "")
			return
		}
		port, err := s.resolver.CreatePort(r.Context(), in)
		if err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusCreated, port)
	default:
		s.methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// /api/v1/ports/{id} and /api/v1/ports/{id}/binding
func (s *Server) handlePortsSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/ports/"), "/")
	if path == "" {
		s.writeErr(r.Context(), w, http.StatusNotFound, "not found", "")
		return
	}
	parts := strings.Split(path, "/")
	id, err := uuid.Parse(parts[0])
	if err != nil {
		s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid port id", "")
		return
	}

	if len(parts) == 2 && parts[1] == "binding" {
		s.handlePortBinding(w, r, id)
		return
	}
	if len(parts) != 1 {
		s.writeErr(r.Context(), w, http.StatusNotFound, "not found", "")
		return
	}

	switch r.Method {
	case http.MethodGet:
		port, err := s.resolver.GetPort(r.Context(), id)
		if err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, port)
	case http.MethodDelete:
		if err := s.resolver.DeletePort(r.Context(), id); err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// PUT /api/v1/ports/{id}/binding binds the port to a host, completing any
// deferred IP allocation. DELETE unbinds and returns deferred addresses
// to their pools.
func (s *Server) handlePortBinding(w http.ResponseWriter, r *http.Request, portID uuid.UUID) {
	switch r.Method {
	case http.MethodPut:
		var in struct {
			Host string `json:"host"`
		}
		if err := decodeJSON(r, &in); err != nil {
			s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid json", "")
			return
		}
		in.Host = strings.TrimSpace(in.Host)
		if in.Host == "" {
			s.writeErr(r.Context(), w, http.StatusBadRequest, "host is required", "")
			return
		}
		port, err := s.resolver.BindHost(r.Context(), portID, in.Host)
		if err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, port)
	case http.MethodDelete:
		port, err := s.resolver.UnbindHost(r.Context(), portID)
		if err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, port)
	default:
		s.methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}
