package http

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"segmentpam/internal/domain"
)

// /api/v1/subnets
func (s *Server) handleSubnets(w http.ResponseWriter, r *http.Request) {
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
		subnets, err := s.store.ListSubnets(r.Context(), networkID)
		if err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, subnets)
	case http.MethodPost:
		var in domain.CreateSubnet
		if err := decodeJSON(r, &in); err != nil {
			s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid json", "")
			return
		}
		sub, err := s.binder.CreateSubnet(r.Context(), in)
		if err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	default:
		s.methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// /api/v1/subnets/{id} and /api/v1/subnets/{id}/pools
func (s *Server) handleSubnetsSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/subnets/"), "/")
	if path == "" {
		s.writeErr(r.Context(), w, http.StatusNotFound, "not found", "")
		return
	}
	parts := strings.Split(path, "/")
	id, err := uuid.Parse(parts[0])
	if err != nil {
		s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid subnet id", "")
		return
	}

	if len(parts) == 2 && parts[1] == "pools" {
		s.handleSubnetPools(w, r, id)
		return
	}
	if len(parts) != 1 {
		s.writeErr(r.Context(), w, http.StatusNotFound, "not found", "")
		return
	}

	switch r.Method {
	case http.MethodGet:
		sub, ok, err := s.store.GetSubnet(r.Context(), id)
		if err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		if !ok {
			s.writeErr(r.Context(), w, http.StatusNotFound, "not found", "")
			return
		}
		writeJSON(w, http.StatusOK, sub)
	case http.MethodDelete:
		if err := s.binder.DeleteSubnet(r.Context(), id); err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// PUT /api/v1/subnets/{id}/pools replaces the subnet's allocation pools.
func (s *Server) handleSubnetPools(w http.ResponseWriter, r *http.Request, subnetID uuid.UUID) {
	if r.Method != http.MethodPut {
		s.methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var in struct {
		Pools []domain.AllocationPoolInput `json:"allocation_pools"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid json", "")
		return
	}
	sub, err := s.binder.UpdatePools(r.Context(), subnetID, in.Pools)
	if err != nil {
		s.writeDomainErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
