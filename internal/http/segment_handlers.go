package http

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"segmentpam/internal/domain"
	"segmentpam/internal/inventory"
)

// segmentInventoryResponse is the computed IPv4 inventory for a segment,
// mirroring the record published to the placement service.
type segmentInventoryResponse struct {
	SegmentID     uuid.UUID `json:"segment_id"`
	ResourceClass string    `json:"resource_class"`
	domain.Inventory
}

// /api/v1/segments
func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
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
		segs, err := s.registry.ListSegments(r.Context(), networkID)
		if err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, segs)
	case http.MethodPost:
		var in domain.CreateSegment
		if err := decodeJSON(r, &in); err != nil {
			s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid json", "")
			return
		}
		seg, err := s.registry.CreateSegment(r.Context(), in)
		if err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusCreated, seg)
	default:
		s.methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// /api/v1/segments/{id}, /api/v1/segments/{id}/inventory,
// /api/v1/segments/{id}/hosts
func (s *Server) handleSegmentsSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/segments/"), "/")
	if path == "" {
		s.writeErr(r.Context(), w, http.StatusNotFound, "not found", "")
		return
	}
	parts := strings.Split(path, "/")
	id, err := uuid.Parse(parts[0])
	if err != nil {
		s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid segment id", "")
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "inventory":
			s.handleSegmentInventory(w, r, id)
		case "hosts":
			s.handleSegmentHosts(w, r, id)
		default:
			s.writeErr(r.Context(), w, http.StatusNotFound, "not found", "")
		}
		return
	}
	if len(parts) != 1 {
		s.writeErr(r.Context(), w, http.StatusNotFound, "not found", "")
		return
	}

	switch r.Method {
	case http.MethodGet:
		seg, err := s.registry.GetSegment(r.Context(), id)
		if err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, seg)
	case http.MethodDelete:
		if err := s.registry.DeleteSegment(r.Context(), id); err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// GET /api/v1/segments/{id}/inventory
func (s *Server) handleSegmentInventory(w http.ResponseWriter, r *http.Request, segmentID uuid.UUID) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, err := s.registry.GetSegment(r.Context(), segmentID); err != nil {
		s.writeDomainErr(r.Context(), w, err)
		return
	}
	subnets, err := s.store.ListSubnetsBySegment(r.Context(), segmentID)
	if err != nil {
		s.writeDomainErr(r.Context(), w, err)
		return
	}
	allocations := make(map[uuid.UUID][]domain.Allocation, len(subnets))
	for _, sub := range subnets {
		allocs, err := s.store.ListAllocations(r.Context(), sub.ID)
		if err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		allocations[sub.ID] = allocs
	}
	inv, _ := inventory.Compute(subnets, allocations)
	writeJSON(w, http.StatusOK, segmentInventoryResponse{
		SegmentID:     segmentID,
		ResourceClass: inventory.ResourceClassIPv4,
		Inventory:     inv,
	})
}

// GET /api/v1/segments/{id}/hosts
func (s *Server) handleSegmentHosts(w http.ResponseWriter, r *http.Request, segmentID uuid.UUID) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, err := s.registry.GetSegment(r.Context(), segmentID); err != nil {
		s.writeDomainErr(r.Context(), w, err)
		return
	}
	hosts, err := s.registry.HostsForSegment(r.Context(), segmentID)
	if err != nil {
		s.writeDomainErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hosts": hosts})
}
