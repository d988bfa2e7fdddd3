package http

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"segmentpam/internal/validation"
)

// /api/v1/hosts/{host}/segments and /api/v1/hosts/{host}/physnets
func (s *Server) handleHostsSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/hosts/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		s.writeErr(r.Context(), w, http.StatusNotFound, "not found", "")
		return
	}
	host := parts[0]
	if err := validation.ValidateHost(host); err != nil {
		s.writeErr(r.Context(), w, http.StatusBadRequest, err.Error(), "")
		return
	}

	switch parts[1] {
	case "segments":
		s.handleHostSegments(w, r, host)
	case "physnets":
		s.handleHostPhysnets(w, r, host)
	default:
		s.writeErr(r.Context(), w, http.StatusNotFound, "not found", "")
	}
}

// GET lists segments reachable from the host. PUT maps the host to a
// segment; DELETE removes the mapping. Both take {"segment_id": "..."}.
func (s *Server) handleHostSegments(w http.ResponseWriter, r *http.Request, host string) {
	switch r.Method {
	case http.MethodGet:
		segs, err := s.registry.SegmentsForHost(r.Context(), host)
		if err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, segs)
	case http.MethodPut, http.MethodDelete:
		var in struct {
			SegmentID uuid.UUID `json:"segment_id"`
		}
		if err := decodeJSON(r, &in); err != nil {
			s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid json", "")
			return
		}
		if in.SegmentID == uuid.Nil {
			s.writeErr(r.Context(), w, http.StatusBadRequest, "segment_id is required", "")
			return
		}
		if r.Method == http.MethodPut {
			if _, err := s.registry.GetSegment(r.Context(), in.SegmentID); err != nil {
				s.writeDomainErr(r.Context(), w, err)
				return
			}
			if err := s.registry.MapHost(r.Context(), host, in.SegmentID); err != nil {
				s.writeDomainErr(r.Context(), w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err := s.registry.UnmapHost(r.Context(), host, in.SegmentID); err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// PUT /api/v1/hosts/{host}/physnets replaces the host's mappings from an
// agent report of reachable physical networks.
func (s *Server) handleHostPhysnets(w http.ResponseWriter, r *http.Request, host string) {
	if r.Method != http.MethodPut {
		s.methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var in struct {
		PhysicalNetworks []string `json:"physical_networks"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid json", "")
		return
	}
	for _, p := range in.PhysicalNetworks {
		if err := validation.ValidatePhysicalNetwork(p); err != nil {
			s.writeErr(r.Context(), w, http.StatusBadRequest, err.Error(), "")
			return
		}
	}
	if err := s.registry.ReportHostPhysnets(r.Context(), host, in.PhysicalNetworks); err != nil {
		s.writeDomainErr(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
