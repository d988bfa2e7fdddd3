package http

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"segmentpam/internal/domain"
)

// networkResponse augments a network with the derived l2_adjacency flag
// so clients can tell whether ports still share a broadcast domain.
type networkResponse struct {
	domain.Network
	L2Adjacency bool `json:"l2_adjacency"`
}

func toNetworkResponse(n domain.Network) networkResponse {
	return networkResponse{Network: n, L2Adjacency: n.L2Adjacency()}
}

// /api/v1/networks
func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		networks, err := s.registry.ListNetworks(r.Context())
		if err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		out := make([]networkResponse, 0, len(networks))
		for _, n := range networks {
			out = append(out, toNetworkResponse(n))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var in domain.CreateNetwork
		if err := decodeJSON(r, &in); err != nil {
			s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid json", "")
			return
		}
		n, err := s.registry.CreateNetwork(r.Context(), in)
		if err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toNetworkResponse(n))
	default:
		s.methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// /api/v1/networks/{id} and /api/v1/networks/{id}/segments
func (s *Server) handleNetworksSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/networks/"), "/")
	if path == "" {
		s.writeErr(r.Context(), w, http.StatusNotFound, "not found", "")
		return
	}
	parts := strings.Split(path, "/")
	id, err := uuid.Parse(parts[0])
	if err != nil {
		s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid network id", "")
		return
	}

	if len(parts) == 2 && parts[1] == "segments" {
		s.handleNetworkSegments(w, r, id)
		return
	}
	if len(parts) != 1 {
		s.writeErr(r.Context(), w, http.StatusNotFound, "not found", "")
		return
	}

	switch r.Method {
	case http.MethodGet:
		n, err := s.registry.GetNetwork(r.Context(), id)
		if err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, toNetworkResponse(n))
	case http.MethodDelete:
		if err := s.registry.DeleteNetwork(r.Context(), id); err != nil {
			s.writeDomainErr(r.Context(), w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// /api/v1/networks/{id}/segments
func (s *Server) handleNetworkSegments(w http.ResponseWriter, r *http.Request, networkID uuid.UUID) {
	switch r.Method {
	case http.MethodGet:
		if _, err := s.registry.GetNetwork(r.Context(), networkID); err != nil {
			s.writeDomainErr(r.Context(), w, err)
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
		in.NetworkID = networkID
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
