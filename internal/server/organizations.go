package server

import (
	"net/http"

	"github.com/wolfeidau/churnrunner/internal/api"
)

func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CreateOrganizationRequest
	if err := s.decodeJSON(w, r, &req, false); err != nil {
		writeError(ctx, w, err)
		return
	}

	org, err := s.pipeline.CreateOrganization(ctx, req.Name, req.ChurnThresholdDays)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, api.FromOrganization(org))
}

func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, err := pathUUID(r, "org")
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	org, err := s.pipeline.GetOrganization(ctx, orgID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, api.FromOrganization(org))
}
