package server

import (
	"net/http"

	"github.com/wolfeidau/churnrunner/internal/api"
	"github.com/wolfeidau/churnrunner/internal/pipeline"
)

func (s *Server) train(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, err := pathUUID(r, "org")
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var req api.TrainRequest
	if err := s.decodeJSON(w, r, &req, true); err != nil {
		writeError(ctx, w, err)
		return
	}

	meta, err := s.pipeline.Train(ctx, orgID, pipeline.TrainRequest{ModelType: req.ModelType, Tune: req.Tune})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusAccepted, api.FromModel(meta))
}

func (s *Server) trainingStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, err := pathUUID(r, "org")
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	status, err := s.pipeline.TrainingStatus(ctx, orgID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, api.TrainingStatus(*status))
}
