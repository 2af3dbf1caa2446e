package server

import (
	"net/http"

	"github.com/wolfeidau/churnrunner/internal/api"
	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/dataset"
	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/pipeline"
)

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, err := pathUUID(r, "org")
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var req api.PredictRequest
	if err := s.decodeJSON(w, r, &req, false); err != nil {
		writeError(ctx, w, err)
		return
	}

	txns := make([]models.Transaction, 0, len(req.Transactions))
	for i, t := range req.Transactions {
		date, err := dataset.ParseDate(t.EventDate)
		if err != nil {
			writeError(ctx, w, apperrors.Validation("transactions[%d]: %v", i, err))
			return
		}
		txns = append(txns, models.Transaction{
			CustomerID: req.CustomerID,
			EventDate:  date,
			Amount:     t.Amount,
			EventType:  t.EventType,
		})
	}

	prediction, err := s.pipeline.PredictOne(ctx, orgID, pipeline.PredictRequest{
		CustomerID:   req.CustomerID,
		Transactions: txns,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, api.FromPrediction(prediction))
}

func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, err := pathUUID(r, "org")
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	content, err := s.readBody(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	batch, err := s.pipeline.PredictBatch(ctx, orgID, r.URL.Query().Get("name"), content)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusAccepted, api.FromBatch(batch))
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, batchID, err := orgAndID(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	batch, err := s.pipeline.GetBatch(ctx, orgID, batchID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, api.FromBatch(batch))
}

func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, err := pathUUID(r, "org")
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	page, err := s.pageQuery(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	batches, total, err := s.pipeline.ListBatches(ctx, orgID, page.Limit, page.Offset)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	items := make([]api.Batch, 0, len(batches))
	for _, b := range batches {
		items = append(items, api.FromBatch(b))
	}
	writeJSON(ctx, w, http.StatusOK, api.Page[api.Batch]{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset})
}

func (s *Server) listPredictions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, batchID, err := orgAndID(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	page, err := s.pageQuery(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	predictions, total, err := s.pipeline.ListPredictions(ctx, orgID, batchID, page.Limit, page.Offset)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	items := make([]api.Prediction, 0, len(predictions))
	for _, p := range predictions {
		items = append(items, api.FromPrediction(p))
	}
	writeJSON(ctx, w, http.StatusOK, api.Page[api.Prediction]{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset})
}

// pageQuery reads limit and offset, defaulting the limit to 100.
func (s *Server) pageQuery(r *http.Request) (pageQuery, error) {
	var page pageQuery
	var err error
	if page.Limit, err = queryInt(r, "limit", 100); err != nil {
		return page, err
	}
	if page.Offset, err = queryInt(r, "offset", 0); err != nil {
		return page, err
	}
	return page, s.validateStruct(&page)
}
