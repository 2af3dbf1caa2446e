package server

import (
	"fmt"
	"net/http"
	"path"
	"strconv"

	"github.com/google/uuid"

	"github.com/wolfeidau/churnrunner/internal/api"
	"github.com/wolfeidau/churnrunner/internal/dataset"
	"github.com/wolfeidau/churnrunner/internal/models"
)

func (s *Server) uploadDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, err := pathUUID(r, "org")
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	hasLabel, err := queryBool(r, "has_churn_label")
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	content, err := s.readBody(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	ds, err := s.pipeline.UploadDataset(ctx, dataset.UploadRequest{
		OrgID:         orgID,
		Filename:      uploadFilename(r),
		HasChurnLabel: hasLabel,
		Content:       content,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, api.FromDataset(ds))
}

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, err := pathUUID(r, "org")
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	list, err := s.pipeline.ListDatasets(ctx, orgID, models.DatasetType(r.URL.Query().Get("type")))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	out := make([]api.Dataset, 0, len(list))
	for _, ds := range list {
		out = append(out, api.FromDataset(ds))
	}
	writeJSON(ctx, w, http.StatusOK, api.DatasetList{Datasets: out})
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, datasetID, err := orgAndID(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	ds, err := s.pipeline.GetDataset(ctx, orgID, datasetID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, api.FromDataset(ds))
}

func (s *Server) downloadDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, datasetID, err := orgAndID(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	ds, content, err := s.pipeline.DownloadDataset(ctx, orgID, datasetID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	// dataset content is immutable once stored
	etag := strconv.Quote(ds.Checksum)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	if match := r.Header.Get("If-None-Match"); match != "" && (match == etag || match == "*") {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ds.DatasetID.String()+".csv"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (s *Server) processFeatures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, datasetID, err := orgAndID(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	job, err := s.pipeline.ProcessFeatures(ctx, orgID, datasetID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusAccepted, api.FromJob(job))
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, jobID, err := orgAndID(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	job, err := s.pipeline.GetJob(ctx, orgID, jobID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, api.FromJob(job))
}

// orgAndID parses the {org} and {id} path parameters.
func orgAndID(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	orgID, err := pathUUID(r, "org")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return orgID, id, nil
}

// uploadFilename returns the base name of the optional filename query parameter.
func uploadFilename(r *http.Request) string {
	name := r.URL.Query().Get("filename")
	if name == "" {
		return ""
	}
	return path.Base(name)
}
