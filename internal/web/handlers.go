package web

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/formingest/internal/ingest"
	"github.com/JonMunkholm/formingest/internal/ledger"
	"github.com/JonMunkholm/formingest/internal/logging"
	"github.com/JonMunkholm/formingest/internal/web/templates"
)

const recentUploads = 10

// handleIndex renders the upload form with the latest uploads.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	recent, err := s.store.List(r.Context(), recentUploads)
	if err != nil {
		respondError(w, r, fmt.Errorf("list uploads: %w", err), http.StatusInternalServerError)
		return
	}

	info := templates.PageInfo{
		MaxFiles:      s.cfg.Ingest.MaxFiles,
		PartSizeLimit: s.cfg.Ingest.PartSizeLimit,
		TotalLimit:    s.cfg.Ingest.TotalSizeLimit,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.UploadPage(info, recent).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render upload page", "error", err)
	}
}

type healthResponse struct {
	Status  string               `json:"status"`
	Uploads ingest.LimiterStatus `json:"uploads"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{Status: "ok", Uploads: s.limiter.Status()})
}

// handleUpload runs once the ingest middleware handed off. Fields received
// so far are logged right away; files are only trusted after Wait. When Wait
// fails the handler returns without writing and the middleware answers.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ing := ingest.FromContext(r.Context())
	if ing == nil {
		respondError(w, r, ingest.ErrNotMultipart, http.StatusBadRequest)
		return
	}
	logger := logging.WithFields(r.Context(), "ingestion_id", ing.ID)
	logger.Debug("upload handed off",
		"early", ing.AlreadyContinued(),
		"fields", len(ing.Fields()),
	)

	if err := ing.Wait(r.Context()); err != nil {
		logger.Info("upload did not complete", "error", err)
		return
	}

	stored, err := s.storeFiles(ing)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	rec := ledger.FromIngestion(ing, r.RemoteAddr, stored)
	if err := s.store.Save(r.Context(), rec); err != nil {
		respondError(w, r, fmt.Errorf("save upload: %w", err), http.StatusInternalServerError)
		return
	}

	logger.Info("upload recorded",
		"files", len(rec.Files),
		"total_bytes", rec.TotalBytes,
	)
	writeJSON(w, r, http.StatusCreated, rec)
}

// storeFiles moves every file under StoreDirectory/<ingestion id>/. Without
// a store directory payloads are dropped when the request ends.
func (s *Server) storeFiles(ing *ingest.Ingestion) (map[*ingest.File]string, error) {
	dir := s.cfg.Ingest.StoreDirectory
	if dir == "" {
		return nil, nil
	}

	stored := make(map[*ingest.File]string)
	var err error
	i := 0
	ing.Files().Each(func(f *ingest.File) {
		if err != nil {
			return
		}
		dst := filepath.Join(dir, ing.ID, fmt.Sprintf("%03d-%s", i, filepath.Base(f.Name)))
		i++
		if moveErr := f.MoveTo(dst); moveErr != nil {
			err = fmt.Errorf("store %s: %w", f.Name, moveErr)
			return
		}
		stored[f] = dst
	})
	return stored, err
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, r, http.StatusBadRequest, ErrorResponse{
				Error:   "invalid limit",
				Message: "limit must be a positive integer",
				Code:    "ERR000",
			})
			return
		}
		limit = n
	}

	list, err := s.store.List(r.Context(), limit)
	if err != nil {
		respondError(w, r, fmt.Errorf("list uploads: %w", err), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []ledger.Summary{}
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ledger.ErrNotFound) {
			status = http.StatusNotFound
		}
		respondError(w, r, err, status)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}
