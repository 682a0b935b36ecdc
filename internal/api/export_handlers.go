package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/profilehound/profilehound/internal/scrape"
)

// exportJob handles POST and GET /v1/export/{job_id}/{format}. Exports are
// only valid for completed jobs; anything else answers 400.
func (s *Server) exportJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	format := scrape.ExportFormat(strings.ToLower(chi.URLParam(r, "format")))
	if !format.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid export format %q", chi.URLParam(r, "format")))
		return
	}

	files, err := s.exports.Export(jobID, format)
	if err != nil {
		s.logger.Warn("export failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, statusForError(err), err.Error())
		return
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"format": string(format),
		"files":  names,
	})
}

// listExportFiles handles GET /v1/jobs/{job_id}/files.
func (s *Server) listExportFiles(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	files, err := s.exports.Files(jobID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "files": names})
}

// downloadExport handles GET /v1/download/{job_id}/{filename}. Only files the
// named job produced may be fetched, and only from the export directory.
func (s *Server) downloadExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	filename := filepath.Base(chi.URLParam(r, "filename"))
	if !strings.HasPrefix(filename, jobID+"_") {
		writeError(w, http.StatusForbidden, "file does not belong to this job")
		return
	}

	files, err := s.exports.Files(jobID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	found := false
	for _, f := range files {
		if filepath.Base(f) == filename {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "export file not found")
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	http.ServeFile(w, r, filepath.Join(s.exportDir, filename))
}
