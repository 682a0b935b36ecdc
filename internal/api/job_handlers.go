package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/profilehound/profilehound/internal/scrape"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

type asyncScrapeRequest struct {
	Token          *string `json:"token"`
	MaxRepos       *int    `json:"max_repos"`
	IncludeReadme  *bool   `json:"include_readme"`
	TruncateReadme *bool   `json:"truncate_readme"`
	TruncateLength *int    `json:"truncate_length"`
	ExportFormat   *string `json:"export_format"`
}

// submitAsyncScrape handles POST /v1/scrape/async/{username}. It enqueues a
// background job and answers 202 immediately; a full backlog answers 503.
// Options come from the optional JSON body, falling back to query parameters.
// An export format requests an automatic export on completion.
func (s *Server) submitAsyncScrape(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	opts := s.optionsFromRequest(r)
	formatRaw := strings.TrimSpace(r.URL.Query().Get("export_format"))

	if r.Body != nil && r.ContentLength != 0 {
		var req asyncScrapeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.Token != nil {
			opts.Token = *req.Token
		}
		if req.MaxRepos != nil {
			opts.MaxRepos = *req.MaxRepos
		}
		if req.IncludeReadme != nil {
			opts.IncludeReadme = *req.IncludeReadme
		}
		if req.TruncateReadme != nil {
			opts.TruncateReadme = *req.TruncateReadme
		}
		if req.TruncateLength != nil {
			opts.TruncateLength = *req.TruncateLength
		}
		if req.ExportFormat != nil {
			formatRaw = *req.ExportFormat
		}
	}

	var format scrape.ExportFormat
	if formatRaw != "" {
		format = scrape.ExportFormat(strings.ToLower(formatRaw))
		if !format.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid export format %q", formatRaw))
			return
		}
	}

	job, err := s.jobs.Submit(r.Context(), username, opts, format)
	if err != nil {
		s.logger.Warn("job submit failed", zap.String("username", username), zap.Error(err))
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":     job.ID,
		"status":     string(job.Status),
		"status_url": "/v1/jobs/" + job.ID,
	})
}

// listJobs handles GET /v1/jobs?status=&limit=. Jobs come back newest-first.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var status scrape.JobStatus
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status = scrape.JobStatus(strings.ToLower(raw))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", raw))
			return
		}
	}
	limit := parseInt(q.Get("limit"), defaultJobLimit)
	if limit > maxJobLimit {
		limit = maxJobLimit
	}
	jobs := s.jobs.List(status, limit)
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

// getJob handles GET /v1/jobs/{job_id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.Get(jobID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// deleteJob handles DELETE /v1/jobs/{job_id}. Running jobs answer 409.
func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.Delete(jobID); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "deleted"})
}

// cancelJob handles POST /v1/jobs/{job_id}/cancel. Terminal jobs answer 409.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.Cancel(jobID); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	job, err := s.jobs.Get(jobID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(job.Status)})
}

// jobStats handles GET /v1/jobs/stats.
func (s *Server) jobStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.Counts())
}
