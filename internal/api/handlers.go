package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

type startJobRequest struct {
	URL              string `json:"url"`
	MaxPages         *int   `json:"max_pages"`
	AllowBackward    bool   `json:"allow_backward"`
	RateLimitDelayMs *int64 `json:"rate_limit_delay_ms"`
}

type startJobResponse struct {
	JobID  string            `json:"job_id"`
	Status crawler.JobStatus `json:"status"`
}

// startJob handles POST /v1/jobs. It returns 202 with the job id, 400 for an
// invalid URL or scope, or 500 when the job cannot be queued.
func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	scope := s.service.DefaultScope()
	scope.AllowBackward = req.AllowBackward
	if req.MaxPages != nil {
		if *req.MaxPages <= 0 {
			writeError(w, http.StatusBadRequest, "max_pages must be > 0")
			return
		}
		scope.MaxPages = *req.MaxPages
	}
	if req.RateLimitDelayMs != nil {
		if *req.RateLimitDelayMs < 0 {
			writeError(w, http.StatusBadRequest, "rate_limit_delay_ms must be >= 0")
			return
		}
		scope.RateLimitDelay = time.Duration(*req.RateLimitDelayMs) * time.Millisecond
	}

	jobID, err := s.service.StartJob(r.Context(), strings.TrimSpace(req.URL), scope)
	if err != nil {
		s.writeServiceError(w, "start job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, startJobResponse{JobID: jobID, Status: crawler.JobStatusPending})
}

// listJobs handles GET /v1/jobs?status=&limit=&offset=.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var filter crawler.JobStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		filter, err = parseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	jobs, err := s.service.List(r.Context())
	if err != nil {
		s.writeServiceError(w, "list jobs", err)
		return
	}
	out := make([]crawler.JobSummary, 0, len(jobs))
	for _, job := range jobs {
		if filter != "" && job.Status != filter {
			continue
		}
		out = append(out, job)
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out, "total": total})
}

// getJobStatus handles GET /v1/jobs/{job_id}/status.
func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.service.Status(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, "job status", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// listPages handles GET /v1/jobs/{job_id}/pages.
func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pages, err := s.service.Pages(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, "list pages", err)
		return
	}
	if pages == nil {
		pages = []crawler.PageRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "pages": pages})
}

// getPage handles GET /v1/jobs/{job_id}/pages/{index}.
func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid page index")
		return
	}
	page, err := s.service.Page(r.Context(), jobID, index)
	if err != nil {
		s.writeServiceError(w, "get page", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// deleteJob handles DELETE /v1/jobs/{job_id}.
func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.service.Delete(r.Context(), jobID); err != nil {
		s.writeServiceError(w, "delete job", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "deleted": true})
}

func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, crawler.ErrInvalidURL), errors.Is(err, crawler.ErrInvalidScope):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, crawler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, crawler.ErrPageNotFound):
		writeError(w, http.StatusNotFound, "page not found")
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func parseJobID(r *http.Request) (string, error) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		return "", errors.New("job_id is required")
	}
	if _, err := uuid.Parse(jobID); err != nil {
		return "", errors.New("invalid job_id")
	}
	return jobID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (crawler.JobStatus, error) {
	switch status := crawler.JobStatus(strings.ToLower(input)); status {
	case crawler.JobStatusPending, crawler.JobStatusRunning, crawler.JobStatusCompleted, crawler.JobStatusFailed:
		return status, nil
	default:
		return "", errors.New("invalid status")
	}
}
