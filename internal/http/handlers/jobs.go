package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/vipplay/content-backend/internal/domain"
	"github.com/vipplay/content-backend/internal/repository"
	"github.com/vipplay/content-backend/internal/service"
)

type submitRequest struct {
	UserID  string          `json:"user_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Jobs handles the collection route: submission and listing.
func (api *API) Jobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		api.submitJob(w, r)
	case http.MethodGet:
		api.listJobs(w, r)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// JobByID handles /v1/jobs/{id} and /v1/jobs/{id}/cancel.
func (api *API) JobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	rest = strings.Trim(rest, "/")

	if jobID, found := strings.CutSuffix(rest, "/cancel"); found {
		api.cancelJob(w, r, strings.Trim(jobID, "/"))
		return
	}
	api.jobStatus(w, r, rest)
}

func (api *API) submitJob(w http.ResponseWriter, r *http.Request) {
	var request submitRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	job, err := api.jobsService.Submit(r.Context(), service.SubmitRequest{
		UserID:  request.UserID,
		Type:    domain.JobType(request.Type),
		Payload: request.Payload,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, domain.ErrQuotaExceeded):
			writeError(w, r, http.StatusTooManyRequests, "quota_exceeded", "too many active jobs for this user")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to submit job")
		}
		return
	}

	// Fallback submissions come back terminal; return the full document so
	// the caller does not need a status poll that would never change.
	if job.Status.Terminal() {
		writeJSON(w, http.StatusOK, jobDocument(job))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"created_at": job.CreatedAt,
	})
}

func (api *API) jobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	job, err := api.jobsService.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}

	writeJSON(w, http.StatusOK, jobDocument(job))
}

func (api *API) cancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	if err := api.jobsService.Cancel(r.Context(), jobID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to cancel job")
		return
	}

	job, err := api.jobsService.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (api *API) listJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.JobListFilter{
		UserID:   strings.TrimSpace(query.Get("user_id")),
		Type:     domain.JobType(strings.TrimSpace(query.Get("type"))),
		Page:     parseIntOr(query.Get("page"), 1),
		PageSize: parseIntOr(query.Get("page_size"), 20),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown job type")
		return
	}

	items, total, err := api.jobsService.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list jobs")
		return
	}

	data := make([]map[string]any, 0, len(items))
	for _, item := range items {
		data = append(data, map[string]any{
			"job_id":     item.JobID,
			"type":       item.Type,
			"status":     item.Status,
			"created_at": item.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": data,
		"meta": map[string]any{
			"total":     total,
			"page":      filter.Page,
			"page_size": filter.PageSize,
		},
	})
}

func jobDocument(job *domain.Job) map[string]any {
	document := map[string]any{
		"job_id":     job.ID,
		"type":       job.Type,
		"status":     job.Status,
		"attempts":   job.Attempts,
		"created_at": job.CreatedAt,
	}
	if job.StartedAt != nil {
		document["started_at"] = job.StartedAt
	}
	if job.CompletedAt != nil {
		document["completed_at"] = job.CompletedAt
	}
	if len(job.Result) > 0 {
		document["result"] = jsonRawOrFallback(job.Result)
	}
	if strings.TrimSpace(job.ErrorMessage) != "" {
		document["error"] = map[string]any{
			"code":    "processing_error",
			"message": job.ErrorMessage,
		}
	}
	return document
}

func jsonRawOrFallback(value []byte) any {
	var decoded any
	if err := json.Unmarshal(value, &decoded); err == nil {
		return decoded
	}
	return string(value)
}

func parseIntOr(value string, fallback int) int {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
