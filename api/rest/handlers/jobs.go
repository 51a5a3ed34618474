package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"instance-orchestrator/core/apperrors"
	"instance-orchestrator/core/models"
	"instance-orchestrator/core/scheduler"
	"instance-orchestrator/core/spec"
)

const maxJobBody = 1 << 20

// Enqueuer adds jobs to the work queue
type Enqueuer interface {
	Enqueue(ctx context.Context, job models.Job, opts scheduler.JobOptions) (string, error)
}

// RunLister reads attempt history
type RunLister interface {
	ListRuns(ctx context.Context, jobID string, limit int) ([]models.JobRun, error)
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	queue  Enqueuer
	runs   RunLister
	opts   scheduler.JobOptions
	logger *slog.Logger
}

// NewJobHandler creates a new job handler. runs may be nil when run
// history is disabled.
func NewJobHandler(queue Enqueuer, runs RunLister, opts scheduler.JobOptions, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{queue: queue, runs: runs, opts: opts, logger: logger}
}

// SubmitJobResponse represents the response after submitting a job
type SubmitJobResponse struct {
	ID      string `json:"id"`
	QueueID string `json:"queue_id"`
	Action  string `json:"action"`
}

// SubmitJob handles POST /v1/jobs. The body is a job document in JSON or
// YAML.
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJobBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job, err := spec.ParseJobFile(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid job: "+err.Error())
		return
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if err := job.Validate(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	queueID, err := h.queue.Enqueue(r.Context(), *job, h.opts)
	if err != nil {
		h.logger.Error("failed to enqueue job", "jobId", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	h.logger.Info("job enqueued", "jobId", job.ID, "queueId", queueID, "action", string(job.Action))
	writeJSON(w, http.StatusCreated, SubmitJobResponse{
		ID:      job.ID,
		QueueID: queueID,
		Action:  string(job.Action),
	})
}

// ListRuns handles GET /v1/jobs/{id}/runs
func (h *JobHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "Run history is disabled")
		return
	}

	jobID := mux.Vars(r)["id"]

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(r.Context(), jobID, limit)
	if err != nil {
		h.logger.Error("failed to list runs", "jobId", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"runs":   runs,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	body := map[string]string{"error": message}
	writeJSON(w, status, body)
}

// statusFor maps an error to an HTTP status
func statusFor(err error) int {
	if errors.Is(err, apperrors.ErrPrecondition) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
