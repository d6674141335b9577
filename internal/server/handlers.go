package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/audiobook-builder/internal/book"
	"github.com/maauso/audiobook-builder/internal/container"
	"github.com/maauso/audiobook-builder/internal/job"
)

// maxRequestBody bounds the size of a submitted manifest.
const maxRequestBody = 64 << 20

// JobService is the use case the handlers drive.
type JobService interface {
	Submit(ctx context.Context, in job.SubmitInput) (*job.Job, error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
	ListJobs(ctx context.Context, statuses ...job.Status) ([]*job.Job, error)
	Cancel(ctx context.Context, id string) (*job.Job, error)
	OutputFile(ctx context.Context, id string) (string, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   JobService
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service JobService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateAudiobook handles POST /audiobooks requests.
func (h *Handlers) CreateAudiobook(w http.ResponseWriter, r *http.Request) {
	var req CreateAudiobookRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	created, err := h.service.Submit(r.Context(), job.SubmitInput{
		Book:     req.Book(),
		Format:   container.Format(req.Format),
		Quality:  container.Quality(req.Quality),
		PushToS3: req.PushToS3,
	})
	if err != nil {
		switch {
		case errors.Is(err, job.ErrPublisherNotConfigured):
			writeError(w, http.StatusBadRequest, err.Error(), "S3_NOT_CONFIGURED")
		case errors.Is(err, book.ErrNoChapters), errors.Is(err, book.ErrTitleRequired),
			errors.Is(err, book.ErrDuplicateIndex), errors.Is(err, book.ErrInvalidBook):
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		default:
			h.logger.Error("failed to create job",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		}
		return
	}

	h.logger.Info("audiobook job accepted",
		slog.String("job_id", created.ID),
		slog.String("title", created.Title),
		slog.Int("chapters", len(created.Chapters)),
	)

	writeJSON(w, http.StatusAccepted, CreateAudiobookResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// ListAudiobooks handles GET /audiobooks requests. The optional status query
// parameter takes a comma-separated list of job statuses.
func (h *Handlers) ListAudiobooks(w http.ResponseWriter, r *http.Request) {
	var statuses []job.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			st, err := job.ParseStatus(name)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error(), "INVALID_STATUS")
				return
			}
			statuses = append(statuses, st)
		}
	}

	jobs, err := h.service.ListJobs(r.Context(), statuses...)
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}
	resp := ListAudiobooksResponse{Audiobooks: make([]AudiobookResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Audiobooks = append(resp.Audiobooks, newAudiobookResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetAudiobook handles GET /audiobooks/{id} requests.
func (h *Handlers) GetAudiobook(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeLookupError(w, jobID, err)
		return
	}

	writeJSON(w, http.StatusOK, newAudiobookResponse(found))
}

// CancelAudiobook handles DELETE /audiobooks/{id} requests.
func (h *Handlers) CancelAudiobook(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	cancelled, err := h.service.Cancel(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobTerminal) {
			writeError(w, http.StatusConflict, "job already finished", "JOB_TERMINAL")
			return
		}
		h.writeLookupError(w, jobID, err)
		return
	}

	writeJSON(w, http.StatusOK, newAudiobookResponse(cancelled))
}

// DownloadAudiobook handles GET /audiobooks/{id}/file requests.
func (h *Handlers) DownloadAudiobook(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	path, err := h.service.OutputFile(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrOutputNotReady) {
			writeError(w, http.StatusConflict, "audiobook not ready", "OUTPUT_NOT_READY")
			return
		}
		h.writeLookupError(w, jobID, err)
		return
	}

	f, err := os.Open(path) // #nosec G304 - path comes from the job record, not the request
	if err != nil {
		h.logger.Error("failed to open audiobook",
			slog.String("job_id", jobID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusGone, "audiobook file missing", "OUTPUT_MISSING")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read audiobook", "OUTPUT_READ_FAILED")
		return
	}

	name := filepath.Base(path)
	w.Header().Set("Content-Type", contentType(name))
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (h *Handlers) writeLookupError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, job.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		writeError(w, http.StatusServiceUnavailable, "request cancelled", "REQUEST_CANCELLED")
		return
	}
	h.logger.Error("failed to get job",
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4b":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
