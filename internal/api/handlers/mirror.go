package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/amaumene/lapis/internal/models"
)

// JobRunner runs a mirror job. Implemented by *pipeline.Pipeline.
type JobRunner interface {
	Run(ctx context.Context, sub models.Submission) *models.MirrorJob
}

// MirrorHandler mirrors a single URL on demand without posting to Reddit
type MirrorHandler struct {
	runner  JobRunner
	timeout time.Duration
	logger  *logrus.Logger
}

// NewMirrorHandler creates a new mirror handler
func NewMirrorHandler(runner JobRunner, timeout time.Duration, logger *logrus.Logger) *MirrorHandler {
	return &MirrorHandler{
		runner:  runner,
		timeout: timeout,
		logger:  logger,
	}
}

// MirrorRequest is the body of a mirror request
type MirrorRequest struct {
	URL string `json:"url"`
}

// MirrorResponse reports the outcome of an on-demand job
type MirrorResponse struct {
	JobID    string              `json:"job_id"`
	State    models.JobState     `json:"state"`
	Links    []models.MirrorLink `json:"links,omitempty"`
	Reply    string              `json:"reply,omitempty"`
	Error    string              `json:"error,omitempty"`
	Warnings []string            `json:"warnings,omitempty"`
}

// ServeHTTP handles the mirror endpoint
func (h *MirrorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req MirrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Debug("Failed to decode mirror request")
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		http.Error(w, "Invalid URL", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	sub := models.Submission{
		ID:        "api_" + uuid.New().String(),
		Body:      u.String(),
		CreatedAt: time.Now(),
	}
	job := h.runner.Run(ctx, sub)

	h.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"url":    u.String(),
		"state":  job.State,
	}).Info("On-demand mirror finished")

	status := http.StatusOK
	switch job.State {
	case models.JobStateSkipped:
		status = http.StatusUnprocessableEntity
	case models.JobStateFailed:
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(MirrorResponse{
		JobID:    job.ID,
		State:    job.State,
		Links:    job.Links,
		Reply:    job.Reply,
		Error:    job.Error,
		Warnings: job.Warnings,
	})
}
