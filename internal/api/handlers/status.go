package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/lapis/internal/models"
)

// JobCounter counts archived jobs. Implemented by *models.Database.
type JobCounter interface {
	CountJobsByState() (map[models.JobState]int, error)
}

// InFlightCounter reports running jobs. Implemented by *pipeline.Dispatcher.
type InFlightCounter interface {
	InFlight() int
}

// StatusHandler handles status requests
type StatusHandler struct {
	db       JobCounter
	inFlight InFlightCounter
	logger   *logrus.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(db JobCounter, inFlight InFlightCounter, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{
		db:       db,
		inFlight: inFlight,
		logger:   logger,
	}
}

// StatusResponse represents the status response
type StatusResponse struct {
	TotalJobs int `json:"total_jobs"`
	InFlight  int `json:"in_flight"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ServeHTTP handles the status endpoint
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	counts, err := h.db.CountJobsByState()
	if err != nil {
		h.logger.WithError(err).Error("Failed to count jobs")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := StatusResponse{
		Completed: counts[models.JobStateCompleted],
		Failed:    counts[models.JobStateFailed],
		Skipped:   counts[models.JobStateSkipped],
	}
	for _, n := range counts {
		response.TotalJobs += n
	}
	if h.inFlight != nil {
		response.InFlight = h.inFlight.InFlight()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
