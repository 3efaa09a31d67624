package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bizdata-inc/listing-engine/pkg/repositories"
)

// StatsResponse is the dashboard summary served at /stats.
type StatsResponse struct {
	TotalRecords    int64     `json:"total_records"`
	TotalStates     int64     `json:"total_states"`
	TotalCategories int64     `json:"total_categories"`
	TotalFiles      int64     `json:"total_files"`
	LastUpdated     time.Time `json:"last_updated"`
}

// DLQEntryResponse is one dead-lettered file in the /dlq listing.
type DLQEntryResponse struct {
	FileID     string    `json:"file_id"`
	FileName   string    `json:"file_name"`
	Error      string    `json:"error"`
	TaskID     string    `json:"task_id"`
	RetryCount int       `json:"retry_count"`
	FailedAt   time.Time `json:"failed_at"`
}

// StatsHandler serves pipeline aggregates and the dead letter queue for
// operator dashboards. Read-only.
type StatsHandler struct {
	stats  repositories.StatsRepository
	dlq    repositories.DLQRepository
	logger *zap.Logger
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(stats repositories.StatsRepository, dlq repositories.DLQRepository, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{stats: stats, dlq: dlq, logger: logger}
}

// RegisterRoutes registers the stats handler's routes on the given mux.
func (h *StatsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stats", h.Stats)
	mux.HandleFunc("/dlq", h.DLQ)
}

// Stats handles GET /stats requests.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Get(r.Context())
	if err != nil {
		h.logger.Error("Failed to load pipeline stats", zap.Error(err))
		errorResponse(w, http.StatusInternalServerError, "stats_unavailable", "failed to load pipeline stats")
		return
	}

	response := StatsResponse{
		TotalRecords:    stats.TotalRecords,
		TotalStates:     stats.TotalStates,
		TotalCategories: stats.TotalCategories,
		TotalFiles:      stats.TotalFiles,
		LastUpdated:     stats.LastUpdated,
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode stats response", zap.Error(err))
	}
}

// DLQ handles GET /dlq requests. The optional limit query parameter caps the
// number of entries returned, default 50.
func (h *StatsHandler) DLQ(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			errorResponse(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := h.dlq.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list DLQ entries", zap.Error(err))
		errorResponse(w, http.StatusInternalServerError, "dlq_unavailable", "failed to list dead letter entries")
		return
	}

	response := make([]DLQEntryResponse, 0, len(entries))
	for _, entry := range entries {
		response = append(response, DLQEntryResponse{
			FileID:     entry.FileID,
			FileName:   entry.FileName,
			Error:      entry.Error,
			TaskID:     entry.TaskID,
			RetryCount: entry.RetryCount,
			FailedAt:   entry.FailedAt,
		})
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode dlq response", zap.Error(err))
	}
}
