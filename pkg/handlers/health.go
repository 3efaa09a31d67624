package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/bizdata-inc/listing-engine/pkg/config"
)

// dbProbeTimeout bounds the health probe so a wedged pool cannot hang the
// orchestrator's check.
const dbProbeTimeout = 2 * time.Second

// Pinger reports whether the backing store is reachable. *pgxpool.Pool
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingResponse describes the running pipeline instance.
type PingResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Service       string `json:"service"`
	GoVersion     string `json:"go_version"`
	Hostname      string `json:"hostname"`
	Environment   string `json:"environment"`
	Database      string `json:"database"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// HealthHandler serves liveness and instance information for the pipeline.
type HealthHandler struct {
	cfg       *config.Config
	db        Pinger
	startedAt time.Time
	logger    *zap.Logger
}

// NewHealthHandler creates a HealthHandler probing db for readiness. A nil
// db skips the probe.
func NewHealthHandler(cfg *config.Config, db Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, db: db, startedAt: time.Now(), logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/ping", h.Ping)
}

// Health handles GET /health requests. Returns "ok" while the database is
// reachable, 503 once it is not; the pipeline cannot make progress without
// its store.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), dbProbeTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("health probe failed", zap.Error(err))
			errorResponse(w, http.StatusServiceUnavailable, "database_unreachable", "database ping failed")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping handles GET /ping requests. Returns instance details plus the
// database probe result; stays 200 even when the store is down so operators
// can still read version and uptime.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "hostname_unavailable", "failed to resolve hostname")
		return
	}

	dbStatus := "unknown"
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), dbProbeTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			dbStatus = "down"
		} else {
			dbStatus = "up"
		}
	}

	response := PingResponse{
		Status:        "ok",
		Version:       h.cfg.Version,
		Service:       "listing-engine",
		GoVersion:     runtime.Version(),
		Hostname:      hostname,
		Environment:   h.cfg.Env,
		Database:      dbStatus,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("failed to encode ping response", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, statusCode int, code, detail string) {
	_ = writeJSON(w, statusCode, map[string]string{
		"error":  code,
		"detail": detail,
	})
}
