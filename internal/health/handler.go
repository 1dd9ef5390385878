// Package health exposes liveness and diagnostics endpoints for container health checks.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"tg_utm_tracker/internal/logging"
)

const (
	pingTimeout  = 2 * time.Second
	statsTimeout = 5 * time.Second
)

// Checker is the subset of a dependency client required for health.
type Checker interface {
	Ping(ctx context.Context) error
}

// StatsSource reports record counts per collection or table.
type StatsSource interface {
	Counts(ctx context.Context) (map[string]int64, error)
}

// Handler serves GET /healthz and GET /statusz.
type Handler struct {
	checks map[string]Checker
	stats  StatsSource
	logger *logrus.Entry
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type statusResponse struct {
	Status string           `json:"status"`
	Counts map[string]int64 `json:"counts,omitempty"`
}

// NewHandler builds a health handler. Every entry in checks is pinged on
// /healthz; a nil entry counts as a failed check.
func NewHandler(checks map[string]Checker, stats StatsSource, logger *logrus.Entry) *Handler {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Handler{
		checks: checks,
		stats:  stats,
		logger: logger,
	}
}

// Health reports "ok" when every check pings, otherwise "degraded" with the
// failing check names. The status code stays 200 so monitors read the body.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: "ok"}
	failed := map[string]string{}

	ctx := r.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if len(h.checks) == 0 {
		failed["store"] = "error"
		h.logger.WithField("event", "health_checks_missing").Warn("no checks configured for health endpoint")
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		checker := h.checks[name]
		if checker == nil {
			failed[name] = "error"
			h.logger.WithFields(logging.Fields{
				"event": "health_check_missing",
				"check": name,
			}).Warn("health checker is not configured")
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := checker.Ping(pingCtx)
		cancel()

		if err != nil {
			failed[name] = "error"
			h.logger.WithFields(logging.Fields{
				"event": "health_check_error",
				"check": name,
			}).WithError(err).Warn("ping failed during health check")
		}
	}

	if len(failed) > 0 {
		resp.Status = "degraded"
		resp.Checks = failed
	}

	h.write(w, http.StatusOK, resp)
}

// Status reports record counts for diagnostics.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.write(w, http.StatusServiceUnavailable, statusResponse{Status: "unavailable"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()

	counts, err := h.stats.Counts(ctx)
	if err != nil {
		h.logger.WithField("event", "status_counts_error").WithError(err).Warn("failed to collect record counts")
		h.write(w, http.StatusServiceUnavailable, statusResponse{Status: "unavailable"})
		return
	}

	h.write(w, http.StatusOK, statusResponse{Status: "ok", Counts: counts})
}

func (h *Handler) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}
