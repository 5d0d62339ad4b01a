// Package api serves the dashboard data as JSON.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"vitalsdash/app"
	"vitalsdash/domain/vitals"
	"vitalsdash/internal"
	"vitalsdash/internal/errors"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DashboardService is the part of app.DashboardService the API needs
type DashboardService interface {
	MetricView(ctx context.Context, metric vitals.Metric) (*app.MetricView, error)
	Latest(ctx context.Context, metric vitals.Metric) (*vitals.SensorReading, error)
	Prediction(ctx context.Context, offset int) (*app.Prediction, error)
	Refresh(ctx context.Context) (*app.RefreshReport, error)
	Status(metric vitals.Metric) app.MetricStatus
}

var _ DashboardService = (*app.DashboardService)(nil)

// MetricSummary is one entry of GET /api/metrics
type MetricSummary struct {
	vitals.MetricInfo
	Status app.MetricStatus `json:"status"`
}

// Handler holds the JSON endpoints
type Handler struct {
	service DashboardService
	logger  *internal.Logger
}

// NewRouter builds the chi router serving /api/* and /healthz
func NewRouter(service DashboardService, logger *internal.Logger) chi.Router {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	h := &Handler{service: service, logger: logger.WithField("component", "api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: requestLog{h.logger}, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	h.Mount(r)
	return r
}

// Mount registers the routes on r
func (h *Handler) Mount(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/metrics", h.handleListMetrics)
		r.Get("/metrics/{metric}", h.handleMetric)
		r.Get("/metrics/{metric}/latest", h.handleLatest)
		r.Get("/predictions/heart-rate", h.handlePrediction)
		r.Post("/refresh", h.handleRefresh)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListMetrics(w http.ResponseWriter, r *http.Request) {
	catalog := vitals.Catalog()
	out := make([]MetricSummary, 0, len(catalog))
	for _, info := range catalog {
		out = append(out, MetricSummary{MetricInfo: info, Status: h.service.Status(info.Metric)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleMetric(w http.ResponseWriter, r *http.Request) {
	metric, err := vitals.ParseMetric(chi.URLParam(r, "metric"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	view, err := h.service.MetricView(r.Context(), metric)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	metric, err := vitals.ParseMetric(chi.URLParam(r, "metric"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	latest, err := h.service.Latest(r.Context(), metric)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if latest == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (h *Handler) handlePrediction(w http.ResponseWriter, r *http.Request) {
	offset, err := ParseOffset(r.URL.Query().Get("offset"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	p, err := h.service.Prediction(r.Context(), offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Refresh(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ParseOffset reads the prediction offset query value. Empty means the
// service default (0); anything else must be an integer in
// [1, app.MaxPredictionOffset].
func ParseOffset(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > app.MaxPredictionOffset {
		return 0, errors.InvalidInput(fmt.Sprintf("offset must be an integer between 1 and %d, got %q", app.MaxPredictionOffset, raw))
	}
	return n, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := NewErrorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("%s %s failed", r.Method, r.URL.Path)
	} else {
		h.logger.Debug("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		internal.DefaultLogger.WithError(err).Warn("failed to encode response")
	}
}

// requestLog adapts the leveled logger to chi's request logger
type requestLog struct {
	logger *internal.Logger
}

func (l requestLog) Print(v ...interface{}) {
	l.logger.Info("%s", fmt.Sprint(v...))
}
