package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"konut-dashboard/internal/errors"
	"konut-dashboard/internal/geo"
	"konut-dashboard/internal/models"
	"konut-dashboard/internal/observability"
	"konut-dashboard/internal/services"
)

const cacheMaxAge = "public, max-age=300"

// GeoAdmin is the part of the boundary provider the ops endpoints use.
type GeoAdmin interface {
	Invalidate()
	Status() geo.Status
}

// SnapshotAdmin is the part of the dataset store the ops endpoints use.
type SnapshotAdmin interface {
	Invalidate() error
	Snapshot() services.SnapshotStatus
}

// SessionCounter reports how many dashboard sessions are live.
type SessionCounter interface {
	Len() int
}

type APIHandlers struct {
	dataset   *services.Dataset
	snapshots SnapshotAdmin
	geo       GeoAdmin
	sessions  SessionCounter
	logger    *slog.Logger
}

func NewAPIHandlers(dataset *services.Dataset, snapshots SnapshotAdmin, geo GeoAdmin, sessions SessionCounter, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		dataset:   dataset,
		snapshots: snapshots,
		geo:       geo,
		sessions:  sessions,
		logger:    logger,
	}
}

func (h *APIHandlers) HandleYears(w http.ResponseWriter, r *http.Request) {
	errors.WriteSuccessWithHeaders(w, h.dataset.Years(), map[string]string{
		"Cache-Control": cacheMaxAge,
	})
}

func (h *APIHandlers) HandleRegions(w http.ResponseWriter, r *http.Request) {
	errors.WriteSuccessWithHeaders(w, h.dataset.Regions(), map[string]string{
		"Cache-Control": cacheMaxAge,
	})
}

func (h *APIHandlers) HandleDistricts(w http.ResponseWriter, r *http.Request) {
	region := r.PathValue("region")
	if !h.dataset.HasRegion(region) {
		errors.WriteError(w, h.logger, errors.NotFound("unknown region: "+region), observability.GetRequestID(r.Context()))
		return
	}
	errors.WriteSuccessWithHeaders(w, h.dataset.DistrictsOf(region), map[string]string{
		"Cache-Control": cacheMaxAge,
	})
}

func (h *APIHandlers) HandleSalesByRegion(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r)
	if err != nil {
		errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
		return
	}
	h.writeRows(w, services.AggregateByRegion(h.dataset, year))
}

func (h *APIHandlers) HandleSalesByDistrict(w http.ResponseWriter, r *http.Request) {
	region, year, err := h.regionYearParams(r)
	if err != nil {
		errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
		return
	}
	h.writeRows(w, services.AggregateByDistrict(h.dataset, region, year))
}

func (h *APIHandlers) HandleSalesByMonth(w http.ResponseWriter, r *http.Request) {
	region, year, err := h.regionYearParams(r)
	if err != nil {
		errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
		return
	}
	h.writeRows(w, services.AggregateByMonth(h.dataset, region, year))
}

func (h *APIHandlers) writeRows(w http.ResponseWriter, rows []models.AggregateRow) {
	errors.WriteSuccessWithHeaders(w, rows, map[string]string{
		"Cache-Control": cacheMaxAge,
	})
}

// yearParam reads ?year=, defaulting to the latest year.
func (h *APIHandlers) yearParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("year")
	if raw == "" {
		return h.dataset.LatestYear(), nil
	}
	year, err := strconv.Atoi(raw)
	if err != nil || year <= 0 {
		return 0, errors.Validation("year must be a positive number")
	}
	return year, nil
}

func (h *APIHandlers) regionYearParams(r *http.Request) (string, int, error) {
	region := r.URL.Query().Get("region")
	if region == "" {
		return "", 0, errors.Validation("region is required")
	}
	year, err := h.yearParam(r)
	return region, year, err
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {

	healthData := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   "1.0.0",
		"records":   h.dataset.Len(),
		"geo":       h.geo.Status().Cached,
	}

	errors.WriteSuccess(w, healthData)
}

func (h *APIHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"dataset":  h.dataset.Stats(),
		"snapshot": h.snapshots.Snapshot(),
		"geo":      h.geo.Status(),
		"sessions": h.sessions.Len(),
	}

	errors.WriteSuccess(w, stats)
}

// HandleGeoInvalidate drops the cached boundaries. Sessions pick up the
// new data on their next map redraw.
func (h *APIHandlers) HandleGeoInvalidate(w http.ResponseWriter, r *http.Request) {
	h.geo.Invalidate()
	h.logger.InfoContext(r.Context(), "boundary cache invalidated by request",
		"request_id", observability.GetRequestID(r.Context()),
	)
	errors.WriteSuccess(w, h.geo.Status())
}

// HandleDatasetInvalidate removes the dataset snapshot so the next start
// reads the source again. The loaded dataset keeps serving until then.
func (h *APIHandlers) HandleDatasetInvalidate(w http.ResponseWriter, r *http.Request) {
	requestID := observability.GetRequestID(r.Context())
	if err := h.snapshots.Invalidate(); err != nil {
		errors.WriteError(w, h.logger, errors.InternalWrap(err, "failed to remove dataset snapshot"), requestID)
		return
	}
	h.logger.InfoContext(r.Context(), "dataset snapshot invalidated by request",
		"request_id", requestID,
	)
	errors.WriteSuccess(w, h.snapshots.Snapshot())
}
