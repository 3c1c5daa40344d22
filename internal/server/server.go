package server

import (
	"log/slog"
	"net/http"

	"konut-dashboard/internal/dashboard"
	"konut-dashboard/internal/geo"
	"konut-dashboard/internal/handlers"
	"konut-dashboard/internal/observability"
	"konut-dashboard/internal/services"
)

type Server struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	apiHandlers *handlers.APIHandlers
	sseHandlers *handlers.SSEHandlers
}

type TemplateHandlers struct {
	Dashboard http.HandlerFunc
}

// Deps are the shared services behind every route.
type Deps struct {
	Dataset  *services.Dataset
	Store    *services.Store
	Geo      *geo.Provider
	Sessions *dashboard.Sessions
	Logger   *slog.Logger
}

func NewServer(deps Deps, templateHandlers *TemplateHandlers) *Server {
	s := &Server{
		mux:         http.NewServeMux(),
		logger:      deps.Logger,
		apiHandlers: handlers.NewAPIHandlers(deps.Dataset, deps.Store, deps.Geo, deps.Sessions, deps.Logger),
		sseHandlers: handlers.NewSSEHandlers(deps.Sessions, deps.Logger),
	}
	s.setupRoutes(templateHandlers)
	return s
}

func (s *Server) setupRoutes(templateHandlers *TemplateHandlers) {
	// Dashboard routes
	s.mux.HandleFunc("GET /{$}", templateHandlers.Dashboard)
	s.mux.HandleFunc("GET /health", s.apiHandlers.HandleHealth)
	s.mux.Handle("GET /metrics", observability.MetricsHandler())

	// Operations
	s.mux.HandleFunc("GET /admin/stats", s.apiHandlers.HandleStats)
	s.mux.HandleFunc("POST /admin/geo/invalidate", s.apiHandlers.HandleGeoInvalidate)
	s.mux.HandleFunc("POST /admin/dataset/invalidate", s.apiHandlers.HandleDatasetInvalidate)

	// REST API endpoints
	s.mux.HandleFunc("GET /api/years", s.apiHandlers.HandleYears)
	s.mux.HandleFunc("GET /api/regions", s.apiHandlers.HandleRegions)
	s.mux.HandleFunc("GET /api/regions/{region}/districts", s.apiHandlers.HandleDistricts)
	s.mux.HandleFunc("GET /api/sales/by-region", s.apiHandlers.HandleSalesByRegion)
	s.mux.HandleFunc("GET /api/sales/by-district", s.apiHandlers.HandleSalesByDistrict)
	s.mux.HandleFunc("GET /api/sales/by-month", s.apiHandlers.HandleSalesByMonth)

	// Datastar SSE endpoints, one per dashboard event
	s.mux.HandleFunc("GET /sse/init", s.sseHandlers.HandleInit)
	s.mux.HandleFunc("GET /sse/year", s.sseHandlers.HandleYear)
	s.mux.HandleFunc("GET /sse/region", s.sseHandlers.HandleRegion)
	s.mux.HandleFunc("GET /sse/map-click", s.sseHandlers.HandleMapClick)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
