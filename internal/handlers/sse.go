package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/starfederation/datastar-go/datastar"

	"konut-dashboard/internal/dashboard"
	"konut-dashboard/internal/errors"
	"konut-dashboard/internal/observability"
	"konut-dashboard/internal/ui/templates"
)

var sseEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "konut_sse_events_total",
	Help: "Dashboard events received over SSE",
}, []string{"event", "result"})

// year accepts both 2020 and "2020"; range inputs bind as strings.
type year int

func (y *year) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*y = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("year %s: %w", b, err)
	}
	*y = year(n)
	return nil
}

// signals mirrors the datastar signals declared on the page.
type signals struct {
	Year          year   `json:"year"`
	Region        string `json:"region"`
	ClickedRegion string `json:"clickedRegion"`
}

type SSEHandlers struct {
	sessions *dashboard.Sessions
	logger   *slog.Logger
}

func NewSSEHandlers(sessions *dashboard.Sessions, logger *slog.Logger) *SSEHandlers {
	return &SSEHandlers{
		sessions: sessions,
		logger:   logger,
	}
}

// event reads the signals, applies fn to the session's dashboard and
// streams back the views that changed.
func (h *SSEHandlers) event(w http.ResponseWriter, r *http.Request, name string,
	fn func(ctx context.Context, d *dashboard.Dashboard, s signals) ([]string, error)) {
	ctx := r.Context()
	requestID := observability.GetRequestID(ctx)

	var s signals
	if err := datastar.ReadSignals(r, &s); err != nil {
		sseEventsTotal.WithLabelValues(name, "bad_request").Inc()
		errors.WriteError(w, h.logger, errors.BadRequestWrap(err, "invalid signals"), requestID)
		return
	}

	d, err := h.sessions.Get(ctx, observability.GetSessionID(ctx))
	if err != nil {
		sseEventsTotal.WithLabelValues(name, "error").Inc()
		errors.WriteError(w, h.logger, errors.InternalWrap(err, "session unavailable"), requestID)
		return
	}

	changed, err := fn(ctx, d, s)
	if err != nil {
		sseEventsTotal.WithLabelValues(name, "rejected").Inc()
		errors.WriteError(w, h.logger, err, requestID)
		return
	}
	sseEventsTotal.WithLabelValues(name, "ok").Inc()

	h.logger.DebugContext(ctx, "dashboard event",
		"event", name,
		"changed", changed,
		"request_id", requestID,
	)

	sse := datastar.NewSSE(w, r)
	h.patchViews(ctx, sse, d.View(), changed)

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// patchViews sends a fragment for every changed signal and then the
// selection signals. A nil changed list sends everything.
func (h *SSEHandlers) patchViews(ctx context.Context, sse *datastar.ServerSentEventGenerator, v dashboard.Views, changed []string) {
	all := changed == nil
	has := func(signal string) bool { return all || slices.Contains(changed, signal) }

	var fragments []templ.Component
	if has(dashboard.SignalTitle) {
		fragments = append(fragments, templates.MapTitle(v.Title))
	}
	if has(dashboard.SignalMapView) || v.MapError != "" {
		fragments = append(fragments, templates.MapView(v))
	}
	if has(dashboard.SignalSectionTitle) {
		fragments = append(fragments, templates.SectionTitle(v.SectionTitle))
	}
	if has(dashboard.SignalDistrictView) {
		fragments = append(fragments, templates.Chart(templates.IDDistrictView, v.Districts))
	}
	if has(dashboard.SignalMonthView) {
		fragments = append(fragments, templates.Chart(templates.IDMonthView, v.Months))
	}

	for _, c := range fragments {
		html, err := templates.RenderString(ctx, c)
		if err != nil {
			h.logger.Error("render fragment", "error", err)
			return
		}
		if err := sse.PatchElements(html); err != nil {
			h.logger.Warn("patch elements", "error", err)
			return
		}
	}

	if err := sse.MarshalAndPatchSignals(templates.Signals(v)); err != nil {
		h.logger.Warn("patch signals", "error", err)
	}
}

// HandleInit redraws the map, retries failed views and sends every view.
func (h *SSEHandlers) HandleInit(w http.ResponseWriter, r *http.Request) {
	h.event(w, r, "init", func(ctx context.Context, d *dashboard.Dashboard, _ signals) ([]string, error) {
		if _, err := d.ReloadMap(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

func (h *SSEHandlers) HandleYear(w http.ResponseWriter, r *http.Request) {
	h.event(w, r, "set_year", func(ctx context.Context, d *dashboard.Dashboard, s signals) ([]string, error) {
		if s.Year <= 0 {
			return nil, errors.Validation("year must be a positive number")
		}
		return nonNil(d.SetYear(ctx, int(s.Year)))
	})
}

func (h *SSEHandlers) HandleRegion(w http.ResponseWriter, r *http.Request) {
	h.event(w, r, "set_region", func(ctx context.Context, d *dashboard.Dashboard, s signals) ([]string, error) {
		if s.Region == "" {
			return nil, errors.Validation("region is required")
		}
		return nonNil(d.SetRegion(ctx, s.Region))
	})
}

func (h *SSEHandlers) HandleMapClick(w http.ResponseWriter, r *http.Request) {
	h.event(w, r, "on_map_click", func(ctx context.Context, d *dashboard.Dashboard, s signals) ([]string, error) {
		if s.ClickedRegion == "" {
			return nil, errors.Validation("clickedRegion is required")
		}
		return nonNil(d.OnMapClick(ctx, s.ClickedRegion))
	})
}

// nonNil keeps "nothing changed" distinct from the nil that means
// "send everything".
func nonNil(changed []string, err error) ([]string, error) {
	if changed == nil && err == nil {
		changed = []string{}
	}
	return changed, err
}
