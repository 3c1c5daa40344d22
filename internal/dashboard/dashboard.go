// Package dashboard wires the sales dataset, boundary data and renderer
// into the reactive graph behind one user's dashboard.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"

	geojson "github.com/paulmach/go.geojson"

	"konut-dashboard/internal/models"
	"konut-dashboard/internal/reactive"
	"konut-dashboard/internal/render"
	"konut-dashboard/internal/services"
)

// Signal names.
const (
	SignalYear            = "selected_year"
	SignalRegion          = "selected_region"
	SignalMapClick        = "selected_map_click"
	SignalEffectiveRegion = "effective_region"
	SignalRegionTotals    = "region_totals"
	SignalTitle           = "title_text"
	SignalMapView         = "map_view"
	SignalDistrictView    = "district_view"
	SignalMonthView       = "month_view"
	SignalSectionTitle    = "section_title"
)

// FallbackRegion is used when no default region is configured.
const FallbackRegion = "Ankara"

const (
	labelSales     = "Konut Satışları"
	labelDistricts = "İlçeler"
	labelMonths    = "Aylar"
	msgMapMissing  = "Harita verisi şu anda alınamıyor"
	msgLoading     = "Hesaplanıyor"
)

// GeoSource supplies the province boundaries.
type GeoSource interface {
	Boundaries(ctx context.Context) (*geojson.FeatureCollection, error)
}

type Deps struct {
	Dataset  *services.Dataset
	Geo      GeoSource
	Renderer *render.Renderer
	Logger   *slog.Logger
}

// Defaults are the initial selections. A zero or unknown Year means the
// latest year in the dataset; an empty Region means FallbackRegion.
type Defaults struct {
	Year   int
	Region string
}

// Views is everything the page shows, as of the last event.
type Views struct {
	Year         int                 `json:"year"`
	Region       string              `json:"region"`
	RegionSource models.RegionSource `json:"region_source"`
	Title        string              `json:"title"`
	SectionTitle string              `json:"section_title"`
	Map          render.Chart        `json:"map"`
	MapError     string              `json:"map_error,omitempty"`
	Districts    render.Chart        `json:"districts"`
	Months       render.Chart        `json:"months"`
}

// Dashboard is one session's graph. Events are applied one at a time.
type Dashboard struct {
	graph    *reactive.Graph
	defaults Defaults
	logger   *slog.Logger
}

// ResolveDefaults fills in the defaults the dataset decides.
func ResolveDefaults(ds *services.Dataset, d Defaults) Defaults {
	if d.Year == 0 || !ds.HasYear(d.Year) {
		d.Year = ds.LatestYear()
	}
	if d.Region == "" {
		d.Region = FallbackRegion
	}
	return d
}

// New builds the graph and computes every view once.
func New(ctx context.Context, deps Deps, defaults Defaults) (*Dashboard, error) {
	if deps.Dataset == nil || deps.Geo == nil || deps.Renderer == nil {
		return nil, fmt.Errorf("dashboard: dataset, geo source and renderer are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defaults = ResolveDefaults(deps.Dataset, defaults)

	ds, rnd := deps.Dataset, deps.Renderer

	graph, err := reactive.NewBuilder().Logger(logger).
		Input(SignalYear, defaults.Year).
		Input(SignalRegion, models.DefaultRegion(defaults.Region)).
		Input(SignalMapClick, "").
		Derived(SignalEffectiveRegion, []string{SignalRegion, SignalMapClick},
			func(_ context.Context, d reactive.Values) (any, error) {
				sel := reactive.Dep[models.RegionSelection](d, SignalRegion)
				if sel.Region == "" {
					return models.FromMapClick(reactive.Dep[string](d, SignalMapClick)).Resolve(defaults.Region), nil
				}
				return sel.Region, nil
			}).
		Derived(SignalRegionTotals, []string{SignalYear},
			func(_ context.Context, d reactive.Values) (any, error) {
				return services.AggregateByRegion(ds, reactive.Dep[int](d, SignalYear)), nil
			}).
		Derived(SignalTitle, []string{SignalYear},
			func(_ context.Context, d reactive.Values) (any, error) {
				return fmt.Sprintf("%d Yılı Konut Satışları Haritası", reactive.Dep[int](d, SignalYear)), nil
			}).
		Derived(SignalMapView, []string{SignalRegionTotals, SignalEffectiveRegion, SignalTitle},
			func(ctx context.Context, d reactive.Values) (any, error) {
				fc, err := deps.Geo.Boundaries(ctx)
				if err != nil {
					return nil, err
				}
				rows := reactive.Dep[[]models.AggregateRow](d, SignalRegionTotals)
				lo, hi := services.ColorDomain(rows)
				c, err := rnd.RenderMap(rows, fc, [2]int64{lo, hi}, reactive.Dep[string](d, SignalEffectiveRegion))
				if err != nil {
					return nil, err
				}
				c.Title = reactive.Dep[string](d, SignalTitle)
				return c, nil
			},
			reactive.WithPlaceholder(rnd.Placeholder(render.KindMap, "", msgMapMissing))).
		Derived(SignalDistrictView, []string{SignalYear, SignalEffectiveRegion},
			func(_ context.Context, d reactive.Values) (any, error) {
				year, region := reactive.Dep[int](d, SignalYear), reactive.Dep[string](d, SignalEffectiveRegion)
				return rnd.RenderBar(services.AggregateByDistrict(ds, region, year), render.BarOptions{
					Kind:       render.KindDistrict,
					Title:      fmt.Sprintf("%d Yılı %s İli İlçelere Göre Konut Satışları", year, region),
					XLabel:     labelDistricts,
					YLabel:     labelSales,
					Horizontal: true,
				})
			},
			reactive.WithPlaceholder(rnd.Placeholder(render.KindDistrict, "", msgLoading))).
		Derived(SignalMonthView, []string{SignalYear, SignalEffectiveRegion},
			func(_ context.Context, d reactive.Values) (any, error) {
				year, region := reactive.Dep[int](d, SignalYear), reactive.Dep[string](d, SignalEffectiveRegion)
				return rnd.RenderBar(services.AggregateByMonth(ds, region, year), render.BarOptions{
					Kind:   render.KindMonth,
					Title:  fmt.Sprintf("%d Yılı %s İli Aylara Göre Konut Satışları", year, region),
					XLabel: labelMonths,
					YLabel: labelSales,
				})
			},
			reactive.WithPlaceholder(rnd.Placeholder(render.KindMonth, "", msgLoading))).
		Derived(SignalSectionTitle, []string{SignalYear, SignalEffectiveRegion},
			func(_ context.Context, d reactive.Values) (any, error) {
				return fmt.Sprintf("%d Yılı %s İli İlçelere ve Aylara Göre Konut Satışları",
					reactive.Dep[int](d, SignalYear), reactive.Dep[string](d, SignalEffectiveRegion)), nil
			}).
		Build()
	if err != nil {
		return nil, fmt.Errorf("dashboard: build graph: %w", err)
	}

	graph.Refresh(ctx)
	return &Dashboard{graph: graph, defaults: defaults, logger: logger}, nil
}

// SetYear selects the year shown by every view.
func (d *Dashboard) SetYear(ctx context.Context, year int) ([]string, error) {
	return d.graph.Set(ctx, SignalYear, year)
}

// SetRegion selects the region from the region selector.
func (d *Dashboard) SetRegion(ctx context.Context, region string) ([]string, error) {
	return d.graph.Set(ctx, SignalRegion, models.FromSelector(region))
}

// OnMapClick records a click on region and makes it the selected region.
func (d *Dashboard) OnMapClick(ctx context.Context, region string) ([]string, error) {
	return d.graph.Apply(ctx, map[string]any{
		SignalMapClick: region,
		SignalRegion:   models.FromMapClick(region),
	})
}

// Refresh retries views whose last computation failed.
func (d *Dashboard) Refresh(ctx context.Context) []string {
	return d.graph.Refresh(ctx)
}

// ReloadMap redraws the map, picking up boundaries fetched since the
// last draw, and retries every other failed view in the same pass. Each
// view is computed at most once.
func (d *Dashboard) ReloadMap(ctx context.Context) ([]string, error) {
	names := []string{SignalMapView}
	for _, name := range d.graph.Names() {
		if name != SignalMapView && d.graph.Err(name) != nil {
			names = append(names, name)
		}
	}
	return d.graph.Recompute(ctx, names...)
}

// Defaults returns the resolved initial selections.
func (d *Dashboard) Defaults() Defaults { return d.defaults }

// Graph exposes the underlying graph for inspection.
func (d *Dashboard) Graph() *reactive.Graph { return d.graph }

// View returns the current value of every view.
func (d *Dashboard) View() Views {
	snap := d.graph.Snapshot()
	sel, _ := snap[SignalRegion].(models.RegionSelection)

	v := Views{
		RegionSource: sel.Source,
	}
	v.Year, _ = snap[SignalYear].(int)
	v.Region, _ = snap[SignalEffectiveRegion].(string)
	v.Title, _ = snap[SignalTitle].(string)
	v.SectionTitle, _ = snap[SignalSectionTitle].(string)
	v.Map, _ = snap[SignalMapView].(render.Chart)
	v.Districts, _ = snap[SignalDistrictView].(render.Chart)
	v.Months, _ = snap[SignalMonthView].(render.Chart)
	if err := d.graph.Err(SignalMapView); err != nil {
		v.MapError = msgMapMissing
	}
	return v
}
