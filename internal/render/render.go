// Package render turns aggregate rows into the SVG charts shown on the
// dashboard.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"html/template"
	"math"
	"strings"

	geojson "github.com/paulmach/go.geojson"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"konut-dashboard/internal/models"
)

type Kind string

const (
	KindMap      Kind = "map"
	KindDistrict Kind = "district"
	KindMonth    Kind = "month"
)

const (
	mapWidth   = 900
	barWidth   = 900
	barHeight  = 420
	emptyLabel = "Seçilen yıl ve il için veri bulunamadı"

	fontSize     = 9
	hbarRow      = 22
	hbarTop      = 28
	hbarBottom   = 44
	hbarRight    = 24
	hbarTicks    = 4
	labelPadding = 8
)

var (
	colorLow    = drawing.Color{R: 255, G: 255, B: 255, A: 255}
	colorMid    = drawing.Color{R: 0, G: 128, B: 0, A: 255}
	colorHigh   = drawing.Color{R: 255, G: 0, B: 0, A: 255}
	colorNoData = drawing.Color{R: 229, G: 231, B: 235, A: 255}
	colorBar    = drawing.Color{R: 37, G: 99, B: 235, A: 255}
	colorAxis   = drawing.Color{R: 75, G: 85, B: 99, A: 255}
	colorGrid   = drawing.Color{R: 229, G: 231, B: 235, A: 255}
)

// Chart is a rendered view. Exactly one of SVG, Empty or Unavailable
// describes its content.
type Chart struct {
	Kind        Kind   `json:"kind"`
	Title       string `json:"title"`
	XLabel      string `json:"x_label,omitempty"`
	YLabel      string `json:"y_label,omitempty"`
	SVG         string `json:"-"`
	Empty       bool   `json:"empty"`
	Unavailable bool   `json:"unavailable"`
	Message     string `json:"message,omitempty"`
}

// BarOptions describe a bar chart. XLabel names the category axis and
// YLabel the value axis, whichever way the bars run.
type BarOptions struct {
	Kind   Kind
	Title  string
	XLabel string
	YLabel string
	// Horizontal lays the bars out bottom-up with values along the
	// bottom, so ascending rows put the largest bar on top.
	Horizontal bool
}

// Renderer is stateless and safe for concurrent use.
type Renderer struct{}

func New() *Renderer { return &Renderer{} }

// Placeholder is the chart shown when its data cannot be produced.
func (*Renderer) Placeholder(kind Kind, title, msg string) Chart {
	return Chart{Kind: kind, Title: title, Unavailable: true, Message: msg}
}

// RenderBar draws rows as a bar chart in row order. No rows yields an
// empty chart rather than an error.
func (*Renderer) RenderBar(rows []models.AggregateRow, opts BarOptions) (Chart, error) {
	c := Chart{Kind: opts.Kind, Title: opts.Title, XLabel: opts.XLabel, YLabel: opts.YLabel}
	if len(rows) == 0 {
		c.Empty = true
		c.Message = emptyLabel
		return c, nil
	}

	render := renderVertical
	if opts.Horizontal {
		render = renderHorizontal
	}
	svg, err := render(rows, opts)
	if err != nil {
		return Chart{}, fmt.Errorf("render %s chart: %w", opts.Kind, err)
	}
	c.SVG = svg
	return c, nil
}

func renderVertical(rows []models.AggregateRow, opts BarOptions) (string, error) {
	var top int64
	bars := make([]chart.Value, len(rows))
	for i, row := range rows {
		top = max(top, row.SalesTotal)
		bars[i] = chart.Value{
			Label: row.Key.Label(),
			Value: float64(row.SalesTotal),
			Style: chart.Style{FillColor: colorBar, StrokeColor: colorBar},
		}
	}

	graph := chart.BarChart{
		Width:      barWidth,
		Height:     barHeight,
		BarWidth:   max(6, min(48, (barWidth-120)/len(rows)-6)),
		BarSpacing: 6,
		Background: chart.Style{Padding: chart.Box{Top: 20, Left: 10, Right: 10, Bottom: 30}},
		XAxis:      chart.Style{FontSize: 8},
		YAxis: chart.YAxis{
			Name:  opts.YLabel,
			Style: chart.Style{FontSize: 8},
			// An all-zero selection still needs a non-degenerate range.
			Range: &chart.ContinuousRange{Min: 0, Max: float64(max(1, top))},
		},
		Bars:     bars,
		Elements: []chart.Renderable{categoryAxisName(opts.XLabel)},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.SVG, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// categoryAxisName writes name centered under a vertical bar chart.
func categoryAxisName(name string) chart.Renderable {
	return func(r chart.Renderer, _ chart.Box, defaults chart.Style) {
		if name == "" {
			return
		}
		style := chart.Style{Font: defaults.Font, FontSize: fontSize, FontColor: colorAxis}
		w := measureText(r, name, style)
		chart.Draw.Text(r, html.EscapeString(name), (barWidth-w)/2, barHeight-6, style)
	}
}

func measureText(r chart.Renderer, s string, style chart.Style) int {
	style.GetTextOptions().WriteToRenderer(r)
	return r.MeasureText(s).Width()
}

// renderHorizontal draws one bar per row, the first row at the bottom,
// with category labels on the left and the value axis along the bottom.
func renderHorizontal(rows []models.AggregateRow, opts BarOptions) (string, error) {
	font, err := chart.GetDefaultFont()
	if err != nil {
		return "", err
	}

	bottom := hbarTop + len(rows)*hbarRow
	height := bottom + hbarBottom
	r, err := chart.SVG(barWidth, height)
	if err != nil {
		return "", err
	}

	text := chart.Style{Font: font, FontSize: fontSize, FontColor: colorAxis}
	measure := func(s string) int { return measureText(r, s, text) }

	var top int64 = 1
	labelWidth := measure(opts.XLabel)
	for _, row := range rows {
		top = max(top, row.SalesTotal)
		labelWidth = max(labelWidth, measure(row.Key.Label()))
	}
	left := labelWidth + 2*labelPadding
	right := barWidth - hbarRight
	xOf := func(v int64) int {
		return left + int(math.Round(float64(right-left)*float64(v)/float64(top)))
	}

	p := message.NewPrinter(language.Turkish)
	last := int64(-1)
	for i := range hbarTicks + 1 {
		v := top * int64(i) / hbarTicks
		if v == last {
			continue
		}
		last = v
		x := xOf(v)
		r.SetStrokeColor(colorGrid)
		r.SetStrokeWidth(1)
		r.MoveTo(x, hbarTop)
		r.LineTo(x, bottom)
		r.Stroke()
		tick := p.Sprintf("%d", v)
		chart.Draw.Text(r, tick, x-measure(tick)/2, bottom+14, text)
	}

	bar := chart.Style{FillColor: colorBar, StrokeColor: colorBar, StrokeWidth: 1}
	for i, row := range rows {
		y := bottom - (i+1)*hbarRow
		chart.Draw.Box(r, chart.Box{
			Top:    y + 3,
			Left:   left,
			Right:  max(left+1, xOf(row.SalesTotal)),
			Bottom: y + hbarRow - 3,
		}, bar)
		label := row.Key.Label()
		chart.Draw.Text(r, html.EscapeString(label), left-labelPadding-measure(label), y+hbarRow/2+3, text)
	}

	if opts.XLabel != "" {
		chart.Draw.Text(r, html.EscapeString(opts.XLabel), left-labelPadding-measure(opts.XLabel), hbarTop-10, text)
	}
	if opts.YLabel != "" {
		chart.Draw.Text(r, html.EscapeString(opts.YLabel), left+(right-left-measure(opts.YLabel))/2, height-8, text)
	}

	var buf bytes.Buffer
	if err := r.Save(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var mapTemplate = template.Must(template.New("map").Parse(
	`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 {{.Width}} {{.Height}}" class="choropleth" role="img">` +
		`{{range .Regions}}<path d="{{.Path}}" fill="{{.Fill}}" stroke="{{if .Selected}}#111827{{else}}#6b7280{{end}}" stroke-width="{{if .Selected}}2.5{{else}}0.6{{end}}" data-region="{{.Name}}"{{if .Selected}} data-selected="true"{{end}}><title>{{.Tooltip}}</title></path>{{end}}` +
		`</svg>`))

type mapRegion struct {
	Name     string
	Path     string
	Fill     string
	Tooltip  string
	Selected bool
}

type mapData struct {
	Width, Height int
	Regions       []mapRegion
}

// RenderMap draws a choropleth of rows over the boundary features, joined
// on province name. Fill runs white to green to red across domain.
// Features with no row are drawn in a neutral color. The caller sets the
// title.
func (*Renderer) RenderMap(rows []models.AggregateRow, fc *geojson.FeatureCollection, domain [2]int64, selected string) (Chart, error) {
	if fc == nil {
		return Chart{}, errors.New("render map: no boundaries")
	}

	totals := make(map[string]int64, len(rows))
	for _, row := range rows {
		totals[row.Key.Province] = row.SalesTotal
	}

	proj, ok := newProjection(fc)
	if !ok {
		return Chart{}, errors.New("render map: boundaries have no polygons")
	}

	p := message.NewPrinter(language.Turkish)
	data := mapData{Width: mapWidth, Height: proj.height}
	for _, f := range fc.Features {
		path := proj.path(f.Geometry)
		if path == "" {
			continue
		}
		name, _ := f.Properties["name"].(string)
		region := mapRegion{Name: name, Path: path, Selected: name != "" && name == selected}
		if total, ok := totals[name]; ok {
			region.Fill = Scale(total, domain).String()
			region.Tooltip = p.Sprintf("%s: %d", name, total)
		} else {
			region.Fill = colorNoData.String()
			region.Tooltip = name
		}
		data.Regions = append(data.Regions, region)
	}

	var buf strings.Builder
	if err := mapTemplate.Execute(&buf, data); err != nil {
		return Chart{}, fmt.Errorf("render map: %w", err)
	}
	return Chart{Kind: KindMap, SVG: buf.String(), Empty: len(rows) == 0}, nil
}

// Scale maps v onto the white-green-red palette over domain. A
// degenerate domain maps everything to the low end.
func Scale(v int64, domain [2]int64) drawing.Color {
	lo, hi := domain[0], domain[1]
	if hi <= lo {
		return colorLow
	}
	t := float64(v-lo) / float64(hi-lo)
	t = math.Max(0, math.Min(1, t))
	if t <= 0.5 {
		return lerp(colorLow, colorMid, t*2)
	}
	return lerp(colorMid, colorHigh, (t-0.5)*2)
}

func lerp(a, b drawing.Color, t float64) drawing.Color {
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return drawing.Color{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
}

// projection is an equirectangular projection scaled by the cosine of the
// middle latitude, fitted to mapWidth.
type projection struct {
	minLon, maxLat float64
	kx, scale      float64
	height         int
}

func newProjection(fc *geojson.FeatureCollection) (projection, bool) {
	minLon, minLat := math.Inf(1), math.Inf(1)
	maxLon, maxLat := math.Inf(-1), math.Inf(-1)
	for _, f := range fc.Features {
		forEachRing(f.Geometry, func(ring [][]float64) {
			for _, pt := range ring {
				if len(pt) < 2 {
					continue
				}
				minLon, maxLon = math.Min(minLon, pt[0]), math.Max(maxLon, pt[0])
				minLat, maxLat = math.Min(minLat, pt[1]), math.Max(maxLat, pt[1])
			}
		})
	}
	if math.IsInf(minLon, 1) || maxLon == minLon || maxLat == minLat {
		return projection{}, false
	}

	kx := math.Cos((minLat + maxLat) / 2 * math.Pi / 180)
	scale := mapWidth / ((maxLon - minLon) * kx)
	return projection{
		minLon: minLon,
		maxLat: maxLat,
		kx:     kx,
		scale:  scale,
		height: int(math.Ceil((maxLat - minLat) * scale)),
	}, true
}

func (p projection) path(g *geojson.Geometry) string {
	var b strings.Builder
	forEachRing(g, func(ring [][]float64) {
		for i, pt := range ring {
			if len(pt) < 2 {
				continue
			}
			cmd := 'L'
			if i == 0 {
				cmd = 'M'
			}
			x := (pt[0] - p.minLon) * p.kx * p.scale
			y := (p.maxLat - pt[1]) * p.scale
			fmt.Fprintf(&b, "%c%.1f,%.1f", cmd, x, y)
		}
		b.WriteByte('Z')
	})
	return b.String()
}

func forEachRing(g *geojson.Geometry, fn func([][]float64)) {
	if g == nil {
		return
	}
	switch g.Type {
	case geojson.GeometryPolygon:
		for _, ring := range g.Polygon {
			fn(ring)
		}
	case geojson.GeometryMultiPolygon:
		for _, poly := range g.MultiPolygon {
			for _, ring := range poly {
				fn(ring)
			}
		}
	}
}
