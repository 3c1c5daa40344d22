package render

import (
	"strings"
	"testing"

	geojson "github.com/paulmach/go.geojson"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"konut-dashboard/internal/models"
)

func square(name string, lon, lat float64) *geojson.Feature {
	f := geojson.NewPolygonFeature([][][]float64{{
		{lon, lat}, {lon + 1, lat}, {lon + 1, lat + 1}, {lon, lat + 1}, {lon, lat},
	}})
	f.Properties = map[string]interface{}{"name": name}
	return f
}

func testCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.AddFeature(square("Ankara", 32, 39))
	fc.AddFeature(square("İzmir", 27, 38))
	fc.AddFeature(square("Bursa", 29, 40))
	return fc
}

func regionRows() []models.AggregateRow {
	return []models.AggregateRow{
		{Key: models.GroupKey{Province: "Ankara"}, SalesTotal: 260},
		{Key: models.GroupKey{Province: "İzmir"}, SalesTotal: 95},
	}
}

func TestScale(t *testing.T) {
	tests := []struct {
		name   string
		v      int64
		domain [2]int64
		want   drawing.Color
	}{
		{"low end", 10, [2]int64{10, 110}, colorLow},
		{"midpoint", 60, [2]int64{10, 110}, colorMid},
		{"high end", 110, [2]int64{10, 110}, colorHigh},
		{"clamped above", 500, [2]int64{10, 110}, colorHigh},
		{"degenerate domain", 7, [2]int64{7, 7}, colorLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Scale(tt.v, tt.domain); got != tt.want {
				t.Errorf("Scale(%d, %v) = %v, want %v", tt.v, tt.domain, got, tt.want)
			}
		})
	}
}

func TestRenderMap(t *testing.T) {
	c, err := New().RenderMap(regionRows(), testCollection(), [2]int64{95, 260}, "İzmir")
	if err != nil {
		t.Fatalf("RenderMap() error = %v", err)
	}
	if c.Kind != KindMap || c.Empty || c.Unavailable {
		t.Errorf("unexpected chart flags: %+v", c)
	}

	for _, want := range []string{
		`data-region="Ankara"`,
		`data-region="İzmir" data-selected="true"`,
		`data-region="Bursa"`,
		colorHigh.String(),
		colorNoData.String(),
		"Ankara: 260",
	} {
		if !strings.Contains(c.SVG, want) {
			t.Errorf("map SVG missing %q", want)
		}
	}
	if strings.Count(c.SVG, "<path") != 3 {
		t.Errorf("want 3 paths, got %d", strings.Count(c.SVG, "<path"))
	}
}

func TestRenderMap_EscapesNames(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.AddFeature(square(`<script>"x"</script>`, 30, 38))
	fc.AddFeature(square("Ankara", 32, 39))

	c, err := New().RenderMap(nil, fc, [2]int64{}, "")
	if err != nil {
		t.Fatalf("RenderMap() error = %v", err)
	}
	if strings.Contains(c.SVG, "<script>") {
		t.Error("feature names must be escaped")
	}
	if !c.Empty {
		t.Error("map with no rows should be flagged empty")
	}
}

func TestRenderMap_NoBoundaries(t *testing.T) {
	if _, err := New().RenderMap(regionRows(), nil, [2]int64{}, ""); err == nil {
		t.Error("RenderMap(nil boundaries) should fail")
	}
	if _, err := New().RenderMap(regionRows(), geojson.NewFeatureCollection(), [2]int64{}, ""); err == nil {
		t.Error("RenderMap(no polygons) should fail")
	}
}

func TestRenderBar(t *testing.T) {
	rows := []models.AggregateRow{
		{Key: models.GroupKey{District: "Keçiören"}, SalesTotal: 80},
		{Key: models.GroupKey{District: "Çankaya"}, SalesTotal: 120},
	}
	opts := BarOptions{Kind: KindDistrict, Title: "2020 Yılı Ankara İli İlçelere Göre Konut Satışları", XLabel: "İlçeler", YLabel: "Konut Satışları"}

	c, err := New().RenderBar(rows, opts)
	if err != nil {
		t.Fatalf("RenderBar() error = %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(c.SVG), "<svg") {
		t.Errorf("SVG should start with <svg, got %.40q", c.SVG)
	}
	if c.Title != opts.Title || c.XLabel != "İlçeler" || c.YLabel != "Konut Satışları" {
		t.Errorf("labels not carried: %+v", c)
	}
	if c.Empty || c.Unavailable {
		t.Errorf("unexpected flags: %+v", c)
	}
}

func TestRenderBar_Horizontal(t *testing.T) {
	rows := []models.AggregateRow{
		{Key: models.GroupKey{District: "Keçiören"}, SalesTotal: 80},
		{Key: models.GroupKey{District: "Çankaya"}, SalesTotal: 120},
	}
	opts := BarOptions{Kind: KindDistrict, XLabel: "İlçeler", YLabel: "Konut Satışları", Horizontal: true}

	c, err := New().RenderBar(rows, opts)
	if err != nil {
		t.Fatalf("RenderBar() error = %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(c.SVG), "<svg") {
		t.Fatalf("SVG should start with <svg, got %.40q", c.SVG)
	}
	for _, want := range []string{"İlçeler", "Konut Satışları", "Keçiören", "Çankaya"} {
		if !strings.Contains(c.SVG, want) {
			t.Errorf("horizontal SVG missing %q", want)
		}
	}
	// Labels are written in row order; the first row sits at the bottom.
	if strings.Index(c.SVG, "Keçiören") > strings.Index(c.SVG, "Çankaya") {
		t.Error("rows should be drawn in row order")
	}
}

func TestRenderBar_VerticalCategoryAxisName(t *testing.T) {
	rows := []models.AggregateRow{{Key: models.GroupKey{Month: 1}, SalesTotal: 5}}
	c, err := New().RenderBar(rows, BarOptions{Kind: KindMonth, XLabel: "Aylar", YLabel: "Konut Satışları"})
	if err != nil {
		t.Fatalf("RenderBar() error = %v", err)
	}
	if !strings.Contains(c.SVG, "Aylar") {
		t.Error("category axis name should be drawn in the chart")
	}
}

func TestRenderBar_AllZeroMonths(t *testing.T) {
	rows := make([]models.AggregateRow, 12)
	for i := range rows {
		rows[i] = models.AggregateRow{Key: models.GroupKey{Month: i + 1}}
	}
	c, err := New().RenderBar(rows, BarOptions{Kind: KindMonth})
	if err != nil {
		t.Fatalf("RenderBar() error = %v", err)
	}
	if c.SVG == "" {
		t.Error("all-zero rows should still render")
	}
}

func TestRenderBar_Empty(t *testing.T) {
	c, err := New().RenderBar(nil, BarOptions{Kind: KindMonth, Title: "t"})
	if err != nil {
		t.Fatalf("RenderBar() error = %v", err)
	}
	if !c.Empty || c.SVG != "" || c.Message == "" {
		t.Errorf("empty rows should give an empty chart, got %+v", c)
	}
}

func TestPlaceholder(t *testing.T) {
	c := New().Placeholder(KindMap, "Harita", "Harita verisi alınamadı")
	if !c.Unavailable || c.Kind != KindMap || c.SVG != "" {
		t.Errorf("Placeholder() = %+v", c)
	}
}

func BenchmarkRenderMap(b *testing.B) {
	r := New()
	fc := testCollection()
	rows := regionRows()

	b.ResetTimer()
	for b.Loop() {
		if _, err := r.RenderMap(rows, fc, [2]int64{95, 260}, "Ankara"); err != nil {
			b.Fatal(err)
		}
	}
}
