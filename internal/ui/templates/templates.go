// Package templates holds the dashboard page and the fragments patched
// into it over SSE.
package templates

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/a-h/templ"

	"konut-dashboard/internal/dashboard"
)

// Element ids patched by the SSE handlers.
const (
	IDMapTitle     = "map-title"
	IDMapView      = "map-view"
	IDSectionTitle = "section-title"
	IDDistrictView = "district-view"
	IDMonthView    = "month-view"
	IDControls     = "controls"
)

// Page is the data behind the full dashboard page.
type Page struct {
	Views   dashboard.Views
	Years   []int
	Regions []string
}

// Signals returns the datastar signals that mirror the selections in v.
func Signals(v dashboard.Views) map[string]any {
	return map[string]any{
		"year":          v.Year,
		"region":        v.Region,
		"clickedRegion": "",
	}
}

func signalsJSON(v dashboard.Views) string {
	b, _ := json.Marshal(Signals(v))
	return string(b)
}

// RenderString renders c for an SSE patch.
func RenderString(ctx context.Context, c templ.Component) (string, error) {
	var b strings.Builder
	if err := c.Render(ctx, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}
