package models

// RegionSource tags which producer last set the region selection.
type RegionSource string

const (
	RegionFromDefault  RegionSource = "default"
	RegionFromSelector RegionSource = "selector"
	RegionFromMapClick RegionSource = "map_click"
)

// RegionSelection is the dual-sourced region signal. The region selector
// and the map click both write it; whichever event ran last wins.
type RegionSelection struct {
	Source RegionSource `json:"source"`
	Region string       `json:"region"`
}

func DefaultRegion(region string) RegionSelection {
	return RegionSelection{Source: RegionFromDefault, Region: region}
}

func FromSelector(region string) RegionSelection {
	return RegionSelection{Source: RegionFromSelector, Region: region}
}

func FromMapClick(region string) RegionSelection {
	return RegionSelection{Source: RegionFromMapClick, Region: region}
}

// Resolve returns the selected region, or fallback when nothing usable
// has been selected.
func (s RegionSelection) Resolve(fallback string) string {
	if s.Region == "" {
		return fallback
	}
	return s.Region
}
