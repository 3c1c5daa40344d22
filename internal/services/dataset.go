package services

import (
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"konut-dashboard/internal/models"
)

// Dataset is the immutable sales table. It is built once and shared
// read-only by every session.
type Dataset struct {
	records    []models.SalesRecord
	years      []int
	regions    []string
	regionRank map[string]int
	districts  map[string][]string
	sales      int64
}

// NewDataset indexes records. Callers must not modify records afterwards.
func NewDataset(records []models.SalesRecord) *Dataset {
	ds := &Dataset{
		records:    records,
		regionRank: make(map[string]int),
		districts:  make(map[string][]string),
	}

	seenYear := make(map[int]bool)
	seenDistrict := make(map[string]map[string]bool)
	for _, r := range records {
		ds.sales += r.Sales
		if !seenYear[r.Year] {
			seenYear[r.Year] = true
			ds.years = append(ds.years, r.Year)
		}
		if seenDistrict[r.Province] == nil {
			seenDistrict[r.Province] = make(map[string]bool)
			ds.regions = append(ds.regions, r.Province)
		}
		if !seenDistrict[r.Province][r.District] {
			seenDistrict[r.Province][r.District] = true
			ds.districts[r.Province] = append(ds.districts[r.Province], r.District)
		}
	}

	slices.Sort(ds.years)

	// Turkish collation keeps Ç, Ş, İ next to their base letters.
	col := collate.New(language.Turkish)
	col.SortStrings(ds.regions)
	for region := range ds.districts {
		col.SortStrings(ds.districts[region])
	}
	for i, region := range ds.regions {
		ds.regionRank[region] = i
	}

	return ds
}

func (d *Dataset) Len() int { return len(d.records) }

// Records returns the rows in load order. The slice must not be modified.
func (d *Dataset) Records() []models.SalesRecord { return d.records }

// Years returns the distinct years in ascending order.
func (d *Dataset) Years() []int { return slices.Clone(d.years) }

// Regions returns the distinct province names in Turkish collation order.
func (d *Dataset) Regions() []string { return slices.Clone(d.regions) }

// DistrictsOf returns the districts of region, or nil for an unknown region.
func (d *Dataset) DistrictsOf(region string) []string {
	return slices.Clone(d.districts[region])
}

func (d *Dataset) HasYear(year int) bool {
	_, found := slices.BinarySearch(d.years, year)
	return found
}

func (d *Dataset) HasRegion(region string) bool {
	_, ok := d.regionRank[region]
	return ok
}

// LatestYear returns the largest year, or 0 for an empty dataset.
func (d *Dataset) LatestYear() int {
	if len(d.years) == 0 {
		return 0
	}
	return d.years[len(d.years)-1]
}

func (d *Dataset) Stats() models.DatasetStats {
	districts := 0
	for _, names := range d.districts {
		districts += len(names)
	}
	return models.DatasetStats{
		Records:   len(d.records),
		Years:     d.Years(),
		Regions:   len(d.regions),
		Districts: districts,
		Sales:     d.sales,
	}
}
