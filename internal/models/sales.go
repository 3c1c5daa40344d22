package models

import "strconv"

// SalesRecord is one row of the housing sales dataset.
type SalesRecord struct {
	Province  string `json:"province"`
	District  string `json:"district"`
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	MonthName string `json:"month_name"`
	Sales     int64  `json:"sales"`
}

// RecordKey identifies a SalesRecord; it is unique within a dataset.
type RecordKey struct {
	Province string
	District string
	Year     int
	Month    int
}

func (r SalesRecord) Key() RecordKey {
	return RecordKey{Province: r.Province, District: r.District, Year: r.Year, Month: r.Month}
}

// GroupKey is the tuple an aggregate was grouped by. Only the fields of
// the grouping are set.
type GroupKey struct {
	Province  string `json:"province,omitempty"`
	District  string `json:"district,omitempty"`
	Month     int    `json:"month,omitempty"`
	MonthName string `json:"month_name,omitempty"`
}

// Label returns the value shown on a chart axis for this key.
func (k GroupKey) Label() string {
	switch {
	case k.MonthName != "":
		return k.MonthName
	case k.Month != 0:
		return strconv.Itoa(k.Month)
	case k.District != "":
		return k.District
	default:
		return k.Province
	}
}

type AggregateRow struct {
	Key        GroupKey `json:"key"`
	SalesTotal int64    `json:"sales_total"`
}

type DatasetStats struct {
	Records   int   `json:"records"`
	Years     []int `json:"years"`
	Regions   int   `json:"regions"`
	Districts int   `json:"districts"`
	Sales     int64 `json:"sales_total"`
}
