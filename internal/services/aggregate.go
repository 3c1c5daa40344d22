package services

import (
	"slices"

	"konut-dashboard/internal/models"
)

// turkishMonths names months absent from the data when the month axis is
// zero-filled.
var turkishMonths = [12]string{
	"Ocak", "Şubat", "Mart", "Nisan", "Mayıs", "Haziran",
	"Temmuz", "Ağustos", "Eylül", "Ekim", "Kasım", "Aralık",
}

// AggregateByRegion sums sales per province for year. Rows follow the
// dataset's region order.
func AggregateByRegion(ds *Dataset, year int) []models.AggregateRow {
	totals := make(map[string]int64)
	for _, r := range ds.records {
		if r.Year == year {
			totals[r.Province] += r.Sales
		}
	}

	result := make([]models.AggregateRow, 0, len(totals))
	for province, total := range totals {
		result = append(result, models.AggregateRow{
			Key:        models.GroupKey{Province: province},
			SalesTotal: total,
		})
	}
	slices.SortFunc(result, func(a, b models.AggregateRow) int {
		return ds.regionRank[a.Key.Province] - ds.regionRank[b.Key.Province]
	})
	return result
}

// AggregateByDistrict sums sales per district of region for year, ordered
// ascending by total. Ties keep the order districts first appear in the
// dataset.
func AggregateByDistrict(ds *Dataset, region string, year int) []models.AggregateRow {
	index := make(map[string]int)
	var result []models.AggregateRow
	for _, r := range ds.records {
		if r.Province != region || r.Year != year {
			continue
		}
		i, ok := index[r.District]
		if !ok {
			i = len(result)
			index[r.District] = i
			result = append(result, models.AggregateRow{Key: models.GroupKey{District: r.District}})
		}
		result[i].SalesTotal += r.Sales
	}

	if result == nil {
		return []models.AggregateRow{}
	}

	slices.SortStableFunc(result, func(a, b models.AggregateRow) int {
		switch {
		case a.SalesTotal < b.SalesTotal:
			return -1
		case a.SalesTotal > b.SalesTotal:
			return 1
		}
		return 0
	})
	return result
}

// AggregateByMonth sums sales per calendar month of region for year. When
// anything matches the result has exactly twelve rows, January first,
// with absent months zero-filled.
func AggregateByMonth(ds *Dataset, region string, year int) []models.AggregateRow {
	var (
		totals  [12]int64
		names   [12]string
		matched bool
	)
	for _, r := range ds.records {
		if r.Province != region || r.Year != year {
			continue
		}
		matched = true
		totals[r.Month-1] += r.Sales
		if names[r.Month-1] == "" {
			names[r.Month-1] = r.MonthName
		}
	}

	if !matched {
		return []models.AggregateRow{}
	}

	result := make([]models.AggregateRow, 12)
	for i := range result {
		name := names[i]
		if name == "" {
			name = turkishMonths[i]
		}
		result[i] = models.AggregateRow{
			Key:        models.GroupKey{Month: i + 1, MonthName: name},
			SalesTotal: totals[i],
		}
	}
	return result
}

// ColorDomain returns the smallest and largest totals in rows, or 0, 0
// for no rows.
func ColorDomain(rows []models.AggregateRow) (lo, hi int64) {
	for i, row := range rows {
		if i == 0 || row.SalesTotal < lo {
			lo = row.SalesTotal
		}
		if i == 0 || row.SalesTotal > hi {
			hi = row.SalesTotal
		}
	}
	return lo, hi
}

// SumSales totals the SalesTotal column.
func SumSales(rows []models.AggregateRow) int64 {
	var total int64
	for _, row := range rows {
		total += row.SalesTotal
	}
	return total
}
