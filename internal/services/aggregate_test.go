package services

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"konut-dashboard/internal/models"
)

func TestAggregateByRegion_Scenario(t *testing.T) {
	ds := loadSample(t)

	got := AggregateByRegion(ds, 2020)
	want := []models.AggregateRow{
		{Key: models.GroupKey{Province: "Ankara"}, SalesTotal: 260},
		{Key: models.GroupKey{Province: "İzmir"}, SalesTotal: 95},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("AggregateByRegion mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateByRegion_SumMatchesYearTotal(t *testing.T) {
	ds := loadSample(t)

	for _, year := range ds.Years() {
		var want int64
		for _, r := range ds.Records() {
			if r.Year == year {
				want += r.Sales
			}
		}
		if got := SumSales(AggregateByRegion(ds, year)); got != want {
			t.Errorf("year %d: sum of region totals = %d, want %d", year, got, want)
		}
	}
}

func TestAggregateByDistrict_AscendingScenario(t *testing.T) {
	ds := NewDataset([]models.SalesRecord{
		{Province: "Ankara", District: "Çankaya", Year: 2020, Month: 3, MonthName: "Mart", Sales: 120},
		{Province: "Ankara", District: "Keçiören", Year: 2020, Month: 3, MonthName: "Mart", Sales: 80},
	})

	got := AggregateByDistrict(ds, "Ankara", 2020)
	want := []models.AggregateRow{
		{Key: models.GroupKey{District: "Keçiören"}, SalesTotal: 80},
		{Key: models.GroupKey{District: "Çankaya"}, SalesTotal: 120},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("AggregateByDistrict mismatch (-want +got):\n%s", diff)
	}

	if got := AggregateByRegion(ds, 2020); len(got) != 1 || got[0].SalesTotal != 200 {
		t.Errorf("AggregateByRegion = %+v, want Ankara 200", got)
	}
}

func TestAggregateByDistrict_SortedWithStableTies(t *testing.T) {
	var records []models.SalesRecord
	for i, sales := range []int64{50, 10, 50, 30, 10} {
		records = append(records, models.SalesRecord{
			Province: "Bursa", District: fmt.Sprintf("D%d", i), Year: 2021, Month: 1, MonthName: "Ocak", Sales: sales,
		})
	}
	ds := NewDataset(records)

	got := AggregateByDistrict(ds, "Bursa", 2021)
	wantOrder := []string{"D1", "D4", "D3", "D0", "D2"}
	if len(got) != len(wantOrder) {
		t.Fatalf("got %d rows, want %d", len(got), len(wantOrder))
	}
	for i, row := range got {
		if row.Key.District != wantOrder[i] {
			t.Errorf("row %d = %s, want %s", i, row.Key.District, wantOrder[i])
		}
		if i > 0 && got[i-1].SalesTotal > row.SalesTotal {
			t.Errorf("rows %d and %d out of order", i-1, i)
		}
	}
}

func TestAggregateByMonth_ZeroFilledCalendar(t *testing.T) {
	ds := loadSample(t)

	got := AggregateByMonth(ds, "Ankara", 2020)
	if len(got) != 12 {
		t.Fatalf("got %d rows, want 12", len(got))
	}
	for i, row := range got {
		if row.Key.Month != i+1 {
			t.Errorf("row %d has month %d", i, row.Key.Month)
		}
	}
	if got[2].SalesTotal != 200 || got[2].Key.MonthName != "Mart" {
		t.Errorf("March = %+v, want Mart 200", got[2])
	}
	if got[3].SalesTotal != 60 {
		t.Errorf("April = %+v, want 60", got[3])
	}
	if got[0].SalesTotal != 0 || got[0].Key.MonthName != "Ocak" {
		t.Errorf("January = %+v, want zero-filled Ocak", got[0])
	}
	if got[11].Key.Label() != "Aralık" {
		t.Errorf("December label = %q", got[11].Key.Label())
	}
}

func TestAggregates_EmptySelection(t *testing.T) {
	ds := loadSample(t)

	tests := []struct {
		name string
		rows []models.AggregateRow
	}{
		{"region unknown year", AggregateByRegion(ds, 1999)},
		{"district unknown region", AggregateByDistrict(ds, "Bursa", 2020)},
		{"district unknown year", AggregateByDistrict(ds, "Ankara", 1999)},
		{"month unknown region", AggregateByMonth(ds, "Bursa", 2020)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.rows == nil || len(tt.rows) != 0 {
				t.Errorf("want empty non-nil slice, got %#v", tt.rows)
			}
		})
	}
}

func TestColorDomain(t *testing.T) {
	lo, hi := ColorDomain(nil)
	if lo != 0 || hi != 0 {
		t.Errorf("ColorDomain(nil) = %d, %d", lo, hi)
	}

	lo, hi = ColorDomain([]models.AggregateRow{{SalesTotal: 40}, {SalesTotal: 7}, {SalesTotal: 90}})
	if lo != 7 || hi != 90 {
		t.Errorf("ColorDomain = %d, %d, want 7, 90", lo, hi)
	}
}

func TestDataset_Stats(t *testing.T) {
	stats := loadSample(t).Stats()
	if stats.Records != 7 || stats.Regions != 2 || stats.Districts != 4 || stats.Sales != 458 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func BenchmarkAggregateByDistrict(b *testing.B) {
	var records []models.SalesRecord
	for d := 0; d < 25; d++ {
		for y := 2013; y <= 2023; y++ {
			for m := 1; m <= 12; m++ {
				records = append(records, models.SalesRecord{
					Province: "İstanbul", District: fmt.Sprintf("D%02d", d), Year: y, Month: m, Sales: int64(d*m + y),
				})
			}
		}
	}
	ds := NewDataset(records)

	b.ResetTimer()
	for b.Loop() {
		_ = AggregateByDistrict(ds, "İstanbul", 2020)
	}
}
