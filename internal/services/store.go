package services

import (
	"context"
	"encoding/csv"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	apperrors "konut-dashboard/internal/errors"
	"konut-dashboard/internal/models"
	"konut-dashboard/internal/observability"
)

const (
	batchSize    = 5000
	maxWorkers   = 8
	cacheVersion = "v2"
)

var requiredColumns = []string{"il", "ilce", "yil", "ay", "ay-isim", "satis"}

type columnIndex struct {
	province, district, year, month, monthName, sales int
}

type StoreConfig struct {
	// CacheDir holds gob snapshots of parsed datasets. Empty disables
	// the snapshot cache.
	CacheDir string
	// CacheTTL bounds how long a snapshot of a remote source is trusted.
	CacheTTL time.Duration
}

// Store loads the sales dataset and manages its on-disk snapshot.
type Store struct {
	opener Opener
	cfg    StoreConfig
	logger *slog.Logger

	mu     sync.RWMutex
	source string
}

// SnapshotStatus describes the on-disk snapshot of the loaded source.
type SnapshotStatus struct {
	Source    string    `json:"source"`
	Enabled   bool      `json:"enabled"`
	Present   bool      `json:"present"`
	WrittenAt time.Time `json:"written_at,omitzero"`
}

func NewStore(opener Opener, cfg StoreConfig, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{opener: opener, cfg: cfg, logger: logger}
}

// Load reads and validates the dataset at source. Any failure is a
// DataLoadError; nothing is kept from a failed load.
func (s *Store) Load(ctx context.Context, source string) (ds *Dataset, err error) {
	ctx, span := observability.StartSpan(ctx, "dataset.Load", attribute.String("dataset.source", source))
	defer func() { observability.EndSpan(span, err) }()

	if records, ok := s.loadFromCache(source); ok {
		ds = NewDataset(records)
		s.setSource(source)
		s.logger.Info("dataset loaded from cache", "source", source, "records", ds.Len())
		return ds, nil
	}

	start := time.Now()
	s.logger.Info("loading dataset", "source", source)

	rc, err := s.opener.Open(ctx, source)
	if err != nil {
		return nil, apperrors.DataLoad(err, "dataset source unreachable")
	}
	defer rc.Close()

	records, err := parseSalesCSV(ctx, rc)
	if err != nil {
		return nil, apperrors.DataLoad(err, "dataset malformed")
	}

	ds = NewDataset(records)
	s.setSource(source)

	if err := s.saveToCache(source, records); err != nil {
		s.logger.Warn("failed to save dataset cache", "error", err)
	}

	duration := time.Since(start)
	s.logger.Info("dataset loaded",
		"source", source,
		"records", ds.Len(),
		"years", len(ds.years),
		"regions", len(ds.regions),
		"duration", duration,
	)
	return ds, nil
}

func (s *Store) setSource(source string) {
	s.mu.Lock()
	s.source = source
	s.mu.Unlock()
}

// Snapshot reports whether a snapshot of the last loaded source is on
// disk.
func (s *Store) Snapshot() SnapshotStatus {
	s.mu.RLock()
	source := s.source
	s.mu.RUnlock()

	st := SnapshotStatus{Source: source, Enabled: s.cfg.CacheDir != ""}
	if !st.Enabled || source == "" {
		return st
	}
	if info, err := os.Stat(s.cacheFilename(source)); err == nil {
		st.Present = true
		st.WrittenAt = info.ModTime()
	}
	return st
}

// Invalidate removes the snapshot of the current source so the next Load
// goes back to the source.
func (s *Store) Invalidate() error {
	s.mu.RLock()
	source := s.source
	s.mu.RUnlock()

	if s.cfg.CacheDir == "" || source == "" {
		return nil
	}
	err := os.Remove(s.cacheFilename(source))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func parseSalesCSV(ctx context.Context, r io.Reader) ([]models.SalesRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("no records found")
	}

	records := make([]models.SalesRecord, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				rec, err := parseSalesRecord(rows[i], cols)
				if err != nil {
					// +2: header line and 1-based numbering
					return fmt.Errorf("line %d: %w", i+2, err)
				}
				records[i] = rec
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := validateRecords(records); err != nil {
		return nil, err
	}
	return records, nil
}

func indexColumns(header []string) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		pos[name] = i
	}

	var missing []string
	for _, name := range requiredColumns {
		if _, ok := pos[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return columnIndex{}, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}

	return columnIndex{
		province:  pos["il"],
		district:  pos["ilce"],
		year:      pos["yil"],
		month:     pos["ay"],
		monthName: pos["ay-isim"],
		sales:     pos["satis"],
	}, nil
}

func parseSalesRecord(row []string, cols columnIndex) (models.SalesRecord, error) {
	field := func(i int) (string, error) {
		if i >= len(row) {
			return "", fmt.Errorf("insufficient columns")
		}
		return strings.TrimSpace(row[i]), nil
	}

	var (
		rec models.SalesRecord
		err error
		raw string
	)

	if rec.Province, err = field(cols.province); err != nil {
		return rec, err
	}
	if rec.District, err = field(cols.district); err != nil {
		return rec, err
	}
	if rec.MonthName, err = field(cols.monthName); err != nil {
		return rec, err
	}

	if raw, err = field(cols.year); err != nil {
		return rec, err
	}
	year, err := parseWholeNumber(raw)
	if err != nil {
		return rec, fmt.Errorf("yil: %w", err)
	}
	rec.Year = int(year)

	if raw, err = field(cols.month); err != nil {
		return rec, err
	}
	month, err := parseWholeNumber(raw)
	if err != nil {
		return rec, fmt.Errorf("ay: %w", err)
	}
	rec.Month = int(month)

	if raw, err = field(cols.sales); err != nil {
		return rec, err
	}
	if rec.Sales, err = parseWholeNumber(raw); err != nil {
		return rec, fmt.Errorf("satis: %w", err)
	}

	return rec, nil
}

// parseWholeNumber accepts "120" and the "120.0" form spreadsheet exports
// produce.
func parseWholeNumber(raw string) (int64, error) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not a whole number", raw)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%q is out of range", raw)
	}
	return int64(f), nil
}

func validateRecords(records []models.SalesRecord) error {
	seen := make(map[models.RecordKey]int, len(records))
	for i, rec := range records {
		line := i + 2
		switch {
		case rec.Province == "":
			return fmt.Errorf("line %d: empty il", line)
		case rec.District == "":
			return fmt.Errorf("line %d: empty ilce", line)
		case rec.Month < 1 || rec.Month > 12:
			return fmt.Errorf("line %d: month %d out of range 1-12", line, rec.Month)
		case rec.Sales < 0:
			return fmt.Errorf("line %d: negative sales %d", line, rec.Sales)
		}
		if first, dup := seen[rec.Key()]; dup {
			return fmt.Errorf("line %d: duplicate of line %d (%s/%s %d-%02d)",
				line, first, rec.Province, rec.District, rec.Year, rec.Month)
		}
		seen[rec.Key()] = line
	}
	return nil
}

// Cache management
func (s *Store) cacheFilename(source string) string {
	name := strings.NewReplacer("/", "_", ":", "_", "?", "_", "&", "_", "=", "_").Replace(source)
	return filepath.Join(s.cfg.CacheDir, fmt.Sprintf("%s_%s.gob", name, cacheVersion))
}

func (s *Store) loadFromCache(source string) ([]models.SalesRecord, bool) {
	if s.cfg.CacheDir == "" {
		return nil, false
	}

	filename := s.cacheFilename(source)
	info, err := os.Stat(filename)
	if err != nil {
		return nil, false
	}

	if isRemote(source) {
		if s.cfg.CacheTTL <= 0 || time.Since(info.ModTime()) > s.cfg.CacheTTL {
			return nil, false
		}
	} else {
		src, err := os.Stat(strings.TrimPrefix(source, "file://"))
		if err != nil || !src.ModTime().Before(info.ModTime()) {
			return nil, false
		}
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, false
	}
	defer file.Close()

	var records []models.SalesRecord
	if err := gob.NewDecoder(file).Decode(&records); err != nil {
		s.logger.Warn("ignoring unreadable dataset cache", "file", filename, "error", err)
		return nil, false
	}
	if len(records) == 0 || validateRecords(records) != nil {
		return nil, false
	}
	return records, true
}

func (s *Store) saveToCache(source string, records []models.SalesRecord) error {
	if s.cfg.CacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.cfg.CacheDir, 0o755); err != nil {
		return err
	}

	file, err := os.Create(s.cacheFilename(source))
	if err != nil {
		return err
	}
	defer file.Close()

	return gob.NewEncoder(file).Encode(records)
}
