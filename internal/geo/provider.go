// Package geo serves the province boundary collection used by the map.
package geo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	geojson "github.com/paulmach/go.geojson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	apperrors "konut-dashboard/internal/errors"
	"konut-dashboard/internal/observability"
)

const (
	// The upstream collection spells this province differently from the
	// dataset; the feature at this index is renamed after every fetch.
	patchedFeatureIndex = 2
	patchedFeatureName  = "Afyonkarahisar"

	maxBoundaryBytes = 64 << 20
)

var geoFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "konut_geo_fetch_total",
	Help: "Boundary fetch attempts by result",
}, []string{"result"})

// Status describes the cache for the admin endpoint.
type Status struct {
	Source    string    `json:"source"`
	Cached    bool      `json:"cached"`
	Features  int       `json:"features"`
	FetchedAt time.Time `json:"fetched_at,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	FailedAt  time.Time `json:"failed_at,omitzero"`
}

type Options struct {
	Source       string
	FetchTimeout time.Duration
	// RetryAfter suppresses new fetch attempts for this long after a
	// failure. Zero retries on every call.
	RetryAfter time.Duration
	Client     *http.Client
	Logger     *slog.Logger
}

// Provider fetches the boundary collection once and keeps it until
// Invalidate is called. It is safe for concurrent use.
type Provider struct {
	source     string
	timeout    time.Duration
	retryAfter time.Duration
	client     *http.Client
	logger     *slog.Logger
	now        func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	fc        *geojson.FeatureCollection
	fetchedAt time.Time
	lastErr   error
	failedAt  time.Time
}

func NewProvider(opts Options) *Provider {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	return &Provider{
		source:     opts.Source,
		timeout:    opts.FetchTimeout,
		retryAfter: opts.RetryAfter,
		client:     opts.Client,
		logger:     opts.Logger,
		now:        time.Now,
	}
}

// Boundaries returns the patched collection, fetching it on first use.
// Fetch failures are GeoDataUnavailable errors. A caller whose ctx ends
// first gets ctx.Err() while the shared fetch carries on, bounded only by
// the fetch timeout. The returned collection is shared and must not be
// modified.
func (p *Provider) Boundaries(ctx context.Context) (*geojson.FeatureCollection, error) {
	p.mu.RLock()
	fc, lastErr, failedAt := p.fc, p.lastErr, p.failedAt
	p.mu.RUnlock()

	if fc != nil {
		return fc, nil
	}
	if lastErr != nil && p.retryAfter > 0 && p.now().Sub(failedAt) < p.retryAfter {
		return nil, apperrors.GeoUnavailable(lastErr, "boundary data unavailable")
	}

	ch := p.group.DoChan("boundaries", func() (any, error) {
		return p.fetch(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*geojson.FeatureCollection), nil
	}
}

// Invalidate drops the cached collection and any remembered failure.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.fc = nil
	p.fetchedAt = time.Time{}
	p.lastErr = nil
	p.failedAt = time.Time{}
	p.mu.Unlock()

	p.logger.Info("boundary cache invalidated", "source", p.source)
}

func (p *Provider) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := Status{
		Source:    p.source,
		Cached:    p.fc != nil,
		FetchedAt: p.fetchedAt,
		FailedAt:  p.failedAt,
	}
	if p.fc != nil {
		st.Features = len(p.fc.Features)
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}

func (p *Provider) fetch(ctx context.Context) (fc *geojson.FeatureCollection, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "geo.fetch", attribute.String("geo.source", p.source))
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	raw, err := p.read(ctx)
	if err == nil {
		fc, err = decodeAndPatch(raw)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		geoFetchTotal.WithLabelValues("error").Inc()
		p.lastErr = err
		p.failedAt = p.now()
		p.logger.Warn("boundary fetch failed", "source", p.source, "error", err)
		return nil, apperrors.GeoUnavailable(err, "boundary data unavailable")
	}

	geoFetchTotal.WithLabelValues("ok").Inc()
	p.fc = fc
	p.fetchedAt = p.now()
	p.lastErr = nil
	p.failedAt = time.Time{}
	p.logger.Info("boundary data fetched",
		"source", p.source,
		"features", len(fc.Features),
		"duration", time.Since(start),
	)
	return fc, nil
}

func (p *Provider) read(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(p.source, "http://") && !strings.HasPrefix(p.source, "https://") {
		return os.ReadFile(strings.TrimPrefix(p.source, "file://"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.source, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch boundaries: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch boundaries: unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBoundaryBytes))
}

func decodeAndPatch(raw []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("decode boundaries: %w", err)
	}
	if len(fc.Features) <= patchedFeatureIndex {
		return nil, fmt.Errorf("decode boundaries: expected more than %d features, got %d", patchedFeatureIndex, len(fc.Features))
	}
	fc.Features[patchedFeatureIndex].Properties = map[string]interface{}{"name": patchedFeatureName}
	return fc, nil
}

// FeatureName returns the join key of f, or "" when it has none.
func FeatureName(f *geojson.Feature) string {
	name, _ := f.Properties["name"].(string)
	return name
}
