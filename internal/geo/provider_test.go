package geo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "konut-dashboard/internal/errors"
)

const sampleCollection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"name": "Adana"}, "geometry": {"type": "Polygon", "coordinates": [[[35,37],[36,37],[36,38],[35,37]]]}},
    {"type": "Feature", "properties": {"name": "Adıyaman"}, "geometry": {"type": "Polygon", "coordinates": [[[38,37],[39,37],[39,38],[38,37]]]}},
    {"type": "Feature", "properties": {"name": "Afyon", "number": 3}, "geometry": {"type": "Polygon", "coordinates": [[[30,38],[31,38],[31,39],[30,38]]]}}
  ]
}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collectionServer(t *testing.T, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if body == "" {
			http.Error(w, "gone", http.StatusBadGateway)
			return
		}
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProvider_PatchesThirdFeature(t *testing.T) {
	var hits atomic.Int32
	srv := collectionServer(t, sampleCollection, &hits)
	p := NewProvider(Options{Source: srv.URL, Client: srv.Client(), Logger: quietLogger()})

	fc, err := p.Boundaries(context.Background())
	if err != nil {
		t.Fatalf("Boundaries() error = %v", err)
	}
	if len(fc.Features) != 3 {
		t.Fatalf("got %d features, want 3", len(fc.Features))
	}
	props := fc.Features[2].Properties
	if len(props) != 1 || props["name"] != "Afyonkarahisar" {
		t.Errorf("features[2].properties = %v, want only name=Afyonkarahisar", props)
	}
	if got := FeatureName(fc.Features[0]); got != "Adana" {
		t.Errorf("FeatureName(features[0]) = %q", got)
	}
}

func TestProvider_CachesUntilInvalidate(t *testing.T) {
	var hits atomic.Int32
	srv := collectionServer(t, sampleCollection, &hits)
	p := NewProvider(Options{Source: srv.URL, Client: srv.Client(), Logger: quietLogger()})

	for range 3 {
		if _, err := p.Boundaries(context.Background()); err != nil {
			t.Fatalf("Boundaries() error = %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("upstream hit %d times, want 1", hits.Load())
	}
	if st := p.Status(); !st.Cached || st.Features != 3 {
		t.Errorf("Status() = %+v", st)
	}

	p.Invalidate()
	if p.Status().Cached {
		t.Error("Status().Cached should be false after Invalidate()")
	}
	if _, err := p.Boundaries(context.Background()); err != nil {
		t.Fatalf("Boundaries() after Invalidate() error = %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("upstream hit %d times after Invalidate(), want 2", hits.Load())
	}
}

func TestProvider_ConcurrentCallersShareFetch(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		io.WriteString(w, sampleCollection)
	}))
	defer srv.Close()

	p := NewProvider(Options{Source: srv.URL, Client: srv.Client(), Logger: quietLogger()})

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			if _, err := p.Boundaries(context.Background()); err != nil {
				t.Errorf("Boundaries() error = %v", err)
			}
		})
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if hits.Load() != 1 {
		t.Errorf("upstream hit %d times, want 1", hits.Load())
	}
}

func TestProvider_Failures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"upstream error", ""},
		{"not geojson", "<html>maintenance</html>"},
		{"too few features", `{"type":"FeatureCollection","features":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := collectionServer(t, tt.body, &hits)
			p := NewProvider(Options{Source: srv.URL, Client: srv.Client(), Logger: quietLogger()})

			_, err := p.Boundaries(context.Background())
			if !errors.Is(err, apperrors.ErrGeoDataUnavailable) {
				t.Fatalf("want GeoDataUnavailable, got %v", err)
			}
			if st := p.Status(); st.Cached || st.LastError == "" {
				t.Errorf("Status() = %+v", st)
			}
		})
	}
}

func TestProvider_RetryAfter(t *testing.T) {
	var hits atomic.Int32
	srv := collectionServer(t, "", &hits)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewProvider(Options{Source: srv.URL, Client: srv.Client(), Logger: quietLogger(), RetryAfter: time.Minute})
	p.now = func() time.Time { return now }

	for range 3 {
		if _, err := p.Boundaries(context.Background()); !errors.Is(err, apperrors.ErrGeoDataUnavailable) {
			t.Fatalf("want GeoDataUnavailable, got %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("upstream hit %d times inside the retry window, want 1", hits.Load())
	}

	now = now.Add(2 * time.Minute)
	p.Boundaries(context.Background())
	if hits.Load() != 2 {
		t.Errorf("upstream hit %d times after the retry window, want 2", hits.Load())
	}
}

func TestProvider_FileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tr-cities.json")
	if err := os.WriteFile(path, []byte(sampleCollection), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewProvider(Options{Source: path, Logger: quietLogger()})
	fc, err := p.Boundaries(context.Background())
	if err != nil {
		t.Fatalf("Boundaries() error = %v", err)
	}
	if FeatureName(fc.Features[2]) != "Afyonkarahisar" {
		t.Errorf("patch not applied to file source")
	}

	missing := NewProvider(Options{Source: filepath.Join(t.TempDir(), "none.json"), Logger: quietLogger()})
	if _, err := missing.Boundaries(context.Background()); !errors.Is(err, apperrors.ErrGeoDataUnavailable) {
		t.Errorf("missing file should be GeoDataUnavailable, got %v", err)
	}
}

func TestProvider_CallerCancelDoesNotPoisonCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(50 * time.Millisecond)
		io.WriteString(w, sampleCollection)
	}))
	defer srv.Close()

	p := NewProvider(Options{
		Source:     srv.URL,
		Client:     srv.Client(),
		Logger:     quietLogger(),
		RetryAfter: time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Boundaries(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("impatient caller: want context.DeadlineExceeded, got %v", err)
	}

	fc, err := p.Boundaries(context.Background())
	if err != nil {
		t.Fatalf("Boundaries() after an abandoned call error = %v", err)
	}
	if len(fc.Features) != 3 {
		t.Errorf("got %d features, want 3", len(fc.Features))
	}
	if st := p.Status(); st.LastError != "" || !st.FailedAt.IsZero() {
		t.Errorf("no failure should be recorded, Status() = %+v", st)
	}
	if hits.Load() != 1 {
		t.Errorf("upstream hit %d times, want 1 shared fetch", hits.Load())
	}
}
