package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Dashboard.DefaultRegion != "Ankara" {
		t.Errorf("DefaultRegion = %q, want Ankara", cfg.Dashboard.DefaultRegion)
	}
	if cfg.Dashboard.DefaultYear != 0 {
		t.Errorf("DefaultYear = %d, want 0 (latest)", cfg.Dashboard.DefaultYear)
	}
	if !strings.HasPrefix(cfg.Dataset.Source, "https://") {
		t.Errorf("Dataset.Source = %q, want remote default", cfg.Dataset.Source)
	}
	if cfg.Geo.FetchTimeout != 10*time.Second {
		t.Errorf("Geo.FetchTimeout = %v, want 10s", cfg.Geo.FetchTimeout)
	}
	if cfg.Address() != "localhost:8050" {
		t.Errorf("Address() = %q", cfg.Address())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATASET_SOURCE", "testdata/ilceler.csv")
	t.Setenv("DASHBOARD_DEFAULT_YEAR", "2018")
	t.Setenv("DASHBOARD_DEFAULT_REGION", "İzmir")
	t.Setenv("GEO_RETRY_AFTER", "5s")
	t.Setenv("SECURITY_ALLOWED_ORIGINS", "http://a.example, http://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Dataset.Source != "testdata/ilceler.csv" {
		t.Errorf("Dataset.Source = %q", cfg.Dataset.Source)
	}
	if cfg.Dashboard.DefaultYear != 2018 || cfg.Dashboard.DefaultRegion != "İzmir" {
		t.Errorf("Dashboard = %+v", cfg.Dashboard)
	}
	if cfg.Geo.RetryAfter != 5*time.Second {
		t.Errorf("Geo.RetryAfter = %v", cfg.Geo.RetryAfter)
	}
	if got := cfg.Security.AllowedOrigins; len(got) != 2 || got[1] != "http://b.example" {
		t.Errorf("AllowedOrigins = %q", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port out of range", "SERVER_PORT", "70000"},
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"bad log format", "LOG_FORMAT", "xml"},
		{"bad exporter", "TRACING_EXPORTER", "zipkin"},
		{"negative default year", "DASHBOARD_DEFAULT_YEAR", "-1"},
		{"zero sessions", "SESSION_MAX", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%s should fail", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_EnvFiles(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{"only .env", map[string]string{".env": "DASHBOARD_DEFAULT_REGION=İzmir\n"}, "İzmir"},
		{"only .env.local", map[string]string{".env.local": "DASHBOARD_DEFAULT_REGION=Bursa\n"}, "Bursa"},
		{"local wins", map[string]string{
			".env.local": "DASHBOARD_DEFAULT_REGION=Bursa\n",
			".env":       "DASHBOARD_DEFAULT_REGION=İzmir\n",
		}, "Bursa"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			t.Chdir(dir)
			// Restored after the test, since the files set it process-wide.
			t.Setenv("DASHBOARD_DEFAULT_REGION", "")
			os.Unsetenv("DASHBOARD_DEFAULT_REGION")

			for name, body := range tt.files {
				if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Dashboard.DefaultRegion != tt.want {
				t.Errorf("DefaultRegion = %q, want %q", cfg.Dashboard.DefaultRegion, tt.want)
			}
		})
	}
}

func TestLoad_EnvironmentBeatsEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("DASHBOARD_DEFAULT_REGION", "Ankara")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DASHBOARD_DEFAULT_REGION=İzmir\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Dashboard.DefaultRegion != "Ankara" {
		t.Errorf("DefaultRegion = %q, want the environment value", cfg.Dashboard.DefaultRegion)
	}
}
