package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raysh454/sheetcas/internal/logging"
	"github.com/raysh454/sheetcas/internal/patch"
	"github.com/raysh454/sheetcas/internal/sheets"
	"github.com/raysh454/sheetcas/internal/testutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sheetcas.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Engine.EdgeRows != 20 || cfg.Audit.SheetTitle != "AI_AUDIT_LOG" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
server:
  listen_addr: "127.0.0.1:9090"
backend:
  kind: xlsx
  root: /srv/books
engine:
  edge_rows: 5
  include_formats: true
audit:
  enabled: false
request_timeout: 5s
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:9090" || cfg.Server.ReadTimeout != 15*time.Second {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Backend.Kind != sheets.KindXLSX || cfg.Backend.Root != "/srv/books" {
		t.Fatalf("backend = %+v", cfg.Backend)
	}
	if cfg.Engine.EdgeRows != 5 || !cfg.Engine.IncludeFormats || cfg.Engine.MaxConcurrency != 4 {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.Audit.Enabled || cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("audit/timeout = %+v %v", cfg.Audit, cfg.RequestTimeout)
	}
}

func TestLoadConfig_Rejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "engine:\n  edge_rowz: 3\n", "edge_rowz"},
		{"unknown backend", "backend:\n  kind: dropbox\n", "unknown backend kind"},
		{"xlsx without root", "backend:\n  kind: xlsx\n", "backend.root"},
		{"zero edge rows", "engine:\n  edge_rows: 0\n", "edge_rows"},
		{"negative concurrency", "engine:\n  verify_concurrency: -1\n", "verify_concurrency"},
	}
	for _, tt := range tests {
		_, err := LoadConfig(writeConfig(t, tt.body))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: got %v, want error containing %q", tt.name, err, tt.want)
		}
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate_RegisteredBackendKind(t *testing.T) {
	t.Parallel()
	sheets.Register("memtest", func(sheets.Config, logging.Logger) (sheets.Opener, error) {
		return testutil.NewMemoryBackend().Opener(), nil
	})

	cfg := DefaultConfig()
	cfg.Backend.Kind = "MemTest"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("registered kind rejected: %v", err)
	}
	cfg.Backend.Kind = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty kind should mean google: %v", err)
	}
}

func TestLoadConfig_EmptyFileKeepsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.ListenAddr != DefaultConfig().Server.ListenAddr {
		t.Fatalf("listen = %q", cfg.Server.ListenAddr)
	}
}

func TestNewApplication_XLSX(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Backend = sheets.Config{Kind: sheets.KindXLSX, Root: dir}
	cfg.Store.Path = filepath.Join(dir, "data", "patches.db")

	a, err := NewApplication(cfg, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	t.Cleanup(func() { a.Shutdown(context.Background()) })

	if a.Service == nil || a.Registry == nil {
		t.Fatal("application not wired")
	}
	recs, err := a.Service.ListPatches(context.Background(), patch.Filter{})
	if err != nil || len(recs) != 0 {
		t.Fatalf("fresh store: %v, %v", recs, err)
	}
}
