package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raysh454/sheetcas/internal/audit"
	"github.com/raysh454/sheetcas/internal/fingerprint"
	"github.com/raysh454/sheetcas/internal/sheets"
	"github.com/raysh454/sheetcas/internal/snapshot"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	ListenAddr  string        `yaml:"listen_addr"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// StoreConfig locates the patch database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// EngineConfig tunes fingerprinting and verification.
type EngineConfig struct {
	snapshot.Config `yaml:",inline"`
	IncludeFormats  bool `yaml:"include_formats"`
}

// AuditConfig controls the in-spreadsheet audit trail.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SheetTitle string `yaml:"sheet_title"`
}

// Config is the full runtime configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend sheets.Config `yaml:"backend"`
	Store   StoreConfig   `yaml:"store"`
	Engine  EngineConfig  `yaml:"engine"`
	Audit   AuditConfig   `yaml:"audit"`

	// RequestTimeout bounds every service call, including backend and store I/O.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`
}

// DefaultConfig returns a Config populated with development defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			ReadTimeout: 15 * time.Second,
		},
		Backend: sheets.Config{
			Kind:              sheets.KindGoogle,
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Store: StoreConfig{
			Path: "sheetcas.db",
		},
		Engine: EngineConfig{
			Config: snapshot.Config{
				EdgeRows:       fingerprint.DefaultEdgeRows,
				MaxConcurrency: 4,
			},
		},
		Audit: AuditConfig{
			Enabled:    true,
			SheetTitle: audit.DefaultSheetTitle,
		},
		RequestTimeout: 30 * time.Second,
		LogLevel:       "info",
	}
}

// LoadConfig overlays the YAML file at path on DefaultConfig. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	kind := strings.ToLower(strings.TrimSpace(c.Backend.Kind))
	if kind == "" {
		kind = sheets.KindGoogle
	}
	if !slices.Contains(sheets.Kinds(), kind) {
		return fmt.Errorf("config: unknown backend kind %q", c.Backend.Kind)
	}
	if kind == sheets.KindXLSX && c.Backend.Root == "" {
		return errors.New("config: backend.root is required for the xlsx backend")
	}
	if c.Backend.RequestsPerSecond < 0 || c.Backend.Burst < 0 {
		return errors.New("config: backend rate limits must not be negative")
	}
	if c.Engine.EdgeRows <= 0 {
		return errors.New("config: engine.edge_rows must be positive")
	}
	if c.Engine.MaxConcurrency <= 0 {
		return errors.New("config: engine.verify_concurrency must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("config: request_timeout must be positive")
	}
	if c.Store.Path == "" {
		return errors.New("config: store.path is required")
	}
	return nil
}
