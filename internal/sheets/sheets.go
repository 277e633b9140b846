// Package sheets defines the spreadsheet backend the engine reads from and
// writes to, along with concrete Google Sheets and local .xlsx backends.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/raysh454/sheetcas/internal/logging"
)

// ValueRange is one matrix returned by a batched read. Rows may be ragged or
// missing entirely; callers pad as needed.
type ValueRange struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

// Reader fetches several ranges in one round trip. Results are in request
// order, row-major, with unformatted values.
type Reader interface {
	BatchGet(ctx context.Context, spreadsheetID string, ranges []string) ([]ValueRange, error)
}

// Writer overwrites a single range with raw values.
type Writer interface {
	WriteRange(ctx context.Context, spreadsheetID, rangeA1 string, values [][]any) error
}

// FormatReader is implemented by backends that can expose an opaque format
// descriptor per cell. The result is parallel to ranges.
type FormatReader interface {
	ReadFormats(ctx context.Context, spreadsheetID string, ranges []string) ([][][]string, error)
}

// AuditWriter is implemented by backends that can hold an append-only log sheet.
type AuditWriter interface {
	EnsureSheet(ctx context.Context, spreadsheetID, title string, header []any) error
	AppendRows(ctx context.Context, spreadsheetID, rangeA1 string, rows [][]any) error
}

// GridEnsurer is implemented by backends whose sheets have a fixed column
// count that must be grown before writing past it.
type GridEnsurer interface {
	EnsureColumns(ctx context.Context, spreadsheetID, sheetName string, lastCol int) error
}

// Backend is the minimum a spreadsheet service must support.
type Backend interface {
	Reader
	Writer
}

// Opener yields a Backend bound to a caller's opaque access credential.
type Opener func(ctx context.Context, credential string) (Backend, error)

// Constructor builds an Opener from configuration.
type Constructor func(cfg Config, logger logging.Logger) (Opener, error)

// Backend kinds understood by NewOpener.
const (
	KindGoogle = "google"
	KindXLSX   = "xlsx"
)

// Config selects and tunes a backend.
type Config struct {
	Kind string `yaml:"kind"`

	// Endpoint overrides the Google Sheets API base URL.
	Endpoint string `yaml:"endpoint"`
	// RequestsPerSecond and Burst bound calls made to the Google API by this process.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	// Root is the directory holding <spreadsheetID>.xlsx files.
	Root string `yaml:"root"`

	// HTTPClient replaces the transport used for Google API calls.
	HTTPClient *http.Client `yaml:"-"`
}

var (
	mu       sync.RWMutex
	registry = map[string]Constructor{
		KindGoogle: newGoogleOpener,
		KindXLSX:   newXLSXOpener,
	}
)

// Register adds or replaces a named backend constructor.
func Register(kind string, ctor Constructor) {
	if kind == "" || ctor == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	registry[strings.ToLower(kind)] = ctor
}

// Kinds lists the registered backend kinds.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	return out
}

// NewOpener constructs the configured backend. An empty kind means google.
func NewOpener(cfg Config, logger logging.Logger) (Opener, error) {
	if logger == nil {
		return nil, errors.New("sheets: nil logger provided")
	}
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = KindGoogle
	}

	mu.RLock()
	ctor, ok := registry[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("sheets backend %q not registered: available=%v", kind, Kinds())
	}

	open, err := ctor(cfg, logger.With(logging.Field{Key: "component", Value: "sheets." + kind}))
	if err != nil {
		return nil, fmt.Errorf("construct sheets backend %q: %w", kind, err)
	}
	return open, nil
}

// FetchError reports a backend call that failed or returned a non-success status.
type FetchError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("sheets %s failed: status %d: %s", e.Op, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("sheets %s failed: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("sheets %s failed", e.Op)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }
