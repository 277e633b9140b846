// Package snapshot fetches range matrices from a spreadsheet backend, pads them
// to their declared rectangle and fingerprints them.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raysh454/sheetcas/internal/a1"
	"github.com/raysh454/sheetcas/internal/fingerprint"
	"github.com/raysh454/sheetcas/internal/logging"
	"github.com/raysh454/sheetcas/internal/metrics"
	"github.com/raysh454/sheetcas/internal/sheets"
)

// Snapshot is one fetched range. Values is exactly RowCount x ColCount.
type Snapshot struct {
	Range       string                  `json:"range"`
	Values      [][]any                 `json:"values"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Formats     [][]string              `json:"formats,omitempty"`
}

// Options apply to a single call. EdgeRows <= 0 selects the orchestrator default.
type Options struct {
	EdgeRows       int  `json:"edgeRows,omitempty"`
	IncludeFormats bool `json:"includeFormats,omitempty"`
}

// Config holds orchestrator-wide defaults.
type Config struct {
	EdgeRows       int `yaml:"edge_rows"`
	MaxConcurrency int `yaml:"verify_concurrency"`
}

// EmptyResultError means the backend returned nothing at all for a
// single-range request.
type EmptyResultError struct {
	Range string
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("no data returned for range %s", e.Range)
}

// Orchestrator drives reads and fingerprinting for one backend.
type Orchestrator struct {
	reader  sheets.Reader
	logger  logging.Logger
	metrics *metrics.Metrics
	cfg     Config
}

// New binds an orchestrator to reader. logger and m may be nil.
func New(reader sheets.Reader, logger logging.Logger, m *metrics.Metrics, cfg Config) *Orchestrator {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.EdgeRows <= 0 {
		cfg.EdgeRows = fingerprint.DefaultEdgeRows
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	return &Orchestrator{
		reader:  reader,
		logger:  logger.With(logging.Field{Key: "component", Value: "snapshot"}),
		metrics: m,
		cfg:     cfg,
	}
}

func (o *Orchestrator) fingerprintOptions(opts Options) fingerprint.Options {
	edge := opts.EdgeRows
	if edge <= 0 {
		edge = o.cfg.EdgeRows
	}
	return fingerprint.Options{EdgeRows: edge, IncludeHeader: true}
}

// SnapshotMany reads all ranges in one batched call, in request order. An
// empty list returns without touching the backend. A failed batch fails
// every range.
func (o *Orchestrator) SnapshotMany(ctx context.Context, spreadsheetID string, ranges []string, opts Options) ([]Snapshot, error) {
	snaps, _, err := o.snapshotMany(ctx, spreadsheetID, ranges, opts)
	return snaps, err
}

func (o *Orchestrator) snapshotMany(ctx context.Context, spreadsheetID string, ranges []string, opts Options) ([]Snapshot, int, error) {
	if len(ranges) == 0 {
		return []Snapshot{}, 0, nil
	}
	shapes := make([]a1.Range, len(ranges))
	for i, r := range ranges {
		addr, err := a1.Parse(r)
		if err != nil {
			return nil, 0, err
		}
		shapes[i] = addr
	}

	start := time.Now()
	batch, err := o.reader.BatchGet(ctx, spreadsheetID, ranges)
	o.metrics.ObserveRead(time.Since(start), err)
	if err != nil {
		o.logger.Warn("batched read failed",
			logging.Field{Key: "spreadsheet", Value: spreadsheetID},
			logging.Field{Key: "ranges", Value: len(ranges)},
			logging.Field{Key: "error", Value: err})
		return nil, 0, err
	}

	var formats [][][]string
	if opts.IncludeFormats {
		if fr, ok := o.reader.(sheets.FormatReader); ok {
			formats, err = fr.ReadFormats(ctx, spreadsheetID, ranges)
			if err != nil {
				return nil, 0, err
			}
		} else {
			o.logger.Debug("backend does not expose formats; formatHash omitted")
		}
	}

	fpOpts := o.fingerprintOptions(opts)
	out := make([]Snapshot, len(ranges))
	for i, rangeA1 := range ranges {
		shape := shapes[i]
		var raw [][]any
		if i < len(batch) {
			raw = batch[i].Values
		}
		values := PadValues(raw, shape.Height, shape.Width)

		// formats stays nil unless the backend produced descriptors, so
		// Build leaves formatHash unset otherwise.
		var grid [][]string
		if formats != nil {
			var rawFormats [][]string
			if i < len(formats) {
				rawFormats = formats[i]
			}
			grid = PadFormats(rawFormats, shape.Height, shape.Width)
		}

		out[i] = Snapshot{
			Range:       rangeA1,
			Values:      values,
			Fingerprint: fingerprint.Build(rangeA1, values, grid, shape.Height, shape.Width, fpOpts),
			Formats:     grid,
		}
	}
	o.logger.Debug("snapshot complete",
		logging.Field{Key: "spreadsheet", Value: spreadsheetID},
		logging.Field{Key: "ranges", Value: len(ranges)})
	return out, len(batch), nil
}

// SnapshotRange is SnapshotMany for one range. It fails with
// *EmptyResultError only when the backend returned no value ranges at all.
func (o *Orchestrator) SnapshotRange(ctx context.Context, spreadsheetID, rangeA1 string, opts Options) (Snapshot, error) {
	snaps, returned, err := o.snapshotMany(ctx, spreadsheetID, []string{rangeA1}, opts)
	if err != nil {
		return Snapshot{}, err
	}
	if returned == 0 || len(snaps) == 0 {
		return Snapshot{}, &EmptyResultError{Range: rangeA1}
	}
	return snaps[0], nil
}

func (o *Orchestrator) FingerprintRange(ctx context.Context, spreadsheetID, rangeA1 string, opts Options) (fingerprint.Fingerprint, error) {
	snap, err := o.SnapshotRange(ctx, spreadsheetID, rangeA1, opts)
	if err != nil {
		return fingerprint.Fingerprint{}, err
	}
	return snap.Fingerprint, nil
}

func (o *Orchestrator) FingerprintMany(ctx context.Context, spreadsheetID string, ranges []string, opts Options) ([]fingerprint.Fingerprint, error) {
	snaps, err := o.SnapshotMany(ctx, spreadsheetID, ranges, opts)
	if err != nil {
		return nil, err
	}
	out := make([]fingerprint.Fingerprint, len(snaps))
	for i, s := range snaps {
		out[i] = s.Fingerprint
	}
	return out, nil
}

// Verify re-fingerprints before.Range and compares it with before.
func (o *Orchestrator) Verify(ctx context.Context, spreadsheetID string, before fingerprint.Fingerprint, opts Options) (fingerprint.VerifyResult, error) {
	current, err := o.FingerprintRange(ctx, spreadsheetID, before.Range, opts)
	if err != nil {
		return fingerprint.VerifyResult{}, err
	}
	res := fingerprint.Compare(before, current, opts.IncludeFormats)
	o.metrics.ObserveVerify(string(res.Reason))
	if !res.OK {
		o.logger.Info("range is stale",
			logging.Field{Key: "range", Value: before.Range},
			logging.Field{Key: "reason", Value: string(res.Reason)})
	}
	return res, nil
}

// VerifyMany verifies each fingerprint independently with bounded
// concurrency. Results keep input order. The first fetch error cancels the
// remaining work and is returned.
func (o *Orchestrator) VerifyMany(ctx context.Context, spreadsheetID string, befores []fingerprint.Fingerprint, opts Options) ([]fingerprint.VerifyResult, error) {
	results := make([]fingerprint.VerifyResult, len(befores))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrency)
	for i, before := range befores {
		g.Go(func() error {
			res, err := o.Verify(gctx, spreadsheetID, before, opts)
			if err != nil {
				return fmt.Errorf("verify %s: %w", before.Range, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// PadValues returns a height x width copy of values. Missing rows and cells
// become "". Extra rows or cells are dropped.
func PadValues(values [][]any, height, width int) [][]any {
	return pad(values, height, width, any(""))
}

// PadFormats is PadValues for format descriptors.
func PadFormats(formats [][]string, height, width int) [][]string {
	return pad(formats, height, width, "")
}

func pad[T any](m [][]T, height, width int, blank T) [][]T {
	out := make([][]T, height)
	for r := range out {
		var src []T
		if r < len(m) {
			src = m[r]
		}
		row := make([]T, width)
		for c := range row {
			if c < len(src) {
				row[c] = src[c]
			} else {
				row[c] = blank
			}
		}
		out[r] = row
	}
	return out
}
