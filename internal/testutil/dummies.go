// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/raysh454/sheetcas/internal/a1"
	"github.com/raysh454/sheetcas/internal/logging"
	"github.com/raysh454/sheetcas/internal/patch"
	"github.com/raysh454/sheetcas/internal/sheets"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// WarnCount returns how many warnings were logged so far.
func (l *DummyLogger) WarnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Warns)
}

// ─── Spreadsheet backend ───────────────────────────────────────────────

// WriteCall records one WriteRange invocation.
type WriteCall struct {
	SpreadsheetID string
	Range         string
	Values        [][]any
}

// MemoryBackend implements sheets.Backend, sheets.FormatReader and
// sheets.AuditWriter over in-memory grids. Unprefixed ranges address
// "Sheet1". Reads trim trailing blanks the way the hosted API does.
type MemoryBackend struct {
	mu      sync.Mutex
	grids   map[string]map[string][][]any
	formats map[string]map[string][][]string

	// ReadErr, WriteErr and AuditErr, when set, are returned by the matching calls.
	ReadErr  error
	WriteErr error
	AuditErr error

	// BeforeRead runs before each BatchGet; use it to simulate concurrent edits.
	BeforeRead func(call int)

	Reads  int
	Writes []WriteCall
}

var (
	_ sheets.Backend      = (*MemoryBackend)(nil)
	_ sheets.FormatReader = (*MemoryBackend)(nil)
	_ sheets.AuditWriter  = (*MemoryBackend)(nil)
)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		grids:   map[string]map[string][][]any{},
		formats: map[string]map[string][][]string{},
	}
}

// SetReadErr changes ReadErr under the backend lock. It is safe to call from BeforeRead.
func (b *MemoryBackend) SetReadErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ReadErr = err
}

// ReadCount returns the number of BatchGet calls so far.
func (b *MemoryBackend) ReadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Reads
}

// Opener returns a sheets.Opener that always yields b.
func (b *MemoryBackend) Opener() sheets.Opener {
	return func(context.Context, string) (sheets.Backend, error) { return b, nil }
}

func splitRange(rangeA1 string) (string, a1.Range, error) {
	r, err := a1.Parse(rangeA1)
	if err != nil {
		return "", a1.Range{}, err
	}
	sheet := r.SheetName
	if sheet == "" {
		sheet = "Sheet1"
	}
	return sheet, r, nil
}

func (b *MemoryBackend) sheet(id, name string) [][]any {
	if b.grids[id] == nil {
		b.grids[id] = map[string][][]any{}
	}
	return b.grids[id][name]
}

func (b *MemoryBackend) put(id, rangeA1 string, values [][]any) error {
	name, r, err := splitRange(rangeA1)
	if err != nil {
		return err
	}
	grid := b.sheet(id, name)
	for ro, row := range values {
		y := r.StartRow - 1 + ro
		for len(grid) <= y {
			grid = append(grid, nil)
		}
		for co, v := range row {
			x := r.StartCol - 1 + co
			for len(grid[y]) <= x {
				grid[y] = append(grid[y], nil)
			}
			grid[y][x] = v
		}
	}
	b.grids[id][name] = grid
	return nil
}

// Set seeds values at rangeA1 without recording a write.
func (b *MemoryBackend) Set(spreadsheetID, rangeA1 string, values [][]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.put(spreadsheetID, rangeA1, values); err != nil {
		panic(err)
	}
}

// SetFormats replaces the descriptor grid of the sheet named in rangeA1.
// Row 0, column 0 of formats is cell A1.
func (b *MemoryBackend) SetFormats(spreadsheetID, rangeA1 string, formats [][]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, _, err := splitRange(rangeA1)
	if err != nil {
		panic(err)
	}
	if b.formats[spreadsheetID] == nil {
		b.formats[spreadsheetID] = map[string][][]string{}
	}
	b.formats[spreadsheetID][name] = formats
}

// Cells returns the values currently held in rangeA1, untrimmed.
func (b *MemoryBackend) Cells(spreadsheetID, rangeA1 string) [][]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, r, err := splitRange(rangeA1)
	if err != nil {
		panic(err)
	}
	return window(b.sheet(spreadsheetID, name), r, false)
}

// Sheet returns every row of a sheet.
func (b *MemoryBackend) Sheet(spreadsheetID, name string) [][]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]any(nil), b.sheet(spreadsheetID, name)...)
}

func isBlank(v any) bool { return v == nil || v == "" }

func window(grid [][]any, r a1.Range, trim bool) [][]any {
	out := make([][]any, r.Height)
	lastRow := -1
	for ro := range out {
		y := r.StartRow - 1 + ro
		row := make([]any, r.Width)
		lastCol := -1
		for co := range row {
			x := r.StartCol - 1 + co
			if y < len(grid) && x < len(grid[y]) {
				row[co] = grid[y][x]
			}
			if !isBlank(row[co]) {
				lastCol = co
			}
		}
		if trim {
			row = row[:lastCol+1]
		}
		if len(row) > 0 {
			lastRow = ro
		}
		out[ro] = row
	}
	if trim {
		out = out[:lastRow+1]
	}
	return out
}

func (b *MemoryBackend) BatchGet(ctx context.Context, spreadsheetID string, ranges []string) ([]sheets.ValueRange, error) {
	b.mu.Lock()
	b.Reads++
	call, hook := b.Reads, b.BeforeRead
	b.mu.Unlock()
	if hook != nil {
		hook(call)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ReadErr != nil {
		return nil, b.ReadErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]sheets.ValueRange, 0, len(ranges))
	for _, rangeA1 := range ranges {
		name, r, err := splitRange(rangeA1)
		if err != nil {
			return nil, err
		}
		out = append(out, sheets.ValueRange{Range: rangeA1, Values: window(b.sheet(spreadsheetID, name), r, true)})
	}
	return out, nil
}

func (b *MemoryBackend) WriteRange(ctx context.Context, spreadsheetID, rangeA1 string, values [][]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.WriteErr != nil {
		return b.WriteErr
	}
	if err := b.put(spreadsheetID, rangeA1, values); err != nil {
		return err
	}
	b.Writes = append(b.Writes, WriteCall{SpreadsheetID: spreadsheetID, Range: rangeA1, Values: values})
	return nil
}

func (b *MemoryBackend) ReadFormats(ctx context.Context, spreadsheetID string, ranges []string) ([][][]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][][]string, len(ranges))
	for i, rangeA1 := range ranges {
		name, r, err := splitRange(rangeA1)
		if err != nil {
			return nil, err
		}
		src := b.formats[spreadsheetID][name]
		grid := make([][]string, r.Height)
		for ro := range grid {
			grid[ro] = make([]string, r.Width)
			y := r.StartRow - 1 + ro
			for co := range grid[ro] {
				x := r.StartCol - 1 + co
				if y < len(src) && x < len(src[y]) {
					grid[ro][co] = src[y][x]
				}
			}
		}
		out[i] = grid
	}
	return out, nil
}

func (b *MemoryBackend) EnsureSheet(ctx context.Context, spreadsheetID, title string, header []any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.AuditErr != nil {
		return b.AuditErr
	}
	if b.sheet(spreadsheetID, title) != nil {
		return nil
	}
	b.grids[spreadsheetID][title] = [][]any{append([]any(nil), header...)}
	return nil
}

func (b *MemoryBackend) AppendRows(ctx context.Context, spreadsheetID, rangeA1 string, rows [][]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.AuditErr != nil {
		return b.AuditErr
	}
	name, _ := a1.SplitSheet(rangeA1)
	if name == "" {
		name = "Sheet1"
	}
	grid := b.sheet(spreadsheetID, name)
	for _, row := range rows {
		grid = append(grid, append([]any(nil), row...))
	}
	b.grids[spreadsheetID][name] = grid
	return nil
}

// ValuesOnly hides every optional capability of a backend.
type ValuesOnly struct {
	sheets.Backend
}

// ─── Patch store ───────────────────────────────────────────────────────

// MemoryStore implements patch.Store in memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]patch.Record
	order   []string

	// InsertErr, when set, is returned by Insert.
	InsertErr error
}

var _ patch.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]patch.Record{}}
}

func (s *MemoryStore) Insert(ctx context.Context, rec patch.Record) (patch.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return patch.Record{}, &patch.PersistenceError{Op: "insert", Err: s.InsertErr}
	}
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("patch-%d", len(s.order)+1)
	}
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return rec, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (patch.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return patch.Record{}, patch.ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) MarkUndone(ctx context.Context, id string, after *patch.State) (patch.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return patch.Record{}, patch.ErrNotFound
	}
	if rec.Undone() {
		return patch.Record{}, patch.ErrAlreadyUndone
	}
	rec.AfterState = after
	s.records[id] = rec
	return rec, nil
}

func (s *MemoryStore) ReleaseUndo(ctx context.Context, id string, after *patch.State, undoneAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return patch.ErrNotFound
	}
	if !rec.Undone() || !rec.AfterState.Undo.UndoneAt.Equal(undoneAt.UTC()) {
		return patch.ErrMarkerChanged
	}
	rec.AfterState = after
	s.records[id] = rec
	return nil
}

func (s *MemoryStore) List(ctx context.Context, f patch.Filter) ([]patch.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []patch.Record
	for i := len(s.order) - 1; i >= 0; i-- {
		if rec := s.records[s.order[i]]; f.Matches(rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// HasPrefix reports whether any recorded message starts with prefix.
func HasPrefix(msgs []string, prefix string) bool {
	for _, m := range msgs {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}
