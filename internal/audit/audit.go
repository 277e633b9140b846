// Package audit appends a human-readable trail of applies and undos to a
// dedicated sheet inside the affected spreadsheet. Writing it is best-effort.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/raysh454/sheetcas/internal/a1"
	"github.com/raysh454/sheetcas/internal/sheets"
)

// DefaultSheetTitle is the sheet the trail is written to unless configured otherwise.
const DefaultSheetTitle = "AI_AUDIT_LOG"

// Header is the first row of the audit sheet.
var Header = []any{"timestamp", "action", "patchId", "userId", "range", "before", "after"}

// ErrUnsupported is returned when the backend cannot hold an audit sheet.
var ErrUnsupported = errors.New("audit: backend does not support audit sheets")

// Action names a logged operation.
type Action string

const (
	ActionApply Action = "apply"
	ActionUndo  Action = "undo"
)

// Entry is one audit row.
type Entry struct {
	Time    time.Time
	Action  Action
	PatchID string
	UserID  string
	Range   string
	Before  [][]any
	After   [][]any
}

// Row renders e in Header column order. Matrices are JSON-encoded.
func (e Entry) Row() []any {
	return []any{
		e.Time.UTC().Format("2006-01-02T15:04:05.000Z"),
		string(e.Action),
		e.PatchID,
		e.UserID,
		e.Range,
		matrixJSON(e.Before),
		matrixJSON(e.After),
	}
}

func matrixJSON(m [][]any) string {
	if m == nil {
		m = [][]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// Log writes entries through an sheets.AuditWriter.
type Log struct {
	title string
}

// New returns a Log writing to title, or DefaultSheetTitle when empty.
func New(title string) *Log {
	if title == "" {
		title = DefaultSheetTitle
	}
	return &Log{title: title}
}

// Title is the audit sheet name.
func (l *Log) Title() string { return l.title }

// Append ensures the audit sheet exists and appends e to it.
func (l *Log) Append(ctx context.Context, backend any, spreadsheetID string, e Entry) error {
	w, ok := backend.(sheets.AuditWriter)
	if !ok {
		return ErrUnsupported
	}
	if err := w.EnsureSheet(ctx, spreadsheetID, l.title, Header); err != nil {
		return err
	}
	rangeA1 := a1.QuoteSheet(l.title) + "!A:" + a1.ColumnLabel(len(Header))
	return w.AppendRows(ctx, spreadsheetID, rangeA1, [][]any{e.Row()})
}
