// Package preview describes what a proposed write would change before it is applied.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/raysh454/sheetcas/internal/a1"
	"github.com/raysh454/sheetcas/internal/fingerprint"
	"github.com/raysh454/sheetcas/internal/snapshot"
)

// ErrEmptyProposal is returned when there is nothing to write.
var ErrEmptyProposal = errors.New("preview: proposed values are empty")

// SheetContext is the caller's current selection.
type SheetContext struct {
	SpreadsheetID string `json:"spreadsheetId"`
	SheetName     string `json:"sheetName,omitempty"`
	ActiveRange   string `json:"activeRange"`
}

// Change is one cell whose normalized value would differ.
type Change struct {
	Cell   string `json:"cell"`
	Before any    `json:"before,omitempty"`
	After  any    `json:"after"`
	Line   string `json:"line"`
	Diff   string `json:"diff,omitempty"`
}

// Result is a preview. Fingerprint covers TargetRange as read during the
// preview and gates the later apply.
type Result struct {
	Summary     string                  `json:"summary"`
	ChangeCount int                     `json:"changeCount"`
	Changes     []Change                `json:"changes"`
	TargetRange string                  `json:"targetRange"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
}

// Snapshotter is the part of snapshot.Orchestrator a preview needs.
type Snapshotter interface {
	SnapshotRange(ctx context.Context, spreadsheetID, rangeA1 string, opts snapshot.Options) (snapshot.Snapshot, error)
}

// Target returns the write target for sc: the same-shaped range immediately
// right of the active selection, qualified with the sheet name.
func Target(sc SheetContext) (a1.Range, string, error) {
	active, err := a1.Parse(sc.ActiveRange)
	if err != nil {
		return a1.Range{}, "", err
	}
	target := a1.AdjacentRight(active)
	if sc.SheetName != "" {
		target.SheetName = sc.SheetName
	}
	if !target.InBounds() {
		return a1.Range{}, "", &a1.AddressingError{Input: sc.ActiveRange}
	}
	return target, a1.Format(target, ""), nil
}

// Build snapshots the target range and lists the cells proposed would change.
// proposed is laid out from the target's top-left corner; cells beyond the
// target rectangle are ignored.
func Build(ctx context.Context, snap Snapshotter, sc SheetContext, proposed [][]any, opts snapshot.Options) (Result, error) {
	if len(proposed) == 0 || len(proposed[0]) == 0 {
		return Result{}, ErrEmptyProposal
	}
	target, targetA1, err := Target(sc)
	if err != nil {
		return Result{}, err
	}
	current, err := snap.SnapshotRange(ctx, sc.SpreadsheetID, targetA1, opts)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot target %s: %w", targetA1, err)
	}

	changes := Diff(target, current.Values, proposed)
	count, summary := Summarize(changes)
	return Result{
		Summary:     summary,
		ChangeCount: count,
		Changes:     changes,
		TargetRange: targetA1,
		Fingerprint: current.Fingerprint,
	}, nil
}

// Diff compares current (already padded to r) with proposed cell by cell.
func Diff(r a1.Range, current, proposed [][]any) []Change {
	prefix := ""
	if r.SheetName != "" {
		prefix = a1.QuoteSheet(r.SheetName) + "!"
	}
	changes := []Change{}
	for ro := 0; ro < min(len(proposed), r.Height); ro++ {
		for co := 0; co < min(len(proposed[ro]), r.Width); co++ {
			var before any
			if ro < len(current) && co < len(current[ro]) {
				before = current[ro][co]
			}
			after := proposed[ro][co]
			if fingerprint.NormalizeCell(before) == fingerprint.NormalizeCell(after) {
				continue
			}
			if fingerprint.NormalizeCell(before) == "BLANK" {
				before = nil
			}
			c := Change{Cell: prefix + r.Cell(ro, co), Before: before, After: after}
			c.Line = FormatChange(c)
			if bs, ok := before.(string); ok {
				if as, ok := after.(string); ok {
					c.Diff = InlineDiff(bs, as)
				}
			}
			changes = append(changes, c)
		}
	}
	return changes
}

// Summarize returns the change count and a one-line description.
func Summarize(changes []Change) (int, string) {
	switch n := len(changes); n {
	case 0:
		return 0, "No visible changes."
	case 1:
		return 1, fmt.Sprintf("Will update 1 cell (%s).", changes[0].Cell)
	default:
		return n, fmt.Sprintf("Will update %d cells (first: %s).", n, changes[0].Cell)
	}
}

// FormatChange renders `B2: "old" → "new"`. A blank before-value shows as 〈empty〉.
func FormatChange(c Change) string {
	before := "〈empty〉"
	if c.Before != nil {
		before = jsonText(c.Before)
	}
	return fmt.Sprintf("%s: %s → %s", c.Cell, before, jsonText(c.After))
}

func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// InlineDiff marks deletions as [-text-] and insertions as {+text+}.
func InlineDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(before, after, false))

	var sb strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			sb.WriteString(d.Text)
		case diffmatchpatch.DiffDelete:
			sb.WriteString("[-" + d.Text + "-]")
		case diffmatchpatch.DiffInsert:
			sb.WriteString("{+" + d.Text + "+}")
		}
	}
	return sb.String()
}
