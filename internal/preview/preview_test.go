package preview

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/raysh454/sheetcas/internal/a1"
	"github.com/raysh454/sheetcas/internal/fingerprint"
	"github.com/raysh454/sheetcas/internal/snapshot"
)

type stubSnapshotter struct {
	values [][]any
	err    error
	asked  string
}

func (s *stubSnapshotter) SnapshotRange(_ context.Context, _, rangeA1 string, _ snapshot.Options) (snapshot.Snapshot, error) {
	s.asked = rangeA1
	if s.err != nil {
		return snapshot.Snapshot{}, s.err
	}
	r := a1.MustParse(rangeA1)
	values := snapshot.PadValues(s.values, r.Height, r.Width)
	return snapshot.Snapshot{
		Range:       rangeA1,
		Values:      values,
		Fingerprint: fingerprint.Build(rangeA1, values, nil, r.Height, r.Width, fingerprint.DefaultOptions()),
	}, nil
}

func TestTarget(t *testing.T) {
	tests := []struct {
		sc   SheetContext
		want string
	}{
		{SheetContext{ActiveRange: "B2:D4"}, "E2:G4"},
		{SheetContext{SheetName: "Sheet1", ActiveRange: "A1"}, "Sheet1!B1"},
		{SheetContext{SheetName: "Phase 1 sheet", ActiveRange: "D5:D6"}, "'Phase 1 sheet'!E5:E6"},
		{SheetContext{ActiveRange: "Data!Z1"}, "Data!AA1"},
	}
	for _, tt := range tests {
		_, got, err := Target(tt.sc)
		if err != nil {
			t.Fatalf("Target(%+v): %v", tt.sc, err)
		}
		if got != tt.want {
			t.Errorf("Target(%+v) = %q, want %q", tt.sc, got, tt.want)
		}
	}
	for _, active := range []string{"not a range", "ZZZ1", "ZZY1:ZZZ2"} {
		if _, _, err := Target(SheetContext{ActiveRange: active}); !errors.Is(err, a1.ErrBadAddress) {
			t.Fatalf("Target(%q): expected addressing error, got %v", active, err)
		}
	}
}

func TestBuild_SingleBlankCell(t *testing.T) {
	snap := &stubSnapshotter{}
	res, err := Build(context.Background(), snap, SheetContext{
		SpreadsheetID: "sheet-123",
		SheetName:     "Phase 1 sheet",
		ActiveRange:   "D5:D6",
	}, [][]any{{"hello"}}, snapshot.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if snap.asked != "'Phase 1 sheet'!E5:E6" {
		t.Fatalf("snapshotted %q", snap.asked)
	}
	if res.ChangeCount != 1 || res.Changes[0].Cell != "'Phase 1 sheet'!E5" {
		t.Fatalf("unexpected changes %+v", res.Changes)
	}
	if res.Changes[0].After != "hello" || res.Changes[0].Before != nil {
		t.Fatalf("unexpected change %+v", res.Changes[0])
	}
	if !strings.Contains(res.Summary, "E5") {
		t.Fatalf("summary %q does not name the cell", res.Summary)
	}
	if res.Changes[0].Line != `'Phase 1 sheet'!E5: 〈empty〉 → "hello"` {
		t.Fatalf("line = %q", res.Changes[0].Line)
	}
	if res.Fingerprint.Range != res.TargetRange || res.Fingerprint.RowCount != 2 {
		t.Fatalf("fingerprint does not cover target: %+v", res.Fingerprint)
	}
}

func TestBuild_SkipsUnchangedCells(t *testing.T) {
	snap := &stubSnapshotter{values: [][]any{{"same", 1.0}, {"abc", nil}}}
	res, err := Build(context.Background(), snap, SheetContext{ActiveRange: "A1:B2"},
		[][]any{{"same", 1}, {"abXc", 7, "ignored"}, {"ignored"}}, snapshot.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.ChangeCount != 2 {
		t.Fatalf("expected 2 changes, got %+v", res.Changes)
	}
	if res.Changes[0].Cell != "C2" || res.Changes[0].Diff != "ab{+X+}c" {
		t.Fatalf("first change = %+v", res.Changes[0])
	}
	if res.Changes[1].Cell != "D2" || res.Changes[1].Line != "D2: 〈empty〉 → 7" {
		t.Fatalf("second change = %+v", res.Changes[1])
	}
	if res.Summary != "Will update 2 cells (first: C2)." {
		t.Fatalf("summary = %q", res.Summary)
	}
}

func TestBuild_Errors(t *testing.T) {
	if _, err := Build(context.Background(), &stubSnapshotter{}, SheetContext{ActiveRange: "A1"}, nil, snapshot.Options{}); !errors.Is(err, ErrEmptyProposal) {
		t.Fatalf("expected ErrEmptyProposal, got %v", err)
	}
	boom := errors.New("boom")
	_, err := Build(context.Background(), &stubSnapshotter{err: boom}, SheetContext{ActiveRange: "A1"}, [][]any{{"x"}}, snapshot.Options{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	if _, s := Summarize(nil); s != "No visible changes." {
		t.Errorf("empty = %q", s)
	}
	if n, s := Summarize([]Change{{Cell: "B2"}}); n != 1 || s != "Will update 1 cell (B2)." {
		t.Errorf("one = %d %q", n, s)
	}
}

func TestInlineDiff(t *testing.T) {
	tests := []struct{ before, after, want string }{
		{"abc", "abXc", "ab{+X+}c"},
		{"cat", "at", "[-c-]at"},
		{"same", "same", "same"},
	}
	for _, tt := range tests {
		if got := InlineDiff(tt.before, tt.after); got != tt.want {
			t.Errorf("InlineDiff(%q, %q) = %q, want %q", tt.before, tt.after, got, tt.want)
		}
	}
}
