package audit_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/raysh454/sheetcas/internal/audit"
	"github.com/raysh454/sheetcas/internal/testutil"
)

func TestEntryRow(t *testing.T) {
	e := audit.Entry{
		Time:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Action:  audit.ActionApply,
		PatchID: "p1",
		UserID:  "u1",
		Range:   "Sheet1!C2",
		Before:  [][]any{{""}},
		After:   [][]any{{"hello"}},
	}
	want := []any{"2024-03-01T10:00:00.000Z", "apply", "p1", "u1", "Sheet1!C2", `[[""]]`, `[["hello"]]`}
	if got := e.Row(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Row() = %#v", got)
	}
	if got := (audit.Entry{}).Row(); got[5] != "[]" {
		t.Fatalf("nil matrix rendered as %v", got[5])
	}
}

func TestLogAppend(t *testing.T) {
	ctx := context.Background()
	b := testutil.NewMemoryBackend()
	log := audit.New("")

	for _, action := range []audit.Action{audit.ActionApply, audit.ActionUndo} {
		if err := log.Append(ctx, b, "sid", audit.Entry{Action: action, PatchID: "p1"}); err != nil {
			t.Fatalf("Append(%s): %v", action, err)
		}
	}
	rows := b.Sheet("sid", audit.DefaultSheetTitle)
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if !reflect.DeepEqual(rows[0], audit.Header) {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][1] != "apply" || rows[2][1] != "undo" {
		t.Fatalf("actions = %v, %v", rows[1][1], rows[2][1])
	}
}

func TestLogAppend_Unsupported(t *testing.T) {
	b := testutil.ValuesOnly{Backend: testutil.NewMemoryBackend()}
	err := audit.New("").Append(context.Background(), b, "sid", audit.Entry{})
	if !errors.Is(err, audit.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
