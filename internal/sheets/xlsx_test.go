package sheets

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/raysh454/sheetcas/internal/a1"
	"github.com/raysh454/sheetcas/internal/logging"
)

func newXLSX(t *testing.T) *XLSXBackend {
	t.Helper()
	b, err := NewXLSXBackend(t.TempDir(), logging.Nop())
	if err != nil {
		t.Fatalf("NewXLSXBackend: %v", err)
	}
	return b
}

func TestXLSX_WriteThenRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newXLSX(t)

	in := [][]any{
		{"Name", "Qty", "Active"},
		{"foo", 123.0, true},
		{"bar", 4.5, false},
	}
	if err := b.WriteRange(ctx, "book", "Sheet1!A1:C3", in); err != nil {
		t.Fatalf("WriteRange: %v", err)
	}

	got, err := b.BatchGet(ctx, "book", []string{"Sheet1!A1:C3", "B2"})
	if err != nil {
		t.Fatalf("BatchGet: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 ranges, got %d", len(got))
	}
	if !reflect.DeepEqual(got[0].Values, in) {
		t.Errorf("values = %#v, want %#v", got[0].Values, in)
	}
	if got[0].Range != "Sheet1!A1:C3" {
		t.Errorf("range = %q", got[0].Range)
	}
	if !reflect.DeepEqual(got[1].Values, [][]any{{123.0}}) {
		t.Errorf("unprefixed range should read first sheet, got %#v", got[1].Values)
	}
}

func TestXLSX_TrailingBlanksOmitted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newXLSX(t)

	if err := b.WriteRange(ctx, "book", "A1:B1", [][]any{{"x", "y"}}); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteRange(ctx, "book", "A2", [][]any{{"z"}}); err != nil {
		t.Fatal(err)
	}
	got, err := b.BatchGet(ctx, "book", []string{"A1:D5"})
	if err != nil {
		t.Fatal(err)
	}
	want := [][]any{{"x", "y"}, {"z"}}
	if !reflect.DeepEqual(got[0].Values, want) {
		t.Fatalf("values = %#v, want %#v", got[0].Values, want)
	}
}

func TestXLSX_LargeRangeReadsUsedArea(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newXLSX(t)

	if err := b.WriteRange(ctx, "book", "B2", [][]any{{"only"}}); err != nil {
		t.Fatal(err)
	}
	got, err := b.BatchGet(ctx, "book", []string{"A1:J1000000", "C5:D6"})
	if err != nil {
		t.Fatal(err)
	}
	if want := [][]any{{}, {nil, "only"}}; !reflect.DeepEqual(got[0].Values, want) {
		t.Fatalf("values = %#v, want %#v", got[0].Values, want)
	}
	if len(got[1].Values) != 0 {
		t.Fatalf("range past the used area = %#v", got[1].Values)
	}
}

func TestXLSX_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newXLSX(t)

	_, err := b.BatchGet(ctx, "missing", []string{"A1"})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Status != 404 {
		t.Fatalf("expected 404 FetchError, got %v", err)
	}

	if err := b.WriteRange(ctx, "book", "A1", [][]any{{"x"}}); err != nil {
		t.Fatal(err)
	}
	_, err = b.BatchGet(ctx, "book", []string{"Nope!A1"})
	if !errors.As(err, &fe) || fe.Status != 400 {
		t.Fatalf("expected 400 FetchError for unknown sheet, got %v", err)
	}
	_, err = b.BatchGet(ctx, "book", []string{"1A"})
	if !errors.Is(err, a1.ErrBadAddress) {
		t.Fatalf("expected addressing error, got %v", err)
	}
}

func TestXLSX_AuditSheet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newXLSX(t)

	header := []any{"timestamp", "action"}
	for i := 0; i < 2; i++ {
		if err := b.EnsureSheet(ctx, "book", "LOG", header); err != nil {
			t.Fatalf("EnsureSheet #%d: %v", i, err)
		}
	}
	if err := b.AppendRows(ctx, "book", "LOG!A:B", [][]any{{"t1", "apply"}}); err != nil {
		t.Fatal(err)
	}
	if err := b.AppendRows(ctx, "book", "LOG!A:B", [][]any{{"t2", "undo"}}); err != nil {
		t.Fatal(err)
	}

	got, err := b.BatchGet(ctx, "book", []string{"LOG!A1:B3"})
	if err != nil {
		t.Fatal(err)
	}
	want := [][]any{{"timestamp", "action"}, {"t1", "apply"}, {"t2", "undo"}}
	if !reflect.DeepEqual(got[0].Values, want) {
		t.Fatalf("audit rows = %#v", got[0].Values)
	}
}

func TestXLSX_ReadFormatsShape(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newXLSX(t)
	if err := b.WriteRange(ctx, "book", "A1", [][]any{{"x"}}); err != nil {
		t.Fatal(err)
	}
	got, err := b.ReadFormats(ctx, "book", []string{"A1:B3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || len(got[0]) != 3 || len(got[0][0]) != 2 {
		t.Fatalf("unexpected format grid %v", got)
	}
}

func TestNewOpener(t *testing.T) {
	t.Parallel()
	open, err := NewOpener(Config{Kind: "XLSX", Root: t.TempDir()}, logging.Nop())
	if err != nil {
		t.Fatalf("NewOpener: %v", err)
	}
	b, err := open(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*XLSXBackend); !ok {
		t.Fatalf("expected *XLSXBackend, got %T", b)
	}

	if _, err := NewOpener(Config{Kind: "carrier-pigeon"}, logging.Nop()); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
