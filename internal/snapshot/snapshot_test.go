package snapshot_test

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/raysh454/sheetcas/internal/a1"
	"github.com/raysh454/sheetcas/internal/fingerprint"
	"github.com/raysh454/sheetcas/internal/sheets"
	"github.com/raysh454/sheetcas/internal/snapshot"
	"github.com/raysh454/sheetcas/internal/testutil"
)

func seeded() *testutil.MemoryBackend {
	b := testutil.NewMemoryBackend()
	b.Set("sid", "Sheet1!A1:B3", [][]any{
		{"H1", "H2"},
		{"foo", 123.0},
		{"bar", 456.0},
	})
	return b
}

func TestPadValues(t *testing.T) {
	got := snapshot.PadValues([][]any{{"a"}, {}, {"b", "c", "d"}}, 4, 2)
	want := [][]any{{"a", ""}, {"", ""}, {"b", "c"}, {"", ""}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("PadValues = %#v", got)
	}
}

func TestSnapshotMany_EmptyDoesNotRead(t *testing.T) {
	t.Parallel()
	b := seeded()
	o := snapshot.New(b, &testutil.DummyLogger{}, nil, snapshot.Config{})
	snaps, err := o.SnapshotMany(context.Background(), "sid", nil, snapshot.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 0 || b.Reads != 0 {
		t.Fatalf("expected no snapshots and no reads, got %d snapshots, %d reads", len(snaps), b.Reads)
	}
}

func TestSnapshotMany_PadsToDeclaredShape(t *testing.T) {
	t.Parallel()
	b := seeded()
	o := snapshot.New(b, &testutil.DummyLogger{}, nil, snapshot.Config{})

	snaps, err := o.SnapshotMany(context.Background(), "sid", []string{"Sheet1!A1:C5", "Sheet1!B2"}, snapshot.Options{})
	if err != nil {
		t.Fatalf("SnapshotMany: %v", err)
	}
	if b.Reads != 1 {
		t.Fatalf("expected one batched read, got %d", b.Reads)
	}
	first := snaps[0]
	if len(first.Values) != 5 || len(first.Values[4]) != 3 {
		t.Fatalf("values not padded: %#v", first.Values)
	}
	if first.Values[1][2] != "" || first.Values[4][0] != "" {
		t.Fatal("padding cells must be blank")
	}
	if first.Fingerprint.RowCount != 5 || first.Fingerprint.ColCount != 3 {
		t.Fatalf("shape = %dx%d", first.Fingerprint.RowCount, first.Fingerprint.ColCount)
	}
	if first.Fingerprint.Range != "Sheet1!A1:C5" {
		t.Fatalf("range = %q", first.Fingerprint.Range)
	}
	if first.Fingerprint.HeaderHash == "" {
		t.Fatal("header hash missing")
	}
	if first.Fingerprint.FormatHash != "" || first.Formats != nil {
		t.Fatal("formats present without being requested")
	}
	if !reflect.DeepEqual(snaps[1].Values, [][]any{{123.0}}) {
		t.Fatalf("second range values = %#v", snaps[1].Values)
	}
}

func TestSnapshotMany_MatchesInMemoryFingerprint(t *testing.T) {
	t.Parallel()
	o := snapshot.New(seeded(), nil, nil, snapshot.Config{})
	fp, err := o.FingerprintRange(context.Background(), "sid", "Sheet1!A1:B3", snapshot.Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := fingerprint.Compute("Sheet1!A1:B3", [][]any{{"H1", "H2"}, {"foo", 123}, {"bar", 456}}, nil, fingerprint.DefaultOptions())
	if fp != want {
		t.Fatalf("fingerprint = %+v, want %+v", fp, want)
	}
}

func TestSnapshotMany_Errors(t *testing.T) {
	t.Parallel()
	b := seeded()
	o := snapshot.New(b, nil, nil, snapshot.Config{})

	if _, err := o.SnapshotMany(context.Background(), "sid", []string{"A1", "nope"}, snapshot.Options{}); !errors.Is(err, a1.ErrBadAddress) {
		t.Fatalf("expected addressing error, got %v", err)
	}
	if b.Reads != 0 {
		t.Fatal("bad address must fail before reading")
	}

	b.ReadErr = &sheets.FetchError{Op: "batchGet", Status: 500, Body: "oops"}
	_, err := o.SnapshotMany(context.Background(), "sid", []string{"A1", "B1"}, snapshot.Options{})
	var fe *sheets.FetchError
	if !errors.As(err, &fe) || fe.Status != 500 {
		t.Fatalf("expected FetchError surfaced unmodified, got %v", err)
	}
}

type emptyReader struct{}

func (emptyReader) BatchGet(context.Context, string, []string) ([]sheets.ValueRange, error) {
	return nil, nil
}

func TestSnapshotRange_EmptyResult(t *testing.T) {
	t.Parallel()
	o := snapshot.New(emptyReader{}, nil, nil, snapshot.Config{})
	_, err := o.SnapshotRange(context.Background(), "sid", "A1:B2", snapshot.Options{})
	var ee *snapshot.EmptyResultError
	if !errors.As(err, &ee) || ee.Range != "A1:B2" {
		t.Fatalf("expected EmptyResultError, got %v", err)
	}

	// The batched form still pads.
	snaps, err := o.SnapshotMany(context.Background(), "sid", []string{"A1:B2"}, snapshot.Options{})
	if err != nil || len(snaps[0].Values) != 2 {
		t.Fatalf("SnapshotMany = %v, %v", snaps, err)
	}
}

func TestSnapshotRange_Formats(t *testing.T) {
	t.Parallel()
	b := seeded()
	b.SetFormats("sid", "Sheet1!A1", [][]string{{"bold", "bold"}, {"", ""}})
	o := snapshot.New(b, nil, nil, snapshot.Config{})

	snap, err := o.SnapshotRange(context.Background(), "sid", "Sheet1!A1:B3", snapshot.Options{IncludeFormats: true})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Fingerprint.FormatHash == "" || len(snap.Formats) != 3 {
		t.Fatalf("formats not captured: %+v", snap)
	}

	plain := snapshot.New(testutil.ValuesOnly{Backend: b}, nil, nil, snapshot.Config{})
	snap, err = plain.SnapshotRange(context.Background(), "sid", "Sheet1!A1:B3", snapshot.Options{IncludeFormats: true})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Fingerprint.FormatHash != "" {
		t.Fatal("format hash set although backend has no formats")
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := seeded()
	o := snapshot.New(b, nil, nil, snapshot.Config{})

	before, err := o.FingerprintRange(ctx, "sid", "Sheet1!A1:B3", snapshot.Options{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.Verify(ctx, "sid", before, snapshot.Options{})
	if err != nil || !res.OK {
		t.Fatalf("unchanged range should verify: %+v, %v", res, err)
	}

	b.Set("sid", "Sheet1!B2", [][]any{{999.0}})
	res, err = o.Verify(ctx, "sid", before, snapshot.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Reason != fingerprint.ReasonEdgeHash {
		t.Fatalf("expected EDGE_HASH, got %+v", res)
	}

	b.Set("sid", "Sheet1!A1", [][]any{{"Renamed"}})
	res, _ = o.Verify(ctx, "sid", before, snapshot.Options{})
	if res.Reason != fingerprint.ReasonHeaderChanged {
		t.Fatalf("expected HEADER_CHANGED, got %+v", res)
	}
}

func TestVerifyMany_OrderAndErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := seeded()
	o := snapshot.New(b, nil, nil, snapshot.Config{MaxConcurrency: 2})

	fps, err := o.FingerprintMany(ctx, "sid", []string{"Sheet1!A1:B1", "Sheet1!A2:B2", "Sheet1!A3:B3"}, snapshot.Options{})
	if err != nil {
		t.Fatal(err)
	}
	b.Set("sid", "Sheet1!A3", [][]any{{"baz"}})

	results, err := o.VerifyMany(ctx, "sid", fps, snapshot.Options{})
	if err != nil {
		t.Fatalf("VerifyMany: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Fingerprint.Range != fps[i].Range {
			t.Errorf("result %d out of order: %s", i, res.Fingerprint.Range)
		}
	}
	if !results[0].OK || !results[1].OK || results[2].OK {
		t.Fatalf("unexpected outcomes %+v", results)
	}

	var calls atomic.Int32
	b.BeforeRead = func(int) {
		if calls.Add(1) == 2 {
			b.SetReadErr(errors.New("quota exceeded"))
		}
	}
	if _, err := o.VerifyMany(ctx, "sid", fps, snapshot.Options{}); err == nil {
		t.Fatal("expected a fetch failure to fail the batch")
	}
}

func TestVerifyMany_OversizedRangeIsAddressingError(t *testing.T) {
	t.Parallel()
	o := snapshot.New(emptyReader{}, nil, nil, snapshot.Config{})
	for _, rangeA1 := range []string{"A1:ZZZZZZZZZZZZZ1", "A1:XFD1048576"} {
		_, err := o.VerifyMany(context.Background(), "sid", []fingerprint.Fingerprint{{Range: rangeA1}}, snapshot.Options{})
		if !errors.Is(err, a1.ErrBadAddress) {
			t.Errorf("%s: expected addressing error, got %v", rangeA1, err)
		}
	}
}
