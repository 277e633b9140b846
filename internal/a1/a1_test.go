package a1

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Range
	}{
		{"A1", Range{StartCol: 1, StartRow: 1, Width: 1, Height: 1}},
		{"B2:D4", Range{StartCol: 2, StartRow: 2, Width: 3, Height: 3}},
		{"b2:d4", Range{StartCol: 2, StartRow: 2, Width: 3, Height: 3}},
		{"Sheet1!C3", Range{SheetName: "Sheet1", StartCol: 3, StartRow: 3, Width: 1, Height: 1}},
		{"'My Sheet'!AA10:AB11", Range{SheetName: "My Sheet", StartCol: 27, StartRow: 10, Width: 2, Height: 2}},
		{"D4:B2", Range{StartCol: 2, StartRow: 2, Width: 3, Height: 3}},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, in := range []string{
		"", "A", "1", "A0", "A1:B", "A1-B2", "Sheet1!", "A1:B2:C3", "1A",
		// Past the column, row or cell limits.
		"A1:ZZZZZZZZZZZZZ1", "AAAA1", "A10000001", "A1:B99999999999999999999", "A1:XFD1048576",
	} {
		_, err := Parse(in)
		if err == nil {
			t.Errorf("Parse(%q) expected error", in)
			continue
		}
		var aerr *AddressingError
		if !errors.As(err, &aerr) {
			t.Errorf("Parse(%q) error %T is not *AddressingError", in, err)
		}
		if !errors.Is(err, ErrBadAddress) {
			t.Errorf("Parse(%q) error does not match ErrBadAddress", in)
		}
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	for _, in := range []string{"B2:D4", "A1", "Z9:AA10", "Sheet1!B2", "Data!A1:ZZ100", "'My Sheet'!C3:D4", "'It''s'!A1"} {
		r, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if got := Format(r, ""); got != in {
			t.Errorf("Format(Parse(%q)) = %q", in, got)
		}
	}
}

func TestParse_GridLimits(t *testing.T) {
	tests := []struct {
		in   string
		want Range
	}{
		{"ZZZ1", Range{StartCol: MaxColumns, StartRow: 1, Width: 1, Height: 1}},
		{"A10000000", Range{StartCol: 1, StartRow: MaxRows, Width: 1, Height: 1}},
		{"A1:J1000000", Range{StartCol: 1, StartRow: 1, Width: 10, Height: 1000000}},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
		if Format(got, "") != tt.in {
			t.Errorf("Format(Parse(%q)) = %q", tt.in, Format(got, ""))
		}
	}
}

func TestInBounds(t *testing.T) {
	if !MustParse("B2:D4").InBounds() {
		t.Error("B2:D4 should be in bounds")
	}
	if AdjacentRight(MustParse("ZZZ1")).InBounds() {
		t.Error("range right of ZZZ should be out of bounds")
	}
	if (Range{}).InBounds() {
		t.Error("zero range should be out of bounds")
	}
}

func TestFormat_ZeroRange(t *testing.T) {
	if got := Format(Range{}, ""); got != "" {
		t.Errorf("Format(Range{}) = %q", got)
	}
	if got := Format(Range{SheetName: "Sheet1", StartCol: 1}, ""); got != "" {
		t.Errorf("Format without a row = %q", got)
	}
}

func TestFormat_SheetOverride(t *testing.T) {
	r := MustParse("B2")
	if got := Format(r, "Other"); got != "Other!B2" {
		t.Errorf("got %q", got)
	}
}

func TestQuoteSheet(t *testing.T) {
	tests := map[string]string{
		"Sheet1":   "Sheet1",
		"My Sheet": "'My Sheet'",
		"It's":     "'It''s'",
		"AI_AUDIT": "AI_AUDIT",
	}
	for in, want := range tests {
		if got := QuoteSheet(in); got != want {
			t.Errorf("QuoteSheet(%q) = %q, want %q", in, got, want)
		}
	}
	if r := MustParse("'It''s'!B2"); r.SheetName != "It's" {
		t.Errorf("unquoted sheet = %q", r.SheetName)
	}
}

func TestAdjacentRight(t *testing.T) {
	r := MustParse("Sheet1!B2:D4")
	got := AdjacentRight(r)
	if got.String() != "Sheet1!E2:G4" {
		t.Errorf("AdjacentRight = %s", got)
	}
	if r.StartCol != 2 {
		t.Errorf("input mutated: %+v", r)
	}
}

func TestColumnCodec(t *testing.T) {
	tests := []struct {
		label string
		index int
	}{
		{"A", 1}, {"Z", 26}, {"AA", 27}, {"AZ", 52}, {"BA", 53}, {"ZZ", 702}, {"AAA", 703},
		{"ZZZ", 18278}, {"ZZZZZZZZZ", 5646683826134},
	}
	for _, tt := range tests {
		if got := ColumnIndex(tt.label); got != tt.index {
			t.Errorf("ColumnIndex(%q) = %d, want %d", tt.label, got, tt.index)
		}
		if got := ColumnLabel(tt.index); got != tt.label {
			t.Errorf("ColumnLabel(%d) = %q, want %q", tt.index, got, tt.label)
		}
	}
	if ColumnLabel(0) != "" {
		t.Errorf("ColumnLabel(0) should be empty")
	}
}

func TestRangeCell(t *testing.T) {
	r := MustParse("Y5:AB9")
	if got := r.Cell(0, 0); got != "Y5" {
		t.Errorf("Cell(0,0) = %q", got)
	}
	if got := r.Cell(4, 3); got != "AB9" {
		t.Errorf("Cell(4,3) = %q", got)
	}
}
