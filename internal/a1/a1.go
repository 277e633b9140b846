// Package a1 parses and formats spreadsheet ranges in A1 notation,
// e.g. "B2:D4" or "Sheet1!B2".
package a1

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrBadAddress is matched by every AddressingError.
var ErrBadAddress = errors.New("unsupported A1 range")

// AddressingError reports a malformed A1 string. It is always a caller input error.
type AddressingError struct {
	Input string
}

func (e *AddressingError) Error() string {
	return fmt.Sprintf("%s: %q", ErrBadAddress, e.Input)
}

func (e *AddressingError) Unwrap() error { return ErrBadAddress }

var a1Pattern = regexp.MustCompile(`^([A-Za-z]+)(\d+)(:([A-Za-z]+)(\d+))?$`)

// Grid limits of a hosted sheet. Parse rejects anything larger.
const (
	MaxColumns = 18278 // ZZZ
	MaxRows    = 10_000_000
	MaxCells   = 10_000_000
)

// Range is a rectangular, 1-based cell range.
type Range struct {
	SheetName string `json:"sheetName,omitempty"`
	StartCol  int    `json:"startCol"`
	StartRow  int    `json:"startRow"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// SplitSheet separates an optional "Sheet!" prefix from the cell part.
// Only the first '!' is significant.
func SplitSheet(s string) (sheet, cells string) {
	if i := strings.IndexByte(s, '!'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return "", s
}

// Parse accepts [Sheet!]COLROW[:COLROW]. Column letters are case-insensitive.
// A reversed corner pair ("D4:B2") is normalized to the same rectangle.
// Ranges outside MaxColumns, MaxRows or MaxCells are rejected.
func Parse(s string) (Range, error) {
	sheet, cells := SplitSheet(strings.TrimSpace(s))
	m := a1Pattern.FindStringSubmatch(strings.TrimSpace(cells))
	if m == nil {
		return Range{}, &AddressingError{Input: s}
	}

	startCol, startRow, ok := corner(m[1], m[2])
	if !ok {
		return Range{}, &AddressingError{Input: s}
	}
	endCol, endRow := startCol, startRow
	if m[3] != "" {
		if endCol, endRow, ok = corner(m[4], m[5]); !ok {
			return Range{}, &AddressingError{Input: s}
		}
	}
	if endCol < startCol {
		startCol, endCol = endCol, startCol
	}
	if endRow < startRow {
		startRow, endRow = endRow, startRow
	}

	r := Range{
		SheetName: unquoteSheet(sheet),
		StartCol:  startCol,
		StartRow:  startRow,
		Width:     endCol - startCol + 1,
		Height:    endRow - startRow + 1,
	}
	if !r.InBounds() {
		return Range{}, &AddressingError{Input: s}
	}
	return r, nil
}

func corner(letters, digits string) (col, row int, ok bool) {
	if len(letters) > 3 || len(digits) > 8 {
		return 0, 0, false
	}
	col = ColumnIndex(letters)
	row, err := strconv.Atoi(digits)
	if err != nil || row < 1 || row > MaxRows || col < 1 || col > MaxColumns {
		return 0, 0, false
	}
	return col, row, true
}

// InBounds reports whether r is non-empty and fits inside the grid limits.
func (r Range) InBounds() bool {
	return r.StartCol >= 1 && r.StartRow >= 1 && r.Width >= 1 && r.Height >= 1 &&
		r.StartCol+r.Width-1 <= MaxColumns &&
		r.StartRow+r.Height-1 <= MaxRows &&
		r.Width*r.Height <= MaxCells
}

func unquoteSheet(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	return s
}

// MustParse is Parse for constants in tests and defaults. It panics on error.
func MustParse(s string) Range {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Format renders r in A1 notation. A single-cell range has no colon.
// sheetName overrides r.SheetName when non-empty. A zero Range yields "".
func Format(r Range, sheetName string) string {
	if r.StartCol < 1 || r.StartRow < 1 {
		return ""
	}
	if sheetName == "" {
		sheetName = r.SheetName
	}
	width, height := max(r.Width, 1), max(r.Height, 1)

	start := ColumnLabel(r.StartCol) + strconv.Itoa(r.StartRow)
	base := start
	if width != 1 || height != 1 {
		base = start + ":" + ColumnLabel(r.StartCol+width-1) + strconv.Itoa(r.StartRow+height-1)
	}
	if sheetName != "" {
		return QuoteSheet(sheetName) + "!" + base
	}
	return base
}

var plainSheet = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// QuoteSheet wraps a sheet name in single quotes when it contains anything
// other than letters, digits or underscores. Embedded quotes are doubled.
func QuoteSheet(name string) string {
	if plainSheet.MatchString(name) {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// String implements fmt.Stringer.
func (r Range) String() string { return Format(r, "") }

// AdjacentRight returns the same-shaped range immediately to the right of r.
func AdjacentRight(r Range) Range {
	r.StartCol += r.Width
	return r
}

// Cell returns the A1 label of the cell at zero-based offsets inside r, without sheet name.
func (r Range) Cell(rowOffset, colOffset int) string {
	return ColumnLabel(r.StartCol+colOffset) + strconv.Itoa(r.StartRow+rowOffset)
}

// ColumnIndex converts base-26 letters (A=1 ... Z=26, AA=27) into a 1-based index.
func ColumnIndex(letters string) int {
	n := 0
	for _, c := range strings.ToUpper(letters) {
		if c < 'A' || c > 'Z' {
			return 0
		}
		n = n*26 + int(c-'A'+1)
	}
	return n
}

// ColumnLabel is the inverse of ColumnIndex. Non-positive indexes yield "".
func ColumnLabel(n int) string {
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		rem := (n - 1) % 26
		i--
		buf[i] = byte('A' + rem)
		n = (n - 1) / 26
	}
	return string(buf[i:])
}
