// Package fingerprint computes compact, deterministic digests of spreadsheet
// value matrices and compares them to detect staleness.
//
// Everything in this package is pure and safe for concurrent use.
package fingerprint

import (
	"strconv"
	"strings"
)

const (
	cellSep = "\u0001"
	partSep = "\u0002"
)

// Fingerprint is an opaque version token for a range. Two fingerprints of
// identical matrices under identical options are equal.
type Fingerprint struct {
	Range      string `json:"range"`
	RowCount   int    `json:"rowCount"`
	ColCount   int    `json:"colCount"`
	EdgeHash   string `json:"edgeHash"`
	HeaderHash string `json:"headerHash,omitempty"`
	FormatHash string `json:"formatHash,omitempty"`
}

// Options control sampling. The zero value samples no data rows and skips the
// header; use DefaultOptions for the standard configuration.
type Options struct {
	EdgeRows      int
	IncludeHeader bool
}

// DefaultOptions samples the header plus DefaultEdgeRows rows at each end.
func DefaultOptions() Options {
	return Options{EdgeRows: DefaultEdgeRows, IncludeHeader: true}
}

// ColCount is the widest row length. Shorter rows are read as padded with blanks.
func ColCount[T any](m [][]T) int {
	n := 0
	for _, row := range m {
		n = max(n, len(row))
	}
	return n
}

func normalizeRow[T any](row []T, colCount int) string {
	parts := make([]string, colCount)
	for c := 0; c < colCount; c++ {
		if c < len(row) {
			parts[c] = NormalizeCell(row[c])
		} else {
			parts[c] = blank
		}
	}
	return strings.Join(parts, cellSep)
}

func hashRows[T any](m [][]T, colCount int, indexes []int) string {
	parts := make([]string, 0, 2*len(indexes))
	for _, idx := range indexes {
		var row []T
		if idx < len(m) {
			row = m[idx]
		}
		parts = append(parts, "#"+strconv.Itoa(idx), normalizeRow(row, colCount))
	}
	return HashString(strings.Join(parts, partSep))
}

// EdgeHash hashes the sampled rows of m. Each sampled row contributes its index
// so that identical content at different positions hashes differently.
func EdgeHash(m [][]any, opts Options) string {
	indexes := SelectRowIndexes(len(m), opts.IncludeHeader, opts.EdgeRows)
	return hashRows(m, ColCount(m), indexes)
}

// HeaderHash hashes a single header row, independent of any data rows.
func HeaderHash(header []any) string {
	return HashString(normalizeRow(header, len(header)))
}

// FormatHash hashes a parallel matrix of opaque format descriptors. The header
// row is always sampled.
func FormatHash(formats [][]string, edgeRows int) string {
	indexes := SelectRowIndexes(len(formats), true, edgeRows)
	return hashRows(formats, ColCount(formats), indexes)
}

// Compute builds a Fingerprint of an in-memory matrix. Row and column counts
// are taken from the matrix itself; formats may be nil.
func Compute(rangeA1 string, values [][]any, formats [][]string, opts Options) Fingerprint {
	return Build(rangeA1, values, formats, len(values), ColCount(values), opts)
}

// Build is Compute with an explicitly declared shape, used when values have
// been padded to a declared rectangle.
func Build(rangeA1 string, values [][]any, formats [][]string, rowCount, colCount int, opts Options) Fingerprint {
	fp := Fingerprint{
		Range:    rangeA1,
		RowCount: rowCount,
		ColCount: colCount,
		EdgeHash: EdgeHash(values, opts),
	}
	if len(values) > 0 {
		fp.HeaderHash = HeaderHash(values[0])
	}
	if formats != nil {
		fp.FormatHash = FormatHash(formats, opts.EdgeRows)
	}
	return fp
}
