package fingerprint

import "sort"

// DefaultEdgeRows is the size of the leading and trailing data-row windows.
const DefaultEdgeRows = 20

// SelectRowIndexes returns the sorted, unique zero-based row indexes that take
// part in hashing: the header (when includeHeader) plus up to edgeRows rows from
// each end of the data band. Rows strictly between the two windows are never
// sampled, so an edit confined to them does not change the edge hash.
func SelectRowIndexes(rowCount int, includeHeader bool, edgeRows int) []int {
	if rowCount <= 0 {
		return []int{}
	}
	firstDataRow := 0
	if includeHeader {
		firstDataRow = 1
	}
	last := rowCount - 1

	seen := make(map[int]struct{}, 2*max(edgeRows, 0)+1)
	if includeHeader {
		seen[0] = struct{}{}
	}
	for i := 0; i < edgeRows; i++ {
		if head := firstDataRow + i; head <= last {
			seen[head] = struct{}{}
		}
		if tail := last - i; tail >= firstDataRow {
			seen[tail] = struct{}{}
		}
	}

	out := make([]int, 0, len(seen))
	for idx := range seen {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
