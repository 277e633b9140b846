package fingerprint

// Reason is a stable wire-level code describing why two fingerprints diverge.
type Reason string

const (
	ReasonRowCount      Reason = "ROW_COUNT"
	ReasonColCount      Reason = "COL_COUNT"
	ReasonHeaderChanged Reason = "HEADER_CHANGED"
	ReasonFormatChanged Reason = "FORMAT_CHANGED"
	ReasonEdgeHash      Reason = "EDGE_HASH"
)

// ChangedAt locates a shape change, 1-based. Zero means unknown.
type ChangedAt struct {
	Row int `json:"row,omitempty"`
	Col int `json:"col,omitempty"`
}

// VerifyResult is either OK or a mismatch with exactly one Reason.
// Fingerprint is always the current one.
type VerifyResult struct {
	OK          bool        `json:"ok"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Reason      Reason      `json:"reason,omitempty"`
	ChangedAt   *ChangedAt  `json:"changedAt,omitempty"`
}

// Compare classifies divergence between before and current. Checks run in a
// fixed order and the first hit wins: row count, column count, header, format
// (only when includeFormats), edge hash.
func Compare(before, current Fingerprint, includeFormats bool) VerifyResult {
	mismatch := func(r Reason, at *ChangedAt) VerifyResult {
		return VerifyResult{Fingerprint: current, Reason: r, ChangedAt: at}
	}

	if current.RowCount != before.RowCount {
		return mismatch(ReasonRowCount, &ChangedAt{Row: min(current.RowCount, before.RowCount) + 1})
	}
	if current.ColCount != before.ColCount {
		return mismatch(ReasonColCount, &ChangedAt{Col: min(current.ColCount, before.ColCount) + 1})
	}
	if before.HeaderHash != "" && current.HeaderHash != "" && current.HeaderHash != before.HeaderHash {
		return mismatch(ReasonHeaderChanged, nil)
	}
	if includeFormats && before.FormatHash != "" && current.FormatHash != "" && current.FormatHash != before.FormatHash {
		return mismatch(ReasonFormatChanged, nil)
	}
	if current.EdgeHash != before.EdgeHash {
		return mismatch(ReasonEdgeHash, nil)
	}
	return VerifyResult{OK: true, Fingerprint: current}
}
