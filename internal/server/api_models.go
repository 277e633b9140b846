package server

import (
	"github.com/raysh454/sheetcas/internal/fingerprint"
	"github.com/raysh454/sheetcas/internal/patch"
	"github.com/raysh454/sheetcas/internal/preview"
)

// FingerprintRequest asks for fingerprints of several ranges in one read.
type FingerprintRequest struct {
	SpreadsheetID  string   `json:"spreadsheetId" example:"1AbC"`
	Ranges         []string `json:"ranges" example:"[\"Sheet1!A1:D20\"]"`
	EdgeRows       int      `json:"edgeRows,omitempty" example:"20"`
	IncludeFormats bool     `json:"includeFormats,omitempty"`
}

// FingerprintResponse lists fingerprints in request order.
type FingerprintResponse struct {
	Fingerprints []fingerprint.Fingerprint `json:"fingerprints"`
}

// VerifyRequest re-checks previously issued fingerprints.
type VerifyRequest struct {
	SpreadsheetID  string                    `json:"spreadsheetId" example:"1AbC"`
	Fingerprints   []fingerprint.Fingerprint `json:"fingerprints"`
	EdgeRows       int                       `json:"edgeRows,omitempty" example:"20"`
	IncludeFormats bool                      `json:"includeFormats,omitempty"`
}

// VerifyResponse lists results in request order.
type VerifyResponse struct {
	Results []fingerprint.VerifyResult `json:"results"`
}

// PreviewRequest carries the caller's selection and the values to propose.
type PreviewRequest struct {
	Context preview.SheetContext `json:"context"`
	Values  [][]any              `json:"values" example:"[[\"hello\"]]"`
}

// ApplyResponse reports a recorded patch.
type ApplyResponse struct {
	OK      bool         `json:"ok" example:"true"`
	PatchID string       `json:"patchId" example:"6f1c2a9e-0d7b-4d3e-9a55-2f1f8c3b7e10"`
	Range   string       `json:"range" example:"Sheet1!C2"`
	Patch   patch.Record `json:"patch"`
}

// UndoRequest names the patch to reverse and the user asking.
type UndoRequest struct {
	UserID  string `json:"userId" example:"user-1"`
	PatchID string `json:"patchId" example:"6f1c2a9e-0d7b-4d3e-9a55-2f1f8c3b7e10"`
}

// UndoResponse reports the restored range.
type UndoResponse struct {
	OK            bool         `json:"ok" example:"true"`
	PatchID       string       `json:"patchId"`
	RestoredRange string       `json:"restoredRange" example:"Sheet1!C2"`
	Patch         patch.Record `json:"patch"`
}

// StaleResponse is returned with 409 when a fingerprint no longer matches.
type StaleResponse struct {
	Error     string                 `json:"error" example:"E_STALE"`
	Reason    fingerprint.Reason     `json:"reason" example:"EDGE_HASH"`
	ChangedAt *fingerprint.ChangedAt `json:"changedAt,omitempty"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"patch not found"`
}
