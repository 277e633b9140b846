// Package patch records the before and after state of a single range write so
// that it can later be reversed.
package patch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("patch not found")
	ErrAlreadyUndone = errors.New("patch already undone")
	ErrMarkerChanged = errors.New("patch undo marker changed")
)

// PersistenceError wraps a failure talking to the patch store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("patch store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UndoMarker is stamped on an after-state exactly once, when the patch is reversed.
type UndoMarker struct {
	UndoneAt time.Time `json:"undoneAt"`
}

// State is a range and the values it held.
type State struct {
	Range  string      `json:"range"`
	Values [][]any     `json:"values"`
	Undo   *UndoMarker `json:"undo,omitempty"`
}

// Record is a stored patch. BeforeState is never modified after creation.
type Record struct {
	ID            string    `json:"id"`
	SpreadsheetID string    `json:"spreadsheetId"`
	UserID        string    `json:"userId"`
	PlanID        string    `json:"planId,omitempty"`
	TouchedRanges []string  `json:"touchedRanges"`
	BeforeState   *State    `json:"beforeState"`
	AfterState    *State    `json:"afterState"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Undone reports whether the after-state carries an undo marker.
func (r Record) Undone() bool {
	return r.AfterState != nil && r.AfterState.Undo != nil
}

// Build wraps a single write as a patch touching exactly rangeA1.
func Build(spreadsheetID, userID, planID, rangeA1 string, before, after [][]any) Record {
	return Record{
		SpreadsheetID: spreadsheetID,
		UserID:        userID,
		PlanID:        planID,
		TouchedRanges: []string{rangeA1},
		BeforeState:   &State{Range: rangeA1, Values: before},
		AfterState:    &State{Range: rangeA1, Values: after},
	}
}

// MarkUndo returns a copy of after carrying an undo marker at undoneAt.
// A nil state yields nil. The input is not modified.
func MarkUndo(after *State, undoneAt time.Time) *State {
	if after == nil {
		return nil
	}
	out := &State{
		Range:  after.Range,
		Values: copyValues(after.Values),
		Undo:   &UndoMarker{UndoneAt: undoneAt.UTC()},
	}
	return out
}

func copyValues(m [][]any) [][]any {
	if m == nil {
		return nil
	}
	out := make([][]any, len(m))
	for i, row := range m {
		out[i] = append([]any(nil), row...)
	}
	return out
}

// Filter narrows List. Zero fields match everything; Limit <= 0 is unbounded.
type Filter struct {
	SpreadsheetID string
	UserID        string
	PlanID        string
	Limit         int
}

// Matches reports whether r satisfies every set field of f.
func (f Filter) Matches(r Record) bool {
	return (f.SpreadsheetID == "" || f.SpreadsheetID == r.SpreadsheetID) &&
		(f.UserID == "" || f.UserID == r.UserID) &&
		(f.PlanID == "" || f.PlanID == r.PlanID)
}

// Store persists patches. A record has exactly one permitted update after
// insert: MarkUndone, which must fail with ErrAlreadyUndone when the stored
// after-state already carries a marker. ReleaseUndo exists only to back out a
// claim whose range write failed.
type Store interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	MarkUndone(ctx context.Context, id string, after *State) (Record, error)
	// ReleaseUndo puts back after and clears the marker, but only while the
	// stored marker is still the one stamped at undoneAt.
	ReleaseUndo(ctx context.Context, id string, after *State, undoneAt time.Time) error
	// List returns matching records, newest first.
	List(ctx context.Context, f Filter) ([]Record, error)
	Close() error
}
