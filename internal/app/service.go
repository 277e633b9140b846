package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raysh454/sheetcas/internal/a1"
	"github.com/raysh454/sheetcas/internal/audit"
	"github.com/raysh454/sheetcas/internal/fingerprint"
	"github.com/raysh454/sheetcas/internal/logging"
	"github.com/raysh454/sheetcas/internal/metrics"
	"github.com/raysh454/sheetcas/internal/patch"
	"github.com/raysh454/sheetcas/internal/preview"
	"github.com/raysh454/sheetcas/internal/sheets"
	"github.com/raysh454/sheetcas/internal/snapshot"
)

var (
	ErrStale         = errors.New("range changed since it was fingerprinted")
	ErrForbidden     = errors.New("patch belongs to a different user")
	ErrNoTargetRange = errors.New("patch does not include a target range")
	ErrMissingField  = errors.New("missing required field")
)

// StaleError is returned by Apply when the supplied fingerprint no longer
// matches the range. Nothing was written.
type StaleError struct {
	Result fingerprint.VerifyResult
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrStale, e.Result.Reason)
}

func (e *StaleError) Unwrap() error { return ErrStale }

// ApplyRequest is a single CAS-gated range write. A nil Fingerprint skips the check.
// EdgeRows and IncludeFormats must match the call that produced Fingerprint.
type ApplyRequest struct {
	SpreadsheetID  string                   `json:"spreadsheetId"`
	UserID         string                   `json:"userId"`
	PlanID         string                   `json:"planId,omitempty"`
	Range          string                   `json:"range"`
	Values         [][]any                  `json:"values"`
	Fingerprint    *fingerprint.Fingerprint `json:"fingerprint,omitempty"`
	EdgeRows       int                      `json:"edgeRows,omitempty"`
	IncludeFormats bool                     `json:"includeFormats,omitempty"`
}

// UndoResult describes a reversed patch.
type UndoResult struct {
	Patch         patch.Record `json:"patch"`
	RestoredRange string       `json:"restoredRange"`
}

// Service ties backends, the patch store and the audit trail together.
type Service struct {
	open    sheets.Opener
	store   patch.Store
	logger  logging.Logger
	metrics *metrics.Metrics
	audit   *audit.Log
	engine  EngineConfig
	timeout time.Duration
	now     func() time.Time
}

// NewService wires a Service. m may be nil. A nil cfg means DefaultConfig.
func NewService(cfg *Config, open sheets.Opener, store patch.Store, logger logging.Logger, m *metrics.Metrics) (*Service, error) {
	if open == nil {
		return nil, errors.New("app: nil backend opener")
	}
	if store == nil {
		return nil, errors.New("app: nil patch store")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Service{
		open:    open,
		store:   store,
		logger:  logger.With(logging.Field{Key: "component", Value: "service"}),
		metrics: m,
		engine:  cfg.Engine,
		timeout: cfg.RequestTimeout,
		now:     time.Now,
	}
	if cfg.Audit.Enabled {
		s.audit = audit.New(cfg.Audit.SheetTitle)
	}
	return s, nil
}

// SetClock replaces the time source used for undo markers and audit rows.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) options(o snapshot.Options) snapshot.Options {
	if o.EdgeRows <= 0 {
		o.EdgeRows = s.engine.EdgeRows
	}
	if s.engine.IncludeFormats {
		o.IncludeFormats = true
	}
	return o
}

func (s *Service) session(ctx context.Context, credential string) (sheets.Backend, *snapshot.Orchestrator, error) {
	backend, err := s.open(ctx, credential)
	if err != nil {
		return nil, nil, err
	}
	return backend, snapshot.New(backend, s.logger, s.metrics, s.engine.Config), nil
}

// Fingerprint fingerprints each range in one batched read.
func (s *Service) Fingerprint(ctx context.Context, credential, spreadsheetID string, ranges []string, opts snapshot.Options) ([]fingerprint.Fingerprint, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, orch, err := s.session(ctx, credential)
	if err != nil {
		return nil, err
	}
	return orch.FingerprintMany(ctx, spreadsheetID, ranges, s.options(opts))
}

// Verify re-checks each fingerprint against the live spreadsheet.
func (s *Service) Verify(ctx context.Context, credential, spreadsheetID string, befores []fingerprint.Fingerprint, opts snapshot.Options) ([]fingerprint.VerifyResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, orch, err := s.session(ctx, credential)
	if err != nil {
		return nil, err
	}
	return orch.VerifyMany(ctx, spreadsheetID, befores, s.options(opts))
}

// Preview reports what writing proposed next to the active selection would change.
func (s *Service) Preview(ctx context.Context, credential string, sc preview.SheetContext, proposed [][]any) (preview.Result, error) {
	if sc.SpreadsheetID == "" {
		return preview.Result{}, fmt.Errorf("%w: spreadsheetId", ErrMissingField)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, orch, err := s.session(ctx, credential)
	if err != nil {
		return preview.Result{}, err
	}
	return preview.Build(ctx, orch, sc, proposed, s.options(snapshot.Options{}))
}

// Apply verifies req.Fingerprint when present, writes req.Values and records a patch.
func (s *Service) Apply(ctx context.Context, credential string, req ApplyRequest) (patch.Record, error) {
	if req.SpreadsheetID == "" || req.UserID == "" || req.Range == "" {
		return patch.Record{}, fmt.Errorf("%w: spreadsheetId, userId and range are required", ErrMissingField)
	}
	if len(req.Values) == 0 {
		return patch.Record{}, preview.ErrEmptyProposal
	}
	target, err := a1.Parse(req.Range)
	if err != nil {
		return patch.Record{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	backend, orch, err := s.session(ctx, credential)
	if err != nil {
		return patch.Record{}, err
	}
	opts := s.options(snapshot.Options{EdgeRows: req.EdgeRows, IncludeFormats: req.IncludeFormats})
	log := s.logger.With(
		logging.Field{Key: "spreadsheet", Value: req.SpreadsheetID},
		logging.Field{Key: "range", Value: req.Range})

	if grid, ok := backend.(sheets.GridEnsurer); ok {
		if err := grid.EnsureColumns(ctx, req.SpreadsheetID, target.SheetName, target.StartCol+target.Width-1); err != nil {
			s.metrics.ObservePatch("apply", "error")
			return patch.Record{}, err
		}
	}

	if req.Fingerprint != nil {
		expected := *req.Fingerprint
		if expected.Range == "" {
			expected.Range = req.Range
		}
		res, err := orch.Verify(ctx, req.SpreadsheetID, expected, opts)
		if err != nil {
			s.metrics.ObservePatch("apply", "error")
			return patch.Record{}, err
		}
		if !res.OK {
			s.metrics.ObservePatch("apply", "stale")
			return patch.Record{}, &StaleError{Result: res}
		}
	}

	before, err := orch.SnapshotRange(ctx, req.SpreadsheetID, req.Range, opts)
	if err != nil {
		s.metrics.ObservePatch("apply", "error")
		return patch.Record{}, err
	}
	if err := backend.WriteRange(ctx, req.SpreadsheetID, req.Range, req.Values); err != nil {
		s.metrics.ObservePatch("apply", "error")
		return patch.Record{}, err
	}

	rec, err := s.store.Insert(ctx, patch.Build(req.SpreadsheetID, req.UserID, req.PlanID, req.Range, before.Values, req.Values))
	if err != nil {
		log.Error("range written but patch not recorded", logging.Field{Key: "error", Value: err})
		s.metrics.ObservePatch("apply", "error")
		return patch.Record{}, err
	}
	log.Info("applied patch", logging.Field{Key: "patch", Value: rec.ID})
	s.metrics.ObservePatch("apply", "ok")

	s.appendAudit(ctx, backend, req.SpreadsheetID, audit.Entry{
		Time:    s.now(),
		Action:  audit.ActionApply,
		PatchID: rec.ID,
		UserID:  req.UserID,
		Range:   req.Range,
		Before:  before.Values,
		After:   req.Values,
	})
	return rec, nil
}

// Undo restores a patch's before-values and marks it undone. Only the user
// who applied the patch may undo it, and only once.
func (s *Service) Undo(ctx context.Context, credential, userID, patchID string) (UndoResult, error) {
	if userID == "" || patchID == "" {
		return UndoResult{}, fmt.Errorf("%w: userId and patchId are required", ErrMissingField)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec, err := s.store.Get(ctx, patchID)
	if err != nil {
		return UndoResult{}, err
	}
	if rec.UserID != userID {
		return UndoResult{}, ErrForbidden
	}
	if rec.Undone() {
		return UndoResult{}, patch.ErrAlreadyUndone
	}

	var target string
	switch {
	case rec.BeforeState != nil && rec.BeforeState.Range != "":
		target = rec.BeforeState.Range
	case rec.AfterState != nil && rec.AfterState.Range != "":
		target = rec.AfterState.Range
	default:
		return UndoResult{}, ErrNoTargetRange
	}
	restore := [][]any{{""}}
	if rec.BeforeState != nil && rec.BeforeState.Values != nil {
		restore = rec.BeforeState.Values
	}

	backend, err := s.open(ctx, credential)
	if err != nil {
		return UndoResult{}, err
	}

	// Claim first. A caller that loses the claim must not write.
	after := rec.AfterState
	if after == nil {
		after = &patch.State{Range: target}
	}
	undoneAt := s.now().UTC()
	updated, err := s.store.MarkUndone(ctx, patchID, patch.MarkUndo(after, undoneAt))
	if err != nil {
		if errors.Is(err, patch.ErrAlreadyUndone) {
			s.metrics.ObservePatch("undo", "conflict")
		} else {
			s.metrics.ObservePatch("undo", "error")
		}
		return UndoResult{}, err
	}

	if err := backend.WriteRange(ctx, rec.SpreadsheetID, target, restore); err != nil {
		s.metrics.ObservePatch("undo", "error")
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := s.store.ReleaseUndo(releaseCtx, patchID, rec.AfterState, undoneAt); relErr != nil {
			s.logger.Error("undo write failed and patch is still marked undone",
				logging.Field{Key: "patch", Value: patchID},
				logging.Field{Key: "error", Value: relErr})
		}
		return UndoResult{}, err
	}
	s.logger.Info("undid patch",
		logging.Field{Key: "patch", Value: patchID},
		logging.Field{Key: "range", Value: target})
	s.metrics.ObservePatch("undo", "ok")

	var previous [][]any
	if rec.AfterState != nil {
		previous = rec.AfterState.Values
	}
	s.appendAudit(ctx, backend, rec.SpreadsheetID, audit.Entry{
		Time:    undoneAt,
		Action:  audit.ActionUndo,
		PatchID: patchID,
		UserID:  userID,
		Range:   target,
		Before:  previous,
		After:   restore,
	})
	return UndoResult{Patch: updated, RestoredRange: target}, nil
}

// ListPatches returns stored patches matching f, newest first.
func (s *Service) ListPatches(ctx context.Context, f patch.Filter) ([]patch.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.List(ctx, f)
}

func (s *Service) appendAudit(ctx context.Context, backend sheets.Backend, spreadsheetID string, e audit.Entry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, backend, spreadsheetID, e); err != nil {
		s.metrics.AuditFailed()
		s.logger.Warn("failed to append audit row",
			logging.Field{Key: "action", Value: string(e.Action)},
			logging.Field{Key: "patch", Value: e.PatchID},
			logging.Field{Key: "error", Value: err})
	}
}
