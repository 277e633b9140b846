package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raysh454/sheetcas/internal/a1"
	"github.com/raysh454/sheetcas/internal/app"
	"github.com/raysh454/sheetcas/internal/fingerprint"
	"github.com/raysh454/sheetcas/internal/logging"
	"github.com/raysh454/sheetcas/internal/patch"
	"github.com/raysh454/sheetcas/internal/preview"
	"github.com/raysh454/sheetcas/internal/sheets"
	"github.com/raysh454/sheetcas/internal/snapshot"
)

// Service is the part of app.Service the HTTP surface calls.
type Service interface {
	Fingerprint(ctx context.Context, credential, spreadsheetID string, ranges []string, opts snapshot.Options) ([]fingerprint.Fingerprint, error)
	Verify(ctx context.Context, credential, spreadsheetID string, befores []fingerprint.Fingerprint, opts snapshot.Options) ([]fingerprint.VerifyResult, error)
	Preview(ctx context.Context, credential string, sc preview.SheetContext, proposed [][]any) (preview.Result, error)
	Apply(ctx context.Context, credential string, req app.ApplyRequest) (patch.Record, error)
	Undo(ctx context.Context, credential, userID, patchID string) (app.UndoResult, error)
	ListPatches(ctx context.Context, f patch.Filter) ([]patch.Record, error)
}

var _ Service = (*app.Service)(nil)

// Server is the HTTP API surface over the range verification service.
type Server struct {
	cfg     Config
	service Service
	router  chi.Router
	logger  logging.Logger
}

// NewServer routes requests to svc.
func NewServer(svc Service, cfg Config) (*Server, error) {
	if svc == nil {
		return nil, errors.New("server: nil service")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewStdoutLogger("server")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		cfg:     cfg,
		service: svc,
		router:  chi.NewRouter(),
		logger:  logger,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	r.Options("/*", s.optionsHandler("GET, POST"))

	r.Post("/fingerprint", s.handleFingerprint)
	r.Post("/verify", s.handleVerify)
	r.Post("/preview", s.handlePreview)
	r.Post("/apply", s.handleApply)
	r.Post("/undo", s.handleUndo)
	r.Get("/patches", s.handleListPatches)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}

	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}

	if r.Body != nil && r.Method == http.MethodPost {
		bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.logger.Warn("http_request", append(fields, logging.Field{Key: "error", Value: "body too large"})...)
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			s.logger.Warn("http_request", append(fields, logging.Field{Key: "error", Value: err.Error()})...)
			writeError(w, http.StatusBadRequest, "unreadable request body")
			return
		}
		fields = append(fields, logging.Field{Key: "bytes", Value: len(bodyBytes)})
		r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:        s.cfg.ListenAddr,
		Handler:     s,
		ReadTimeout: s.cfg.ReadTimeout,
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// credential extracts the caller's bearer token. A missing header yields "".
func credential(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		addrErr  *a1.AddressingError
		fetchErr *sheets.FetchError
		emptyErr *snapshot.EmptyResultError
	)
	switch {
	case errors.Is(err, patch.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, patch.ErrAlreadyUndone), errors.Is(err, app.ErrStale):
		return http.StatusConflict
	case errors.Is(err, sheets.ErrNoCredential):
		return http.StatusUnauthorized
	case errors.As(err, &addrErr),
		errors.Is(err, app.ErrMissingField),
		errors.Is(err, app.ErrNoTargetRange),
		errors.Is(err, preview.ErrEmptyProposal):
		return http.StatusBadRequest
	case errors.As(err, &fetchErr), errors.As(err, &emptyErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op, logging.Field{Key: "error", Value: err.Error()})
	} else {
		s.logger.Warn(op, logging.Field{Key: "error", Value: err.Error()})
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// --- HTTP handlers ---

func (s *Server) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	var body FingerprintRequest
	if !decode(w, r, &body) {
		return
	}
	if body.SpreadsheetID == "" {
		writeError(w, http.StatusBadRequest, "spreadsheetId required")
		return
	}
	fps, err := s.service.Fingerprint(r.Context(), credential(r), body.SpreadsheetID, body.Ranges,
		snapshot.Options{EdgeRows: body.EdgeRows, IncludeFormats: body.IncludeFormats})
	if err != nil {
		s.fail(w, "fingerprinting ranges", err)
		return
	}
	writeJSON(w, http.StatusOK, FingerprintResponse{Fingerprints: fps})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body VerifyRequest
	if !decode(w, r, &body) {
		return
	}
	if body.SpreadsheetID == "" {
		writeError(w, http.StatusBadRequest, "spreadsheetId required")
		return
	}
	results, err := s.service.Verify(r.Context(), credential(r), body.SpreadsheetID, body.Fingerprints,
		snapshot.Options{EdgeRows: body.EdgeRows, IncludeFormats: body.IncludeFormats})
	if err != nil {
		s.fail(w, "verifying ranges", err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Results: results})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var body PreviewRequest
	if !decode(w, r, &body) {
		return
	}
	res, err := s.service.Preview(r.Context(), credential(r), body.Context, body.Values)
	if err != nil {
		s.fail(w, "building preview", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var body app.ApplyRequest
	if !decode(w, r, &body) {
		return
	}
	rec, err := s.service.Apply(r.Context(), credential(r), body)
	var stale *app.StaleError
	if errors.As(err, &stale) {
		s.logger.Info("apply rejected as stale",
			logging.Field{Key: "range", Value: body.Range},
			logging.Field{Key: "reason", Value: string(stale.Result.Reason)})
		writeJSON(w, http.StatusConflict, StaleResponse{
			Error:     "E_STALE",
			Reason:    stale.Result.Reason,
			ChangedAt: stale.Result.ChangedAt,
		})
		return
	}
	if err != nil {
		s.fail(w, "applying patch", err)
		return
	}
	writeJSON(w, http.StatusOK, ApplyResponse{OK: true, PatchID: rec.ID, Range: body.Range, Patch: rec})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	var body UndoRequest
	if !decode(w, r, &body) {
		return
	}
	res, err := s.service.Undo(r.Context(), credential(r), body.UserID, body.PatchID)
	if err != nil {
		s.fail(w, "undoing patch", err)
		return
	}
	writeJSON(w, http.StatusOK, UndoResponse{
		OK:            true,
		PatchID:       body.PatchID,
		RestoredRange: res.RestoredRange,
		Patch:         res.Patch,
	})
}

// handleListPatches lists one user's patches on one spreadsheet.
func (s *Server) handleListPatches(w http.ResponseWriter, r *http.Request) {
	if credential(r) == "" {
		writeError(w, http.StatusUnauthorized, sheets.ErrNoCredential.Error())
		return
	}
	q := r.URL.Query()
	f := patch.Filter{
		SpreadsheetID: q.Get("spreadsheetId"),
		UserID:        q.Get("userId"),
		PlanID:        q.Get("planId"),
	}
	if f.SpreadsheetID == "" || f.UserID == "" {
		writeError(w, http.StatusBadRequest, "spreadsheetId and userId required")
		return
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = limit
	}
	recs, err := s.service.ListPatches(r.Context(), f)
	if err != nil {
		s.fail(w, "listing patches", err)
		return
	}
	if recs == nil {
		recs = []patch.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}
