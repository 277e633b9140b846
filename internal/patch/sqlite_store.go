package patch

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/raysh454/sheetcas/internal/logging"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger logging.Logger
	now    func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path and applies the schema.
func NewSQLiteStore(path string, logger logging.Logger) (*SQLiteStore, error) {
	if logger == nil {
		return nil, errors.New("patch: nil logger provided")
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("patch: empty store path")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger = logger.With(logging.Field{Key: "component", Value: "patch.sqlite"})
	logger.Info("patch store initialized", logging.Field{Key: "path", Value: path})
	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

// applySchema sets pragmas and creates tables.
func applySchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeState(st *State) (sql.NullString, error) {
	if st == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(st)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeState(ns sql.NullString) (*State, error) {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		return nil, nil
	}
	var st State
	if err := json.Unmarshal([]byte(ns.String), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Insert assigns an id (and creation time when unset) and stores rec.
func (s *SQLiteStore) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC().Truncate(time.Millisecond)
	if rec.TouchedRanges == nil {
		rec.TouchedRanges = []string{}
	}

	touched, err := json.Marshal(rec.TouchedRanges)
	if err != nil {
		return Record{}, &PersistenceError{Op: "insert", Err: err}
	}
	before, err := encodeState(rec.BeforeState)
	if err != nil {
		return Record{}, &PersistenceError{Op: "insert", Err: err}
	}
	after, err := encodeState(rec.AfterState)
	if err != nil {
		return Record{}, &PersistenceError{Op: "insert", Err: err}
	}
	var undoneAt sql.NullInt64
	if rec.Undone() {
		undoneAt = sql.NullInt64{Int64: rec.AfterState.Undo.UndoneAt.UnixMilli(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patches (id, spreadsheet_id, user_id, plan_id, touched_ranges, before_state, after_state, undone_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SpreadsheetID, rec.UserID, nullable(rec.PlanID), string(touched), before, after, undoneAt, rec.CreatedAt.UnixMilli())
	if err != nil {
		return Record{}, &PersistenceError{Op: "insert", Err: err}
	}
	s.logger.Debug("inserted patch", logging.Field{Key: "id", Value: rec.ID})
	return rec, nil
}

const selectColumns = `id, spreadsheet_id, user_id, plan_id, touched_ranges, before_state, after_state, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec             Record
		planID          sql.NullString
		touched         string
		before, after   sql.NullString
		createdAtMillis int64
	)
	if err := row.Scan(&rec.ID, &rec.SpreadsheetID, &rec.UserID, &planID, &touched, &before, &after, &createdAtMillis); err != nil {
		return Record{}, err
	}
	rec.PlanID = planID.String
	rec.CreatedAt = time.UnixMilli(createdAtMillis).UTC()
	if err := json.Unmarshal([]byte(touched), &rec.TouchedRanges); err != nil {
		return Record{}, fmt.Errorf("decode touched_ranges: %w", err)
	}
	var err error
	if rec.BeforeState, err = decodeState(before); err != nil {
		return Record{}, fmt.Errorf("decode before_state: %w", err)
	}
	if rec.AfterState, err = decodeState(after); err != nil {
		return Record{}, fmt.Errorf("decode after_state: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM patches WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, &PersistenceError{Op: "get", Err: err}
	}
	return rec, nil
}

// MarkUndone replaces the after-state only while no undo marker is stored.
// Of two concurrent callers exactly one succeeds; the other gets ErrAlreadyUndone.
func (s *SQLiteStore) MarkUndone(ctx context.Context, id string, after *State) (Record, error) {
	if after == nil || after.Undo == nil {
		return Record{}, errors.New("patch: after-state carries no undo marker")
	}
	encoded, err := encodeState(after)
	if err != nil {
		return Record{}, &PersistenceError{Op: "mark undone", Err: err}
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE patches SET after_state = ?, undone_at = ?
		WHERE id = ? AND undone_at IS NULL
		RETURNING `+selectColumns,
		encoded, after.Undo.UndoneAt.UnixMilli(), id)
	rec, err := scanRecord(row)
	if err == nil {
		s.logger.Debug("marked patch undone", logging.Field{Key: "id", Value: id})
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, &PersistenceError{Op: "mark undone", Err: err}
	}

	// No row updated: either missing or already carrying a marker.
	if _, getErr := s.Get(ctx, id); getErr != nil {
		return Record{}, getErr
	}
	return Record{}, ErrAlreadyUndone
}

// ReleaseUndo reverses a MarkUndone stamped at undoneAt. A marker stamped by
// anyone else is left alone and ErrMarkerChanged is returned.
func (s *SQLiteStore) ReleaseUndo(ctx context.Context, id string, after *State, undoneAt time.Time) error {
	encoded, err := encodeState(after)
	if err != nil {
		return &PersistenceError{Op: "release undo", Err: err}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE patches SET after_state = ?, undone_at = NULL
		WHERE id = ? AND undone_at = ?`,
		encoded, id, undoneAt.UTC().UnixMilli())
	if err != nil {
		return &PersistenceError{Op: "release undo", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &PersistenceError{Op: "release undo", Err: err}
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrMarkerChanged
	}
	s.logger.Debug("released undo marker", logging.Field{Key: "id", Value: id})
	return nil
}

// List returns records matching f, newest first.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if f.SpreadsheetID != "" {
		where = append(where, "spreadsheet_id = ?")
		args = append(args, f.SpreadsheetID)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.PlanID != "" {
		where = append(where, "plan_id = ?")
		args = append(args, f.PlanID)
	}

	q := `SELECT ` + selectColumns + ` FROM patches`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &PersistenceError{Op: "list", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return out, nil
}
