package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a session or operation does not exist.
var ErrNotFound = errors.New("not found")

// Repository persists sessions, operations, and agent config values.
type Repository interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	UpdateSessionCurrentPath(ctx context.Context, id, currentPath string) error
	DeleteSession(ctx context.Context, id string) error

	CreateOperation(ctx context.Context, op *Operation) error
	GetOperation(ctx context.Context, id string) (*Operation, error)
	// ListOperations lists a session's operations newest first; an empty
	// sessionID lists across all sessions.
	ListOperations(ctx context.Context, sessionID string, limit int) ([]*Operation, error)
	UpdateOperationStatus(ctx context.Context, id, status, errMsg string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// SQLiteRepository implements Repository on a sqlite database.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, s *Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, kind, source_path, work_dir, current_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Kind, s.SourcePath, s.WorkDir, s.CurrentPath, s.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, kind, source_path, work_dir, current_path, created_at
		 FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, kind, source_path, work_dir, current_path, created_at
		 FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateSessionCurrentPath(ctx context.Context, id, currentPath string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET current_path = ? WHERE id = ?`, currentPath, id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM operations WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session operations: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) CreateOperation(ctx context.Context, op *Operation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO operations (id, session_id, kind, status, detail, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.SessionID, op.Kind, op.Status, op.Detail, op.Error,
		op.CreatedAt.UTC().Format(time.RFC3339Nano), op.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetOperation(ctx context.Context, id string) (*Operation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, session_id, kind, status, detail, error, created_at, updated_at
		 FROM operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}
	return op, nil
}

func (r *SQLiteRepository) ListOperations(ctx context.Context, sessionID string, limit int) ([]*Operation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, session_id, kind, status, detail, error, created_at, updated_at
		 FROM operations WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`
	args := []any{sessionID, limit}
	if sessionID == "" {
		query = `SELECT id, session_id, kind, status, detail, error, created_at, updated_at
		 FROM operations ORDER BY created_at DESC LIMIT ?`
		args = []any{limit}
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var out []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateOperationStatus(ctx context.Context, id, status, errMsg string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE operations SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get config %s: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var createdAt string
	if err := row.Scan(&s.ID, &s.Kind, &s.SourcePath, &s.WorkDir, &s.CurrentPath, &createdAt); err != nil {
		return nil, err
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &s, nil
}

func scanOperation(row rowScanner) (*Operation, error) {
	var op Operation
	var createdAt, updatedAt string
	if err := row.Scan(&op.ID, &op.SessionID, &op.Kind, &op.Status, &op.Detail, &op.Error, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	op.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	op.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &op, nil
}
