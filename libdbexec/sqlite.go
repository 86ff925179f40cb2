package libdbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteDBManager struct {
	db *sql.DB
}

// NewSQLiteDBManager opens (or creates) the SQLite database at path and applies
// every schema statement in order. Statements must be idempotent
// (CREATE ... IF NOT EXISTS) since they run on each open.
func NewSQLiteDBManager(ctx context.Context, path string, schema ...string) (DBManager, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, fmt.Errorf("sqlite parent dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", translateSQLiteError(err))
	}
	// A single writer keeps ":memory:" databases on one connection and
	// avoids SQLITE_BUSY between the run commit and readers.
	db.SetMaxOpenConns(1)

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite connection failed: %w", translateSQLiteError(err))
	}
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err = db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q failed: %w", pragma, translateSQLiteError(err))
		}
	}
	for i, stmt := range schema {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err = db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply schema part %d: %w", i, translateSQLiteError(err))
		}
	}
	return &sqliteDBManager{db: db}, nil
}

func (sm *sqliteDBManager) WithoutTransaction() Exec {
	return &txAwareDB{db: sm.db}
}

func (sm *sqliteDBManager) WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error) {
	tx, err := sm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, func() error { return nil }, fmt.Errorf("%w: begin: %w", ErrTxFailed, translateSQLiteError(err))
	}
	committed := false

	commit := func(commitCtx context.Context) error {
		if ctxErr := commitCtx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: context error before commit: %w", ErrTxFailed, ctxErr)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit: %w", ErrTxFailed, translateSQLiteError(err))
		}
		committed = true
		return nil
	}
	release := func() error {
		if committed {
			return nil
		}
		rbErr := tx.Rollback()
		for _, f := range onRollback {
			if f != nil {
				f()
			}
		}
		if rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w: rollback: %w", ErrTxFailed, translateSQLiteError(rbErr))
		}
		return nil
	}
	return &txAwareDB{tx: tx}, commit, release, nil
}

func (sm *sqliteDBManager) Close() error {
	if sm.db == nil {
		return nil
	}
	return sm.db.Close()
}

func translateSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrQueryCanceled, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint"):
		return fmt.Errorf("%w: %s", ErrUniqueViolation, msg)
	case strings.Contains(msg, "FOREIGN KEY constraint"):
		return fmt.Errorf("%w: %s", ErrForeignKeyViolation, msg)
	case strings.Contains(msg, "NOT NULL constraint"):
		return fmt.Errorf("%w: %s", ErrNotNullViolation, msg)
	}
	return fmt.Errorf("libdb: sqlite error: %w", err)
}

// ensureParentDir skips in-memory databases and strips file: URI query parts.
func ensureParentDir(path string) error {
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file::memory") {
		return nil
	}
	fsPath := strings.TrimPrefix(path, "file:")
	if before, _, ok := strings.Cut(fsPath, "?"); ok {
		fsPath = before
	}
	dir := filepath.Dir(fsPath)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
