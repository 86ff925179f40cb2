// Package libdbexec hides database/sql behind a small executor abstraction so
// stores can run the same statements inside or outside a transaction.
package libdbexec

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrNotFound            = errors.New("libdb: not found")
	ErrTxFailed            = errors.New("libdb: transaction failed")
	ErrQueryCanceled       = errors.New("libdb: query canceled")
	ErrUniqueViolation     = errors.New("libdb: unique constraint violation")
	ErrForeignKeyViolation = errors.New("libdb: foreign key violation")
	ErrNotNullViolation    = errors.New("libdb: not null violation")
)

// Exec is the subset of *sql.DB / *sql.Tx the stores use.
type Exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CommitTx commits the transaction it was returned with.
type CommitTx func(ctx context.Context) error

// ReleaseTx rolls back unless the transaction was committed. Always defer it.
type ReleaseTx func() error

// DBManager owns a connection pool.
type DBManager interface {
	WithoutTransaction() Exec
	WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error)
	Close() error
}

type txAwareDB struct {
	db *sql.DB
	tx *sql.Tx
}

func (t *txAwareDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res sql.Result
		err error
	)
	if t.tx != nil {
		res, err = t.tx.ExecContext(ctx, query, args...)
	} else {
		res, err = t.db.ExecContext(ctx, query, args...)
	}
	return res, translateSQLiteError(err)
}

func (t *txAwareDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if t.tx != nil {
		rows, err = t.tx.QueryContext(ctx, query, args...)
	} else {
		rows, err = t.db.QueryContext(ctx, query, args...)
	}
	return rows, translateSQLiteError(err)
}

func (t *txAwareDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	if t.tx != nil {
		return t.tx.QueryRowContext(ctx, query, args...)
	}
	return t.db.QueryRowContext(ctx, query, args...)
}

var _ Exec = (*txAwareDB)(nil)
