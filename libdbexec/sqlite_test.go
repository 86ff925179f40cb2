package libdbexec_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/contenox/analyst/libdbexec"
	"github.com/stretchr/testify/require"
)

const testSchema = `CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT NOT NULL)`

func openDB(t *testing.T) libdbexec.DBManager {
	t.Helper()
	db, err := libdbexec.NewSQLiteDBManager(context.Background(), filepath.Join(t.TempDir(), "nested", "test.db"), testSchema)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func TestUnit_SQLite_ReleaseWithoutCommitRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	rolledBack := false
	exec, _, release, err := db.WithTransaction(ctx, func() { rolledBack = true })
	require.NoError(t, err)
	_, err = exec.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ($1, $2)`, "a", "1")
	require.NoError(t, err)
	require.NoError(t, release())
	require.True(t, rolledBack)

	var count int
	require.NoError(t, db.WithoutTransaction().QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`).Scan(&count))
	require.Equal(t, 0, count)
}

func TestUnit_SQLite_CommitPersists(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	exec, commit, release, err := db.WithTransaction(ctx)
	require.NoError(t, err)
	defer release()
	_, err = exec.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ($1, $2)`, "a", "1")
	require.NoError(t, err)
	require.NoError(t, commit(ctx))

	var v string
	require.NoError(t, db.WithoutTransaction().QueryRowContext(ctx, `SELECT v FROM kv WHERE k = $1`, "a").Scan(&v))
	require.Equal(t, "1", v)
}

func TestUnit_SQLite_UniqueViolationIsTranslated(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	exec := db.WithoutTransaction()

	_, err := exec.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ($1, $2)`, "a", "1")
	require.NoError(t, err)
	_, err = exec.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ($1, $2)`, "a", "2")
	require.Error(t, err)
	require.True(t, errors.Is(err, libdbexec.ErrUniqueViolation))
}
