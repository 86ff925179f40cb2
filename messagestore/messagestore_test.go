package messagestore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/libdbexec"
	"github.com/contenox/analyst/messagestore"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) (context.Context, libdbexec.DBManager) {
	t.Helper()
	ctx := context.TODO()
	db, err := libdbexec.NewSQLiteDBManager(ctx, filepath.Join(t.TempDir(), "messages.db"), messagestore.Schema...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return ctx, db
}

func TestMessageStore_Sessions(t *testing.T) {
	ctx, db := setupDB(t)
	store := messagestore.New(db.WithoutTransaction())

	require.NoError(t, store.CreateSession(ctx, "s1", "sales"))
	require.NoError(t, store.CreateSession(ctx, "s1", "ignored"))
	require.NoError(t, store.CreateSession(ctx, "s2", ""))

	info, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "sales", info.Name)

	_, err = store.GetSession(ctx, "nope")
	require.ErrorIs(t, err, messagestore.ErrNotFound)

	all, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestMessageStore_AppendAndList(t *testing.T) {
	ctx, db := setupDB(t)
	store := messagestore.New(db.WithoutTransaction())
	require.NoError(t, store.CreateSession(ctx, "s1", ""))

	require.NoError(t, store.AppendMessages(ctx, "s1",
		agenttypes.Message{Role: agenttypes.RoleUser, Content: "hello"},
		agenttypes.Message{Role: agenttypes.RoleAssistant, Content: "hi there"},
	))
	require.NoError(t, store.AppendMessages(ctx, "s1",
		agenttypes.Message{Role: agenttypes.RoleUser, Content: "Region", Synthetic: true},
	))

	msgs, err := store.ListMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "hello", msgs[0].Content)
	require.Equal(t, "hi there", msgs[1].Content)
	require.True(t, msgs[2].Synthetic)
	require.NotEmpty(t, msgs[0].ID)

	last, err := store.LastMessage(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "Region", last.Content)

	n, err := store.CountMessages(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	require.NoError(t, store.DeleteMessages(ctx, "s1"))
	require.ErrorIs(t, store.DeleteMessages(ctx, "s1"), messagestore.ErrNotFound)
	_, err = store.LastMessage(ctx, "s1")
	require.ErrorIs(t, err, messagestore.ErrNotFound)
}

func TestMessageStore_AppendRequiresSession(t *testing.T) {
	ctx, db := setupDB(t)
	store := messagestore.New(db.WithoutTransaction())
	err := store.AppendMessages(ctx, "missing", agenttypes.Message{Role: agenttypes.RoleUser, Content: "x"})
	require.ErrorIs(t, err, libdbexec.ErrForeignKeyViolation)
}
