package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pvm/pkg/adapters/file"
	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/ports"
)

func TestFileStore_Contract(t *testing.T) {
	ports.RunStateStoreContract(t, file.New(t.TempDir()))
}

func TestFileStore_DefaultPath(t *testing.T) {
	assert.Equal(t, ".pvm", file.New("").BasePath)
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	tx, err := store.OpenTransactionContext(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.(ports.InstanceWriter).SaveInstance(ctx, &domain.ProcessInstance{ID: "p1", DefinitionID: "d"}))
	require.NoError(t, tx.(ports.HistoryWriter).AppendHistory(ctx,
		domain.HistoryEvent{Type: domain.EventInstanceStart, InstanceID: "p1"},
		domain.HistoryEvent{Type: domain.EventActivityStart, InstanceID: "p1", ActivityID: "start"},
	))
	require.NoError(t, tx.Commit(ctx))

	assert.FileExists(t, filepath.Join(dir, "instances", "p1.json"))
	assert.FileExists(t, filepath.Join(dir, "history", "p1.jsonl"))

	entries, err := os.ReadDir(filepath.Join(dir, "instances"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")

	events, err := store.Events(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "start", events[1].ActivityID)

	require.NoError(t, store.Append(ctx, domain.HistoryEvent{Type: domain.EventInstanceEnd, InstanceID: "p1"}))
	events, err = store.Events(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventInstanceEnd, events[2].Type)
}

func TestFileStore_RollbackWritesNothing(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	tx, err := store.OpenTransactionContext(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.(ports.InstanceWriter).SaveInstance(ctx, &domain.ProcessInstance{ID: "p1"}))
	require.NoError(t, tx.(ports.HistoryWriter).AppendHistory(ctx, domain.HistoryEvent{InstanceID: "p1"}))
	require.NoError(t, tx.Rollback(ctx))
	assert.Error(t, tx.Commit(ctx))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	events, err := store.Events(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFileStore_RejectsPathIDs(t *testing.T) {
	store := file.New(t.TempDir())
	ctx := context.Background()

	_, err := store.Load(ctx, "../escape")
	assert.Error(t, err)

	tx, err := store.OpenTransactionContext(ctx)
	require.NoError(t, err)
	assert.Error(t, tx.(ports.InstanceWriter).SaveInstance(ctx, &domain.ProcessInstance{ID: "a/b"}))
}
