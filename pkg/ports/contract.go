package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/pvm/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contractInstance(id string) *domain.ProcessInstance {
	root := &domain.Execution{
		ID:         id + "-root",
		InstanceID: id,
		ActivityID: "task",
		IsScope:    true,
		IsActive:   true,
		LoopIndex:  -1,
		Variables:  map[string]any{"foo": "bar", "count": 42},
		Handlers: []domain.CompensationHandler{{
			Seq:               1,
			ActivityID:        "book",
			HandlerActivityID: "cancel",
			ScopeID:           id + "-root",
			Snapshot:          map[string]any{"hotel": "Milliways"},
			Index:             -1,
		}},
	}
	return &domain.ProcessInstance{
		ID:           id,
		DefinitionID: "contract",
		RootID:       root.ID,
		Executions:   map[string]*domain.Execution{root.ID: root},
		CaptureSeq:   1,
	}
}

func writer(t *testing.T, tx TransactionContext) InstanceWriter {
	t.Helper()
	w, ok := tx.(InstanceWriter)
	require.True(t, ok, "transaction context must implement InstanceWriter")
	return w
}

// RunStateStoreContract runs a suite of tests to verify that a StateStore implementation
// adheres to the defined interface contract.
func RunStateStoreContract(t *testing.T, store StateStore) {
	ctx := context.Background()
	instanceID := "contract-test-instance-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		tx, err := store.OpenTransactionContext(ctx)
		require.NoError(t, err)
		require.NoError(t, writer(t, tx).SaveInstance(ctx, contractInstance(instanceID)))
		require.NoError(t, tx.Commit(ctx), "Commit should not return error")

		loaded, err := store.Load(ctx, instanceID)
		require.NoError(t, err, "Load should not return error")
		root := loaded.Root()
		require.NotNil(t, root)
		assert.Equal(t, "task", root.ActivityID)
		assert.Equal(t, "bar", root.Variables["foo"])
		// JSON backed stores turn ints into float64; only existence is part of the contract.
		assert.NotNil(t, root.Variables["count"])
		require.Len(t, root.Handlers, 1)
		assert.Equal(t, "Milliways", root.Handlers[0].Snapshot["hotel"])
	})

	t.Run("Rollback Discards Writes", func(t *testing.T) {
		id := instanceID + "-rolled-back"
		tx, err := store.OpenTransactionContext(ctx)
		require.NoError(t, err)
		require.NoError(t, writer(t, tx).SaveInstance(ctx, contractInstance(id)))
		require.NoError(t, tx.Rollback(ctx))

		_, err = store.Load(ctx, id)
		assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	})

	t.Run("Load Returns Copies", func(t *testing.T) {
		loaded, err := store.Load(ctx, instanceID)
		require.NoError(t, err)
		loaded.Root().Variables["foo"] = "mutated"

		again, err := store.Load(ctx, instanceID)
		require.NoError(t, err)
		assert.Equal(t, "bar", again.Root().Variables["foo"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+instanceID)
		assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		tx, err := store.OpenTransactionContext(ctx)
		require.NoError(t, err)
		require.NoError(t, writer(t, tx).DeleteInstance(ctx, instanceID))
		require.NoError(t, tx.Commit(ctx), "Delete commit should not return error")

		_, err = store.Load(ctx, instanceID)
		assert.ErrorIs(t, err, domain.ErrInstanceNotFound, "Load after Delete should return ErrInstanceNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := instanceID + "-1"
		id2 := instanceID + "-2"
		tx, err := store.OpenTransactionContext(ctx)
		require.NoError(t, err)
		w := writer(t, tx)
		require.NoError(t, w.SaveInstance(ctx, contractInstance(id1)))
		require.NoError(t, w.SaveInstance(ctx, contractInstance(id2)))
		require.NoError(t, tx.Commit(ctx))

		defer func() {
			cleanup, err := store.OpenTransactionContext(ctx)
			if err != nil {
				return
			}
			w := cleanup.(InstanceWriter)
			_ = w.DeleteInstance(ctx, id1)
			_ = w.DeleteInstance(ctx, id2)
			_ = cleanup.Commit(ctx)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
