package tests

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/ports"
)

// DefinitionRepositoryContractTest is a reusable test suite that verifies if an adapter complies with ports.DefinitionRepository.
func DefinitionRepositoryContractTest(t *testing.T, repo ports.DefinitionRepository, defs ...*domain.ProcessDefinition) {
	t.Helper()
	ctx := context.Background()

	for _, def := range defs {
		if err := repo.Deploy(ctx, def); err != nil {
			t.Fatalf("unexpected error deploying %s: %v", def.ID, err)
		}
	}

	// 1. Test Get (Success)
	t.Run("Get_Success", func(t *testing.T) {
		for _, want := range defs {
			got, err := repo.Get(ctx, want.ID)
			if err != nil {
				t.Fatalf("unexpected error getting definition %s: %v", want.ID, err)
			}
			if got.Initial != want.Initial {
				t.Errorf("initial mismatch for %s. got %q, want %q", want.ID, got.Initial, want.Initial)
			}
			if len(got.Activities) != len(want.Activities) {
				t.Errorf("activity count mismatch for %s. got %d, want %d", want.ID, len(got.Activities), len(want.Activities))
			}
		}
	})

	// 2. Test Get (NotFound)
	t.Run("Get_NotFound", func(t *testing.T) {
		_, err := repo.Get(ctx, "non-existent-definition")
		if !errors.Is(err, domain.ErrDefinitionNotFound) {
			t.Errorf("expected ErrDefinitionNotFound, got %v", err)
		}
	})

	// 3. Test List
	t.Run("List", func(t *testing.T) {
		ids, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("unexpected error listing definitions: %v", err)
		}

		found := make(map[string]bool)
		for _, id := range ids {
			found[id] = true
		}

		for _, def := range defs {
			if !found[def.ID] {
				t.Errorf("expected definition %s in list", def.ID)
			}
		}
	})

	// 4. Test Deploy rejects invalid graphs
	t.Run("Deploy_Invalid", func(t *testing.T) {
		err := repo.Deploy(ctx, &domain.ProcessDefinition{ID: "broken", Initial: "missing"})
		if err == nil {
			t.Error("expected error deploying a definition with a missing initial activity")
		}
	})
}
