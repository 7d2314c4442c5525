package ports

import (
	"context"

	"github.com/aretw0/pvm/pkg/domain"
)

// StateStore defines the interface for persisting process instances.
// Writes go through the transaction contexts the store hands out, so a command
// either publishes all of its changes or none of them.
type StateStore interface {
	TransactionContextFactory

	// Load retrieves the process instance with the given ID.
	// Returns domain.ErrInstanceNotFound if the instance does not exist.
	Load(ctx context.Context, instanceID string) (*domain.ProcessInstance, error)

	// List returns the IDs of the stored instances.
	List(ctx context.Context) ([]string, error)
}

// HistoryStore receives audit events flushed by committed commands.
type HistoryStore interface {
	Append(ctx context.Context, events ...domain.HistoryEvent) error
	Events(ctx context.Context, instanceID string) ([]domain.HistoryEvent, error)
}

// DefinitionRepository resolves deployed process definitions.
type DefinitionRepository interface {
	// Get returns domain.ErrDefinitionNotFound when nothing is deployed under id.
	Get(ctx context.Context, id string) (*domain.ProcessDefinition, error)
	Deploy(ctx context.Context, def *domain.ProcessDefinition) error
	List(ctx context.Context) ([]string, error)
}
