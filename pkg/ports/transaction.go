package ports

import (
	"context"

	"github.com/aretw0/pvm/pkg/domain"
)

// TransactionContext is the commit/rollback boundary of one command.
// The owning command context calls each method at most once.
type TransactionContext interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionContextFactory opens the transaction of a new command context.
type TransactionContextFactory interface {
	OpenTransactionContext(ctx context.Context) (TransactionContext, error)
}

// TransactionContextFactoryFunc adapts a function to TransactionContextFactory.
type TransactionContextFactoryFunc func(ctx context.Context) (TransactionContext, error)

// OpenTransactionContext calls f.
func (f TransactionContextFactoryFunc) OpenTransactionContext(ctx context.Context) (TransactionContext, error) {
	return f(ctx)
}

// InstanceWriter is implemented by transaction contexts that can stage process-instance writes.
// Staged writes become visible to other commands only after Commit.
type InstanceWriter interface {
	SaveInstance(ctx context.Context, instance *domain.ProcessInstance) error
	DeleteInstance(ctx context.Context, instanceID string) error
}

// HistoryWriter is implemented by transaction contexts that can stage audit events.
// Sessions fall back to the HistoryStore directly when the transaction cannot.
type HistoryWriter interface {
	AppendHistory(ctx context.Context, events ...domain.HistoryEvent) error
}
