package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a lock obtained from a DistributedLocker.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker serialises commands on the same process instance across engine replicas.
// Persistence collaborators may rely on it instead of optimistic versioning.
type DistributedLocker interface {
	// Lock blocks until key is held, ctx is done or the backend fails.
	// The lock expires after ttl if the holder never calls the returned UnlockFunc.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
