package ports

import "context"

// SessionTag identifies a resource domain a command can open a Session for.
type SessionTag string

const (
	SessionRepository SessionTag = "repository"
	SessionRuntime    SessionTag = "runtime"
	SessionIdentity   SessionTag = "identity"
	SessionMessage    SessionTag = "message"
	SessionTimer      SessionTag = "timer"
	SessionTask       SessionTag = "task"
	SessionHistory    SessionTag = "history"
	SessionManagement SessionTag = "management"
	SessionStorage    SessionTag = "storage"
)

// Session is a resource handle opened lazily by a command context.
// Flush must be safe to call once per command; Close must be safe even after a failed Flush.
type Session interface {
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// SessionContext is the view of the owning command context handed to session factories.
type SessionContext interface {
	Context() context.Context
	TransactionContext() TransactionContext
	Session(tag SessionTag) (Session, error)
}

// SessionFactory opens the Session registered for one tag.
type SessionFactory interface {
	Tag() SessionTag
	OpenSession(sc SessionContext) (Session, error)
}

// FlushOrdered is implemented by factories whose sessions must flush after other sessions.
type FlushOrdered interface {
	FlushAfter() []SessionTag
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc struct {
	For  SessionTag
	Open func(sc SessionContext) (Session, error)
}

// Tag returns the tag the function was registered for.
func (f SessionFactoryFunc) Tag() SessionTag { return f.For }

// OpenSession calls the wrapped function.
func (f SessionFactoryFunc) OpenSession(sc SessionContext) (Session, error) { return f.Open(sc) }
