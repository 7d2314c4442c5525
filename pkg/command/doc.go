/*
Package command runs engine commands inside a transactional context.

Each invocation gets its own Context, which:

  - opens sessions lazily by ports.SessionTag and memoises them;
  - drains a FIFO queue of AtomicOperation values without re-entering itself;
  - keeps the first fault and logs later ones;
  - on Close flushes, commits or rolls back, and always closes every session.

The Executor creates contexts, recovers panics and reports each command to
OpenTelemetry and to domain.LifecycleHooks.
*/
package command
