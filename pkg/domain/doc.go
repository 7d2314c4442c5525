/*
Package domain contains the core domain models of the process virtual machine.

It defines the process definition graph, the runtime execution tree and the
compensation records captured while instances run. This package is kept pure
and free of external dependencies like I/O or persistence, following Hexagonal
Architecture principles.

# Key Entities

  - ProcessDefinition / Activity: the immutable graph (tasks, forks, joins, sub-processes, compensation throws).
  - ProcessInstance: the arena of Executions of one running process, addressed by ID.
  - Execution: a token with scope/concurrency/event-scope markers and a local variable namespace.
  - CompensationHandler: an undo action captured at normal completion, with a variable snapshot.
  - HistoryEvent / LifecycleHooks: audit records and observability callbacks.
*/
package domain
