/*
Package ports defines the driven ports (interfaces) of the process virtual machine.

These interfaces decouple the command context and the interpreter from external
implementations, allowing the engine to work with various storage backends and
resource sessions.

# Key Interfaces

  - Session / SessionFactory: lazily opened resource handles keyed by SessionTag.
  - TransactionContext / TransactionContextFactory: the commit/rollback boundary of a command.
  - StateStore / InstanceWriter: durable process instances, written inside a transaction.
  - DefinitionRepository / HistoryStore: deployed definitions and audit events.
  - DistributedLocker: cross-process serialisation of commands on one instance.
*/
package ports
