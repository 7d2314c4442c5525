/*
Package pvm is a process virtual machine: an embeddable interpreter for process
definitions with transactional commands and saga-style compensation.

# Concept

Every interaction with the engine is a command. A command runs inside its own
command context, which opens one transaction, lazily opens the resource sessions
the command needs, and drains a FIFO queue of atomic operations
(activity-start, transition-take, scope-complete, ...). When the command body
returns, sessions are flushed, the transaction commits, and sessions are
closed. The first failure wins: it rolls the transaction back and is the one
error the caller sees.

A running process is a tree of executions. Scopes own variables, forks create
concurrent children, joins merge them, and sub-processes and multi-instance
activities open nested scopes. Activities that declare a compensation handler
capture it, together with a snapshot of their variables, when they complete.
Throwing compensation replays the captured handlers most recent first.

# Usage

	eng, err := pvm.New()
	if err != nil {
		log.Fatal(err)
	}
	eng.Behaviors().Register("book-hotel", bookHotel)
	eng.Behaviors().Register("cancel-hotel", cancelHotel)

	def := dsl.New("trip").
		Add("start").Start().Go("hotel").
		Add("hotel").Service("book-hotel").CompensateWith("undo-hotel").Go("pay").
		Add("undo-hotel").Service("cancel-hotel").ForCompensation().
		Add("pay").Task("Pay").Go("end").
		Add("end").End().
		Done().MustBuild()

	ctx := context.Background()
	if err := eng.Deploy(ctx, def); err != nil {
		log.Fatal(err)
	}
	id, _ := eng.StartProcessInstance(ctx, "trip", nil)

	// The payment failed: undo everything booked so far.
	n, _ := eng.ThrowCompensation(ctx, id, "")

# Persistence

The default engine keeps instances in memory. pkg/adapters/redis and
pkg/adapters/sqlite provide durable stores; pkg/locking with the redis
locker serialises commands on one instance across replicas.
*/
package pvm
