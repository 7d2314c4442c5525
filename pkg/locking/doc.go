/*
Package locking serialises commands that target the same process instance.

A Manager keeps one reference-counted mutex per key for the local process and,
when configured with a ports.DistributedLocker, also holds a backend lock so
engine replicas sharing a store never interleave commands on one instance.
*/
package locking
