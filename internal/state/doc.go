// Package state implements the distributed state manager: a namespaced
// abstraction over a shared key-value store exposing sessions, locks, status
// records, sets and counters, all with TTL-governed lifetimes.
//
// Every primitive operates through the store's native atomic operations.
// Store failures are surfaced to the caller on every path; there is no
// local-memory fallback, because a lock or counter that only exists in one
// process breaks the cross-process invariants this package exists to keep.
//
// Keys follow the layout {namespace}:{kind}:{id} where kind is one of
// session, lock, status, set, counter.
package state
