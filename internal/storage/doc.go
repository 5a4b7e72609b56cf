// Package storage holds the shared user store and its owner.
//
// # Overview
//
// The store lives only in the coordinator process. Worker processes never hold
// a copy; they reach it through the store access protocol (package storerpc),
// which ends up calling the same Owner the coordinator uses locally.
//
//	┌──────────────┐   SAP request    ┌─────────────────────────────┐
//	│   Worker     │ ───────────────▶ │        Coordinator          │
//	│ storerpc.    │                  │  storerpc.Server            │
//	│   Client     │ ◀─────────────── │        │                    │
//	└──────────────┘   SAP response   │        ▼                    │
//	                                  │  Owner (run loop) ──▶ MemoryStore
//	                                  └─────────────────────────────┘
//
// # Core Types
//
// User: the record. Its ID is a UUID assigned on creation and never changed.
//
// MemoryStore: an ordered table of users. It has no locks on purpose: exactly
// one goroutine may touch it.
//
// Owner: that goroutine. Operations are queued and applied one at a time in
// arrival order, so every operation is atomic relative to all others, local
// or remote.
//
// Users: the accessor interface the HTTP layer is written against. It is
// implemented by *Owner (owner role) and *storerpc.Client (worker role).
//
// # Errors
//
//   - ErrUserNotFound: unknown id for Get, Update or Delete
//   - ErrUserExists: Create with an id already present
//   - ErrOwnerStopped: the run loop has exited
package storage
