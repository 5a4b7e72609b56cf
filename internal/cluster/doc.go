// Package cluster assembles the processes of the user service.
//
// # Overview
//
// One binary runs in one of three roles:
//
//   - coordinator: owns the shared store, supervises the worker pool and
//     load-balances client requests across it (Coordinator)
//   - worker: serves the user API on its slot port and forwards every store
//     operation to the coordinator (RunWorker)
//   - standalone: serves the user API on the public port from a single
//     process with its own store (RunStandalone)
//
// # Architecture
//
//	                 ┌───────────────────────────────┐
//	   client ──────►│ Coordinator :PORT             │
//	                 │   Balancer (round robin)      │
//	                 │   Supervisor                  │
//	                 │   Owner ─► MemoryStore        │
//	                 └───┬─────────────▲─────────────┘
//	           HTTP      │             │ store channel (fd 3 / fd 4)
//	      ┌──────────────┼─────────────┼──────────────┐
//	┌─────▼─────┐  ┌─────▼─────┐  ┌────┴──────┐
//	│ Worker    │  │ Worker    │  │ Worker    │
//	│ :PORT+1   │  │ :PORT+2   │  │ :PORT+N   │
//	└───────────┘  └───────────┘  └───────────┘
//
// # Readiness
//
// A worker binds its HTTP listener first and then sends an online message on
// its channel. The coordinator marks the worker's descriptor online when the
// message arrives. The balancer does not wait for it: a request routed to a
// worker that is not listening yet fails with 500.
//
// # Admin endpoint
//
// When a metrics address is configured the coordinator also serves:
//
//	GET /metrics   prometheus metrics
//	GET /workers   worker descriptors as JSON (StatusResponse)
//	GET /health    200 while the coordinator runs
package cluster
