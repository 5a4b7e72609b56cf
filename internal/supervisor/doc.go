// Package supervisor keeps a fixed pool of worker processes running.
//
// The pool has one slot per worker port. A slot outlives the processes that
// occupy it: when a worker exits for any reason its descriptor is marked dead
// and a replacement is spawned on the same port, so the load balancer's port
// list never changes.
//
// # Lifecycle
//
//	spawn ──► starting ──(ready)──► online ──(exit)──► dead ──► spawn …
//
// A worker that ran for at least the stable period is replaced at once. A
// worker that dies sooner, or a spawn that fails, is retried after an
// exponential backoff delay. There is no retry cap.
//
// # Spawning
//
// ExecSpawner starts child processes of an executable with WORKER_PORT set
// and a pair of pipes as the store channel (fd 3 and fd 4 in the child).
// Other Spawner implementations, such as in-process workers in tests, only
// need to report their exit through Process.Wait.
package supervisor
