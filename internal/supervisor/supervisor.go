package supervisor

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dreamware/usercluster/internal/idgenerator"
	"github.com/dreamware/usercluster/internal/metrics"
)

// DefaultStableAfter is how long a worker must run before its exit is
// treated as a one-off crash and replaced without delay.
const DefaultStableAfter = 10 * time.Second

// Status is the lifecycle state of a worker descriptor.
type Status string

const (
	StatusStarting Status = "starting"
	StatusOnline   Status = "online"
	StatusDead     Status = "dead"
)

// Worker describes one process occupying a slot.
// The port belongs to the slot and is reused by every replacement; the ID
// identifies a single process incarnation.
type Worker struct {
	ID        string
	Slot      int
	Port      int
	PID       int
	Status    Status
	StartedAt time.Time
}

// Process is a running worker.
type Process interface {
	// PID returns the operating system process id, or 0 if there is none.
	PID() int
	// Ready is closed when the worker can serve requests.
	// A nil channel means the worker is online as soon as it is spawned.
	Ready() <-chan struct{}
	// Wait blocks until the process exits and returns the exit cause.
	Wait() error
}

// Spawner starts a worker process bound to the given port.
// The process must not outlive ctx.
type Spawner interface {
	Spawn(ctx context.Context, slot, port int) (Process, error)
}

// Supervisor keeps one worker process alive per port.
// Thread-safe: descriptors are read through snapshots.
type Supervisor struct {
	spawner     Spawner
	ports       []int
	logger      *zap.SugaredLogger
	metrics     *metrics.Metrics
	clock       clockwork.Clock
	newBackoff  func() backoff.BackOff
	stableAfter time.Duration

	mu      sync.RWMutex
	workers []Worker // indexed by slot
}

type Option func(*Supervisor)

// WithBackoff replaces the restart delay policy. The factory is called once per slot.
func WithBackoff(factory func() backoff.BackOff) Option {
	return func(s *Supervisor) {
		s.newBackoff = factory
	}
}

// WithClock replaces the clock used for restart delays and uptime.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Supervisor) {
		s.clock = clock
	}
}

// WithStableAfter replaces DefaultStableAfter.
func WithStableAfter(d time.Duration) Option {
	return func(s *Supervisor) {
		s.stableAfter = d
	}
}

// WithMetrics enables the restart and spawn failure counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// New creates a supervisor with one slot per port.
//
// Parameters:
//   - spawner: Starts the worker processes
//   - ports: Slot ports, in slot order
//   - logger: Logger for lifecycle events
//
// Example:
//
//	sup := supervisor.New(supervisor.NewExecSpawner(exe, args, logger), cfg.WorkerPorts(), logger)
//	go sup.Run(ctx)
func New(spawner Spawner, ports []int, logger *zap.SugaredLogger, opts ...Option) *Supervisor {
	s := &Supervisor{
		spawner:     spawner,
		ports:       append([]int(nil), ports...),
		logger:      logger.Named("supervisor"),
		clock:       clockwork.NewRealClock(),
		newBackoff:  NewRestartBackoff,
		stableAfter: DefaultStableAfter,
		workers:     make([]Worker, len(ports)),
	}
	for slot, port := range s.ports {
		s.workers[slot] = Worker{Slot: slot, Port: port, Status: StatusDead}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewRestartBackoff returns the default delay policy between restarts of a
// crash-looping worker: 100ms doubling up to 10s, never giving up.
func NewRestartBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.RandomizationFactor = 0.2
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0 // never stop
	b.Reset()
	return b
}

// Ports returns the slot ports in slot order.
func (s *Supervisor) Ports() []int {
	return append([]int(nil), s.ports...)
}

// Workers returns a snapshot of the current descriptors in slot order.
func (s *Supervisor) Workers() []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Worker(nil), s.workers...)
}

// Run spawns a worker for every slot and replaces each one that exits, on the
// same port, until ctx is canceled. It blocks until all slot loops stop.
//
// Example:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	go sup.Run(ctx)
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Infof("starting %d workers on ports %v", len(s.ports), s.ports)

	var wg sync.WaitGroup
	for slot := range s.ports {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			s.runSlot(ctx, slot)
		}(slot)
	}
	wg.Wait()

	s.logger.Info("all workers stopped")
	return nil
}

// runSlot keeps the slot occupied.
//
// Implementation:
//  1. Spawn a process and record a starting descriptor
//  2. Mark it online when it signals readiness
//  3. Wait for the exit and mark the descriptor dead
//  4. Restart at once if the process was stable, otherwise after a backoff delay
func (s *Supervisor) runSlot(ctx context.Context, slot int) {
	port := s.ports[slot]
	portLabel := strconv.Itoa(port)
	bo := s.newBackoff()
	bo.Reset()

	for ctx.Err() == nil {
		id := idgenerator.WorkerID()
		proc, err := s.spawner.Spawn(ctx, slot, port)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.metrics.IncWorkerSpawnFailures(portLabel)
			delay := nextDelay(bo)
			s.logger.Errorf("cannot spawn worker on port %d: %s, retrying in %s", port, err, delay)
			if !s.sleep(ctx, delay) {
				return
			}
			continue
		}

		startedAt := s.clock.Now()
		s.setWorker(Worker{ID: id, Slot: slot, Port: port, PID: proc.PID(), Status: StatusStarting, StartedAt: startedAt})
		s.logger.Infof("worker %s (pid %d) started on port %d", id, proc.PID(), port)

		exited := make(chan struct{})
		go s.awaitReady(id, slot, proc, exited)

		exitErr := proc.Wait()
		close(exited)
		s.setStatus(slot, id, StatusDead)

		if ctx.Err() != nil {
			s.logger.Debugf("worker %s (pid %d) on port %d stopped", id, proc.PID(), port)
			return
		}

		s.metrics.IncWorkerRestarts(portLabel)
		uptime := s.clock.Since(startedAt)
		if uptime >= s.stableAfter {
			bo.Reset()
			s.logger.Warnf("worker %s (pid %d) on port %d died after %s: %v, restarting", id, proc.PID(), port, uptime, exitErr)
			continue
		}

		delay := nextDelay(bo)
		s.logger.Warnf("worker %s (pid %d) on port %d died after %s: %v, restarting in %s", id, proc.PID(), port, uptime, exitErr, delay)
		if !s.sleep(ctx, delay) {
			return
		}
	}
}

func (s *Supervisor) awaitReady(id string, slot int, proc Process, exited <-chan struct{}) {
	ready := proc.Ready()
	if ready == nil {
		s.setStatus(slot, id, StatusOnline)
		return
	}
	select {
	case <-ready:
		s.setStatus(slot, id, StatusOnline)
		s.logger.Debugf("worker %s on port %d is online", id, s.ports[slot])
	case <-exited:
	}
}

func (s *Supervisor) setWorker(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.Slot] = w
}

// setStatus updates the descriptor only if it still describes process id.
// A late readiness signal of a dead process must not mark its replacement.
func (s *Supervisor) setStatus(slot int, id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &s.workers[slot]
	if w.ID != id || w.Status == StatusDead {
		return
	}
	w.Status = status
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-s.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// nextDelay never gives up: a policy that stops is started over.
func nextDelay(bo backoff.BackOff) time.Duration {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		bo.Reset()
		d = bo.NextBackOff()
	}
	if d == backoff.Stop {
		return 0
	}
	return d
}
