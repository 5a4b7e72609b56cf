package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/usercluster/internal/balancer"
	"github.com/dreamware/usercluster/internal/config"
	"github.com/dreamware/usercluster/internal/metrics"
	"github.com/dreamware/usercluster/internal/storage"
	"github.com/dreamware/usercluster/internal/storerpc"
	"github.com/dreamware/usercluster/internal/supervisor"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Coordinator is the owner process: it holds the shared store, supervises
// the worker pool and balances client requests across it.
//
//	client ──► Balancer ──► worker :port+i ──(store channel)──► Server ──► Owner ──► MemoryStore
type Coordinator struct {
	cfg        config.Config
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	owner      *storage.Owner
	supervisor *supervisor.Supervisor
	balancer   *balancer.Balancer
}

// NewCoordinator assembles a coordinator spawning workers with spawner.
func NewCoordinator(cfg config.Config, spawner supervisor.Spawner, logger *zap.SugaredLogger, opts ...supervisor.Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := metrics.New()
	owner := storage.NewOwner(storage.NewMemoryStore())
	server := storerpc.NewServer(owner, logger, m)

	bal, err := balancer.New(cfg.WorkerHost, cfg.WorkerPorts(), logger, m)
	if err != nil {
		return nil, err
	}

	opts = append([]supervisor.Option{supervisor.WithMetrics(m)}, opts...)
	sup := supervisor.New(&servingSpawner{inner: spawner, server: server, logger: logger.Named("channel")}, cfg.WorkerPorts(), logger, opts...)

	return &Coordinator{
		cfg:        cfg,
		logger:     logger.Named("coordinator"),
		metrics:    m,
		owner:      owner,
		supervisor: sup,
		balancer:   bal,
	}, nil
}

// Workers returns a snapshot of the worker descriptors.
func (c *Coordinator) Workers() []supervisor.Worker {
	return c.supervisor.Workers()
}

// AdminHandler serves GET /metrics, GET /workers and GET /health.
func (c *Coordinator) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.metrics.Handler())
	mux.HandleFunc("/workers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(newStatusResponse(c.cfg.Port, c.supervisor.Workers()))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Run serves until ctx is canceled or a component fails.
// The listeners are bound before any worker is spawned, so a busy port
// fails fast.
func (c *Coordinator) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", c.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", c.cfg.ListenAddr(), err)
	}

	var adminListener net.Listener
	if c.cfg.MetricsListen != "" {
		adminListener, err = net.Listen("tcp", c.cfg.MetricsListen)
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("cannot listen on %s: %w", c.cfg.MetricsListen, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.owner.Run(ctx)
	})
	g.Go(func() error {
		return c.supervisor.Run(ctx)
	})
	g.Go(func() error {
		c.logger.Infof("load balancer listening on %s", listener.Addr())
		return serveHTTP(ctx, &http.Server{Handler: c.balancer, ReadHeaderTimeout: readHeaderTimeout}, listener)
	})
	if adminListener != nil {
		g.Go(func() error {
			c.logger.Infof("metrics listening on %s", adminListener.Addr())
			return serveHTTP(ctx, &http.Server{Handler: c.AdminHandler(), ReadHeaderTimeout: readHeaderTimeout}, adminListener)
		})
	}

	err = g.Wait()
	c.logger.Info("coordinator stopped")
	return err
}

// servingSpawner connects every spawned process that has a channel to the
// store server and reports it ready on its online message.
type servingSpawner struct {
	inner  supervisor.Spawner
	server *storerpc.Server
	logger *zap.SugaredLogger
}

func (s *servingSpawner) Spawn(ctx context.Context, slot, port int) (supervisor.Process, error) {
	proc, err := s.inner.Spawn(ctx, slot, port)
	if err != nil {
		return nil, err
	}
	cp, ok := proc.(supervisor.ChannelProcess)
	if !ok {
		return proc, nil
	}

	served := &servedProcess{Process: proc, ready: make(chan struct{})}
	conn := storerpc.NewConn(cp.Channel())
	go func() {
		if err := s.server.Serve(ctx, conn, served.markReady); err != nil {
			s.logger.Warnf("store channel of worker on port %d failed: %s", port, err)
			_ = conn.Close()
		}
	}()
	return served, nil
}

type servedProcess struct {
	supervisor.Process
	ready chan struct{}
	once  sync.Once
}

func (p *servedProcess) Ready() <-chan struct{} {
	return p.ready
}

func (p *servedProcess) markReady() {
	p.once.Do(func() { close(p.ready) })
}

// serveHTTP serves on l until ctx is canceled, then shuts the server down.
func serveHTTP(ctx context.Context, srv *http.Server, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(l)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	}
}
