package cluster

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/usercluster/internal/api"
	"github.com/dreamware/usercluster/internal/config"
	"github.com/dreamware/usercluster/internal/storage"
	"github.com/dreamware/usercluster/internal/storerpc"
)

// RunWorker serves the user API on the worker port, with every store
// operation forwarded to the coordinator over channel.
//
// The coordinator is told the worker is online once the listener is bound.
// RunWorker returns when ctx is canceled, or with an error when the channel
// to the coordinator closes; the process then exits and gets replaced.
func RunWorker(ctx context.Context, cfg config.WorkerConfig, channel io.ReadWriteCloser, logger *zap.SugaredLogger) error {
	client := storerpc.NewClient(storerpc.NewConn(channel), logger, storerpc.WithTimeout(cfg.StoreTimeout))

	listener, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		_ = channel.Close()
		return fmt.Errorf("cannot listen on %s: %w", cfg.ListenAddr(), err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := client.Serve(ctx); err != nil {
			return fmt.Errorf("lost coordinator: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("worker listening on %s", listener.Addr())
		return serveHTTP(ctx, &http.Server{Handler: api.NewHandler(client, logger), ReadHeaderTimeout: readHeaderTimeout}, listener)
	})
	g.Go(func() error {
		return client.NotifyOnline()
	})
	return g.Wait()
}

// RunStandalone serves the user API on the public port from a single
// process that owns its store, without workers.
func RunStandalone(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) error {
	owner := storage.NewOwner(storage.NewMemoryStore())

	listener, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", cfg.ListenAddr(), err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return owner.Run(ctx)
	})
	g.Go(func() error {
		logger.Infof("server is running on %s", listener.Addr())
		return serveHTTP(ctx, &http.Server{Handler: api.NewHandler(owner, logger), ReadHeaderTimeout: readHeaderTimeout}, listener)
	})
	return g.Wait()
}
