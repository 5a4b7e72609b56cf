// Package main implements the usercluster binary.
//
// The same executable runs every role of the service:
//
//	usercluster              coordinator: load balancer on PORT, workers on PORT+1..PORT+N
//	usercluster standalone   one process serving the API on PORT
//	usercluster status       print the worker pool of a running coordinator
//	usercluster worker       (hidden) started by the coordinator for each slot
//
// Configuration comes from flags, environment variables and a .env file in
// the working directory:
//
//	PORT=4000 WORKERS=3 usercluster
//	curl -X POST localhost:4000/api/users -d '{"username":"John","age":30,"hobbies":[]}'
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dreamware/usercluster/internal/cluster"
	"github.com/dreamware/usercluster/internal/config"
	"github.com/dreamware/usercluster/internal/logging"
	"github.com/dreamware/usercluster/internal/storerpc"
	"github.com/dreamware/usercluster/internal/supervisor"
)

const dotEnvFile = ".env"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand(logOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "usercluster",
		Short:        "User record service with a supervised pool of worker processes",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_, err := config.LoadDotEnv(dotEnvFile)
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			logger := logging.New(logOut, "coordinator", cfg.Debug)
			defer func() { _ = logger.Sync() }()

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot locate executable: %w", err)
			}
			args := append([]string{"worker"}, cfg.WorkerArgs()...)
			spawner := supervisor.NewExecSpawner(exe, args, logger)

			coordinator, err := cluster.NewCoordinator(cfg, spawner, logger)
			if err != nil {
				return err
			}
			logger.Infof("primary %d is running with %d workers", os.Getpid(), cfg.Workers)
			return coordinator.Run(cmd.Context())
		},
	}
	config.BindFlags(root.Flags())

	root.AddCommand(
		newWorkerCommand(logOut),
		newStandaloneCommand(logOut),
		newStatusCommand(),
	)
	return root
}

func newWorkerCommand(logOut io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Serve the API on WORKER_PORT for a coordinator",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWorker(cmd.Flags())
			if err != nil {
				return err
			}
			logger := logging.New(logOut, "worker", cfg.Debug).With("port", cfg.Port)
			defer func() { _ = logger.Sync() }()

			channel, err := storerpc.OpenParentChannel()
			if err != nil {
				return err
			}
			return cluster.RunWorker(cmd.Context(), cfg, channel, logger)
		},
	}
	config.BindWorkerFlags(cmd.Flags())
	return cmd
}

func newStandaloneCommand(logOut io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "standalone",
		Short: "Serve the API from a single process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			logger := logging.New(logOut, "standalone", cfg.Debug)
			defer func() { _ = logger.Sync() }()
			return cluster.RunStandalone(cmd.Context(), cfg, logger)
		},
	}
	config.BindFlags(cmd.Flags())
	return cmd
}

func newStatusCommand() *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the worker pool of a running coordinator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var status cluster.StatusResponse
			if err := cluster.GetJSON(cmd.Context(), admin+"/workers", &status); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "load balancer on port %d\n", status.Port)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLOT\tPORT\tPID\tSTATUS\tID")
			for _, w := range status.Workers {
				fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\n", w.Slot, w.Port, w.PID, w.Status, w.ID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "http://127.0.0.1:9100", "base URL of the coordinator's metrics listener")
	return cmd
}
