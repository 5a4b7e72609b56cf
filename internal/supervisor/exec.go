package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"go.uber.org/zap"

	"github.com/dreamware/usercluster/internal/config"
	"github.com/dreamware/usercluster/internal/storerpc"
)

// ChannelProcess is a Process connected to the coordinator by a message channel.
type ChannelProcess interface {
	Process
	Channel() io.ReadWriteCloser
}

// ExecSpawner starts workers as child processes of an executable, usually
// the running binary itself with the worker subcommand.
//
// The child gets WORKER_PORT in its environment and two pipes: it reads the
// coordinator's messages from fd 3 and writes its own to fd 4.
type ExecSpawner struct {
	path   string
	args   []string
	env    []string
	logger *zap.SugaredLogger
}

// NewExecSpawner creates a spawner running path with args.
// The child inherits the environment and the standard output streams.
func NewExecSpawner(path string, args []string, logger *zap.SugaredLogger) *ExecSpawner {
	return &ExecSpawner{
		path:   path,
		args:   append([]string(nil), args...),
		env:    os.Environ(),
		logger: logger.Named("spawner"),
	}
}

// WithEnv returns a copy of the spawner with extra environment variables.
func (s *ExecSpawner) WithEnv(env ...string) *ExecSpawner {
	cp := *s
	cp.env = append(append([]string(nil), s.env...), env...)
	return &cp
}

// Spawn starts one worker. The process is killed when ctx is canceled.
func (s *ExecSpawner) Spawn(ctx context.Context, slot, port int) (Process, error) {
	// coordinator -> worker
	toWorkerR, toWorkerW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("cannot create channel pipe: %w", err)
	}
	// worker -> coordinator
	fromWorkerR, fromWorkerW, err := os.Pipe()
	if err != nil {
		_ = toWorkerR.Close()
		_ = toWorkerW.Close()
		return nil, fmt.Errorf("cannot create channel pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.path, s.args...)
	cmd.Env = append(append([]string(nil), s.env...), config.EnvWorkerPort+"="+strconv.Itoa(port))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// ExtraFiles[i] becomes fd 3+i in the child
	cmd.ExtraFiles = []*os.File{toWorkerR, fromWorkerW}

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{toWorkerR, toWorkerW, fromWorkerR, fromWorkerW} {
			_ = f.Close()
		}
		return nil, fmt.Errorf("cannot start worker for slot %d: %w", slot, err)
	}

	// The child holds its own copies now
	_ = toWorkerR.Close()
	_ = fromWorkerW.Close()

	s.logger.Debugf("spawned %s (pid %d) for port %d", s.path, cmd.Process.Pid, port)
	return &execProcess{
		cmd:     cmd,
		channel: storerpc.NewPipe(fromWorkerR, toWorkerW),
	}, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	channel *storerpc.Pipe
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

// Ready is nil: readiness of a child is reported over its channel.
func (p *execProcess) Ready() <-chan struct{} {
	return nil
}

func (p *execProcess) Channel() io.ReadWriteCloser {
	return p.channel
}

// Wait waits for the child to exit and closes the coordinator's end of the channel.
func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	_ = p.channel.Close()
	return err
}
