package storerpc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ErrChannelClosed is returned when the channel to the peer process is gone.
var ErrChannelClosed = errors.New("store channel closed")

// Conn frames messages as newline-delimited JSON over a byte stream.
// Send is safe for concurrent use; Receive must be called from one goroutine.
type Conn struct {
	closer io.Closer
	r      *bufio.Reader
	w      io.Writer
	mu     sync.Mutex
}

// NewConn wraps a bidirectional stream. If rw is an io.Closer, Close closes it.
func NewConn(rw io.ReadWriter) *Conn {
	c := &Conn{
		r: bufio.NewReader(rw),
		w: rw,
	}
	if closer, ok := rw.(io.Closer); ok {
		c.closer = closer
	}
	return c
}

// Send writes one message as a single line.
func (c *Conn) Send(msg Message) error {
	frame, err := json.Marshal(wireFrame(msg))
	if err != nil {
		return fmt.Errorf("cannot encode %s message: %w", msg.Type, err)
	}
	frame = append(frame, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(frame); err != nil {
		if isClosed(err) {
			return ErrChannelClosed
		}
		return fmt.Errorf("cannot send %s message: %w", msg.Type, err)
	}
	return nil
}

// Receive blocks until the next message arrives.
// A closed stream is reported as ErrChannelClosed, also when it ends in the
// middle of a frame.
func (c *Conn) Receive() (Message, error) {
	for {
		line, err := c.r.ReadBytes('\n')
		if err != nil {
			if isClosed(err) {
				return Message{}, ErrChannelClosed
			}
			return Message{}, fmt.Errorf("cannot read message: %w", err)
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return Message{}, fmt.Errorf("cannot decode message: %w", err)
		}
		return msg, nil
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed)
}

// Close closes the underlying stream, if it can be closed.
func (c *Conn) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Pipe joins two file streams into one bidirectional channel end.
type Pipe struct {
	io.Reader
	io.Writer
	closers []io.Closer
}

// NewPipe returns a channel end reading from r and writing to w.
func NewPipe(r io.ReadCloser, w io.WriteCloser) *Pipe {
	return &Pipe{Reader: r, Writer: w, closers: []io.Closer{r, w}}
}

// Close closes both directions.
func (p *Pipe) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Descriptors of the channel as seen by a spawned worker: it reads from fd 3
// and writes to fd 4. The exec spawner passes the pipes in this order.
const (
	ParentReadFD  = 3
	ParentWriteFD = 4
)

// OpenParentChannel opens the channel to the coordinator inherited by a worker.
func OpenParentChannel() (*Pipe, error) {
	r := os.NewFile(ParentReadFD, "coordinator-in")
	w := os.NewFile(ParentWriteFD, "coordinator-out")
	if r == nil || w == nil {
		return nil, errors.New("no channel to the coordinator")
	}
	return NewPipe(r, w), nil
}
