package storerpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/dreamware/usercluster/internal/idgenerator"
	"github.com/dreamware/usercluster/internal/storage"
)

// DefaultTimeout bounds one store round trip.
const DefaultTimeout = 5 * time.Second

var (
	// ErrTimeout is returned when the owner does not answer within the timeout.
	ErrTimeout = errors.New("store request timeout")
	// ErrNotApplicable is returned by a client that has no channel to the owner,
	// e.g. one created in the owner process itself.
	ErrNotApplicable = errors.New("store access protocol is not applicable in this role")
)

var _ storage.Users = (*Client)(nil)

// RemoteError carries the message of an error raised by the owner while
// executing the operation.
type RemoteError struct {
	Action  Action
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %s", e.Action, e.Message)
}

// Client is the worker-side stub of the shared store.
//
// Each call registers a pending entry keyed by a fresh correlation id, sends
// one request and waits. Exactly one of these completes the entry and removes
// it from the table: the matching response (delivered by Serve), the timer, or
// the caller's context. A response arriving after that finds no entry and is
// dropped.
type Client struct {
	conn    *Conn
	clock   clockwork.Clock
	logger  *zap.SugaredLogger
	newID   func() string
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  bool
}

type pendingCall struct {
	action    Action
	issuedAt  time.Time
	result    chan callResult
	timer     clockwork.Timer
	completed *atomic.Bool
}

type callResult struct {
	msg Message
	err error
}

type ClientOption func(*Client)

// WithClock replaces the clock driving call timeouts.
func WithClock(clock clockwork.Clock) ClientOption {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithTimeout replaces DefaultTimeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithIDGenerator replaces the correlation id generator.
func WithIDGenerator(fn func() string) ClientOption {
	return func(c *Client) {
		c.newID = fn
	}
}

// NewClient creates a client sending requests over conn.
// A nil conn yields a client whose every call fails with ErrNotApplicable.
// Serve must run for responses to be delivered.
func NewClient(conn *Conn, logger *zap.SugaredLogger, opts ...ClientOption) *Client {
	c := &Client{
		conn:    conn,
		clock:   clockwork.NewRealClock(),
		logger:  logger.Named("store-client"),
		newID:   idgenerator.CorrelationID,
		timeout: DefaultTimeout,
		pending: make(map[string]*pendingCall),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Serve reads responses from the channel and completes the matching calls.
// It returns ErrChannelClosed when the owner goes away; every call still in
// flight then fails with the same error.
func (c *Client) Serve(ctx context.Context) error {
	if c.conn == nil {
		return ErrNotApplicable
	}

	go func() {
		<-ctx.Done()
		_ = c.conn.Close()
	}()

	for {
		msg, err := c.conn.Receive()
		if err != nil {
			c.failAll(ErrChannelClosed)
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if msg.Type != TypeResponse {
			c.logger.Warnf("ignoring unexpected %q message", msg.Type)
			continue
		}
		if !c.complete(msg.CorrelationID, callResult{msg: msg}) {
			c.logger.Debugf("dropping response %s: no pending request", msg.CorrelationID)
		}
	}
}

// NotifyOnline tells the owner side that this process is ready to serve.
func (c *Client) NotifyOnline() error {
	if c.conn == nil {
		return ErrNotApplicable
	}
	return c.conn.Send(Message{Type: TypeOnline})
}

// Pending returns the number of calls waiting for a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Do executes op on the owner and decodes the result into out (if not nil).
func (c *Client) Do(ctx context.Context, op Operation, out any) error {
	if c.conn == nil {
		return ErrNotApplicable
	}

	id := c.newID()
	req, err := newRequest(id, op)
	if err != nil {
		return err
	}

	call := &pendingCall{
		action:    op.Action(),
		issuedAt:  c.clock.Now(),
		result:    make(chan callResult, 1),
		completed: atomic.NewBool(false),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.pending[id] = call
	call.timer = c.clock.AfterFunc(c.timeout, func() {
		c.complete(id, callResult{err: ErrTimeout})
	})
	c.mu.Unlock()

	if err := c.conn.Send(req); err != nil {
		c.complete(id, callResult{err: err})
	}

	var res callResult
	select {
	case res = <-call.result:
	case <-ctx.Done():
		// Whichever path completed the call has sent exactly one result.
		c.complete(id, callResult{err: ctx.Err()})
		res = <-call.result
	}

	if res.err != nil {
		if errors.Is(res.err, ErrTimeout) {
			c.logger.Warnf("%s request %s timed out after %s", call.action, id, c.clock.Since(call.issuedAt))
		}
		return res.err
	}
	if res.msg.Error != nil {
		return &RemoteError{Action: call.action, Message: *res.msg.Error}
	}
	// A null result leaves out untouched: nil user pointers mean not found.
	if out == nil || isNull(res.msg.Result) {
		return nil
	}
	if err := json.Unmarshal(res.msg.Result, out); err != nil {
		return fmt.Errorf("cannot decode %s result: %w", call.action, err)
	}
	return nil
}

// complete hands res to the pending call with the given id and removes it.
// It reports false if the call was already completed by another path.
func (c *Client) complete(id string, res callResult) bool {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok || !call.completed.CompareAndSwap(false, true) {
		return false
	}
	call.timer.Stop()
	call.result <- res
	return true
}

func (c *Client) failAll(err error) {
	c.mu.Lock()
	c.closed = true
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.complete(id, callResult{err: err})
	}
}

func (c *Client) List(ctx context.Context) ([]storage.User, error) {
	var users []storage.User
	if err := c.Do(ctx, List{}, &users); err != nil {
		return nil, err
	}
	if users == nil {
		users = []storage.User{}
	}
	return users, nil
}

func (c *Client) Get(ctx context.Context, id string) (storage.User, error) {
	var user *storage.User
	if err := c.Do(ctx, GetByID{ID: id}, &user); err != nil {
		return storage.User{}, err
	}
	if user == nil {
		return storage.User{}, storage.ErrUserNotFound
	}
	return *user, nil
}

func (c *Client) Create(ctx context.Context, in storage.User) (storage.User, error) {
	var user storage.User
	if err := c.Do(ctx, Create{User: in}, &user); err != nil {
		return storage.User{}, err
	}
	return user, nil
}

func (c *Client) Update(ctx context.Context, id string, patch storage.UserPatch) (storage.User, error) {
	var user *storage.User
	if err := c.Do(ctx, Update{ID: id, Patch: patch}, &user); err != nil {
		return storage.User{}, err
	}
	if user == nil {
		return storage.User{}, storage.ErrUserNotFound
	}
	return *user, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	var deleted bool
	if err := c.Do(ctx, Delete{ID: id}, &deleted); err != nil {
		return err
	}
	if !deleted {
		return storage.ErrUserNotFound
	}
	return nil
}
