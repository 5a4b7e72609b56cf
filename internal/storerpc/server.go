package storerpc

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dreamware/usercluster/internal/metrics"
	"github.com/dreamware/usercluster/internal/storage"
)

// Server answers store requests on the owner side.
// One Server is shared by all worker channels; operations are serialized by
// the storage.Owner it executes them on.
type Server struct {
	users   storage.Users
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewServer creates a server executing operations on users.
// The metrics may be nil.
func NewServer(users storage.Users, logger *zap.SugaredLogger, m *metrics.Metrics) *Server {
	return &Server{
		users:   users,
		logger:  logger.Named("store-server"),
		metrics: m,
	}
}

// Serve handles the messages of one worker channel until it is closed.
// onOnline, if not nil, is called for every online message.
// Each request gets exactly one response, sent back on the same channel.
func (s *Server) Serve(ctx context.Context, conn *Conn, onOnline func()) error {
	for {
		msg, err := conn.Receive()
		if errors.Is(err, ErrChannelClosed) {
			return nil
		} else if err != nil {
			return err
		}

		switch msg.Type {
		case TypeOnline:
			if onOnline != nil {
				onOnline()
			}
		case TypeRequest:
			if err := conn.Send(s.handle(ctx, msg)); errors.Is(err, ErrChannelClosed) {
				return nil
			} else if err != nil {
				return err
			}
		default:
			s.logger.Warnf("ignoring unexpected %q message", msg.Type)
		}
	}
}

func (s *Server) handle(ctx context.Context, req Message) Message {
	resp := Message{Type: TypeResponse, CorrelationID: req.CorrelationID}

	result, err := s.execute(ctx, req)
	if err == nil {
		resp.Result, err = json.Marshal(result)
	}
	if err != nil {
		s.logger.Warnf("%s request %s failed: %s", req.Action, req.CorrelationID, err)
		s.metrics.IncStoreRequests(string(req.Action), "error")
		text := err.Error()
		resp.Error = &text
		resp.Result = jsonNull
		return resp
	}

	s.metrics.IncStoreRequests(string(req.Action), "ok")
	return resp
}

// execute runs the operation and returns its wire result.
// An unknown id is a regular result (null or false), not an error.
func (s *Server) execute(ctx context.Context, req Message) (any, error) {
	op, err := decodeOperation(req)
	if err != nil {
		return nil, err
	}

	switch op := op.(type) {
	case List:
		return s.users.List(ctx)
	case GetByID:
		return userOrNil(s.users.Get(ctx, op.ID))
	case Create:
		return s.users.Create(ctx, op.User)
	case Update:
		return userOrNil(s.users.Update(ctx, op.ID, op.Patch))
	case Delete:
		err := s.users.Delete(ctx, op.ID)
		if errors.Is(err, storage.ErrUserNotFound) {
			return false, nil
		}
		return err == nil, err
	default:
		return nil, fmt.Errorf("unhandled operation %T", op)
	}
}

func userOrNil(user storage.User, err error) (*storage.User, error) {
	if errors.Is(err, storage.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
