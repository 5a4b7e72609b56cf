package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrOwnerStopped is returned by calls made after the owner's run loop exited.
var ErrOwnerStopped = errors.New("store owner stopped")

var _ Users = (*Owner)(nil)

// Owner is the single execution context of the shared store.
//
// Every operation, whether issued locally in the owner process or on behalf
// of a worker through the store access protocol, is queued to the Run loop
// and applied one at a time in arrival order. That makes each operation
// atomic and serializable with respect to all others without any locking
// inside MemoryStore.
type Owner struct {
	store   *MemoryStore
	ops     chan func(*MemoryStore)
	stopped chan struct{}
}

// NewOwner wraps the store. Nothing is executed until Run is called.
func NewOwner(store *MemoryStore) *Owner {
	return &Owner{
		store:   store,
		ops:     make(chan func(*MemoryStore)),
		stopped: make(chan struct{}),
	}
}

// Run applies queued operations until the context is canceled.
// It must be called exactly once.
func (o *Owner) Run(ctx context.Context) error {
	defer close(o.stopped)
	for {
		select {
		case op := <-o.ops:
			op(o.store)
		case <-ctx.Done():
			return nil
		}
	}
}

// exec queues fn and waits until the run loop has applied it.
// Once dispatched, an operation always runs to completion; the context only
// bounds the wait for a free run loop.
func (o *Owner) exec(ctx context.Context, fn func(*MemoryStore) error) error {
	done := make(chan error, 1)
	op := func(s *MemoryStore) {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("store operation panicked: %v", r)
			}
		}()
		done <- fn(s)
	}

	select {
	case o.ops <- op:
	case <-o.stopped:
		return ErrOwnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-done
}

func (o *Owner) List(ctx context.Context) (users []User, err error) {
	err = o.exec(ctx, func(s *MemoryStore) error {
		users = s.List()
		return nil
	})
	return users, err
}

func (o *Owner) Get(ctx context.Context, id string) (user User, err error) {
	err = o.exec(ctx, func(s *MemoryStore) (err error) {
		user, err = s.Get(id)
		return err
	})
	return user, err
}

func (o *Owner) Create(ctx context.Context, in User) (user User, err error) {
	err = o.exec(ctx, func(s *MemoryStore) (err error) {
		user, err = s.Create(in)
		return err
	})
	return user, err
}

func (o *Owner) Update(ctx context.Context, id string, patch UserPatch) (user User, err error) {
	err = o.exec(ctx, func(s *MemoryStore) (err error) {
		user, err = s.Update(id, patch)
		return err
	})
	return user, err
}

func (o *Owner) Delete(ctx context.Context, id string) error {
	return o.exec(ctx, func(s *MemoryStore) error {
		return s.Delete(id)
	})
}

// Len returns the number of stored users.
func (o *Owner) Len(ctx context.Context) (n int, err error) {
	err = o.exec(ctx, func(s *MemoryStore) error {
		n = s.Len()
		return nil
	})
	return n, err
}
