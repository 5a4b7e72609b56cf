package storage

import (
	"context"
	"errors"

	"golang.org/x/exp/slices"
)

var (
	// ErrUserNotFound is returned when no user has the requested id.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when a user with the same id is already stored.
	ErrUserExists = errors.New("user already exists")
)

// User is a single record of the shared store.
// The ID is assigned on creation and never changes afterwards.
type User struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Age      int      `json:"age"`
	Hobbies  []string `json:"hobbies"`
}

// UserPatch holds the fields of a partial update.
// Nil fields are left untouched.
type UserPatch struct {
	Username *string   `json:"username,omitempty"`
	Age      *int      `json:"age,omitempty"`
	Hobbies  *[]string `json:"hobbies,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p UserPatch) IsEmpty() bool {
	return p.Username == nil && p.Age == nil && p.Hobbies == nil
}

// Users is the accessor every application server works against.
// The owner process implements it directly (Owner), worker processes
// implement it over the store access protocol.
//
// Get, Update and Delete return ErrUserNotFound for an unknown id.
type Users interface {
	List(ctx context.Context) ([]User, error)
	Get(ctx context.Context, id string) (User, error)
	Create(ctx context.Context, user User) (User, error)
	Update(ctx context.Context, id string, patch UserPatch) (User, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is the authoritative in-memory user table.
//
// It is NOT safe for concurrent use. Exactly one goroutine, the Owner's run
// loop, may touch it; every other caller goes through the Owner.
// Users are kept in insertion order, which is the order List returns.
type MemoryStore struct {
	users []User
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// List returns copies of all users in insertion order.
// The result is never nil so it encodes as an empty JSON array.
func (m *MemoryStore) List() []User {
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, cloneUser(u))
	}
	return out
}

// Get returns a copy of the user with the given id.
func (m *MemoryStore) Get(id string) (User, error) {
	idx := m.index(id)
	if idx < 0 {
		return User{}, ErrUserNotFound
	}
	return cloneUser(m.users[idx]), nil
}

// Create appends the user. Ids are unique within the store.
func (m *MemoryStore) Create(user User) (User, error) {
	if m.index(user.ID) >= 0 {
		return User{}, ErrUserExists
	}
	stored := cloneUser(user)
	m.users = append(m.users, stored)
	return cloneUser(stored), nil
}

// Update merges the non-nil patch fields into the stored user.
func (m *MemoryStore) Update(id string, patch UserPatch) (User, error) {
	idx := m.index(id)
	if idx < 0 {
		return User{}, ErrUserNotFound
	}

	u := &m.users[idx]
	if patch.Username != nil {
		u.Username = *patch.Username
	}
	if patch.Age != nil {
		u.Age = *patch.Age
	}
	if patch.Hobbies != nil {
		u.Hobbies = slices.Clone(*patch.Hobbies)
	}
	return cloneUser(*u), nil
}

// Delete removes the user with the given id.
func (m *MemoryStore) Delete(id string) error {
	idx := m.index(id)
	if idx < 0 {
		return ErrUserNotFound
	}
	m.users = slices.Delete(m.users, idx, idx+1)
	return nil
}

// Len returns the number of stored users.
func (m *MemoryStore) Len() int {
	return len(m.users)
}

func (m *MemoryStore) index(id string) int {
	return slices.IndexFunc(m.users, func(u User) bool { return u.ID == id })
}

func cloneUser(u User) User {
	out := u
	out.Hobbies = slices.Clone(u.Hobbies)
	if out.Hobbies == nil {
		out.Hobbies = []string{}
	}
	return out
}
