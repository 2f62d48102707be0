package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// User is one directory record.
type User struct {
	DisplayName     string   `json:"display_name"`
	Channels        Channels `json:"channels"`
	TrustedContacts []string `json:"trusted_contacts,omitempty"`
}

// Static is an in-memory Directory and Circle for development and tests.
type Static struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewStatic returns a Static over a copy of users.
func NewStatic(users map[string]User) *Static {
	s := &Static{users: make(map[string]User, len(users))}
	for id, u := range users {
		s.users[id] = u
	}
	return s
}

// LoadStatic reads a JSON object of user id to User from path.
func LoadStatic(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	var users map[string]User
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("decode profile file: %w", err)
	}
	return NewStatic(users), nil
}

// Put adds or replaces a user.
func (s *Static) Put(id string, u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = u
}

func (s *Static) get(id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrUnknownUser, id)
	}
	return u, nil
}

func (s *Static) ContactChannels(_ context.Context, userID string) (Channels, error) {
	u, err := s.get(userID)
	return u.Channels, err
}

func (s *Static) DisplayName(_ context.Context, userID string) (string, error) {
	u, err := s.get(userID)
	return u.DisplayName, err
}

func (s *Static) TrustedContacts(_ context.Context, ownerID string) ([]string, error) {
	u, err := s.get(ownerID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), u.TrustedContacts...), nil
}
