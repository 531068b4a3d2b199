package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrTokenNotFound = errors.New("token not found or expired")

// TokenStore holds single-use password reset tokens. Take consumes
// the token so it can never be redeemed twice.
type TokenStore interface {
	Put(ctx context.Context, token string, username string, ttl time.Duration) error
	Take(ctx context.Context, token string) (string, error)
}

type memoryEntry struct {
	username  string
	expiresAt time.Time
}

type MemoryTokenStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryTokenStore) Put(_ context.Context, token string, username string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = memoryEntry{
		username:  username,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (s *MemoryTokenStore) Take(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok {
		return "", ErrTokenNotFound
	}
	delete(s.entries, token)
	if time.Now().After(entry.expiresAt) {
		return "", ErrTokenNotFound
	}
	return entry.username, nil
}
