// testutils/store.go
package testutils

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a Store backed by a map, with expiry checked on read.
type InMemoryStore struct {
	mu            sync.RWMutex
	bannedAuthors map[string]time.Time
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		bannedAuthors: make(map[string]time.Time),
	}
}

// IsAuthorBanned checks the in-memory ban map and drops expired bans.
func (s *InMemoryStore) IsAuthorBanned(ctx context.Context, authorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, found := s.bannedAuthors[authorID]
	if found && !expiry.IsZero() && time.Now().After(expiry) {
		delete(s.bannedAuthors, authorID)
		return false, nil
	}
	return found, nil
}

// BanAuthor adds an author to the in-memory ban map. A non-positive
// duration never expires.
func (s *InMemoryStore) BanAuthor(ctx context.Context, authorID string, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expiry time.Time
	if duration > 0 {
		expiry = time.Now().Add(duration)
	}
	s.bannedAuthors[authorID] = expiry
	return nil
}

// UnbanAuthor removes an author from the in-memory ban map.
func (s *InMemoryStore) UnbanAuthor(ctx context.Context, authorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bannedAuthors, authorID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// MockStore counts lookups so cache behaviour can be asserted, and can be
// told to fail every call.
type MockStore struct {
	mu          sync.RWMutex
	banned      map[string]bool
	calls       int
	errToReturn error
}

func NewMockStore() *MockStore {
	return &MockStore{banned: make(map[string]bool)}
}

func (s *MockStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errToReturn = err
}

func (s *MockStore) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errToReturn = nil
}

func (s *MockStore) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

func (s *MockStore) IsAuthorBanned(ctx context.Context, authorID string) (bool, error) {
	s.mu.Lock()
	s.calls++
	err := s.errToReturn
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.banned[authorID], nil
}

func (s *MockStore) BanAuthor(ctx context.Context, authorID string, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errToReturn != nil {
		return s.errToReturn
	}
	s.banned[authorID] = true
	return nil
}

func (s *MockStore) UnbanAuthor(ctx context.Context, authorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errToReturn != nil {
		return s.errToReturn
	}
	delete(s.banned, authorID)
	return nil
}

func (s *MockStore) Close() error {
	if s.errToReturn != nil {
		return s.errToReturn
	}
	return nil
}

// MockStoreWithSignal is a mock store that signals via channel when a ban occurs.
// Useful for testing asynchronous behavior without relying on time.Sleep.
type MockStoreWithSignal struct {
	mu        sync.RWMutex
	banned    map[string]bool
	BanCalls  int
	BanSignal chan string
}

func NewMockStoreWithSignal(bufferSize int) *MockStoreWithSignal {
	return &MockStoreWithSignal{
		banned:    make(map[string]bool),
		BanSignal: make(chan string, bufferSize),
	}
}

func (s *MockStoreWithSignal) IsAuthorBanned(ctx context.Context, authorID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.banned[authorID], nil
}

func (s *MockStoreWithSignal) BanAuthor(ctx context.Context, authorID string, duration time.Duration) error {
	s.mu.Lock()
	s.banned[authorID] = true
	s.BanCalls++
	s.mu.Unlock()

	s.BanSignal <- authorID
	return nil
}

func (s *MockStoreWithSignal) UnbanAuthor(ctx context.Context, authorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.banned, authorID)
	return nil
}

func (s *MockStoreWithSignal) BanCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BanCalls
}

func (s *MockStoreWithSignal) Close() error {
	return nil
}
