// testutils/purge.go
package testutils

import (
	"context"
	"sync"
)

// MockPurgeClient records purged authors and signals each call on
// PurgeSignal so async callers can be awaited without sleeping.
type MockPurgeClient struct {
	mu            sync.Mutex
	PurgedAuthors []string
	PurgeSignal   chan string
}

func NewMockPurgeClient(bufferSize int) *MockPurgeClient {
	return &MockPurgeClient{
		PurgeSignal: make(chan string, bufferSize),
	}
}

func (c *MockPurgeClient) PurgeAuthor(ctx context.Context, authorID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PurgedAuthors = append(c.PurgedAuthors, authorID)
	c.PurgeSignal <- authorID
	return nil
}
