package storage

import "sync"

// ContextStore holds the single process-wide instruction blob injected into model calls.
type ContextStore struct {
	mu    sync.RWMutex
	value *string
}

func NewContextStore() *ContextStore { return &ContextStore{} }

func (c *ContextStore) Set(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = &text
}

func (c *ContextStore) Get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.value == nil {
		return "", false
	}
	return *c.value, true
}

func (c *ContextStore) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
}
