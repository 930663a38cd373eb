package application

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// workspaceCache keeps recently resolved workspace settings so availability
// queries do not hit the store for every request. Settings change rarely and a
// stale entry only affects window bounds until the TTL expires.
type workspaceCache struct {
	mu         sync.RWMutex
	source     WorkspaceDirectory
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]workspaceCacheEntry
}

type workspaceCacheEntry struct {
	workspace Workspace
	expiresAt time.Time
}

func newWorkspaceCache(source WorkspaceDirectory, ttl time.Duration, maxEntries int, now func() time.Time) *workspaceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 128
	}
	if now == nil {
		now = time.Now
	}
	return &workspaceCache{
		source:     source,
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]workspaceCacheEntry),
	}
}

// Get returns the cached workspace or loads it from the directory.
func (c *workspaceCache) Get(ctx context.Context, id string) (Workspace, error) {
	if c == nil || c.source == nil {
		return Workspace{}, fmt.Errorf("workspace directory not configured")
	}
	if ws, ok := c.lookup(id); ok {
		return ws, nil
	}
	ws, err := c.source.GetWorkspace(ctx, id)
	if err != nil {
		return Workspace{}, err
	}
	c.store(id, ws)
	return ws, nil
}

func (c *workspaceCache) lookup(id string) (Workspace, bool) {
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return Workspace{}, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, id)
		c.mu.Unlock()
		return Workspace{}, false
	}
	return entry.workspace, true
}

func (c *workspaceCache) store(id string, ws Workspace) {
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[id] = workspaceCacheEntry{workspace: ws, expiresAt: expiry}
}

// Invalidate drops one workspace, or every entry when id is empty.
func (c *workspaceCache) Invalidate(id string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if id == "" {
		c.entries = make(map[string]workspaceCacheEntry)
	} else {
		delete(c.entries, id)
	}
	c.mu.Unlock()
}

func (c *workspaceCache) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *workspaceCache) evictOneLocked() {
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}
