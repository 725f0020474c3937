package service

import (
	"sync"

	"github.com/noah-isme/sma-console-api/internal/models"
)

// ProfileCache is an identity-scoped profile cache.
type ProfileCache interface {
	Get(identityID string) (*models.Profile, bool)
	Set(identityID string, profile *models.Profile)
	Invalidate(identityID string)
	InvalidateAll()
}

// MemoryProfileCache keeps profiles in process memory.
type MemoryProfileCache struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
}

// NewMemoryProfileCache creates an empty cache.
func NewMemoryProfileCache() *MemoryProfileCache {
	return &MemoryProfileCache{profiles: make(map[string]models.Profile)}
}

// Get returns a copy of the cached profile.
func (c *MemoryProfileCache) Get(identityID string) (*models.Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	profile, ok := c.profiles[identityID]
	if !ok {
		return nil, false
	}
	return &profile, true
}

// Set stores a copy of profile under identityID.
func (c *MemoryProfileCache) Set(identityID string, profile *models.Profile) {
	if profile == nil {
		return
	}
	c.mu.Lock()
	c.profiles[identityID] = *profile
	c.mu.Unlock()
}

// Invalidate drops one identity.
func (c *MemoryProfileCache) Invalidate(identityID string) {
	c.mu.Lock()
	delete(c.profiles, identityID)
	c.mu.Unlock()
}

// InvalidateAll empties the cache.
func (c *MemoryProfileCache) InvalidateAll() {
	c.mu.Lock()
	c.profiles = make(map[string]models.Profile)
	c.mu.Unlock()
}
