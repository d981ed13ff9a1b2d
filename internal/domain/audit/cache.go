package audit

import (
	"context"
	"sync"
	"time"

	"github.com/ehr/audit/internal/platform/db"
)

// SettingsTTL is the validity window for cached per-org settings.
const SettingsTTL = 5 * time.Minute

// SettingsStore is the durable side of the cache.
type SettingsStore interface {
	ListByOrg(ctx context.Context, orgID string) ([]SettingsRow, error)
}

type settingsEntry struct {
	settings  Settings
	expiresAt time.Time
}

// SettingsCache caches effective per-org settings with a TTL. It is the only
// shared mutable state in the subsystem; concurrent misses for the same org
// may each hit the store, which is fine because entries are pure derived data
// with bounded staleness.
type SettingsCache struct {
	store SettingsStore
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]settingsEntry
}

// NewSettingsCache creates a cache over the given store. A zero ttl falls back
// to SettingsTTL; a nil clock falls back to time.Now.
func NewSettingsCache(store SettingsStore, ttl time.Duration, clock func() time.Time) *SettingsCache {
	if ttl <= 0 {
		ttl = SettingsTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &SettingsCache{
		store:   store,
		ttl:     ttl,
		now:     clock,
		entries: make(map[string]settingsEntry),
	}
}

// Get returns the effective settings for the org: defaults merged with any
// stored overrides, deep-copied so the cached value stays pristine. An empty
// orgID returns raw defaults without touching the store or the cache.
func (c *SettingsCache) Get(ctx context.Context, orgID string) (Settings, error) {
	if orgID == "" {
		return DefaultSettings(), nil
	}

	// A read made inside a transaction sees the caller's uncommitted writes.
	// Serve it straight from the store so the cache never holds values that
	// may still roll back.
	if db.TxFromContext(ctx) != nil {
		return c.load(ctx, orgID)
	}

	now := c.now()
	c.mu.RLock()
	entry, ok := c.entries[orgID]
	c.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.settings.Clone(), nil
	}

	merged, err := c.load(ctx, orgID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[orgID] = settingsEntry{settings: merged.Clone(), expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	return merged, nil
}

// load reads the org's stored overrides and merges them onto the defaults.
func (c *SettingsCache) load(ctx context.Context, orgID string) (Settings, error) {
	rows, err := c.store.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	merged := DefaultSettings()
	for _, row := range rows {
		merged.apply(row)
	}
	return merged, nil
}

// Invalidate drops the org's cache entry unconditionally; the next Get forces
// a fresh read from the store.
func (c *SettingsCache) Invalidate(orgID string) {
	c.mu.Lock()
	delete(c.entries, orgID)
	c.mu.Unlock()
}
