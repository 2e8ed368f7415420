// Package settingscache memoizes resolved reservation settings per
// (account, team member) pair. Settings writes happen outside this
// service, so the owning application calls the bump endpoint after a
// write to invalidate the account's entries; the TTL bounds staleness
// when it forgets.
package settingscache

import (
	"sync"
	"time"

	"schedcore/scheduling-service/internal/models"
)

type key struct {
	accountID    string
	teamMemberID string
}

type entry struct {
	settings models.ReservationSettings
	storedAt time.Time
}

type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[key]entry
}

func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[key]entry),
	}
}

func (c *Cache) Get(accountID, teamMemberID string) (models.ReservationSettings, bool) {
	c.mu.RLock()
	e, ok := c.entries[key{accountID, teamMemberID}]
	c.mu.RUnlock()
	if !ok {
		return models.ReservationSettings{}, false
	}
	if c.ttl > 0 && time.Since(e.storedAt) > c.ttl {
		return models.ReservationSettings{}, false
	}
	return e.settings, true
}

func (c *Cache) Put(accountID, teamMemberID string, settings models.ReservationSettings) {
	c.mu.Lock()
	c.entries[key{accountID, teamMemberID}] = entry{settings: settings, storedAt: time.Now()}
	c.mu.Unlock()
}

// Bump drops every cached entry for the account, including all of its
// team-member overrides.
func (c *Cache) Bump(accountID string) {
	c.mu.Lock()
	for k := range c.entries {
		if k.accountID == accountID {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}
