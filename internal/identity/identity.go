// Package identity keeps a process-local cache of who a caller is (role, approval status, group)
// so request gates do not hit the users table on every call.
package identity

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/mariantrack/backend/internal/models"
)

// Gin context keys.
const (
	ContextUserID   = "user_id"
	ContextIdentity = "identity"
)

// DefaultTTL bounds how long a cached identity may be served without a reload.
const DefaultTTL = 2 * time.Minute

// Identity is the authorization-relevant slice of a user.
type Identity struct {
	ID      uuid.UUID
	Role    models.Role
	Status  models.UserStatus
	GroupID *uuid.UUID
	Name    string
}

// Approved reports whether the account passed the approval workflow.
func (i Identity) Approved() bool { return i.Status == models.StatusApproved }

// InGroup reports whether the identity belongs to groupID.
func (i Identity) InGroup(groupID uuid.UUID) bool {
	return i.GroupID != nil && *i.GroupID == groupID
}

// FromUser builds an Identity from a stored user.
func FromUser(u *models.User) Identity {
	return Identity{ID: u.ID, Role: u.Role, Status: u.Status, GroupID: u.GroupID, Name: u.FullName()}
}

// Loader reads a user by id.
type Loader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type entry struct {
	id      Identity
	expires time.Time
}

// Cache is safe for concurrent use. Concurrent misses for the same user share one load.
type Cache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[uuid.UUID]entry
	// gens is bumped by Invalidate; a load only stores its result if the generation it started
	// under is still current.
	gens  map[uuid.UUID]uint64
	group singleflight.Group
}

// NewCache creates a cache. ttl <= 0 uses DefaultTTL.
func NewCache(loader Loader, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		loader:  loader,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[uuid.UUID]entry),
		gens:    make(map[uuid.UUID]uint64),
	}
}

// Get returns the identity for id, loading it on a miss or after expiry.
func (c *Cache) Get(ctx context.Context, id uuid.UUID) (Identity, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expires) {
		return e.id, nil
	}

	v, err, _ := c.group.Do(id.String(), func() (interface{}, error) {
		c.mu.RLock()
		gen := c.gens[id]
		c.mu.RUnlock()

		u, err := c.loader.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		ident := FromUser(u)
		c.mu.Lock()
		if c.gens[id] == gen {
			c.entries[id] = entry{id: ident, expires: c.now().Add(c.ttl)}
		}
		c.mu.Unlock()
		return ident, nil
	})
	if err != nil {
		return Identity{}, err
	}
	return v.(Identity), nil
}

// Invalidate drops cached identities so the next Get reloads them.
func (c *Cache) Invalidate(ids ...uuid.UUID) {
	c.mu.Lock()
	for _, id := range ids {
		delete(c.entries, id)
		c.gens[id]++
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.group.Forget(id.String())
	}
}

// Len returns the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// UserID returns the authenticated user id set by the JWT middleware.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// FromContext returns the identity set by the approval gate.
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return Identity{}, false
	}
	ident, ok := v.(Identity)
	return ident, ok
}
