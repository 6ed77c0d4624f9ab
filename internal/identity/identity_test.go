package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mariantrack/backend/internal/models"
)

type countingLoader struct {
	calls atomic.Int32
	users map[uuid.UUID]*models.User
	gate  chan struct{}
}

func (l *countingLoader) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	u, ok := l.users[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *u
	return &cp, nil
}

func newUser(role models.Role, status models.UserStatus) *models.User {
	return &models.User{ID: uuid.New(), Name: "Jane", Lastname: "Doe", Role: role, Status: status}
}

func TestCache_HitsAfterFirstLoad(t *testing.T) {
	u := newUser(models.RoleIncubatee, models.StatusApproved)
	l := &countingLoader{users: map[uuid.UUID]*models.User{u.ID: u}}
	c := NewCache(l, time.Minute)

	for i := 0; i < 3; i++ {
		got, err := c.Get(context.Background(), u.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Role != models.RoleIncubatee || !got.Approved() || got.Name != "Jane Doe" {
			t.Errorf("unexpected identity %+v", got)
		}
	}
	if n := l.calls.Load(); n != 1 {
		t.Errorf("loader called %d times, want 1", n)
	}
}

func TestCache_InvalidateReloads(t *testing.T) {
	u := newUser(models.RoleIncubatee, models.StatusPending)
	l := &countingLoader{users: map[uuid.UUID]*models.User{u.ID: u}}
	c := NewCache(l, time.Minute)

	if got, _ := c.Get(context.Background(), u.ID); got.Approved() {
		t.Fatal("expected pending identity")
	}
	u.Status = models.StatusApproved
	c.Invalidate(u.ID)
	got, err := c.Get(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Approved() {
		t.Error("expected approved identity after invalidation")
	}
	if n := l.calls.Load(); n != 2 {
		t.Errorf("loader called %d times, want 2", n)
	}
}

// snapshotLoader copies the user before blocking, like a read that raced a write.
type snapshotLoader struct {
	user    *models.User
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (l *snapshotLoader) GetByID(_ context.Context, _ uuid.UUID) (*models.User, error) {
	cp := *l.user
	first := false
	l.once.Do(func() { first = true })
	if first {
		close(l.started)
		<-l.release
	}
	return &cp, nil
}

func TestCache_InvalidateDuringLoadDiscardsResult(t *testing.T) {
	u := newUser(models.RoleIncubatee, models.StatusPending)
	l := &snapshotLoader{user: u, started: make(chan struct{}), release: make(chan struct{})}
	c := NewCache(l, time.Minute)

	done := make(chan Identity)
	go func() {
		got, _ := c.Get(context.Background(), u.ID)
		done <- got
	}()
	<-l.started

	approved := *u
	approved.Status = models.StatusApproved
	l.user = &approved
	c.Invalidate(u.ID)
	close(l.release)

	if stale := <-done; stale.Approved() {
		t.Fatal("in-flight load should return the snapshot it read")
	}
	got, err := c.Get(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Approved() {
		t.Errorf("status after approve and invalidate = %s, want approved", got.Status)
	}
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	u := newUser(models.RoleDeveloper, models.StatusApproved)
	l := &countingLoader{users: map[uuid.UUID]*models.User{u.ID: u}}
	c := NewCache(l, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	_, _ = c.Get(context.Background(), u.ID)
	now = now.Add(2 * time.Minute)
	_, _ = c.Get(context.Background(), u.ID)
	if n := l.calls.Load(); n != 2 {
		t.Errorf("loader called %d times, want 2", n)
	}
}

func TestCache_CoalescesConcurrentMisses(t *testing.T) {
	u := newUser(models.RoleTBIManager, models.StatusApproved)
	l := &countingLoader{users: map[uuid.UUID]*models.User{u.ID: u}, gate: make(chan struct{})}
	c := NewCache(l, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), u.ID); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	// let the goroutines pile up on the in-flight load
	time.Sleep(50 * time.Millisecond)
	close(l.gate)
	wg.Wait()

	if n := l.calls.Load(); n != 1 {
		t.Errorf("loader called %d times, want 1", n)
	}
}

func TestCache_LoadErrorNotCached(t *testing.T) {
	l := &countingLoader{users: map[uuid.UUID]*models.User{}}
	c := NewCache(l, time.Minute)
	id := uuid.New()
	if _, err := c.Get(context.Background(), id); err == nil {
		t.Fatal("expected error")
	}
	if c.Len() != 0 {
		t.Error("failed load must not be cached")
	}
}

func TestIdentity_InGroup(t *testing.T) {
	gid := uuid.New()
	ident := Identity{GroupID: &gid}
	if !ident.InGroup(gid) || ident.InGroup(uuid.New()) {
		t.Error("InGroup mismatch")
	}
	if (Identity{}).InGroup(gid) {
		t.Error("identity without group must not be in any group")
	}
}
