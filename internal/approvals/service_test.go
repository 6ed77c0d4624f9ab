package approvals

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/apperr"
	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/pkg/database"
	"github.com/mariantrack/backend/pkg/queue"
)

type memUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
	clock time.Time
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) List(_ context.Context, f models.UserFilter) ([]models.UserPublic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.UserPublic
	for _, u := range m.users {
		if f.Status == "" || u.Status == f.Status {
			out = append(out, u.ToPublic())
		}
	}
	return out, nil
}

func (m *memUsers) Approve(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Status != models.StatusPending {
		return nil, database.ErrNotFound
	}
	u.Status = models.StatusApproved
	cp := *u
	return &cp, nil
}

func (m *memUsers) DeleteWithStatus(_ context.Context, id uuid.UUID, status models.UserStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Status != status {
		return database.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memUsers) PendingSummary(context.Context) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	var newest time.Time
	for _, u := range m.users {
		if u.Status == models.StatusPending {
			n++
			if u.CreatedAt.After(newest) {
				newest = u.CreatedAt
			}
		}
	}
	return n, newest, nil
}

func (m *memUsers) add(name string, status models.UserStatus) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = m.clock.Add(time.Second)
	u := &models.User{ID: uuid.New(), Name: name, Role: models.RoleIncubatee, Status: status, CreatedAt: m.clock}
	m.users[u.ID] = u
	return u
}

type recNotifier struct {
	mu         sync.Mutex
	notified   []uuid.UUID
	jobs       []queue.FanoutPayload
	failQueues int
}

func (r *recNotifier) Notify(_ context.Context, userID uuid.UUID, _ string, _ models.NotificationType, _ *uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, userID)
	return nil
}

func (r *recNotifier) Enqueue(_ context.Context, p queue.FanoutPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failQueues > 0 {
		r.failQueues--
		return errors.New("queue unavailable")
	}
	r.jobs = append(r.jobs, p)
	return nil
}

// memThrottle mirrors SET NX with a TTL.
type memThrottle struct {
	mu    sync.Mutex
	now   time.Time
	keys  map[string]time.Time
	marks map[string]time.Time
}

func (m *memThrottle) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *memThrottle) LastMark(_ context.Context, key string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marks[key], nil
}

func (m *memThrottle) Mark(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[key] = at
	return nil
}

func (m *memThrottle) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.keys[key]; ok && m.now.Before(exp) {
		return false, nil
	}
	m.keys[key] = m.now.Add(ttl)
	return true, nil
}

type recInvalidator struct{ ids []uuid.UUID }

func (r *recInvalidator) Invalidate(ids ...uuid.UUID) { r.ids = append(r.ids, ids...) }

type recPub struct {
	events       []string
	disconnected []uuid.UUID
}

func (r *recPub) Publish(topic, event string, _ interface{}) { r.events = append(r.events, topic+"|"+event) }

func (r *recPub) Disconnect(userID uuid.UUID) { r.disconnected = append(r.disconnected, userID) }

type fixture struct {
	users    *memUsers
	notifier *recNotifier
	throttle *memThrottle
	cache    *recInvalidator
	pub      *recPub
	svc      *Service
	admin    identity.Identity
}

func newFixture() *fixture {
	f := &fixture{
		users:    &memUsers{users: make(map[uuid.UUID]*models.User), clock: time.Now()},
		notifier: &recNotifier{},
		throttle: &memThrottle{now: time.Now(), keys: make(map[string]time.Time), marks: make(map[string]time.Time)},
		cache:    &recInvalidator{},
		pub:      &recPub{},
	}
	f.svc = NewService(f.users, f.notifier, f.throttle, f.pub, f.cache, 20*time.Minute, zap.NewNop())
	f.admin = identity.Identity{ID: uuid.New(), Role: models.RoleTBIManager, Status: models.StatusApproved}
	return f
}

func TestApproveScenario(t *testing.T) {
	f := newFixture()
	jane := f.users.add("Jane Doe", models.StatusPending)

	got, err := f.svc.SetUserStatus(context.Background(), f.admin, jane.ID, DecisionApprove)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != models.StatusApproved {
		t.Errorf("status = %s", got.Status)
	}
	approved, _ := f.users.List(context.Background(), models.UserFilter{Status: models.StatusApproved})
	if len(approved) != 1 || approved[0].ID != jane.ID || approved[0].GroupID != nil {
		t.Errorf("Jane should be approved and unassigned, got %+v", approved)
	}
	if len(f.notifier.notified) != 1 || f.notifier.notified[0] != jane.ID {
		t.Errorf("expected approval notification to Jane, got %v", f.notifier.notified)
	}
	if len(f.cache.ids) != 1 || f.cache.ids[0] != jane.ID {
		t.Errorf("expected identity invalidation, got %v", f.cache.ids)
	}
	if len(f.pub.events) != 1 {
		t.Errorf("expected user.approved event, got %v", f.pub.events)
	}
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pending := f.users.add("P", models.StatusPending)
	approved := f.users.add("A", models.StatusApproved)

	// approved -> approved and approved -> rejected are not reachable
	if _, err := f.svc.SetUserStatus(ctx, f.admin, approved.ID, DecisionApprove); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("re-approve err = %v, want conflict", err)
	}
	if _, err := f.svc.SetUserStatus(ctx, f.admin, approved.ID, DecisionReject); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("reject approved err = %v, want conflict", err)
	}
	if _, err := f.users.GetByID(ctx, approved.ID); err != nil {
		t.Error("approved user must survive a rejected transition")
	}

	// pending -> deleted
	if _, err := f.svc.SetUserStatus(ctx, f.admin, pending.ID, DecisionReject); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := f.users.GetByID(ctx, pending.ID); !errors.Is(err, database.ErrNotFound) {
		t.Error("rejected user should be deleted")
	}
	if _, err := f.svc.SetUserStatus(ctx, f.admin, pending.ID, DecisionApprove); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("approve deleted err = %v, want not found", err)
	}
	if _, err := f.svc.SetUserStatus(ctx, f.admin, approved.ID, "suspended"); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("unknown decision err = %v, want invalid", err)
	}
}

func TestSetUserStatus_AdminOnly(t *testing.T) {
	f := newFixture()
	u := f.users.add("P", models.StatusPending)
	pm := identity.Identity{ID: uuid.New(), Role: models.RolePortfolioManager, Status: models.StatusApproved}
	if _, err := f.svc.SetUserStatus(context.Background(), pm, u.ID, DecisionApprove); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("err = %v, want forbidden", err)
	}
}

func TestRemoveUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	approved := f.users.add("A", models.StatusApproved)
	pending := f.users.add("P", models.StatusPending)

	if err := f.svc.RemoveUser(ctx, f.admin, f.admin.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("self removal err = %v", err)
	}
	if err := f.svc.RemoveUser(ctx, f.admin, pending.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("pending removal err = %v", err)
	}
	if err := f.svc.RemoveUser(ctx, f.admin, approved.ID); err != nil {
		t.Fatalf("RemoveUser: %v", err)
	}
	if err := f.svc.RemoveUser(ctx, f.admin, approved.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second removal err = %v, want not found", err)
	}
	if len(f.pub.disconnected) != 1 || f.pub.disconnected[0] != approved.ID {
		t.Errorf("removed user's connections not closed: %v", f.pub.disconnected)
	}
}

func TestNotifyPendingBacklog_Throttled(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if sent, _ := f.svc.NotifyPendingBacklog(ctx); sent {
		t.Error("no reminder expected without pending users")
	}
	f.users.add("P1", models.StatusPending)
	f.users.add("P2", models.StatusPending)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.NotifyPendingBacklog(ctx)
		}()
	}
	wg.Wait()
	if len(f.notifier.jobs) != 1 {
		t.Fatalf("expected exactly one reminder within the window, got %d", len(f.notifier.jobs))
	}
	if f.notifier.jobs[0].Audience != queue.AudienceAdmins {
		t.Errorf("audience = %s", f.notifier.jobs[0].Audience)
	}

	f.throttle.now = f.throttle.now.Add(21 * time.Minute)
	if sent, err := f.svc.NotifyPendingBacklog(ctx); err != nil || sent {
		t.Errorf("unchanged backlog must not be announced again, sent=%v err=%v", sent, err)
	}
	f.users.add("P3", models.StatusPending)
	if sent, err := f.svc.NotifyPendingBacklog(ctx); err != nil || !sent {
		t.Errorf("expected a reminder for a new registration after the window, sent=%v err=%v", sent, err)
	}
	if len(f.notifier.jobs) != 2 {
		t.Errorf("jobs = %d, want 2", len(f.notifier.jobs))
	}
}

func TestNotifyPendingBacklog_NewRegistrationWaitsForWindow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.users.add("P1", models.StatusPending)
	if sent, _ := f.svc.NotifyPendingBacklog(ctx); !sent {
		t.Fatal("first registration should be announced")
	}
	f.users.add("P2", models.StatusPending)
	if sent, _ := f.svc.NotifyPendingBacklog(ctx); sent {
		t.Error("reminder inside the window")
	}
	f.throttle.now = f.throttle.now.Add(21 * time.Minute)
	if sent, _ := f.svc.NotifyPendingBacklog(ctx); !sent {
		t.Error("registration held back by the window should be announced once it passes")
	}
}

func TestNotifyPendingBacklog_EnqueueFailureReleasesWindow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.users.add("P1", models.StatusPending)
	f.notifier.failQueues = 1

	if sent, err := f.svc.NotifyPendingBacklog(ctx); err == nil || sent {
		t.Fatalf("expected enqueue failure, sent=%v err=%v", sent, err)
	}
	if sent, err := f.svc.NotifyPendingBacklog(ctx); err != nil || !sent {
		t.Errorf("retry within the window should send, sent=%v err=%v", sent, err)
	}
	if len(f.notifier.jobs) != 1 {
		t.Errorf("jobs = %d, want 1", len(f.notifier.jobs))
	}
}

func TestUserRegistered_PublishesAndReminds(t *testing.T) {
	f := newFixture()
	u := f.users.add("New", models.StatusPending)
	f.svc.UserRegistered(context.Background(), u)
	if len(f.pub.events) != 1 || len(f.notifier.jobs) != 1 {
		t.Errorf("events=%v jobs=%d", f.pub.events, len(f.notifier.jobs))
	}
}
