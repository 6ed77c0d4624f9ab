package requests

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/apperr"
	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/pkg/database"
	"github.com/mariantrack/backend/pkg/queue"
)

type memRequests struct {
	mu    sync.Mutex
	clock time.Time
	items map[uuid.UUID]*models.Request
}

func (m *memRequests) Create(_ context.Context, groupID, createdBy uuid.UUID, in Input) (*models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = m.clock.Add(time.Minute)
	r := &models.Request{ID: uuid.New(), GroupID: groupID, CreatedBy: createdBy, Status: models.RequestPending, DateEntry: m.clock}
	apply(r, in)
	m.items[r.ID] = r
	cp := *r
	return &cp, nil
}

func apply(r *models.Request, in Input) {
	r.ResponsibleTeamMember = in.ResponsibleTeamMember
	r.Description = in.Description
	r.PriorityLevel = in.PriorityLevel
	r.Remarks = in.Remarks
	r.DateNeeded = in.DateNeeded
}

func (m *memRequests) Get(_ context.Context, id uuid.UUID) (*models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRequests) ListByGroup(_ context.Context, groupID uuid.UUID) ([]models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := []models.Request{}
	for _, r := range m.items {
		if r.GroupID == groupID {
			list = append(list, *r)
		}
	}
	// newest first, as the repository orders by date_entry
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].DateEntry.After(list[j-1].DateEntry); j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
	return list, nil
}

func (m *memRequests) Update(_ context.Context, id uuid.UUID, in Input) (*models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	apply(r, in)
	cp := *r
	return &cp, nil
}

func (m *memRequests) SetStatus(_ context.Context, id uuid.UUID, status models.RequestStatus) (*models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	r.Status = status
	cp := *r
	return &cp, nil
}

func (m *memRequests) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return database.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

type memGroups map[uuid.UUID]*models.Group

func (m memGroups) Get(_ context.Context, id uuid.UUID) (*models.Group, error) {
	g, ok := m[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return g, nil
}

type recNotifier struct {
	direct  map[uuid.UUID]int
	fanouts []queue.FanoutPayload
}

func (r *recNotifier) Notify(_ context.Context, userID uuid.UUID, _ string, _ models.NotificationType, _ *uuid.UUID) error {
	r.direct[userID]++
	return nil
}

func (r *recNotifier) Enqueue(_ context.Context, p queue.FanoutPayload) error {
	r.fanouts = append(r.fanouts, p)
	return nil
}

type env struct {
	svc      *Service
	notifier *recNotifier
	group    *models.Group
	pm, dev  identity.Identity
	portMgr  identity.Identity
	admin    identity.Identity
}

func newEnv() *env {
	gid := uuid.New()
	pmID, devID, portID := uuid.New(), uuid.New(), uuid.New()
	g := &models.Group{ID: gid, Name: "Acme", PortfolioManagerID: &portID, Members: []models.GroupMember{
		{ID: pmID, GroupRole: models.GroupRoleProjectManager},
		{ID: devID, GroupRole: models.GroupRoleDeveloper},
	}}
	n := &recNotifier{direct: make(map[uuid.UUID]int)}
	store := &memRequests{clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), items: make(map[uuid.UUID]*models.Request)}
	return &env{
		svc:      NewService(store, memGroups{gid: g}, n, nil, zap.NewNop()),
		notifier: n,
		group:    g,
		pm:       identity.Identity{ID: pmID, Role: models.RoleProjectManager, Status: models.StatusApproved, GroupID: &gid},
		dev:      identity.Identity{ID: devID, Role: models.RoleDeveloper, Status: models.StatusApproved, GroupID: &gid},
		portMgr:  identity.Identity{ID: portID, Role: models.RolePortfolioManager, Status: models.StatusApproved},
		admin:    identity.Identity{ID: uuid.New(), Role: models.RoleTBIAssistant, Status: models.StatusApproved},
	}
}

func (e *env) input(desc string) Input {
	return Input{ResponsibleTeamMember: e.dev.ID, Description: desc, PriorityLevel: models.RequestPriorityHigh}
}

func TestCreate_NotifiesPortfolioManagerOnce(t *testing.T) {
	e := newEnv()
	r, err := e.svc.Create(context.Background(), e.pm, e.group.ID, e.input("Cloud credits"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Status != models.RequestPending || r.CreatedBy != e.pm.ID || r.DateEntry.IsZero() {
		t.Errorf("unexpected request %+v", r)
	}
	if n := e.notifier.direct[*e.group.PortfolioManagerID]; n != 1 {
		t.Errorf("portfolio manager notifications = %d, want 1", n)
	}
	if len(e.notifier.direct) != 1 {
		t.Errorf("only the portfolio manager should be notified: %v", e.notifier.direct)
	}
}

func TestCreate_Rejections(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	if _, err := e.svc.Create(ctx, e.dev, e.group.ID, e.input("x")); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("developer create err = %v", err)
	}
	bad := e.input("x")
	bad.PriorityLevel = "urgent"
	if _, err := e.svc.Create(ctx, e.pm, e.group.ID, bad); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("bad priority err = %v", err)
	}
	stranger := e.input("x")
	stranger.ResponsibleTeamMember = uuid.New()
	if _, err := e.svc.Create(ctx, e.pm, e.group.ID, stranger); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("non-member responsible err = %v", err)
	}
}

func TestUpdateDelete_CreatorOnly(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	r, _ := e.svc.Create(ctx, e.pm, e.group.ID, e.input("Mentor"))

	if _, err := e.svc.Update(ctx, e.portMgr, r.ID, e.input("changed")); !errors.Is(err, ErrNotCreator) {
		t.Errorf("portfolio manager update err = %v", err)
	}
	got, err := e.svc.Update(ctx, e.pm, r.ID, e.input("  Legal mentor  "))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Description != "Legal mentor" {
		t.Errorf("description = %q", got.Description)
	}
	if err := e.svc.Delete(ctx, e.admin, r.ID); !errors.Is(err, ErrNotCreator) {
		t.Errorf("admin delete err = %v", err)
	}
	if err := e.svc.Delete(ctx, e.pm, r.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestUpdateDelete_CreatorMustStillBeMember(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	r, _ := e.svc.Create(ctx, e.pm, e.group.ID, e.input("Mentor"))

	e.group.Members = e.group.Members[1:]
	if _, err := e.svc.Update(ctx, e.pm, r.ID, e.input("changed")); !errors.Is(err, ErrLeftGroup) {
		t.Errorf("former member update err = %v, want ErrLeftGroup", err)
	}
	if err := e.svc.Delete(ctx, e.pm, r.ID); !errors.Is(err, ErrLeftGroup) {
		t.Errorf("former member delete err = %v, want ErrLeftGroup", err)
	}
}

func TestSetStatus_AnyOrderWithGroupFanout(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	r, _ := e.svc.Create(ctx, e.pm, e.group.ID, e.input("Server"))

	if _, err := e.svc.SetStatus(ctx, e.pm, r.ID, models.RequestDone); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("project manager status err = %v", err)
	}
	if _, err := e.svc.SetStatus(ctx, e.portMgr, r.ID, "Cancelled"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("unknown status err = %v", err)
	}

	sequence := []struct {
		actor  identity.Identity
		status models.RequestStatus
	}{
		{e.portMgr, models.RequestDone},
		{e.admin, models.RequestPending},
		{e.portMgr, models.RequestOngoing},
		{e.portMgr, models.RequestToBeRequested},
	}
	for _, step := range sequence {
		got, err := e.svc.SetStatus(ctx, step.actor, r.ID, step.status)
		if err != nil {
			t.Fatalf("SetStatus %s: %v", step.status, err)
		}
		if got.Status != step.status {
			t.Errorf("status = %s, want %s", got.Status, step.status)
		}
	}

	if len(e.notifier.fanouts) != len(sequence) {
		t.Fatalf("fanouts = %d, want %d", len(e.notifier.fanouts), len(sequence))
	}
	f := e.notifier.fanouts[0]
	if f.Audience != queue.AudienceGroup || f.GroupID == nil || *f.GroupID != e.group.ID || f.Exclude == nil || *f.Exclude != e.portMgr.ID {
		t.Errorf("unexpected fanout %+v", f)
	}
	if f.Type != string(models.NotificationRequest) {
		t.Errorf("fanout type = %q", f.Type)
	}
}

func TestList_NewestFirstAndVisibility(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	first, _ := e.svc.Create(ctx, e.pm, e.group.ID, e.input("first"))
	second, _ := e.svc.Create(ctx, e.pm, e.group.ID, e.input("second"))

	list, err := e.svc.List(ctx, e.dev, e.group.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("unexpected order %v", list)
	}
	other := identity.Identity{ID: uuid.New(), Role: models.RoleDeveloper, Status: models.StatusApproved}
	if _, err := e.svc.List(ctx, other, e.group.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("outsider List err = %v", err)
	}
}

func TestHandler_StatusByEmployee(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := newEnv()
	r, _ := e.svc.Create(context.Background(), e.pm, e.group.ID, e.input("Server"))
	h := NewHandler(e.svc, zap.NewNop())

	tests := []struct {
		name  string
		actor identity.Identity
		body  string
		want  int
	}{
		{"portfolio manager", e.portMgr, `{"status":"On-going"}`, http.StatusOK},
		{"unknown status", e.portMgr, `{"status":"Lost"}`, http.StatusBadRequest},
		{"member", e.dev, `{"status":"Done"}`, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(func(c *gin.Context) { c.Set(identity.ContextIdentity, tt.actor) })
			router.PATCH("/requests/:id/status", h.SetStatus)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/requests/"+r.ID.String()+"/status", strings.NewReader(tt.body)))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
