package groups

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/pkg/database"
)

// These tests run the membership SQL against PostgreSQL when MARIANTRACK_TEST_DATABASE_URL is set.

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("MARIANTRACK_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MARIANTRACK_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := database.Migrate(ctx, pool, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func insertUser(t *testing.T, pool *pgxpool.Pool, role models.Role) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	var id uuid.UUID
	err := pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, name, role, status) VALUES ($1, 'x', 'Test', $2, 'approved') RETURNING id`,
		uuid.NewString()+"@example.com", string(role)).Scan(&id)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	t.Cleanup(func() { _, _ = pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, id) })
	return id
}

func insertGroup(t *testing.T, repo *Repository, pool *pgxpool.Pool) *models.Group {
	t.Helper()
	pm := insertUser(t, pool, models.RolePortfolioManager)
	g, err := repo.Create(context.Background(), "Group "+uuid.NewString()[:8], "", pm)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	// runs before the portfolio manager cleanup
	t.Cleanup(func() { _, _ = pool.Exec(context.Background(), `DELETE FROM groups WHERE id = $1`, g.ID) })
	return g
}

type userRow struct {
	groupID *uuid.UUID
	role    string
}

func loadUser(t *testing.T, pool *pgxpool.Pool, id uuid.UUID) userRow {
	t.Helper()
	var u userRow
	if err := pool.QueryRow(context.Background(), `SELECT group_id, role FROM users WHERE id = $1`, id).Scan(&u.groupID, &u.role); err != nil {
		t.Fatalf("load user: %v", err)
	}
	return u
}

func TestRepository_ConcurrentProjectManagers(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	g := insertGroup(t, repo, pool)
	a := insertUser(t, pool, models.RoleIncubatee)
	b := insertUser(t, pool, models.RoleIncubatee)

	start := make(chan struct{})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, uid := range []uuid.UUID{a, b} {
		wg.Add(1)
		go func(i int, uid uuid.UUID) {
			defer wg.Done()
			<-start
			errs[i] = repo.AddMember(ctx, g.ID, uid, models.GroupRoleProjectManager)
		}(i, uid)
	}
	close(start)
	wg.Wait()

	ok, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrGroupHasPM):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Fatalf("ok=%d rejected=%d, want 1 and 1", ok, rejected)
	}

	var pms int
	err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM group_members WHERE group_id = $1 AND group_role = 'Project Manager'`, g.ID).Scan(&pms)
	if err != nil || pms != 1 {
		t.Fatalf("project managers = %d, err %v", pms, err)
	}
	loser := a
	if errs[0] == nil {
		loser = b
	}
	if u := loadUser(t, pool, loser); u.groupID != nil || u.role != string(models.RoleIncubatee) {
		t.Errorf("rejected user changed: %+v", u)
	}
}

func TestRepository_AddMemberRejectsSecondGroup(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	g1, g2 := insertGroup(t, repo, pool), insertGroup(t, repo, pool)
	dev := insertUser(t, pool, models.RoleIncubatee)

	if err := repo.AddMember(ctx, g1.ID, dev, models.GroupRoleDeveloper); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := repo.AddMember(ctx, g2.ID, dev, models.GroupRoleDeveloper); !errors.Is(err, ErrAlreadyInGroup) {
		t.Errorf("second group err = %v, want ErrAlreadyInGroup", err)
	}
}

func TestRepository_RemoveMemberResetsUser(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	g := insertGroup(t, repo, pool)
	dev := insertUser(t, pool, models.RoleIncubatee)

	if err := repo.AddMember(ctx, g.ID, dev, models.GroupRoleSystemAnalyst); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if u := loadUser(t, pool, dev); u.groupID == nil || *u.groupID != g.ID || u.role != string(models.RoleSystemAnalyst) {
		t.Fatalf("after add: %+v", u)
	}

	if err := repo.RemoveMember(ctx, g.ID, dev); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if u := loadUser(t, pool, dev); u.groupID != nil || u.role != string(models.RoleIncubatee) {
		t.Errorf("after remove: %+v", u)
	}
	if err := repo.RemoveMember(ctx, g.ID, dev); !errors.Is(err, ErrNotMember) {
		t.Errorf("second removal err = %v, want ErrNotMember", err)
	}
}

func TestRepository_DeleteDetachesMembers(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	g := insertGroup(t, repo, pool)
	dev := insertUser(t, pool, models.RoleIncubatee)
	if err := repo.AddMember(ctx, g.ID, dev, models.GroupRoleDeveloper); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	_, members, err := repo.Delete(ctx, g.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(members) != 1 || members[0] != dev {
		t.Errorf("detached = %v, want [%s]", members, dev)
	}
	if u := loadUser(t, pool, dev); u.groupID != nil || u.role != string(models.RoleIncubatee) {
		t.Errorf("member not reset: %+v", u)
	}
	if _, err := repo.Get(ctx, g.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
	if _, _, err := repo.Delete(ctx, g.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}
