package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/auth"
	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/pkg/database"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSource map[uuid.UUID]identity.Identity

func (s stubSource) Get(_ context.Context, id uuid.UUID) (identity.Identity, error) {
	ident, ok := s[id]
	if !ok {
		return identity.Identity{}, database.ErrNotFound
	}
	return ident, nil
}

type failingSource struct{}

func (failingSource) Get(context.Context, uuid.UUID) (identity.Identity, error) {
	return identity.Identity{}, errors.New("db down")
}

func serve(r *gin.Engine, token string) int {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestGates(t *testing.T) {
	jwtSvc := auth.NewJWTService("secret", 1)
	admin := identity.Identity{ID: uuid.New(), Role: models.RoleTBIManager, Status: models.StatusApproved}
	dev := identity.Identity{ID: uuid.New(), Role: models.RoleDeveloper, Status: models.StatusApproved}
	pending := identity.Identity{ID: uuid.New(), Role: models.RoleIncubatee, Status: models.StatusPending}
	src := stubSource{admin.ID: admin, dev.ID: dev, pending.ID: pending}

	r := gin.New()
	r.GET("/x", JWT(jwtSvc), RequireApproved(src, zap.NewNop()), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	token := func(id uuid.UUID) string {
		tok, err := jwtSvc.Generate(&models.User{ID: id, Role: models.RoleTBIManager})
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		return tok
	}

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage token", "abc", http.StatusUnauthorized},
		{"deleted user", token(uuid.New()), http.StatusUnauthorized},
		{"pending user", token(pending.ID), http.StatusForbidden},
		// the token claims admin but the cached identity is a developer
		{"stale role claim", token(dev.ID), http.StatusForbidden},
		{"admin", token(admin.ID), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := serve(r, tt.token); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRequireApproved_LoaderError(t *testing.T) {
	jwtSvc := auth.NewJWTService("secret", 1)
	r := gin.New()
	r.GET("/x", JWT(jwtSvc), RequireApproved(failingSource{}, zap.NewNop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	tok, _ := jwtSvc.Generate(&models.User{ID: uuid.New()})
	if got := serve(r, tok); got != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", got)
	}
}

func TestRequireStaff(t *testing.T) {
	for role, want := range map[models.Role]int{
		models.RolePortfolioManager: http.StatusOK,
		models.RoleTBIAssistant:     http.StatusOK,
		models.RoleIncubatee:        http.StatusForbidden,
	} {
		r := gin.New()
		ident := identity.Identity{ID: uuid.New(), Role: role, Status: models.StatusApproved}
		r.GET("/x", func(c *gin.Context) { c.Set(identity.ContextIdentity, ident) }, RequireStaff(), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		if got := serve(r, ""); got != want {
			t.Errorf("%s: status = %d, want %d", role, got, want)
		}
	}
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"http://app.example.com"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://app.example.com" {
		t.Errorf("allow-origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected allow-origin for unknown origin: %q", got)
	}
}
