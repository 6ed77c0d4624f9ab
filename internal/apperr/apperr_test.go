package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/pkg/database"
	"github.com/mariantrack/backend/pkg/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRespond_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", Invalid("bad"), http.StatusBadRequest},
		{"unauthorized", Unauthorized("who"), http.StatusUnauthorized},
		{"forbidden", Forbidden("no"), http.StatusForbidden},
		{"not found", NotFound("gone"), http.StatusNotFound},
		{"db not found", fmt.Errorf("get: %w", database.ErrNotFound), http.StatusNotFound},
		{"conflict", fmt.Errorf("add: %w", Conflict("dup")), http.StatusConflict},
		{"storage", fmt.Errorf("upload: %w", storage.ErrUnavailable), http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			Respond(c, zap.NewNop(), tt.err, "failed")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestError_MessageAndKind(t *testing.T) {
	err := fmt.Errorf("wrap: %w", Conflict("group already has a Project Manager"))
	if !errors.Is(err, ErrConflict) {
		t.Error("expected ErrConflict kind")
	}
	var ae *Error
	if !errors.As(err, &ae) || ae.Msg != "group already has a Project Manager" {
		t.Errorf("unexpected message: %v", err)
	}
}
