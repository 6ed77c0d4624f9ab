package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mariantrack/backend/internal/models"
)

func TestJWT_GenerateValidate(t *testing.T) {
	s := NewJWTService("secret", 1)
	u := &models.User{ID: uuid.New(), Email: "jane@example.com", Role: models.RoleIncubatee}

	tok, err := s.Generate(u)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	claims, err := s.Validate(tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserID != u.ID || claims.Email != u.Email || claims.Role != string(models.RoleIncubatee) {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestJWT_WrongSecret(t *testing.T) {
	tok, _ := NewJWTService("a", 1).Generate(&models.User{ID: uuid.New()})
	if _, err := NewJWTService("b", 1).Validate(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWT_Expired(t *testing.T) {
	s := NewJWTService("secret", 1)
	tok, _ := s.Generate(&models.User{ID: uuid.New()})
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := s.Validate(tok); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestJWT_Garbage(t *testing.T) {
	if _, err := NewJWTService("secret", 1).Validate("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
