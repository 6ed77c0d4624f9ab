package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/pkg/database"
	"github.com/mariantrack/backend/pkg/utils"
)

// BootstrapAdmin describes the first administrator account.
type BootstrapAdmin struct {
	Email    string
	Password string
	Name     string
	Lastname string
}

// EnsureBootstrapAdmin creates an approved TBI Manager when none with that email exists.
// It is a no-op when Email is empty.
func EnsureBootstrapAdmin(ctx context.Context, users UserStore, admin BootstrapAdmin, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(admin.Email))
	if email == "" {
		return nil
	}
	_, err := users.GetByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("lookup bootstrap admin: %w", err)
	}

	hash, err := utils.HashPassword(admin.Password)
	if err != nil {
		return fmt.Errorf("hash bootstrap password: %w", err)
	}
	name := admin.Name
	if name == "" {
		name = "TBI"
	}
	u, err := users.Create(ctx, CreateUserParams{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Lastname:     admin.Lastname,
		Role:         models.RoleTBIManager,
		Status:       models.StatusApproved,
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil
		}
		return fmt.Errorf("create bootstrap admin: %w", err)
	}
	logger.Info("bootstrap admin created", zap.String("user_id", u.ID.String()), zap.String("email", email))
	return nil
}
