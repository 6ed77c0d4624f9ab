package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/pkg/database"
)

const userColumns = `id, email, password_hash, name, lastname, mobile, role, status,
	group_id, last_online, social_links, created_at, updated_at`

// ErrEmailTaken is returned by Create when the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var role, status string
	err := row.Scan(&u.ID, &u.Email, &u.Password, &u.Name, &u.Lastname, &u.Mobile, &role, &status,
		&u.GroupID, &u.LastOnline, &u.SocialLinks, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, database.NoRows(err)
	}
	u.Role = models.Role(role)
	u.Status = models.UserStatus(status)
	return &u, nil
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail returns a user by email, case-insensitively.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

// CreateUserParams holds the fields of a new account.
type CreateUserParams struct {
	Email        string
	PasswordHash string
	Name         string
	Lastname     string
	Mobile       string
	Role         models.Role
	Status       models.UserStatus
}

// Create inserts a new user.
func (r *Repository) Create(ctx context.Context, p CreateUserParams) (*models.User, error) {
	if p.Status == "" {
		p.Status = models.StatusPending
	}
	const q = `INSERT INTO users (email, password_hash, name, lastname, mobile, role, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, q, p.Email, p.PasswordHash, p.Name, p.Lastname, p.Mobile, string(p.Role), string(p.Status)))
	if err != nil {
		if database.IsUniqueViolation(err, "users_email_key") {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return u, nil
}

// List returns users matching the filter, ordered by name.
func (r *Repository) List(ctx context.Context, f models.UserFilter) ([]models.UserPublic, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(f.Roles) > 0 {
		roles := make([]string, len(f.Roles))
		for i, role := range f.Roles {
			roles[i] = string(role)
		}
		args = append(args, roles)
		where = append(where, fmt.Sprintf("role = ANY($%d)", len(args)))
	}
	if f.Unassigned {
		where = append(where, "group_id IS NULL")
	}
	q := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY name, lastname, email"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.UserPublic{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, u.ToPublic())
	}
	return list, rows.Err()
}

// ProfileUpdate holds the self-editable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name        *string
	Lastname    *string
	Mobile      *string
	SocialLinks *models.SocialLinks
}

// UpdateProfile applies a profile update and returns the stored user.
func (r *Repository) UpdateProfile(ctx context.Context, id uuid.UUID, p ProfileUpdate) (*models.User, error) {
	const q = `UPDATE users SET
		name = COALESCE($2, name),
		lastname = COALESCE($3, lastname),
		mobile = COALESCE($4, mobile),
		social_links = COALESCE($5, social_links),
		updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, q, id, p.Name, p.Lastname, p.Mobile, p.SocialLinks))
}

// Approve moves a pending user to approved. Returns ErrNotFound when no pending user has that id.
func (r *Repository) Approve(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `UPDATE users SET status = 'approved', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, q, id))
}

// DeleteWithStatus hard-deletes a user only while it has the given status.
func (r *Repository) DeleteWithStatus(ctx context.Context, id uuid.UUID, status models.UserStatus) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1 AND status = $2`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// Touch records the last time the user was seen online.
func (r *Repository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_online = $2 WHERE id = $1`, id, at)
	return err
}

// PendingSummary returns the number of accounts awaiting approval and the registration time of the newest.
func (r *Repository) PendingSummary(ctx context.Context) (int, time.Time, error) {
	var n int
	var newest time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(MAX(created_at), 'epoch'::timestamptz) FROM users WHERE status = 'pending'`).Scan(&n, &newest)
	return n, newest, err
}
