package groups

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/pkg/database"
)

const groupSelect = `SELECT g.id, g.name, g.description, g.image_url, g.image_key, g.portfolio_manager_id,
	g.archived, g.created_at, g.updated_at,
	COALESCE(u.name, ''), COALESCE(u.lastname, ''), COALESCE(u.email, '')
	FROM groups g LEFT JOIN users u ON u.id = g.portfolio_manager_id`

// Filter narrows group listings.
type Filter struct {
	Archived           bool
	PortfolioManagerID *uuid.UUID
	GroupID            *uuid.UUID
}

// Update holds editable group fields. Nil fields are left unchanged.
type Update struct {
	Name               *string
	Description        *string
	PortfolioManagerID *uuid.UUID
}

// Repository handles group and membership persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a groups repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanGroup(row pgx.Row) (*models.Group, error) {
	var g models.Group
	var pmName, pmLastname, pmEmail string
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.ImageURL, &g.ImageKey, &g.PortfolioManagerID,
		&g.Archived, &g.CreatedAt, &g.UpdatedAt, &pmName, &pmLastname, &pmEmail)
	if err != nil {
		return nil, database.NoRows(err)
	}
	if g.PortfolioManagerID != nil {
		g.PortfolioManager = &models.PortfolioManagerRef{ID: *g.PortfolioManagerID, Name: pmName, Lastname: pmLastname, Email: pmEmail}
	}
	g.Members = []models.GroupMember{}
	return &g, nil
}

// Create inserts a group.
func (r *Repository) Create(ctx context.Context, name, description string, portfolioManagerID uuid.UUID) (*models.Group, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`INSERT INTO groups (name, description, portfolio_manager_id) VALUES ($1, $2, $3) RETURNING id`,
		name, description, portfolioManagerID).Scan(&id)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Get returns a group with its portfolio manager and members resolved from users.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	g, err := scanGroup(r.pool.QueryRow(ctx, groupSelect+` WHERE g.id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.attachMembers(ctx, []*models.Group{g}); err != nil {
		return nil, err
	}
	return g, nil
}

// List returns groups matching the filter, ordered by name.
func (r *Repository) List(ctx context.Context, f Filter) ([]models.Group, error) {
	q := groupSelect + ` WHERE g.archived = $1`
	args := []interface{}{f.Archived}
	if f.PortfolioManagerID != nil {
		args = append(args, *f.PortfolioManagerID)
		q += fmt.Sprintf(` AND g.portfolio_manager_id = $%d`, len(args))
	}
	if f.GroupID != nil {
		args = append(args, *f.GroupID)
		q += fmt.Sprintf(` AND g.id = $%d`, len(args))
	}
	q += ` ORDER BY g.name`

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var list []*models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachMembers(ctx, list); err != nil {
		return nil, err
	}
	out := make([]models.Group, len(list))
	for i, g := range list {
		out[i] = *g
	}
	return out, nil
}

func (r *Repository) attachMembers(ctx context.Context, groups []*models.Group) error {
	if len(groups) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*models.Group, len(groups))
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
		ids = append(ids, g.ID.String())
	}
	rows, err := r.pool.Query(ctx, `SELECT m.group_id, u.id, u.name, u.lastname, u.email, m.group_role, m.added_at
		FROM group_members m JOIN users u ON u.id = m.user_id
		WHERE m.group_id = ANY($1::uuid[])
		ORDER BY m.added_at`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var gid uuid.UUID
		var m models.GroupMember
		var role string
		if err := rows.Scan(&gid, &m.ID, &m.Name, &m.Lastname, &m.Email, &role, &m.AddedAt); err != nil {
			return err
		}
		m.GroupRole = models.GroupRole(role)
		if g, ok := byID[gid]; ok {
			g.Members = append(g.Members, m)
		}
	}
	return rows.Err()
}

// Update applies field changes.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, u Update) (*models.Group, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE groups SET
		name = COALESCE($2, name),
		description = COALESCE($3, description),
		portfolio_manager_id = COALESCE($4, portfolio_manager_id),
		updated_at = NOW()
		WHERE id = $1`, id, u.Name, u.Description, u.PortfolioManagerID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, database.ErrNotFound
	}
	return r.Get(ctx, id)
}

// SetImage stores the image location and returns the previous object key.
func (r *Repository) SetImage(ctx context.Context, id uuid.UUID, url, key string) (string, error) {
	var old string
	err := database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT image_key FROM groups WHERE id = $1 FOR UPDATE`, id).Scan(&old); err != nil {
			return database.NoRows(err)
		}
		_, err := tx.Exec(ctx, `UPDATE groups SET image_url = $2, image_key = $3, updated_at = NOW() WHERE id = $1`, id, url, key)
		return err
	})
	if err != nil {
		return "", err
	}
	return old, nil
}

// SetArchived flips the archived flag.
func (r *Repository) SetArchived(ctx context.Context, id uuid.UUID, archived bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE groups SET archived = $2, updated_at = NOW() WHERE id = $1`, id, archived)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// Delete removes a group and detaches its members in one transaction. Workplan and requests cascade.
// Returns the image key and the ids of the detached members.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (string, []uuid.UUID, error) {
	var (
		imageKey string
		members  []uuid.UUID
	)
	err := database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT image_key FROM groups WHERE id = $1 FOR UPDATE`, id).Scan(&imageKey); err != nil {
			return database.NoRows(err)
		}
		rows, err := tx.Query(ctx, `UPDATE users SET group_id = NULL, role = $2, updated_at = NOW()
			WHERE id IN (SELECT user_id FROM group_members WHERE group_id = $1)
			RETURNING id`, id, string(models.RoleIncubatee))
		if err != nil {
			return err
		}
		for rows.Next() {
			var uid uuid.UUID
			if err := rows.Scan(&uid); err != nil {
				rows.Close()
				return err
			}
			members = append(members, uid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return imageKey, members, nil
}

// AddMember adds userID to the group with role. The group row lock serialises concurrent additions
// to one group; the partial unique index and the user unique key back the checks.
func (r *Repository) AddMember(ctx context.Context, groupID, userID uuid.UUID, role models.GroupRole) error {
	return database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		var archived bool
		err := tx.QueryRow(ctx, `SELECT archived FROM groups WHERE id = $1 FOR UPDATE`, groupID).Scan(&archived)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrGroupNotFound
			}
			return err
		}
		if archived {
			return ErrGroupArchived
		}

		var status, userRole string
		var current *uuid.UUID
		err = tx.QueryRow(ctx, `SELECT status, role, group_id FROM users WHERE id = $1 FOR UPDATE`, userID).
			Scan(&status, &userRole, &current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return err
		}
		if err := checkCandidate(models.UserStatus(status), models.Role(userRole), current); err != nil {
			return err
		}

		if role == models.GroupRoleProjectManager {
			var taken bool
			err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND group_role = $2)`,
				groupID, string(models.GroupRoleProjectManager)).Scan(&taken)
			if err != nil {
				return err
			}
			if taken {
				return ErrGroupHasPM
			}
		}

		_, err = tx.Exec(ctx, `INSERT INTO group_members (group_id, user_id, group_role) VALUES ($1, $2, $3)`,
			groupID, userID, string(role))
		if err != nil {
			switch {
			case database.IsUniqueViolation(err, "group_members_one_pm"):
				return ErrGroupHasPM
			case database.IsUniqueViolation(err, "group_members_user_key"), database.IsUniqueViolation(err, "group_members_pkey"):
				return ErrAlreadyInGroup
			}
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE users SET group_id = $1, role = $2, updated_at = NOW() WHERE id = $3`,
			groupID, string(role), userID)
		return err
	})
}

// RemoveMember deletes the membership and resets the user to an unassigned Incubatee.
func (r *Repository) RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error {
	return database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotMember
		}
		_, err = tx.Exec(ctx, `UPDATE users SET group_id = NULL, role = $2, updated_at = NOW() WHERE id = $1`,
			userID, string(models.RoleIncubatee))
		return err
	})
}

// PortfolioManagerOf returns the portfolio manager id of a group, nil when unassigned.
func (r *Repository) PortfolioManagerOf(ctx context.Context, groupID uuid.UUID) (*uuid.UUID, error) {
	var pm *uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT portfolio_manager_id FROM groups WHERE id = $1`, groupID).Scan(&pm)
	if err != nil {
		return nil, database.NoRows(err)
	}
	return pm, nil
}

// checkCandidate applies the membership preconditions on the locked user row.
func checkCandidate(status models.UserStatus, role models.Role, current *uuid.UUID) error {
	switch {
	case status != models.StatusApproved:
		return ErrUserNotApproved
	case !role.IsIncubatee():
		return ErrNotIncubatee
	case current != nil:
		return ErrAlreadyInGroup
	}
	return nil
}
