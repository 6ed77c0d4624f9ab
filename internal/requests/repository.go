package requests

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/pkg/database"
)

const requestSelect = `SELECT r.id, r.group_id,
	COALESCE(r.responsible_team_member, '00000000-0000-0000-0000-000000000000'::uuid),
	COALESCE(TRIM(u.name || ' ' || u.lastname), ''),
	r.description, r.technical_requirement, r.date_entry, r.date_needed, r.resource_tool_needed,
	r.prospect_resource_person, r.priority_level, r.remarks, r.status,
	COALESCE(r.created_by, '00000000-0000-0000-0000-000000000000'::uuid), r.updated_at
	FROM requests r LEFT JOIN users u ON u.id = r.responsible_team_member`

// Input holds the editable request fields.
type Input struct {
	ResponsibleTeamMember  uuid.UUID
	Description            string
	TechnicalRequirement   string
	DateNeeded             *time.Time
	ResourceToolNeeded     string
	ProspectResourcePerson string
	PriorityLevel          models.RequestPriority
	Remarks                string
}

// Repository handles request persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a requests repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRequest(row pgx.Row) (*models.Request, error) {
	var r models.Request
	var priority, status string
	err := row.Scan(&r.ID, &r.GroupID, &r.ResponsibleTeamMember, &r.ResponsibleTeamMemberName,
		&r.Description, &r.TechnicalRequirement, &r.DateEntry, &r.DateNeeded, &r.ResourceToolNeeded,
		&r.ProspectResourcePerson, &priority, &r.Remarks, &status, &r.CreatedBy, &r.UpdatedAt)
	if err != nil {
		return nil, database.NoRows(err)
	}
	r.PriorityLevel = models.RequestPriority(priority)
	r.Status = models.RequestStatus(status)
	return &r, nil
}

// Create inserts a Pending request stamped with the server time.
func (r *Repository) Create(ctx context.Context, groupID, createdBy uuid.UUID, in Input) (*models.Request, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `INSERT INTO requests (group_id, responsible_team_member, description, technical_requirement,
		date_needed, resource_tool_needed, prospect_resource_person, priority_level, remarks, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		groupID, in.ResponsibleTeamMember, in.Description, in.TechnicalRequirement, in.DateNeeded,
		in.ResourceToolNeeded, in.ProspectResourcePerson, string(in.PriorityLevel), in.Remarks,
		string(models.RequestPending), createdBy).Scan(&id)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Get returns a request by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	return scanRequest(r.pool.QueryRow(ctx, requestSelect+` WHERE r.id = $1`, id))
}

// ListByGroup returns the group's requests, newest first.
func (r *Repository) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]models.Request, error) {
	rows, err := r.pool.Query(ctx, requestSelect+` WHERE r.group_id = $1 ORDER BY r.date_entry DESC`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *req)
	}
	return list, rows.Err()
}

// Update replaces the editable fields.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, in Input) (*models.Request, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE requests SET responsible_team_member = $2, description = $3,
		technical_requirement = $4, date_needed = $5, resource_tool_needed = $6, prospect_resource_person = $7,
		priority_level = $8, remarks = $9, updated_at = NOW() WHERE id = $1`,
		id, in.ResponsibleTeamMember, in.Description, in.TechnicalRequirement, in.DateNeeded,
		in.ResourceToolNeeded, in.ProspectResourcePerson, string(in.PriorityLevel), in.Remarks)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, database.ErrNotFound
	}
	return r.Get(ctx, id)
}

// SetStatus writes a new status.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status models.RequestStatus) (*models.Request, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE requests SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, database.ErrNotFound
	}
	return r.Get(ctx, id)
}

// Delete removes a request.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM requests WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}
