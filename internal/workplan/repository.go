package workplan

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/pkg/database"
)

const taskSelect = `SELECT w.id, w.group_id, w.task_name,
	COALESCE(w.assigned_to, '00000000-0000-0000-0000-000000000000'::uuid),
	COALESCE(TRIM(u.name || ' ' || u.lastname), ''),
	w.start_date, w.end_date, w.priority_level, w.status, w.created_at, w.updated_at
	FROM workplan w LEFT JOIN users u ON u.id = w.assigned_to`

// TaskInput holds the editable task fields.
type TaskInput struct {
	TaskName      string
	AssignedTo    uuid.UUID
	StartDate     time.Time
	EndDate       time.Time
	PriorityLevel models.TaskPriority
}

// Repository handles workplan persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a workplan repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	var priority, status string
	err := row.Scan(&t.ID, &t.GroupID, &t.TaskName, &t.AssignedTo, &t.AssignedToName,
		&t.StartDate, &t.EndDate, &priority, &status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, database.NoRows(err)
	}
	t.PriorityLevel = models.TaskPriority(priority)
	t.Status = models.TaskStatus(status)
	return &t, nil
}

// Create inserts a Pending task.
func (r *Repository) Create(ctx context.Context, groupID uuid.UUID, in TaskInput) (*models.Task, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `INSERT INTO workplan (group_id, task_name, assigned_to, start_date, end_date, priority_level)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		groupID, in.TaskName, in.AssignedTo, in.StartDate, in.EndDate, string(in.PriorityLevel)).Scan(&id)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Get returns a task by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, taskSelect+` WHERE w.id = $1`, id))
}

// ListByGroup returns the tasks of a group in insertion order.
func (r *Repository) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]models.Task, error) {
	rows, err := r.pool.Query(ctx, taskSelect+` WHERE w.group_id = $1 ORDER BY w.created_at`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// Update replaces the editable fields of a task.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, in TaskInput) (*models.Task, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE workplan SET task_name = $2, assigned_to = $3, start_date = $4, end_date = $5,
		priority_level = $6, updated_at = NOW() WHERE id = $1`,
		id, in.TaskName, in.AssignedTo, in.StartDate, in.EndDate, string(in.PriorityLevel))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, database.ErrNotFound
	}
	return r.Get(ctx, id)
}

// SetStatus writes status and reports whether the row actually changed. Concurrent identical
// transitions see changed=true exactly once.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status models.TaskStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE workplan SET status = $2, updated_at = NOW() WHERE id = $1 AND status <> $2`,
		id, string(status))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes a task.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM workplan WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}
