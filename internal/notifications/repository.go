package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/pkg/database"
)

const columns = `id, user_id, message, type, group_id, read, timestamp`

// Repository handles notification persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a notifications repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanNotification(row pgx.Row) (*models.Notification, error) {
	var n models.Notification
	var typ string
	if err := row.Scan(&n.ID, &n.UserID, &n.Message, &typ, &n.GroupID, &n.Read, &n.Timestamp); err != nil {
		return nil, database.NoRows(err)
	}
	n.Type = models.NotificationType(typ)
	return &n, nil
}

func collect(rows pgx.Rows) ([]models.Notification, error) {
	defer rows.Close()
	list := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *n)
	}
	return list, rows.Err()
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// InsertMany appends one notification per recipient in a single statement.
func (r *Repository) InsertMany(ctx context.Context, userIDs []uuid.UUID, message string, typ models.NotificationType, groupID *uuid.UUID) ([]models.Notification, error) {
	const q = `INSERT INTO notifications (user_id, message, type, group_id)
		SELECT u, $2, $3, $4 FROM unnest($1::uuid[]) AS u
		RETURNING ` + columns
	rows, err := r.pool.Query(ctx, q, idStrings(userIDs), message, string(typ), groupID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// List returns a user's notifications, newest first.
func (r *Repository) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]models.Notification, error) {
	q := `SELECT ` + columns + ` FROM notifications WHERE user_id = $1`
	if unreadOnly {
		q += ` AND NOT read`
	}
	q += ` ORDER BY timestamp DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// UnreadCount returns the number of unread notifications of a user.
func (r *Repository) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT read`, userID).Scan(&n)
	return n, err
}

// MarkRead marks one notification owned by userID as read.
func (r *Repository) MarkRead(ctx context.Context, id, userID uuid.UUID) (*models.Notification, error) {
	const q = `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2 RETURNING ` + columns
	return scanNotification(r.pool.QueryRow(ctx, q, id, userID))
}

// MarkAllRead marks the user's unread notifications read. When ids is non-empty only those are touched.
func (r *Repository) MarkAllRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	q := `UPDATE notifications SET read = TRUE WHERE user_id = $1 AND NOT read`
	args := []interface{}{userID}
	if len(ids) > 0 {
		q += ` AND id = ANY($2::uuid[])`
		args = append(args, idStrings(ids))
	}
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteAll removes the user's notifications. When ids is non-empty only those are removed.
func (r *Repository) DeleteAll(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	q := `DELETE FROM notifications WHERE user_id = $1`
	args := []interface{}{userID}
	if len(ids) > 0 {
		q += ` AND id = ANY($2::uuid[])`
		args = append(args, idStrings(ids))
	}
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes one notification owned by userID.
func (r *Repository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// DeleteReadBefore purges read notifications older than cutoff.
func (r *Repository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE read AND timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GroupMemberIDs returns the user ids of a group's members.
func (r *Repository) GroupMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return r.ids(ctx, `SELECT user_id FROM group_members WHERE group_id = $1`, groupID)
}

// AdminIDs returns the ids of approved administrators.
func (r *Repository) AdminIDs(ctx context.Context) ([]uuid.UUID, error) {
	return r.ids(ctx, `SELECT id FROM users WHERE status = 'approved' AND role = ANY($1)`,
		[]string{string(models.RoleTBIManager), string(models.RoleTBIAssistant)})
}

func (r *Repository) ids(ctx context.Context, q string, args ...interface{}) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
