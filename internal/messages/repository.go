package messages

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/pkg/database"
)

const columns = `id, conversation_id, sender_id, receiver_id, message, timestamp, seen, edited, deleted`

// Repository handles message persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a messages repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Message, &m.Timestamp, &m.Seen, &m.Edited, &m.Deleted)
	if err != nil {
		return nil, database.NoRows(err)
	}
	return &m, nil
}

// Insert stores a new message stamped with the server time.
func (r *Repository) Insert(ctx context.Context, senderID, receiverID uuid.UUID, text string) (*models.Message, error) {
	return scanMessage(r.pool.QueryRow(ctx, `INSERT INTO messages (conversation_id, sender_id, receiver_id, message)
		VALUES ($1, $2, $3, $4) RETURNING `+columns,
		models.ConversationID(senderID, receiverID), senderID, receiverID, text))
}

// Get returns a message by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	return scanMessage(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM messages WHERE id = $1`, id))
}

// Edit replaces the text of a live message sent at or after notBefore.
func (r *Repository) Edit(ctx context.Context, id uuid.UUID, text string, notBefore time.Time) (*models.Message, error) {
	return scanMessage(r.pool.QueryRow(ctx, `UPDATE messages SET message = $2, edited = TRUE
		WHERE id = $1 AND NOT deleted AND timestamp >= $3 RETURNING `+columns, id, text, notBefore))
}

// SoftDelete clears the text and flags the message deleted.
func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	return scanMessage(r.pool.QueryRow(ctx, `UPDATE messages SET message = '', deleted = TRUE
		WHERE id = $1 RETURNING `+columns, id))
}

// MarkSeen flags the message seen and reports whether it was unseen before.
func (r *Repository) MarkSeen(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE messages SET seen = TRUE WHERE id = $1 AND NOT seen`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Conversation returns up to limit messages of a conversation older than before, in ascending time.
func (r *Repository) Conversation(ctx context.Context, conversationID string, limit int, before *time.Time) ([]models.Message, error) {
	q := `SELECT ` + columns + ` FROM (
		SELECT ` + columns + ` FROM messages WHERE conversation_id = $1 AND ($3::timestamptz IS NULL OR timestamp < $3)
		ORDER BY timestamp DESC LIMIT $2
	) page ORDER BY timestamp ASC`
	rows, err := r.pool.Query(ctx, q, conversationID, limit, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

// UnreadBySender counts unseen messages addressed to userID, per sender.
func (r *Repository) UnreadBySender(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT sender_id, COUNT(*) FROM messages
		WHERE receiver_id = $1 AND NOT seen AND NOT deleted GROUP BY sender_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]int)
	for rows.Next() {
		var sender uuid.UUID
		var n int
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, err
		}
		out[sender] = n
	}
	return out, rows.Err()
}

// Contacts returns every conversation partner of userID with the latest message, most recent first.
func (r *Repository) Contacts(ctx context.Context, userID uuid.UUID) ([]models.Contact, error) {
	const q = `WITH mine AS (
		SELECT m.*, CASE WHEN m.sender_id = $1 THEN m.receiver_id ELSE m.sender_id END AS partner
		FROM messages m WHERE m.sender_id = $1 OR m.receiver_id = $1
	), latest AS (
		SELECT DISTINCT ON (partner) * FROM mine ORDER BY partner, timestamp DESC
	)
	SELECT l.id, l.conversation_id, l.sender_id, l.receiver_id, l.message, l.timestamp, l.seen, l.edited, l.deleted,
		u.id, u.email, u.name, u.lastname, u.mobile, u.role, u.status, u.group_id, u.last_online, u.social_links, u.created_at,
		(SELECT COUNT(*) FROM messages x WHERE x.sender_id = l.partner AND x.receiver_id = $1 AND NOT x.seen AND NOT x.deleted)
	FROM latest l JOIN users u ON u.id = l.partner
	ORDER BY l.timestamp DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Contact{}
	for rows.Next() {
		var c models.Contact
		var role, status string
		m := &c.LastMessage
		u := &c.User
		err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Message, &m.Timestamp, &m.Seen, &m.Edited, &m.Deleted,
			&u.ID, &u.Email, &u.Name, &u.Lastname, &u.Mobile, &role, &status, &u.GroupID, &u.LastOnline, &u.SocialLinks, &u.CreatedAt,
			&c.Unread)
		if err != nil {
			return nil, err
		}
		u.Role = models.Role(role)
		u.Status = models.UserStatus(status)
		list = append(list, c)
	}
	return list, rows.Err()
}
