package postgres

import (
	"context"

	"github.com/kodescrux/collab/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type ChatRepository struct {
	db *pgxpool.Pool
}

func NewChatRepository(db *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) Save(ctx context.Context, m *domain.ChatMessage) error {
	row := r.db.QueryRow(ctx, `
		INSERT INTO room_messages (id, room_id, user_id, username, message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING timestamp
	`, m.ID, m.RoomID, m.UserID, m.Username, m.Message)

	return row.Scan(&m.Timestamp)
}

// History returns up to limit messages for a room in chronological order.
// The transcript is append-only, so ascending order matches the order the
// messages were broadcast in.
func (r *ChatRepository) History(ctx context.Context, roomID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, room_id, user_id, username, message, timestamp
		FROM room_messages
		WHERE room_id = $1
		ORDER BY timestamp ASC, id ASC
		LIMIT $2
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Username, &m.Message, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *ChatRepository) DeleteByRoom(ctx context.Context, roomID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM room_messages WHERE room_id=$1`, roomID)
	return err
}
