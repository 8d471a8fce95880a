package domain

import "time"

type ChatMessage struct {
	ID        string    `db:"id"`
	RoomID    string    `db:"room_id"`
	UserID    string    `db:"user_id"`
	Username  string    `db:"username"`
	Message   string    `db:"message"`
	Timestamp time.Time `db:"timestamp"`
}
