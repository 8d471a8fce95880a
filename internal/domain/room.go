package domain

import "time"

type Room struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	HostID    string    `db:"host_id"`
	Language  string    `db:"language"`
	Code      string    `db:"code"`
	MaxUsers  int       `db:"max_users"`
	IsPublic  bool      `db:"is_public"`
	CreatedAt time.Time `db:"created_at"`
}
