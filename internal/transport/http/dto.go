package http

import "time"

type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateRoomRequest struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Code     string `json:"code"`
	MaxUsers int    `json:"max_users"`
	IsPublic *bool  `json:"is_public"`
}

type RoomItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	HostID    string    `json:"host_id,omitempty"`
	Language  string    `json:"language"`
	Code      string    `json:"code"`
	MaxUsers  int       `json:"max_users"`
	IsPublic  bool      `json:"is_public"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatMessageItem struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatHistoryResponse struct {
	Items []ChatMessageItem `json:"items"`
}
