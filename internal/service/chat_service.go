package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kodescrux/collab/internal/domain"
	"github.com/kodescrux/collab/internal/postgres"

	"github.com/google/uuid"
)

const maxMessageLen = 4000

type ChatService struct {
	chatRepo *postgres.ChatRepository
}

func NewChatService(chatRepo *postgres.ChatRepository) *ChatService {
	return &ChatService{chatRepo: chatRepo}
}

// Save persists one chat message and returns it with the server-assigned
// id and timestamp.
func (s *ChatService) Save(ctx context.Context, roomID, userID, username, text string) (*domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyMessage
	}
	if len(text) > maxMessageLen {
		return nil, fmt.Errorf("message too long (%d > %d)", len(text), maxMessageLen)
	}

	m := &domain.ChatMessage{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		UserID:   userID,
		Username: username,
		Message:  text,
	}
	if err := s.chatRepo.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("chatRepo.Save: %w", err)
	}
	return m, nil
}

func (s *ChatService) History(ctx context.Context, roomID string, limit int) ([]domain.ChatMessage, error) {
	return s.chatRepo.History(ctx, roomID, limit)
}
