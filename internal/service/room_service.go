package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kodescrux/collab/internal/cache"
	"github.com/kodescrux/collab/internal/domain"
	"github.com/kodescrux/collab/internal/postgres"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/singleflight"
)

const (
	roomIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	roomIDSize     = 8

	defaultMaxUsers = 10
)

// MemberCounter reports how many members are currently connected to a
// room. Implemented by the ws hub; membership is never persisted.
type MemberCounter interface {
	Count(roomID string) int
}

// RoomListing is one entry of the public room directory.
type RoomListing struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Language  string    `json:"language"`
	UserCount int       `json:"user_count"`
	MaxUsers  int       `json:"max_users"`
	CreatedAt time.Time `json:"created_at"`
}

type RoomService struct {
	roomRepo *postgres.RoomRepository
	chatRepo *postgres.ChatRepository
	counter  MemberCounter

	roomsCache *cache.RoomsCache // nil disables caching
	sf         singleflight.Group
}

func NewRoomService(roomRepo *postgres.RoomRepository, chatRepo *postgres.ChatRepository, counter MemberCounter, roomsCache *cache.RoomsCache) *RoomService {
	return &RoomService{
		roomRepo:   roomRepo,
		chatRepo:   chatRepo,
		counter:    counter,
		roomsCache: roomsCache,
	}
}

// CreateRoom persists a new room and returns it. The host joins over the
// socket afterwards like any other member; the first join claims the
// host slot.
func (s *RoomService) CreateRoom(ctx context.Context, name, language, code string, maxUsers int, isPublic bool) (*domain.Room, error) {
	if maxUsers <= 0 || maxUsers > defaultMaxUsers {
		maxUsers = defaultMaxUsers
	}
	if language == "" {
		language = "Python"
	}

	id, err := gonanoid.Generate(roomIDAlphabet, roomIDSize)
	if err != nil {
		return nil, fmt.Errorf("generate room id: %w", err)
	}

	room := &domain.Room{
		ID:       id,
		Name:     name,
		Language: language,
		Code:     code,
		MaxUsers: maxUsers,
		IsPublic: isPublic,
	}
	if err := s.roomRepo.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("roomRepo.Create: %w", err)
	}

	s.invalidateListing(ctx)
	return room, nil
}

func (s *RoomService) GetRoom(ctx context.Context, id string) (*domain.Room, error) {
	return s.roomRepo.Get(ctx, id)
}

// ListPublicRooms serves the lobby directory. The listing is cached in
// Redis for a few seconds and rebuilt behind a singleflight so a burst
// of lobby polls translates to one Postgres query.
func (s *RoomService) ListPublicRooms(ctx context.Context) ([]RoomListing, error) {
	if s.roomsCache != nil {
		var cached []RoomListing
		hit, err := s.roomsCache.Get(ctx, &cached)
		if err != nil {
			slog.Warn("rooms cache read failed", "err", err)
		} else if hit {
			return cached, nil
		}
	}

	v, err, _ := s.sf.Do("list_public_rooms", func() (any, error) {
		return s.buildListing(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]RoomListing), nil
}

func (s *RoomService) buildListing(ctx context.Context) ([]RoomListing, error) {
	rooms, err := s.roomRepo.ListPublic(ctx)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ListPublic: %w", err)
	}

	listing := make([]RoomListing, 0, len(rooms))
	for _, rm := range rooms {
		count := 0
		if s.counter != nil {
			count = s.counter.Count(rm.ID)
		}
		listing = append(listing, RoomListing{
			ID:        rm.ID,
			Name:      rm.Name,
			Language:  rm.Language,
			UserCount: count,
			MaxUsers:  rm.MaxUsers,
			CreatedAt: rm.CreatedAt,
		})
	}

	if s.roomsCache != nil {
		if err := s.roomsCache.Set(ctx, listing); err != nil {
			slog.Warn("rooms cache write failed", "err", err)
		}
	}
	return listing, nil
}

// DeleteRoom removes the room and its transcript.
func (s *RoomService) DeleteRoom(ctx context.Context, id string) error {
	if err := s.chatRepo.DeleteByRoom(ctx, id); err != nil {
		return fmt.Errorf("chatRepo.DeleteByRoom: %w", err)
	}
	if err := s.roomRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("roomRepo.Delete: %w", err)
	}
	s.invalidateListing(ctx)
	return nil
}

// ClaimHost marks hostID as the room's host. No-op once a host exists.
func (s *RoomService) ClaimHost(ctx context.Context, roomID, hostID string) error {
	return s.roomRepo.UpdateHost(ctx, roomID, hostID)
}

// UpdateCode stores the latest full buffer. Last write wins: updates are
// whole-buffer replacements, never merged.
func (s *RoomService) UpdateCode(ctx context.Context, roomID, code string) error {
	return s.roomRepo.UpdateCode(ctx, roomID, code)
}

func (s *RoomService) UpdateLanguage(ctx context.Context, roomID, language string) error {
	return s.roomRepo.UpdateLanguage(ctx, roomID, language)
}

func (s *RoomService) invalidateListing(ctx context.Context) {
	if s.roomsCache == nil {
		return
	}
	if err := s.roomsCache.Invalidate(ctx); err != nil {
		slog.Warn("rooms cache invalidate failed", "err", err)
	}
}
