package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kodescrux/collab/internal/domain"
	"github.com/kodescrux/collab/pkg/protocol"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	msgRoomIDRequired = "Room ID is required"
	msgRoomNotFound   = "Room not found"
	msgJoinFailed     = "Failed to join room. Room may be full or doesn't exist."
)

type RoomSvc interface {
	GetRoom(ctx context.Context, id string) (*domain.Room, error)
	ClaimHost(ctx context.Context, roomID, hostID string) error
	UpdateCode(ctx context.Context, roomID, code string) error
	UpdateLanguage(ctx context.Context, roomID, language string) error
}

type ChatSvc interface {
	Save(ctx context.Context, roomID, userID, username, text string) (*domain.ChatMessage, error)
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	roomSvc  RoomSvc
	chatSvc  ChatSvc

	pingEvery time.Duration
}

func NewServer(hub *Hub, room RoomSvc, chat ChatSvc) *Server {
	return &Server{
		hub:     hub,
		roomSvc: room,
		chatSvc: chat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: 15 * time.Second,
	}
}

// WS endpoint: GET /ws/rooms/{id}
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn, roomID)

	go s.writeLoop(r.Context(), c)
	s.readLoop(r.Context(), c)

	s.dropMember(c)
	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", "room", roomID, "err", err)
	}
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		frame, err := protocol.DecodeOutbound(data)
		if err != nil {
			slog.Warn("ws frame discarded", "room", c.roomID, "err", err)
			continue
		}

		switch f := frame.(type) {
		case *protocol.Join:
			s.handleJoin(ctx, c, f)
		case *protocol.Leave:
			s.dropMember(c)
			return
		case *protocol.CodeChange:
			s.handleCodeChange(ctx, c, f)
		case *protocol.CursorMove:
			s.handleCursorMove(c, f)
		case *protocol.LanguageChange:
			s.handleLanguageChange(ctx, c, f)
		case *protocol.ChatSend:
			s.handleChat(ctx, c, f)
		case *protocol.ExecuteCode:
			s.handleExecuteCode(c, f)
		case *protocol.VoiceAudio:
			s.handleVoiceAudio(c, f)
		}
	}
}

func (s *Server) handleJoin(ctx context.Context, c *wsConn, f *protocol.Join) {
	roomID := f.RoomID
	if roomID == "" {
		roomID = c.roomID
	}
	if roomID == "" {
		s.sendError(c, msgRoomIDRequired)
		return
	}

	// Repeated join from the same socket is idempotent: re-send the
	// snapshot without creating a second member.
	if c.Joined() {
		s.sendJoined(ctx, c)
		return
	}

	room, err := s.roomSvc.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			s.sendError(c, msgRoomNotFound)
		} else {
			slog.Error("ws join failed", "room", roomID, "err", err)
			s.sendError(c, msgJoinFailed)
		}
		return
	}
	name := f.UserName
	if name == "" {
		name = "Anonymous"
	}
	member := domain.Member{
		ID:       uuid.NewString(),
		Name:     name,
		Color:    s.hub.NextColor(),
		JoinedAt: time.Now().UTC(),
	}
	// Admission, the host decision and member visibility happen in one
	// hub operation; two racing joins cannot both claim the host slot or
	// overfill the room.
	ok := s.hub.TryJoin(roomID, c, room.MaxUsers, func(first bool) {
		member.IsHost = first
		c.setMember(roomID, member)
	})
	if !ok {
		s.sendError(c, msgJoinFailed)
		return
	}
	if member.IsHost {
		if err := s.roomSvc.ClaimHost(ctx, roomID, member.ID); err != nil {
			slog.Warn("ws claim host failed", "room", roomID, "err", err)
		}
	}

	slog.Info("member joined", "room", roomID, "user", member.ID, "name", member.Name)

	s.sendJoined(ctx, c)
	s.hub.Broadcast(roomID, &protocol.UserJoined{
		Type: protocol.TypeUserJoined,
		User: toWireMember(member),
	}, c)
}

func (s *Server) sendJoined(ctx context.Context, c *wsConn) {
	room, err := s.roomSvc.GetRoom(ctx, c.RoomID())
	if err != nil {
		s.sendError(c, msgRoomNotFound)
		return
	}
	member := c.Member()
	snap := s.buildSnapshot(room)
	if err := c.SendFrame(&protocol.Joined{
		Type: protocol.TypeJoined,
		User: wireMemberPtr(member),
		Room: &snap,
	}); err != nil {
		slog.Warn("ws send joined failed", "room", c.RoomID(), "err", err)
	}
}

func (s *Server) handleCodeChange(ctx context.Context, c *wsConn, f *protocol.CodeChange) {
	if !c.Joined() {
		return
	}
	if err := s.roomSvc.UpdateCode(ctx, c.RoomID(), f.Code); err != nil {
		slog.Warn("persist code failed", "room", c.RoomID(), "err", err)
	}
	s.hub.Broadcast(c.RoomID(), &protocol.CodeChanged{
		Type:   protocol.TypeCodeChanged,
		Code:   f.Code,
		UserID: c.Member().ID,
	}, c)
}

func (s *Server) handleCursorMove(c *wsConn, f *protocol.CursorMove) {
	if !c.Joined() {
		return
	}
	s.hub.Broadcast(c.RoomID(), &protocol.CursorMoved{
		Type:     protocol.TypeCursorMoved,
		UserID:   c.Member().ID,
		Position: f.Position,
	}, c)
}

// Language changes go to everyone including the sender, so every replica
// converges on the same tag even when two members race.
func (s *Server) handleLanguageChange(ctx context.Context, c *wsConn, f *protocol.LanguageChange) {
	if !c.Joined() || f.Language == "" {
		return
	}
	if err := s.roomSvc.UpdateLanguage(ctx, c.RoomID(), f.Language); err != nil {
		slog.Warn("persist language failed", "room", c.RoomID(), "err", err)
	}
	s.hub.Broadcast(c.RoomID(), &protocol.LanguageChanged{
		Type:     protocol.TypeLanguageChanged,
		Language: f.Language,
		UserID:   c.Member().ID,
	}, nil)
}

func (s *Server) handleChat(ctx context.Context, c *wsConn, f *protocol.ChatSend) {
	if !c.Joined() {
		return
	}
	member := c.Member()

	saved, err := s.chatSvc.Save(ctx, c.RoomID(), member.ID, member.Name, f.Message)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyMessage) {
			return
		}
		slog.Warn("chat save failed", "room", c.RoomID(), "user", member.ID, "err", err)
	}

	ts := time.Now().UTC()
	text := f.Message
	id := ""
	if saved != nil {
		id = saved.ID
		ts = saved.Timestamp
		text = saved.Message
	}
	s.hub.Broadcast(c.RoomID(), &protocol.ChatMessage{
		Type:      protocol.TypeChatMessage,
		ID:        id,
		User:      toWireMember(member),
		Message:   text,
		Timestamp: ts,
	}, nil)
}

func (s *Server) handleExecuteCode(c *wsConn, f *protocol.ExecuteCode) {
	if !c.Joined() || f.Result == nil {
		return
	}
	s.hub.Broadcast(c.RoomID(), &protocol.ExecutionResultEvent{
		Type:   protocol.TypeExecutionResult,
		UserID: c.Member().ID,
		Result: f.Result,
	}, nil)
}

func (s *Server) handleVoiceAudio(c *wsConn, f *protocol.VoiceAudio) {
	if !c.Joined() || f.AudioData == "" {
		return
	}
	member := c.Member()
	s.hub.Broadcast(c.RoomID(), &protocol.VoiceAudioEvent{
		Type:      protocol.TypeVoiceAudio,
		UserID:    member.ID,
		User:      toWireMember(member),
		AudioData: f.AudioData,
	}, c)
}

// dropMember removes a joined connection from the roster and announces
// the departure. Safe to call more than once per connection.
func (s *Server) dropMember(c *wsConn) {
	if !c.markLeft() {
		return
	}
	member := c.Member()
	s.hub.Remove(c)
	s.hub.Broadcast(c.RoomID(), &protocol.UserLeft{
		Type: protocol.TypeUserLeft,
		User: toWireMember(member),
	}, nil)
	slog.Info("member left", "room", c.RoomID(), "user", member.ID)
}

func (s *Server) sendError(c *wsConn, msg string) {
	if err := c.SendFrame(&protocol.ErrorFrame{Type: protocol.TypeError, Message: msg}); err != nil {
		slog.Debug("ws send error frame failed", "err", err)
	}
}

func (s *Server) buildSnapshot(room *domain.Room) protocol.RoomSnapshot {
	members := s.hub.Members(room.ID)
	users := make([]protocol.Member, 0, len(members))
	for _, m := range members {
		users = append(users, toWireMember(m))
	}
	return protocol.RoomSnapshot{
		ID:        room.ID,
		Name:      room.Name,
		HostID:    room.HostID,
		Language:  room.Language,
		Code:      room.Code,
		CreatedAt: room.CreatedAt,
		MaxUsers:  room.MaxUsers,
		IsPublic:  room.IsPublic,
		Users:     users,
		UserCount: len(users),
	}
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

func toWireMember(m domain.Member) protocol.Member {
	return protocol.Member{
		ID:       m.ID,
		Name:     m.Name,
		Color:    m.Color,
		IsHost:   m.IsHost,
		JoinedAt: m.JoinedAt,
	}
}

func wireMemberPtr(m domain.Member) *protocol.Member {
	wm := toWireMember(m)
	return &wm
}
