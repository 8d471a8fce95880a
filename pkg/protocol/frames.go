// Package protocol defines the wire frames exchanged over a room's
// WebSocket channel. Every frame is a flat JSON object tagged by a
// "type" discriminator; the set of variants is closed.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client -> server frame types.
const (
	TypeJoin           = "join"
	TypeLeave          = "leave"
	TypeCodeChange     = "code_change"
	TypeCursorMove     = "cursor_move"
	TypeLanguageChange = "language_change"
	TypeChatMessage    = "chat_message"
	TypeExecuteCode    = "execute_code"
	TypeVoiceAudio     = "voice_audio"
)

// Server -> client frame types.
const (
	TypeJoined          = "joined"
	TypeUserJoined      = "user_joined"
	TypeUserLeft        = "user_left"
	TypeCodeChanged     = "code_changed"
	TypeCursorMoved     = "cursor_moved"
	TypeLanguageChanged = "language_changed"
	TypeExecutionResult = "execution_result"
	TypeError           = "error"
)

// Member is a participant as seen on the wire.
type Member struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Color    string    `json:"color"`
	IsHost   bool      `json:"is_host"`
	JoinedAt time.Time `json:"joined_at"`
}

// RoomSnapshot is the full room state sent with a joined frame.
type RoomSnapshot struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	HostID    string    `json:"host_id"`
	Language  string    `json:"language"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	MaxUsers  int       `json:"max_users"`
	IsPublic  bool      `json:"is_public"`
	Users     []Member  `json:"users"`
	UserCount int       `json:"user_count"`
}

// CursorPos is an editor cursor position.
type CursorPos struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// ExecutionResult is produced by the execution sandbox and relayed to
// the room so every member sees the same run.
type ExecutionResult struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Version  string `json:"version,omitempty"`
}

// --- outbound (client -> server) ---

type Join struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	UserName string `json:"user_name"`
}

type Leave struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id,omitempty"`
}

type CodeChange struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	Code   string `json:"code"`
}

type CursorMove struct {
	Type     string    `json:"type"`
	RoomID   string    `json:"room_id"`
	Position CursorPos `json:"position"`
}

type LanguageChange struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	Language string `json:"language"`
}

type ChatSend struct {
	Type    string `json:"type"`
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

type ExecuteCode struct {
	Type   string           `json:"type"`
	RoomID string           `json:"room_id"`
	Result *ExecutionResult `json:"result"`
}

type VoiceAudio struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id"`
	AudioData string `json:"audio_data"` // base64-encoded chunk
}

// --- inbound (server -> client) ---

type Joined struct {
	Type string        `json:"type"`
	User *Member       `json:"user"`
	Room *RoomSnapshot `json:"room"`
}

type UserJoined struct {
	Type string `json:"type"`
	User Member `json:"user"`
}

type UserLeft struct {
	Type string `json:"type"`
	User Member `json:"user"`
}

type CodeChanged struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	UserID string `json:"user_id"`
}

type CursorMoved struct {
	Type     string    `json:"type"`
	UserID   string    `json:"user_id"`
	Position CursorPos `json:"position"`
}

type LanguageChanged struct {
	Type     string `json:"type"`
	Language string `json:"language"`
	UserID   string `json:"user_id"`
}

type ChatMessage struct {
	Type string `json:"type"`
	// ID is the persisted message id, matching /rooms/{id}/chat records.
	ID        string    `json:"id,omitempty"`
	User      Member    `json:"user"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type VoiceAudioEvent struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	User      Member `json:"user"`
	AudioData string `json:"audio_data"`
}

type ExecutionResultEvent struct {
	Type   string           `json:"type"`
	UserID string           `json:"user_id"`
	Result *ExecutionResult `json:"result"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Direction names follow the client's viewpoint: Outbound frames are
// sent by clients, Inbound frames are emitted by the server.

// Outbound is implemented by every client -> server variant.
type Outbound interface{ outboundType() string }

func (f *Join) outboundType() string           { return TypeJoin }
func (f *Leave) outboundType() string          { return TypeLeave }
func (f *CodeChange) outboundType() string     { return TypeCodeChange }
func (f *CursorMove) outboundType() string     { return TypeCursorMove }
func (f *LanguageChange) outboundType() string { return TypeLanguageChange }
func (f *ChatSend) outboundType() string       { return TypeChatMessage }
func (f *ExecuteCode) outboundType() string    { return TypeExecuteCode }
func (f *VoiceAudio) outboundType() string     { return TypeVoiceAudio }

// DecodeOutbound parses a raw client frame into its typed variant.
func DecodeOutbound(data []byte) (Outbound, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}

	var f Outbound
	switch probe.Type {
	case TypeJoin:
		f = &Join{}
	case TypeLeave:
		f = &Leave{}
	case TypeCodeChange:
		f = &CodeChange{}
	case TypeCursorMove:
		f = &CursorMove{}
	case TypeLanguageChange:
		f = &LanguageChange{}
	case TypeChatMessage:
		f = &ChatSend{}
	case TypeExecuteCode:
		f = &ExecuteCode{}
	case TypeVoiceAudio:
		f = &VoiceAudio{}
	default:
		return nil, &ErrUnknownType{Type: probe.Type}
	}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("protocol: decode %s frame: %w", probe.Type, err)
	}
	return f, nil
}

// Inbound is implemented by every server -> client variant.
type Inbound interface{ inboundType() string }

func (f *Joined) inboundType() string               { return TypeJoined }
func (f *UserJoined) inboundType() string           { return TypeUserJoined }
func (f *UserLeft) inboundType() string             { return TypeUserLeft }
func (f *CodeChanged) inboundType() string          { return TypeCodeChanged }
func (f *CursorMoved) inboundType() string          { return TypeCursorMoved }
func (f *LanguageChanged) inboundType() string      { return TypeLanguageChanged }
func (f *ChatMessage) inboundType() string          { return TypeChatMessage }
func (f *VoiceAudioEvent) inboundType() string      { return TypeVoiceAudio }
func (f *ExecutionResultEvent) inboundType() string { return TypeExecutionResult }
func (f *ErrorFrame) inboundType() string           { return TypeError }

// FrameTypeOf reports the discriminator of an inbound variant.
func FrameTypeOf(f Inbound) string { return f.inboundType() }

// ErrUnknownType is returned by DecodeInbound for an unrecognized
// discriminator. The triggering frame is expected to be discarded.
type ErrUnknownType struct{ Type string }

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("protocol: unknown frame type %q", e.Type)
}

// DecodeInbound parses a raw server frame into its typed variant.
func DecodeInbound(data []byte) (Inbound, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}

	var f Inbound
	switch probe.Type {
	case TypeJoined:
		f = &Joined{}
	case TypeUserJoined:
		f = &UserJoined{}
	case TypeUserLeft:
		f = &UserLeft{}
	case TypeCodeChanged:
		f = &CodeChanged{}
	case TypeCursorMoved:
		f = &CursorMoved{}
	case TypeLanguageChanged:
		f = &LanguageChanged{}
	case TypeChatMessage:
		f = &ChatMessage{}
	case TypeVoiceAudio:
		f = &VoiceAudioEvent{}
	case TypeExecutionResult:
		f = &ExecutionResultEvent{}
	case TypeError:
		f = &ErrorFrame{}
	default:
		return nil, &ErrUnknownType{Type: probe.Type}
	}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("protocol: decode %s frame: %w", probe.Type, err)
	}
	return f, nil
}
