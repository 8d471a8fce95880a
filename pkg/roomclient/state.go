package roomclient

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/kodescrux/collab/pkg/protocol"
)

// ErrBadJoinFrame marks a joined frame that arrived without both the
// member and the room snapshot.
var ErrBadJoinFrame = errors.New("joined frame missing user or room snapshot")

// ChatEntry is one transcript line. Persisted messages carry the
// server-assigned id; system entries are produced locally for joins and
// departures and were never on the wire.
type ChatEntry struct {
	ID        string
	User      *protocol.Member
	Message   string
	Timestamp time.Time
	System    bool
}

// State is the client's single room replica: the snapshot, roster, chat
// transcript and last execution result. It tracks at most one room.
//
// Remote code and language updates overwrite the whole buffer
// unconditionally. Concurrent edits converge on whichever write lands
// last; there is no merge.
type State struct {
	mu sync.Mutex

	inRoom       bool
	disconnected bool
	self         protocol.Member
	room         protocol.RoomSnapshot
	transcript   []ChatEntry
	lastResult   *protocol.ExecutionResult
	running      bool
	lastError    string
}

func NewState() *State {
	return &State{}
}

func (s *State) InRoom() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inRoom
}

// Disconnected reports that the room socket is gone for good: every
// reconnect attempt failed while the room replica was still live.
// Cleared by a successful rejoin or by returning to the lobby.
func (s *State) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

func (s *State) setDisconnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = v
}

func (s *State) Self() protocol.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Room returns a copy of the current snapshot.
func (s *State) Room() protocol.RoomSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.room
	room.Users = append([]protocol.Member(nil), s.room.Users...)
	return room
}

func (s *State) Transcript() []ChatEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatEntry(nil), s.transcript...)
}

func (s *State) LastResult() (*protocol.ExecutionResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastResult == nil {
		return nil, false
	}
	out := *s.lastResult
	return &out, s.running
}

func (s *State) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// SetRunning flags an execution request in flight. Cleared by the next
// execution_result.
func (s *State) SetRunning(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = v
}

// SetLocalCode applies a keystroke synchronously, before any debounced
// network emission.
func (s *State) SetLocalCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room.Code = code
}

func (s *State) SetLocalLanguage(language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room.Language = language
}

// ApplyJoined installs the room snapshot and resets the transcript.
// A frame without both member and room is a protocol violation: the
// state stays out of the room and the error is recorded.
func (s *State) ApplyJoined(f *protocol.Joined) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.User == nil || f.Room == nil {
		s.lastError = ErrBadJoinFrame.Error()
		return ErrBadJoinFrame
	}
	s.inRoom = true
	s.disconnected = false
	s.self = *f.User
	s.room = *f.Room
	s.room.Users = append([]protocol.Member(nil), f.Room.Users...)
	s.transcript = nil
	s.lastResult = nil
	s.running = false
	s.lastError = ""
	return nil
}

// SeedTranscript prepends fetched history. Live entries that already
// arrived stay after it; a message both broadcast live and returned in
// history is kept once, matched by id.
func (s *State) SeedTranscript(entries []ChatEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inRoom || len(entries) == 0 {
		return
	}
	live := make(map[string]struct{}, len(s.transcript))
	for _, e := range s.transcript {
		if e.ID != "" {
			live[e.ID] = struct{}{}
		}
	}
	merged := make([]ChatEntry, 0, len(entries)+len(s.transcript))
	for _, e := range entries {
		if _, dup := live[e.ID]; dup && e.ID != "" {
			continue
		}
		merged = append(merged, e)
	}
	s.transcript = append(merged, s.transcript...)
}

// ApplyUserJoined is idempotent by member ID.
func (s *State) ApplyUserJoined(f *protocol.UserJoined) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inRoom {
		return
	}
	for _, m := range s.room.Users {
		if m.ID == f.User.ID {
			return
		}
	}
	s.room.Users = append(s.room.Users, f.User)
	s.room.UserCount = len(s.room.Users)
	s.appendSystemLine(f.User.Name + " joined the room")
}

func (s *State) ApplyUserLeft(f *protocol.UserLeft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inRoom {
		return
	}
	for i, m := range s.room.Users {
		if m.ID == f.User.ID {
			s.room.Users = append(s.room.Users[:i], s.room.Users[i+1:]...)
			s.room.UserCount = len(s.room.Users)
			s.appendSystemLine(f.User.Name + " left the room")
			return
		}
	}
}

func (s *State) ApplyCodeChanged(f *protocol.CodeChanged) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inRoom {
		return
	}
	s.room.Code = f.Code
}

func (s *State) ApplyLanguageChanged(f *protocol.LanguageChanged) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inRoom {
		return
	}
	s.room.Language = f.Language
}

func (s *State) ApplyChatMessage(f *protocol.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inRoom {
		return
	}
	user := f.User
	s.transcript = append(s.transcript, ChatEntry{
		ID:        f.ID,
		User:      &user,
		Message:   f.Message,
		Timestamp: f.Timestamp,
	})
}

func (s *State) ApplyExecutionResult(f *protocol.ExecutionResultEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inRoom || f.Result == nil {
		return
	}
	result := *f.Result
	s.lastResult = &result
	s.running = false
}

// ApplyError records the server's error message and reports whether it
// is fatal for the room session. Fatal means the join can never succeed:
// the room is gone or the server refused entry.
func (s *State) ApplyError(f *protocol.ErrorFrame) (fatal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = f.Message
	return isFatalRoomError(f.Message)
}

func isFatalRoomError(msg string) bool {
	return strings.Contains(msg, "Failed to join") ||
		strings.Contains(msg, "Room") ||
		strings.Contains(msg, "not found")
}

// ResetToLobby drops the room replica. Safe when already in the lobby.
func (s *State) ResetToLobby() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inRoom = false
	s.disconnected = false
	s.self = protocol.Member{}
	s.room = protocol.RoomSnapshot{}
	s.transcript = nil
	s.lastResult = nil
	s.running = false
}

func (s *State) appendSystemLine(text string) {
	s.transcript = append(s.transcript, ChatEntry{
		Message:   text,
		Timestamp: time.Now().UTC(),
		System:    true,
	})
}
