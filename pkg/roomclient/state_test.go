package roomclient

import (
	"errors"
	"testing"
	"time"

	"github.com/kodescrux/collab/pkg/protocol"
)

func joinedFrame() *protocol.Joined {
	return &protocol.Joined{
		Type: protocol.TypeJoined,
		User: &protocol.Member{ID: "u1", Name: "Alice", Color: "#FF6B6B", IsHost: true},
		Room: &protocol.RoomSnapshot{
			ID:       "room1234",
			Name:     "demo",
			Language: "Python",
			Code:     "print('hi')",
			MaxUsers: 10,
			Users: []protocol.Member{
				{ID: "u1", Name: "Alice"},
			},
			UserCount: 1,
		},
	}
}

func TestApplyJoinedInstallsSnapshot(t *testing.T) {
	s := NewState()
	if err := s.ApplyJoined(joinedFrame()); err != nil {
		t.Fatalf("ApplyJoined: %v", err)
	}

	if !s.InRoom() {
		t.Fatal("state not in room after joined")
	}
	room := s.Room()
	if room.ID != "room1234" || room.Code != "print('hi')" || room.Language != "Python" {
		t.Fatalf("snapshot mismatch: %+v", room)
	}
	if self := s.Self(); self.ID != "u1" || !self.IsHost {
		t.Fatalf("self mismatch: %+v", self)
	}
	if len(s.Transcript()) != 0 {
		t.Fatal("transcript not reset on join")
	}
}

func TestApplyJoinedMissingSnapshot(t *testing.T) {
	tests := []struct {
		name  string
		frame *protocol.Joined
	}{
		{name: "no user", frame: &protocol.Joined{Room: joinedFrame().Room}},
		{name: "no room", frame: &protocol.Joined{User: joinedFrame().User}},
		{name: "neither", frame: &protocol.Joined{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState()
			err := s.ApplyJoined(tt.frame)
			if !errors.Is(err, ErrBadJoinFrame) {
				t.Fatalf("err = %v, want ErrBadJoinFrame", err)
			}
			if s.InRoom() {
				t.Fatal("entered room on malformed joined frame")
			}
		})
	}
}

func TestUserJoinedIdempotent(t *testing.T) {
	s := NewState()
	if err := s.ApplyJoined(joinedFrame()); err != nil {
		t.Fatalf("ApplyJoined: %v", err)
	}

	bob := &protocol.UserJoined{
		Type: protocol.TypeUserJoined,
		User: protocol.Member{ID: "u2", Name: "Bob"},
	}
	s.ApplyUserJoined(bob)
	s.ApplyUserJoined(bob)
	s.ApplyUserJoined(bob)

	room := s.Room()
	if room.UserCount != 2 || len(room.Users) != 2 {
		t.Fatalf("roster size = %d (count %d), want 2", len(room.Users), room.UserCount)
	}

	transcript := s.Transcript()
	if len(transcript) != 1 {
		t.Fatalf("transcript entries = %d, want 1", len(transcript))
	}
	if !transcript[0].System || transcript[0].Message != "Bob joined the room" {
		t.Fatalf("system line = %+v", transcript[0])
	}
}

func TestUserLeftRemovesAndAnnounces(t *testing.T) {
	s := NewState()
	if err := s.ApplyJoined(joinedFrame()); err != nil {
		t.Fatalf("ApplyJoined: %v", err)
	}
	s.ApplyUserJoined(&protocol.UserJoined{User: protocol.Member{ID: "u2", Name: "Bob"}})

	s.ApplyUserLeft(&protocol.UserLeft{User: protocol.Member{ID: "u2", Name: "Bob"}})
	// Unknown member: no-op.
	s.ApplyUserLeft(&protocol.UserLeft{User: protocol.Member{ID: "ghost", Name: "Ghost"}})

	room := s.Room()
	if len(room.Users) != 1 || room.Users[0].ID != "u1" {
		t.Fatalf("roster after leave = %+v", room.Users)
	}
	transcript := s.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("transcript entries = %d, want 2", len(transcript))
	}
	if transcript[1].Message != "Bob left the room" {
		t.Fatalf("leave line = %q", transcript[1].Message)
	}
}

func TestRemoteEditsOverwrite(t *testing.T) {
	s := NewState()
	if err := s.ApplyJoined(joinedFrame()); err != nil {
		t.Fatalf("ApplyJoined: %v", err)
	}

	s.SetLocalCode("local draft")
	s.ApplyCodeChanged(&protocol.CodeChanged{Code: "remote body", UserID: "u2"})
	s.ApplyLanguageChanged(&protocol.LanguageChanged{Language: "Go", UserID: "u2"})

	room := s.Room()
	if room.Code != "remote body" {
		t.Fatalf("code = %q, want remote overwrite", room.Code)
	}
	if room.Language != "Go" {
		t.Fatalf("language = %q, want Go", room.Language)
	}
}

func TestExecutionResultClearsRunning(t *testing.T) {
	s := NewState()
	if err := s.ApplyJoined(joinedFrame()); err != nil {
		t.Fatalf("ApplyJoined: %v", err)
	}
	s.SetRunning(true)

	s.ApplyExecutionResult(&protocol.ExecutionResultEvent{
		UserID: "u1",
		Result: &protocol.ExecutionResult{Success: true, Output: "hi\n"},
	})

	result, running := s.LastResult()
	if result == nil || result.Output != "hi\n" {
		t.Fatalf("result = %+v", result)
	}
	if running {
		t.Fatal("running flag not cleared by execution_result")
	}
}

func TestFatalErrorDetection(t *testing.T) {
	tests := []struct {
		msg   string
		fatal bool
	}{
		{"Room not found", true},
		{"Failed to join room. Room may be full or doesn't exist.", true},
		{"Room ID is required", true},
		{"rate limited", false},
		{"", false},
	}
	for _, tt := range tests {
		s := NewState()
		got := s.ApplyError(&protocol.ErrorFrame{Message: tt.msg})
		if got != tt.fatal {
			t.Fatalf("ApplyError(%q) fatal = %v, want %v", tt.msg, got, tt.fatal)
		}
		if s.LastError() != tt.msg {
			t.Fatalf("LastError = %q, want %q", s.LastError(), tt.msg)
		}
	}
}

func TestSeedTranscriptPrecedesLiveEntries(t *testing.T) {
	s := NewState()
	if err := s.ApplyJoined(joinedFrame()); err != nil {
		t.Fatalf("ApplyJoined: %v", err)
	}

	// A live message races ahead of the history fetch.
	s.ApplyChatMessage(&protocol.ChatMessage{
		User:      protocol.Member{ID: "u2", Name: "Bob"},
		Message:   "live",
		Timestamp: time.Now(),
	})
	s.SeedTranscript([]ChatEntry{
		{Message: "old one"},
		{Message: "old two"},
	})

	transcript := s.Transcript()
	if len(transcript) != 3 {
		t.Fatalf("transcript entries = %d, want 3", len(transcript))
	}
	if transcript[0].Message != "old one" || transcript[2].Message != "live" {
		t.Fatalf("history does not precede live entries: %+v", transcript)
	}
}

func TestSeedTranscriptDeduplicatesLiveMessages(t *testing.T) {
	s := NewState()
	if err := s.ApplyJoined(joinedFrame()); err != nil {
		t.Fatalf("ApplyJoined: %v", err)
	}

	// A message persisted between join and the history fetch arrives both
	// live and inside the fetched history.
	s.ApplyChatMessage(&protocol.ChatMessage{
		ID:        "m2",
		User:      protocol.Member{ID: "u2", Name: "Bob"},
		Message:   "racing",
		Timestamp: time.Now(),
	})
	s.SeedTranscript([]ChatEntry{
		{ID: "m1", Message: "old"},
		{ID: "m2", Message: "racing"},
	})

	transcript := s.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("transcript entries = %d, want 2: %+v", len(transcript), transcript)
	}
	if transcript[0].ID != "m1" || transcript[1].ID != "m2" {
		t.Fatalf("dedup kept wrong entries: %+v", transcript)
	}

	// Entries without ids (system lines) never collide.
	s.SeedTranscript([]ChatEntry{{Message: "no id"}})
	if got := len(s.Transcript()); got != 3 {
		t.Fatalf("transcript entries = %d, want 3", got)
	}
}

func TestResetToLobby(t *testing.T) {
	s := NewState()
	if err := s.ApplyJoined(joinedFrame()); err != nil {
		t.Fatalf("ApplyJoined: %v", err)
	}
	s.ResetToLobby()

	if s.InRoom() {
		t.Fatal("still in room after reset")
	}
	if room := s.Room(); room.ID != "" {
		t.Fatalf("room not cleared: %+v", room)
	}
	if len(s.Transcript()) != 0 {
		t.Fatal("transcript not cleared")
	}
}
