package protocol

import (
	"errors"
	"testing"
)

func TestDecodeInbound(t *testing.T) {
	data := []byte(`{"type":"joined","user":{"id":"u1","name":"Alice","is_host":true},"room":{"id":"room1234","name":"demo","language":"Python","code":"","max_users":10,"users":[],"user_count":0}}`)

	frame, err := DecodeInbound(data)
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	joined, ok := frame.(*Joined)
	if !ok {
		t.Fatalf("frame = %T, want *Joined", frame)
	}
	if joined.User.Name != "Alice" || !joined.User.IsHost {
		t.Fatalf("user = %+v", joined.User)
	}
	if joined.Room.ID != "room1234" {
		t.Fatalf("room = %+v", joined.Room)
	}
}

func TestDecodeOutbound(t *testing.T) {
	data := []byte(`{"type":"code_change","room_id":"room1234","code":"x = 1"}`)

	frame, err := DecodeOutbound(data)
	if err != nil {
		t.Fatalf("DecodeOutbound: %v", err)
	}
	change, ok := frame.(*CodeChange)
	if !ok {
		t.Fatalf("frame = %T, want *CodeChange", frame)
	}
	if change.RoomID != "room1234" || change.Code != "x = 1" {
		t.Fatalf("frame = %+v", change)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	for _, data := range []string{
		`{"type":"telepathy"}`,
		`{"no_type_at_all":true}`,
	} {
		var unknown *ErrUnknownType
		if _, err := DecodeInbound([]byte(data)); !errors.As(err, &unknown) {
			t.Fatalf("DecodeInbound(%s) err = %v, want ErrUnknownType", data, err)
		}
		if _, err := DecodeOutbound([]byte(data)); !errors.As(err, &unknown) {
			t.Fatalf("DecodeOutbound(%s) err = %v, want ErrUnknownType", data, err)
		}
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	if _, err := DecodeInbound([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for malformed json")
	}
}

func TestFrameTypeOf(t *testing.T) {
	tests := []struct {
		frame Inbound
		want  string
	}{
		{&Joined{}, TypeJoined},
		{&UserJoined{}, TypeUserJoined},
		{&CodeChanged{}, TypeCodeChanged},
		{&ChatMessage{}, TypeChatMessage},
		{&VoiceAudioEvent{}, TypeVoiceAudio},
		{&ErrorFrame{}, TypeError},
	}
	for _, tt := range tests {
		if got := FrameTypeOf(tt.frame); got != tt.want {
			t.Fatalf("FrameTypeOf(%T) = %q, want %q", tt.frame, got, tt.want)
		}
	}
}
