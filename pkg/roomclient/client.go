package roomclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kodescrux/collab/pkg/execclient"
	"github.com/kodescrux/collab/pkg/protocol"

	"github.com/gorilla/websocket"
)

const (
	defaultReconnectBase = time.Second
	defaultMaxReconnects = 5
	defaultFatalGrace    = 2 * time.Second
)

// ConnectionError wraps a failed WebSocket handshake or join write.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Dialer is satisfied by *websocket.Dialer. Injectable for tests.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Options configures a Session. BaseURL is the only required field.
type Options struct {
	// BaseURL is the server's HTTP root, e.g. "http://localhost:8000".
	BaseURL string
	// WSBaseURL overrides the WebSocket root. Derived from BaseURL when
	// empty.
	WSBaseURL string

	Dialer     Dialer
	HTTPClient *http.Client
	// Sink receives scheduled voice playback chunks. Nil disables
	// playback but not relay.
	Sink PlaybackSink
	// Exec, when set, enables the RunCode flow.
	Exec *execclient.Client

	// OnDisconnect runs once the reconnect budget is exhausted and the
	// session gives up on the room socket. The room replica is kept so
	// the caller can keep rendering it alongside a disconnected
	// indicator.
	OnDisconnect func()

	ReconnectBase time.Duration
	MaxReconnects int
	FatalGrace    time.Duration
}

// Session is one client's connection to the platform: lobby directory,
// at most one live room socket, the room replica, and the voice
// pipeline. Sessions are created with New and are not shared between
// rooms concurrently.
type Session struct {
	opts      Options
	wsBase    string
	router    *Router
	state     *State
	directory *Directory
	voice     *Voice
	deb       *debouncer
	exec      *execclient.Client

	afterFunc func(time.Duration, func()) *time.Timer

	mu             sync.Mutex
	conn           *websocket.Conn
	gen            int
	roomID         string
	name           string
	attempt        int
	reconnectTimer *time.Timer
	graceTimer     *time.Timer

	pollCtx    context.Context
	pollFn     func([]RoomInfo)
	pollWanted bool

	writeMu sync.Mutex
}

func New(opts Options) *Session {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = defaultReconnectBase
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = defaultMaxReconnects
	}
	if opts.FatalGrace <= 0 {
		opts.FatalGrace = defaultFatalGrace
	}

	s := &Session{
		opts:      opts,
		wsBase:    wsBase(opts),
		router:    NewRouter(),
		state:     NewState(),
		directory: NewDirectory(opts.BaseURL, opts.HTTPClient),
		exec:      opts.Exec,
		afterFunc: time.AfterFunc,
	}
	s.voice = newVoice(s.sendVoiceChunk, opts.Sink)
	s.deb = newDebouncer(debounceQuiet, s.emitCodeChange)
	return s
}

func wsBase(opts Options) string {
	if opts.WSBaseURL != "" {
		return opts.WSBaseURL
	}
	base := opts.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

func (s *Session) Router() *Router       { return s.router }
func (s *Session) State() *State         { return s.state }
func (s *Session) Directory() *Directory { return s.directory }
func (s *Session) Voice() *Voice         { return s.voice }

func (s *Session) On(frameType string, h Handler)  { s.router.On(frameType, h) }
func (s *Session) Off(frameType string, h Handler) { s.router.Off(frameType, h) }

// IsConnected reports whether the room socket is currently open. It is
// false between a socket loss and a successful reconnect.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Connect opens the room socket and writes the join frame. It returns
// once both succeed; the joined acknowledgement arrives asynchronously
// through the router and state store. An existing socket is torn down
// first.
func (s *Session) Connect(ctx context.Context, roomID, displayName string) error {
	s.mu.Lock()
	s.teardownLocked()
	s.roomID = roomID
	s.name = displayName
	s.attempt = 0
	gen := s.gen
	s.mu.Unlock()

	s.directory.StopPolling()

	return s.dial(ctx, gen, roomID, displayName)
}

func (s *Session) dial(ctx context.Context, gen int, roomID, displayName string) error {
	url := s.wsBase + "/ws/rooms/" + roomID

	conn, resp, err := s.opts.Dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return &ConnectionError{URL: url, Err: err}
	}

	join := &protocol.Join{
		Type:     protocol.TypeJoin,
		RoomID:   roomID,
		UserName: displayName,
	}
	s.writeMu.Lock()
	err = conn.WriteJSON(join)
	s.writeMu.Unlock()
	if err != nil {
		_ = conn.Close()
		return &ConnectionError{URL: url, Err: err}
	}

	s.mu.Lock()
	if gen != s.gen {
		// A newer Connect or Disconnect won the race.
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn, gen)
	return nil
}

// Disconnect sends leave, closes the socket, and clears handler
// registrations. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	roomID := s.roomID
	s.teardownLocked()
	s.mu.Unlock()

	if conn != nil {
		leave := &protocol.Leave{Type: protocol.TypeLeave, RoomID: roomID}
		s.writeMu.Lock()
		_ = conn.WriteJSON(leave)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = conn.Close()
	}

	s.deb.Cancel()
	s.voice.StopRecording()
	s.router.Reset()
	s.state.ResetToLobby()
	s.resumePolling()
}

// teardownLocked invalidates the current socket generation and stops
// room-scoped timers. Caller holds s.mu.
func (s *Session) teardownLocked() {
	s.gen++
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Send writes a frame to the room socket, fire-and-forget. Frames sent
// while no socket is open are dropped with a warning.
func (s *Session) Send(frame protocol.Outbound) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		slog.Warn("frame dropped, socket not open", "frame", fmt.Sprintf("%T", frame))
		return
	}

	s.writeMu.Lock()
	err := conn.WriteJSON(frame)
	s.writeMu.Unlock()
	if err != nil {
		slog.Warn("frame send failed", "err", err)
	}
}

// --- editor actions ---

// SetCode applies a keystroke to the local buffer immediately and
// schedules the debounced code_change emission.
func (s *Session) SetCode(code string) {
	s.state.SetLocalCode(code)
	s.deb.Touch(code)
}

// SetLanguage updates the buffer language and emits right away; language
// switches are never debounced.
func (s *Session) SetLanguage(language string) {
	s.state.SetLocalLanguage(language)
	s.Send(&protocol.LanguageChange{
		Type:     protocol.TypeLanguageChange,
		RoomID:   s.currentRoomID(),
		Language: language,
	})
}

func (s *Session) SendChat(message string) {
	s.Send(&protocol.ChatSend{
		Type:    protocol.TypeChatMessage,
		RoomID:  s.currentRoomID(),
		Message: message,
	})
}

func (s *Session) SendCursor(pos protocol.CursorPos) {
	s.Send(&protocol.CursorMove{
		Type:     protocol.TypeCursorMove,
		RoomID:   s.currentRoomID(),
		Position: pos,
	})
}

// RunCode submits the current buffer to the execution collaborator and
// broadcasts the result to the room. Requires Options.Exec.
func (s *Session) RunCode(ctx context.Context, stdin string) (*protocol.ExecutionResult, error) {
	if s.exec == nil {
		return nil, errors.New("execution client not configured")
	}
	room := s.state.Room()

	s.state.SetRunning(true)
	result, err := s.exec.Run(ctx, room.Code, room.Language, stdin)
	if err != nil {
		s.state.SetRunning(false)
		return nil, err
	}

	s.Send(&protocol.ExecuteCode{
		Type:   protocol.TypeExecuteCode,
		RoomID: s.currentRoomID(),
		Result: result,
	})
	return result, nil
}

// StartLobbyPolling begins the 5s directory refresh. It pauses while the
// session is in a room and resumes on return to the lobby.
func (s *Session) StartLobbyPolling(ctx context.Context, onUpdate func([]RoomInfo)) {
	s.mu.Lock()
	s.pollCtx = ctx
	s.pollFn = onUpdate
	s.pollWanted = true
	inRoom := s.conn != nil
	s.mu.Unlock()

	if !inRoom {
		s.directory.StartPolling(ctx, onUpdate)
	}
}

func (s *Session) StopLobbyPolling() {
	s.mu.Lock()
	s.pollWanted = false
	s.mu.Unlock()
	s.directory.StopPolling()
}

func (s *Session) resumePolling() {
	s.mu.Lock()
	wanted := s.pollWanted
	ctx := s.pollCtx
	fn := s.pollFn
	s.mu.Unlock()

	if wanted && ctx != nil && ctx.Err() == nil {
		s.directory.StartPolling(ctx, fn)
	}
}

func (s *Session) currentRoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// --- inbound path ---

func (s *Session) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(gen, err)
			return
		}

		frame, derr := protocol.DecodeInbound(data)
		if derr != nil {
			slog.Warn("inbound frame discarded", "err", derr)
			continue
		}

		s.apply(frame, gen)
		s.router.Dispatch(frame)
	}
}

// apply feeds a frame to the state store before user handlers run, so a
// handler always observes the post-frame state.
func (s *Session) apply(frame protocol.Inbound, gen int) {
	switch f := frame.(type) {
	case *protocol.Joined:
		if err := s.state.ApplyJoined(f); err != nil {
			slog.Error("join rejected", "err", err)
			return
		}
		s.mu.Lock()
		s.attempt = 0
		s.mu.Unlock()
		go s.seedHistory(f.Room.ID)
	case *protocol.UserJoined:
		s.state.ApplyUserJoined(f)
	case *protocol.UserLeft:
		s.state.ApplyUserLeft(f)
	case *protocol.CodeChanged:
		s.state.ApplyCodeChanged(f)
	case *protocol.LanguageChanged:
		s.state.ApplyLanguageChanged(f)
	case *protocol.ChatMessage:
		s.state.ApplyChatMessage(f)
	case *protocol.ExecutionResultEvent:
		s.state.ApplyExecutionResult(f)
	case *protocol.VoiceAudioEvent:
		s.voice.HandleChunk(f.AudioData)
	case *protocol.ErrorFrame:
		if s.state.ApplyError(f) {
			s.scheduleFatalExit(gen)
		}
	}
}

// seedHistory fetches the persisted transcript once after join. History
// strictly precedes live entries.
func (s *Session) seedHistory(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records, err := s.directory.ChatHistory(ctx, roomID, 0)
	if err != nil {
		slog.Warn("chat history fetch failed", "room", roomID, "err", err)
		return
	}
	entries := make([]ChatEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, ChatEntry{
			ID:        rec.ID,
			User:      &protocol.Member{ID: rec.UserID, Name: rec.Username},
			Message:   rec.Message,
			Timestamp: rec.Timestamp,
		})
	}
	s.state.SeedTranscript(entries)
}

// scheduleFatalExit returns the session to the lobby after a short grace
// period so the caller can display the error first. The transport closes
// and no reconnect follows.
func (s *Session) scheduleFatalExit(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.graceTimer != nil {
		return
	}
	s.graceTimer = s.afterFunc(s.opts.FatalGrace, func() {
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.graceTimer = nil
		s.teardownLocked()
		s.mu.Unlock()

		s.deb.Cancel()
		s.state.ResetToLobby()
		s.resumePolling()
	})
}

// handleClose runs when the read loop exits. Stale generations (the
// socket was replaced or deliberately closed) are ignored; an abnormal
// close schedules a reconnect with a linearly growing delay, up to the
// attempt ceiling.
func (s *Session) handleClose(gen int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.conn = nil

	if !isAbnormalClose(err) {
		s.attempt = 0
		return
	}

	if s.attempt >= s.opts.MaxReconnects {
		slog.Error("reconnect attempts exhausted", "room", s.roomID, "attempts", s.attempt)
		s.state.setDisconnected(true)
		if cb := s.opts.OnDisconnect; cb != nil {
			go cb()
		}
		return
	}
	s.attempt++
	attempt := s.attempt
	delay := time.Duration(attempt) * s.opts.ReconnectBase
	roomID, name := s.roomID, s.name

	slog.Warn("socket lost, reconnecting",
		"room", roomID, "attempt", attempt, "delay", delay, "err", err)

	s.reconnectTimer = s.afterFunc(delay, func() {
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.reconnectTimer = nil
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.dial(ctx, gen, roomID, name); err != nil {
			// Feed the failure back through the close path so the next
			// attempt is scheduled with a longer delay.
			s.handleClose(gen, err)
		}
	})
}

func isAbnormalClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code != websocket.CloseNormalClosure &&
			ce.Code != websocket.CloseGoingAway
	}
	return true
}

func (s *Session) emitCodeChange(code string) {
	s.Send(&protocol.CodeChange{
		Type:   protocol.TypeCodeChange,
		RoomID: s.currentRoomID(),
		Code:   code,
	})
}

func (s *Session) sendVoiceChunk(b64 string) {
	s.Send(&protocol.VoiceAudio{
		Type:      protocol.TypeVoiceAudio,
		RoomID:    s.currentRoomID(),
		AudioData: b64,
	})
}
