package roomclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const lobbyPollInterval = 5 * time.Second

// RoomInfo is one lobby listing entry.
type RoomInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Language  string    `json:"language"`
	UserCount int       `json:"user_count"`
	MaxUsers  int       `json:"max_users"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomDetails is the full room record from the directory.
type RoomDetails struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	HostID    string    `json:"host_id"`
	Language  string    `json:"language"`
	Code      string    `json:"code"`
	MaxUsers  int       `json:"max_users"`
	IsPublic  bool      `json:"is_public"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRoomParams are the fields accepted by room creation. Zero values
// fall back to server defaults.
type CreateRoomParams struct {
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
	Code     string `json:"code,omitempty"`
	MaxUsers int    `json:"max_users,omitempty"`
	IsPublic *bool  `json:"is_public,omitempty"`
}

// ChatRecord is one persisted chat message from the history endpoint.
type ChatRecord struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Directory is the HTTP client for the room directory plus the lobby
// poller. Polling runs only while in the lobby.
type Directory struct {
	baseURL string
	hc      *http.Client

	pollEvery time.Duration

	mu       sync.Mutex
	stopPoll context.CancelFunc
}

func NewDirectory(baseURL string, hc *http.Client) *Directory {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Directory{
		baseURL:   baseURL,
		hc:        hc,
		pollEvery: lobbyPollInterval,
	}
}

func (d *Directory) ListRooms(ctx context.Context) ([]RoomInfo, error) {
	var resp struct {
		Rooms []RoomInfo `json:"rooms"`
	}
	if err := d.do(ctx, http.MethodGet, "/rooms", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (d *Directory) CreateRoom(ctx context.Context, params CreateRoomParams) (*RoomDetails, error) {
	var room RoomDetails
	if err := d.do(ctx, http.MethodPost, "/rooms", params, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (d *Directory) GetRoom(ctx context.Context, roomID string) (*RoomDetails, error) {
	var room RoomDetails
	if err := d.do(ctx, http.MethodGet, "/rooms/"+roomID, nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (d *Directory) DeleteRoom(ctx context.Context, roomID string) error {
	return d.do(ctx, http.MethodDelete, "/rooms/"+roomID, nil, nil)
}

// ChatHistory fetches persisted messages, oldest first. limit <= 0 uses
// the server default of 50.
func (d *Directory) ChatHistory(ctx context.Context, roomID string, limit int) ([]ChatRecord, error) {
	path := "/rooms/" + roomID + "/chat"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var resp struct {
		Items []ChatRecord `json:"items"`
	}
	if err := d.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// StartPolling begins the lobby refresh loop. The callback runs once
// immediately, then every poll interval. A second call replaces the
// previous loop.
func (d *Directory) StartPolling(ctx context.Context, onUpdate func([]RoomInfo)) {
	d.mu.Lock()
	if d.stopPoll != nil {
		d.stopPoll()
	}
	pollCtx, cancel := context.WithCancel(ctx)
	d.stopPoll = cancel
	d.mu.Unlock()

	go d.pollLoop(pollCtx, onUpdate)
}

func (d *Directory) StopPolling() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopPoll != nil {
		d.stopPoll()
		d.stopPoll = nil
	}
}

func (d *Directory) pollLoop(ctx context.Context, onUpdate func([]RoomInfo)) {
	ticker := time.NewTicker(d.pollEvery)
	defer ticker.Stop()

	for {
		rooms, err := d.ListRooms(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("lobby poll failed", "err", err)
		} else {
			onUpdate(rooms)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Directory) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if derr := json.NewDecoder(resp.Body).Decode(&apiErr); derr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
