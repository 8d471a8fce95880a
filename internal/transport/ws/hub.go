package ws

import (
	"sync"

	"github.com/kodescrux/collab/internal/domain"
)

// Conn is one joined member's connection as the hub sees it.
type Conn interface {
	SendFrame(v any) error
	Close() error
	Member() domain.Member
	RoomID() string
}

// Display colors assigned to members round-robin, so every member gets a
// stable color for the lifetime of their session.
var memberColors = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A",
	"#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E2",
	"#F8B739", "#52B788", "#E76F51", "#2A9D8F",
}

// Hub tracks the live membership roster of every room. It is the only
// owner of membership state; rooms and chat persist in Postgres while
// members exist only as long as their socket.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]map[Conn]struct{} // roomID -> set of joined connections
	colorIndex int
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[Conn]struct{})}
}

// TryJoin admits c to the room unless it is already at max members; a
// max of zero or below means no cap. The
// capacity check, the first-member decision and the bind callback run
// under the roster lock, so two racing joins can never both claim the
// host slot or overfill the room. bind installs the member on the
// connection before it becomes visible to broadcasts and snapshots.
func (h *Hub) TryJoin(roomID string, c Conn, max int, bind func(first bool)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[roomID]
	if max > 0 && len(rs) >= max {
		return false
	}
	if !ok {
		rs = make(map[Conn]struct{})
		h.rooms[roomID] = rs
	}
	if bind != nil {
		bind(len(rs) == 0)
	}
	rs[c] = struct{}{}
	return true
}

func (h *Hub) Remove(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rs, ok := h.rooms[c.RoomID()]; ok {
		delete(rs, c)
		if len(rs) == 0 {
			delete(h.rooms, c.RoomID())
		}
	}
}

// Broadcast sends v to every member of the room, skipping exclude when
// non-nil. Sends are best-effort; a dead peer is cleaned up by its own
// read loop.
func (h *Hub) Broadcast(roomID string, v any, exclude Conn) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[roomID] {
		if c == exclude {
			continue
		}
		_ = c.SendFrame(v)
	}
}

// Members returns a snapshot of the room's roster ordered by join time.
func (h *Hub) Members(roomID string) []domain.Member {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]domain.Member, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		out = append(out, c.Member())
	}
	sortMembers(out)
	return out
}

func (h *Hub) Count(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// NextColor hands out the next display color from the palette.
func (h *Hub) NextColor() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	color := memberColors[h.colorIndex%len(memberColors)]
	h.colorIndex++
	return color
}

func sortMembers(ms []domain.Member) {
	// insertion sort; rosters are tiny (max_users <= 10)
	for i := 1; i < len(ms); i++ {
		for j := i; j > 0 && ms[j].JoinedAt.Before(ms[j-1].JoinedAt); j-- {
			ms[j], ms[j-1] = ms[j-1], ms[j]
		}
	}
}
