package ws

import (
	"sync"
	"time"

	"github.com/kodescrux/collab/internal/domain"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// wsConn wraps a gorilla connection with the per-socket state the hub
// needs. Writes are serialized with a mutex since gorilla allows only
// one concurrent writer.
type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	roomID string
	member domain.Member
	joined bool
	left   bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newWsConn(conn *websocket.Conn, roomID string) *wsConn {
	return &wsConn{
		conn:   conn,
		roomID: roomID,
		closed: make(chan struct{}),
	}
}

func (c *wsConn) SendFrame(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) Member() domain.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.member
}

func (c *wsConn) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *wsConn) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined && !c.left
}

func (c *wsConn) setMember(roomID string, m domain.Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
	c.member = m
	c.joined = true
	c.left = false
}

// markLeft flips the connection to the departed state. Returns true only
// on the first call for a joined connection.
func (c *wsConn) markLeft() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined || c.left {
		return false
	}
	c.left = true
	return true
}
