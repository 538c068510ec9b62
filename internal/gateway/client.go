package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrSendBufferFull = errors.New("send buffer full")
	ErrClientClosed   = errors.New("client closed")
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Client is one accepted connection. It is ephemeral and never a source of
// truth: membership lives in the session state, not here.
type Client struct {
	ID          string
	InviteCode  string
	PlayerID    string
	PlayerEmail string
	CharacterID string
	ConnectedAt time.Time

	hub  *Hub
	conn *websocket.Conn

	// sendMu guards send against the shutdown close. Enqueues and the
	// close must never interleave: sending on a closed channel panics.
	sendMu sync.Mutex
	closed bool
	send   chan []byte

	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, inviteCode, playerID, playerEmail string) *Client {
	return &Client{
		ID:          uuid.New().String(),
		InviteCode:  inviteCode,
		PlayerID:    playerID,
		PlayerEmail: playerEmail,
		ConnectedAt: time.Now(),
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
	}
}

// MessageHandler processes one inbound frame. It must never panic the
// connection on bad input; malformed frames get an error frame back and the
// connection stays open.
type MessageHandler func(c *Client, data []byte)

// ReadPump reads frames until the connection drops, then unregisters the
// client. Runs on the connection's goroutine.
func (c *Client) ReadPump(handle MessageHandler) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).
					Str("inviteCode", c.InviteCode).
					Str("playerId", c.PlayerID).
					Msg("websocket read error")
			}
			return
		}

		handle(c, message)
	}
}

// WritePump drains the send channel to the socket and keeps the connection
// alive with pings. One message per frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send queues a message for this connection only. Non-blocking: a full
// buffer drops the message rather than stalling the caller.
func (c *Client) Send(message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

// enqueue is the only writer to the send channel besides shutdown. It
// refuses once the client is shut down instead of racing the close.
func (c *Client) enqueue(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// shutdown closes the send channel exactly once; WritePump then closes the
// socket when it drains. Safe against concurrent enqueues.
func (c *Client) shutdown() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Close unregisters the client; the hub shuts the send channel down on the
// way out.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.hub.Unregister(c)
	})
}
