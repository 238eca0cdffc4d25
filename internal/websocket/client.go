package websocket

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// watchers only ever send control frames
	maxMessageSize = 512
	sendBuffer     = 64
)

// socket is the part of *websocket.Conn the pumps use
type socket interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one socket watching one thread
type Client struct {
	Hub      *Hub
	Conn     socket
	ThreadID string

	// Send carries encoded frames; the hub closes it on unregister
	Send chan []byte
}

// ServeWs attaches a socket to a thread and blocks until the peer goes away.
func ServeWs(hub *Hub, conn *websocket.Conn, threadID string) {
	client := &Client{Hub: hub, Conn: conn, ThreadID: threadID, Send: make(chan []byte, sendBuffer)}
	if !hub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.drop(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	extend := func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	_ = extend("")
	c.Conn.SetPongHandler(extend)

	for {
		_, _, err := c.Conn.ReadMessage()
		if err == nil {
			continue
		}
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			c.Hub.logger.Warn("Hub", "Socket closed unexpectedly", map[string]interface{}{
				"thread_id": c.ThreadID,
				"error":     err.Error(),
			})
		}
		return
	}
}

// writePump owns all writes on the socket. It returns when the hub closes
// Send or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		var err error
		select {
		case frame, ok := <-c.Send:
			if !ok {
				_ = c.write(websocket.CloseMessage, nil)
				return
			}
			err = c.write(websocket.TextMessage, frame)
		case <-ticker.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			c.Hub.logger.Debug("Hub", "Socket write failed", map[string]interface{}{
				"thread_id": c.ThreadID,
				"error":     err.Error(),
			})
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(messageType, data)
}
