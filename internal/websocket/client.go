package websocket

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const sendBuffer = 256

type Client struct {
	UserID   string
	DeviceID string

	conn    *websocket.Conn
	manager *Manager
	send    chan []byte
}

func NewClient(userID, deviceID string, conn *websocket.Conn, manager *Manager) *Client {
	return &Client{
		UserID:   userID,
		DeviceID: deviceID,
		conn:     conn,
		manager:  manager,
		send:     make(chan []byte, sendBuffer),
	}
}

// Serve registers the client and starts its pumps.
func (c *Client) Serve() {
	c.manager.Register(c)
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.manager.unregister <- c
		c.conn.Close()
	}()

	if c.manager.readLimit > 0 {
		c.conn.SetReadLimit(c.manager.readLimit)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.manager.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.manager.pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] read error: %v", err)
			}
			return
		}
		c.manager.incoming <- clientMessage{client: c, data: data}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.manager.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
