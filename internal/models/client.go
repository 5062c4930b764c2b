package models

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// Client is a browser attached to one session over a WebSocket.
type Client struct {
	Id   uuid.UUID       `json:"clientid"`
	Conn *websocket.Conn `json:"-"`
	mu   sync.Mutex      // serialises writes; the socket allows one writer
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{Id: uuid.New(), Conn: conn}
}

// Publish writes an event to the socket, stamping it if needed.
func (c *Client) Publish(ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Conn == nil {
		return nil
	}
	return c.Conn.WriteJSON(ev)
}
