package quotes

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client represents a single WebSocket peer and its watched symbols.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// guarded by hub.mu
	watched map[string]bool
}

func (c *Client) symbols() []string {
	out := make([]string, 0, len(c.watched))
	for s := range c.watched {
		out = append(out, s)
	}
	return out
}

func (c *Client) watches(symbol string) bool {
	return c.watched[symbol]
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// subscribeMsg is the client-to-server control message.
type subscribeMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[quotes] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var m subscribeMsg
		if json.Unmarshal(msg, &m) != nil {
			continue
		}

		switch m.Type {
		case "SUBSCRIBE":
			c.hub.mu.Lock()
			for _, s := range m.Symbols {
				c.watched[s] = true
			}
			c.hub.mu.Unlock()
			// Serve whatever the hub already holds so the client is not
			// blank until the next poll.
			for _, s := range m.Symbols {
				if q, ok := c.hub.cached(s); ok {
					if env, err := json.Marshal(map[string]interface{}{"type": "quote", "quote": q}); err == nil {
						select {
						case c.send <- env:
						default:
						}
					}
				}
			}
		case "UNSUBSCRIBE":
			c.hub.mu.Lock()
			for _, s := range m.Symbols {
				delete(c.watched, s)
			}
			c.hub.mu.Unlock()
		}
	}
}
