package internal

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMsgSize      = 8192
	rateLimitWindow = 3 * time.Second
	rateLimitBurst  = 10
)

// Client wraps a single websocket connection with a buffered send queue. The
// userID comes from the handshake credential; announced flips once the hub
// loop processes the announce event and is only touched on that goroutine.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	connID       string
	userID       string
	announced    bool
	messageTimes []time.Time
}

func newClient(hub *Hub, conn *websocket.Conn, connID, userID string) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, 256),
		connID:       connID,
		userID:       userID,
		messageTimes: make([]time.Time, 0, rateLimitBurst),
	}
}

func (client *Client) readPump() {
	defer func() {
		client.hub.unregister <- client
		client.conn.Close()
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			// normal close or read error; deferred cleanup unwinds the
			// connection whatever state it was in
			break
		}
		now := time.Now()
		if !client.allowMessage(now) {
			// over the event rate limit; drop the frame like any other
			// protocol error instead of reusing the message error event
			log.Printf("conn %s over event rate limit, dropping frame", client.connID)
			continue
		}
		var envelope Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Event == "" {
			// not an event frame; ignore rather than kill the connection
			continue
		}
		client.hub.inbound <- inboundEvent{client: client, envelope: envelope}
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub closed the queue (disconnect or superseded); tell the
				// peer to close and bail
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// rate limit

func (client *Client) allowMessage(now time.Time) bool {
	cutoff := now.Add(-rateLimitWindow)
	idx := 0
	for _, ts := range client.messageTimes {
		if ts.After(cutoff) {
			client.messageTimes[idx] = ts
			idx++
		}
	}
	client.messageTimes = client.messageTimes[:idx]
	if len(client.messageTimes) >= rateLimitBurst {
		return false
	}
	client.messageTimes = append(client.messageTimes, now)
	return true
}
