package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seenimoa/volsurf/pkg/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; restrict in production
	},
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// wsClientMessage is the only shape clients send: a control verb plus an
// optional symbol. Unparseable frames are ignored.
type wsClientMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// handleWebSocket upgrades the connection and streams surface updates.
// A fresh client is on the firehose; "subscribe" narrows the stream to
// the named symbols and "unsubscribe" drops one again.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}

	client := &WSClient{
		hub:  s.wsHub,
		send: make(chan WSMessage, 256),
	}
	s.wsHub.Register(client)

	go client.writePump(conn)
	go client.readPump(conn)
}

// readPump consumes control messages until the peer disconnects. It owns
// the read deadline; every pong pushes it out.
func (c *WSClient) readPump(conn *websocket.Conn) {
	defer func() {
		c.hub.Unregister(c)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read: %v", err)
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "subscribe":
			symbol := utils.NormalizeSymbol(msg.Symbol)
			if symbol == "" {
				continue
			}
			c.subscribe(symbol)
			c.send <- WSMessage{Type: "subscribed", Data: symbol}
		case "unsubscribe":
			symbol := utils.NormalizeSymbol(msg.Symbol)
			if symbol == "" {
				continue
			}
			c.unsubscribe(symbol)
			c.send <- WSMessage{Type: "unsubscribed", Data: symbol}
		case "ping":
			c.send <- WSMessage{Type: "pong"}
		}
	}
}

// writePump drains the send channel to the wire and keeps the connection
// alive with periodic pings. It is the sole writer on the connection.
func (c *WSClient) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := writeWS(conn, msg); err != nil {
				return
			}

			// Flush whatever queued while we were writing.
			for n := len(c.send); n > 0; n-- {
				if err := writeWS(conn, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeWS marshals and writes one message. A marshal failure skips the
// message but keeps the connection.
func writeWS(conn *websocket.Conn, msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("websocket marshal: %v", err)
		return nil
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
