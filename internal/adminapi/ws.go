package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEventFeed upgrades to a websocket and streams health.Info
// snapshots as they're published, matching the teacher's
// wsReadPump/wsWritePump split (read pump only drains/closes here since
// this feed is server push only, no client-to-server messages).
func (s *Server) handleEventFeed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &wsClient{id: uuid.New(), conn: conn, send: make(chan []byte, 16), done: make(chan struct{})}
	s.wsMu.Lock()
	s.wsClients[client.id] = client
	s.wsMu.Unlock()

	go s.wsWritePump(client)
	go s.wsReadPump(client)
	go s.feedHealth(client)
}

func (s *Server) wsReadPump(client *wsClient) {
	defer s.closeClient(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) wsWritePump(client *wsClient) {
	for {
		select {
		case msg := <-client.send:
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}

func (s *Server) feedHealth(client *wsClient) {
	sub := s.health.Subscribe()
	for {
		select {
		case info, ok := <-sub:
			if !ok {
				return
			}
			body, err := json.Marshal(healthEvent{Status: info.OverallStatus.String(), Ready: info.Ready})
			if err != nil {
				continue
			}
			select {
			case client.send <- body:
			default:
			}
		case <-client.done:
			return
		}
	}
}

func (s *Server) closeClient(client *wsClient) {
	s.wsMu.Lock()
	delete(s.wsClients, client.id)
	s.wsMu.Unlock()
	close(client.done)
	client.conn.Close()
}

type healthEvent struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}
