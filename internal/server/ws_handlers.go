package server

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader upgrades HTTP requests to WebSockets.
//
// CheckOrigin allows every origin: the server is meant to listen on localhost.
// Restrict it before exposing the server beyond that.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWSEvents streams parameter changes and update progress. The current
// state is sent first so a new client can render without polling.
//
// Incoming messages are ignored; the read loop only detects disconnects.
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := s.hub.Add(conn)
	if st, err := s.loader.State(r.Context()); err == nil {
		_ = client.Send(WSMessage{Type: EventState, Data: st})
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.Remove(client)
			return
		}
	}
}
