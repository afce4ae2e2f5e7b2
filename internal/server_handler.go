package internal

import (
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS authenticates the handshake credential and upgrades the request.
// Invalid credentials are refused with 401 before any hub state is created;
// a valid one yields a connection in the unannounced state until the client
// sends announce_presence.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	authCtx, err := s.authenticateRequest(request)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errUnauthorized) {
			status = http.StatusUnauthorized
		}
		http.Error(writer, http.StatusText(status), status)
		return
	}
	websocketConn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}

	client := newClient(s.hub, websocketConn, uuid.NewString(), authCtx.Username)
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}
