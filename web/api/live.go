package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// liveHandler streams events as JSON text frames, for browser live reload
func (s *Server) liveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Debug().Err(err).Msg("upgrade failed")
			return
		}
		defer conn.Close()

		events, cancel := s.hub.Subscribe()
		defer cancel()

		// Reads only detect the client going away
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						s.log.Debug().Err(err).Msg("live client read error")
					}
					return
				}
			}
		}()

		ping := time.NewTicker(s.pingInterval)
		defer ping.Stop()

		for {
			select {
			case <-gone:
				return
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case event, ok := <-events:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if !ok {
					conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
					return
				}
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			}
		}
	}
}
