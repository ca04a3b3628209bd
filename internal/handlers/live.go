package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/campuswatch/attendance-sentry/internal/session"
)

// WebSocket timeout constants following Gorilla best practices.
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard UI is served from a separate origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterLiveRoutes registers the websocket live feed.
//
// GET /live upgrades the connection and pushes a full session snapshot
// after every merged live event, starting with the current state. Slow
// clients receive the latest snapshot only; intermediate ones are dropped
// by the session's listener fan-out.
func RegisterLiveRoutes(r gin.IRoutes, sess *session.Session, log *zap.SugaredLogger) {
	r.GET("/live", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warnw("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		updates, remove := sess.AddListener()
		defer remove()

		// Reader goroutine: consume pongs and detect the client closing.
		done := make(chan struct{})
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func(snap session.Snapshot) error {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			return conn.WriteJSON(snap)
		}

		if err := send(sess.Snapshot()); err != nil {
			return
		}

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case snap := <-updates:
				if err := send(snap); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})
}
