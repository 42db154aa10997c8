package notifyhub

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// Watchers only ever send control frames.
	maxWatcherMessage = 512
)

var upgrader = websocket.Upgrader{
	// OnlyAllowLocal guards the route.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleNotifyWS upgrades the request and keeps the watcher registered until it goes
// away or stops answering pings.
func HandleNotifyWS(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
		defer func() {
			hub.Unregister(conn)
			_ = conn.Close()
		}()

		stop := make(chan struct{})
		defer close(stop)
		go pingWatcher(conn, stop)

		conn.SetReadLimit(maxWatcherMessage)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}
}

func pingWatcher(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
