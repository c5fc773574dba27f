package api

import (
	"net/http"
	"time"

	"github.com/chrissnell/simtelemetry/internal/types"
	"github.com/gorilla/websocket"
)

const writeWait = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamMessage is one websocket frame.
type StreamMessage struct {
	types.Record
	Status types.Status `json:"status"`
}

// streamSnapshots pushes records to a websocket client no faster than the
// configured stream interval. Records arriving in between are skipped.
func (c *Controller) streamSnapshots(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		c.logger.Warnf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	records, unsubscribe := c.telemetry.Subscribe()
	defer unsubscribe()

	// The client never sends anything meaningful; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger.Debugf("websocket read error: %v", err)
				}
				return
			}
		}
	}()

	var last time.Time
	for {
		select {
		case r, ok := <-records:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "telemetry stopped"),
					time.Now().Add(writeWait))
				return
			}
			now := time.Now()
			if now.Sub(last) < c.streamInterval {
				continue
			}
			last = now

			conn.SetWriteDeadline(now.Add(writeWait))
			if err := conn.WriteJSON(StreamMessage{Record: r, Status: c.telemetry.Status()}); err != nil {
				c.logger.Debugf("websocket write error: %v", err)
				return
			}
		case <-closed:
			return
		case <-c.ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
