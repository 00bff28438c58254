package gateway

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/eleven-am/voice-intake/internal/voicesession"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventConn streams session snapshots to one websocket client. The client
// never sends anything meaningful; reads only keep pongs and the close
// handshake flowing.
type eventConn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newEventConn(ws *websocket.Conn, logger *slog.Logger) *eventConn {
	return &eventConn{
		ws:     ws,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (c *eventConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *eventConn) readPump() {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("events websocket read error", "error", err)
			}
			return
		}
	}
}

// writePump owns every write on the connection. It returns when the
// snapshot channel closes, a write fails or the client goes away.
func (c *eventConn) writePump(snapshots <-chan voicesession.Snapshot) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case snap, ok := <-snapshots:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.ws.WriteJSON(snapshotToResponse(snap)); err != nil {
				c.logger.Debug("events websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// StreamEvents upgrades to a websocket and pushes the current snapshot
// followed by every change until the client disconnects.
func (h *Handler) StreamEvents(c echo.Context) error {
	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	snapshots, cancel := h.engine.Subscribe()
	defer cancel()

	conn := newEventConn(ws, h.logger.With("remote", c.RealIP()))
	h.logger.Debug("events subscriber connected", "remote", c.RealIP())

	go conn.readPump()
	conn.writePump(snapshots)

	h.logger.Debug("events subscriber disconnected", "remote", c.RealIP())
	return nil
}
