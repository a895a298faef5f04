package session

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// wsConn adapts *websocket.Conn to the hub's Conn interface. Writes are
// serialized with a mutex because gorilla/websocket forbids concurrent
// writers on one connection.
type wsConn struct {
	conn *websocket.Conn
	mu   chan struct{} // 1-buffered channel used as a non-reentrant lock
}

func newWSConn(c *websocket.Conn) *wsConn {
	mu := make(chan struct{}, 1)
	mu <- struct{}{}
	return &wsConn{conn: c, mu: mu}
}

func (w *wsConn) WriteMessage(data []byte) error {
	<-w.mu
	defer func() { w.mu <- struct{}{} }()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

// RegisterWebSocketRoute mounts the module-facing websocket endpoint on an
// echo router, following the upgrade-then-loop pattern of
// jholhewres-goclaw/liteclaw-liteclaw's gateway handler: upgrade, accept,
// then loop ReadMessage -> hub.OnMessage -> optional reply, until the
// connection errors out.
func (h *Hub) RegisterWebSocketRoute(e *echo.Echo, path string, log *slog.Logger) {
	e.GET(path, func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			log.Error("websocket upgrade failed", "error", err)
			return err
		}
		defer conn.Close()

		wc := newWSConn(conn)
		handle, err := h.Accept(wc, c.Request().URL.RawQuery)
		if err != nil {
			log.Info("rejected session", "error", err)
			_ = conn.Close()
			return nil
		}
		defer h.OnDisconnect(handle)

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Debug("module connection closed", "module_id", handle.ModuleID, "error", err)
				return nil
			}

			if reply := h.OnMessage(handle, msg); reply != "" {
				if err := wc.WriteMessage([]byte(reply)); err != nil {
					log.Warn("failed to write reply", "module_id", handle.ModuleID, "error", err)
					return nil
				}
			}
		}
	})
}
