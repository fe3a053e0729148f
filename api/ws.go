package api

import (
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/castleridge-io/clawdeck-sub003/notify"
)

// wsEvents pushes change events over a WebSocket. The connection is
// write-only; the read side only watches for the client closing.
func wsEvents(hub *notify.Hub, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := websocket.Accept(c.Response(), c.Request(), nil)
		if err != nil {
			return nil
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		ctx := conn.CloseRead(c.Request().Context())

		p := principalOf(c)
		var session *notify.Session
		if p.Admin {
			session = hub.RegisterAll(p.OwnerID)
		} else {
			session = hub.Register(p.OwnerID)
		}
		defer hub.Unregister(session)

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, open := <-session.Events():
				if !open {
					return nil
				}
				if err := wsjson.Write(ctx, conn, ev); err != nil {
					logger.WithError(err).Debug("ws write failed, closing")
					return nil
				}
			}
		}
	}
}
