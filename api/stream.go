package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/castleridge-io/clawdeck-sub003/notify"
)

// streamEvents pushes change events over server-sent events. The session is
// dropped when the client disconnects or falls too far behind.
func streamEvents(hub *notify.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().WriteHeader(http.StatusOK)
		flusher.Flush()

		ctx := c.Request().Context()
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
				data, err := json.Marshal(ev)
				if err != nil {
					c.Logger().Error(err)
					continue
				}
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}
