package api

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// streamEvents pushes collection change events to the client over SSE
// so hosts can re-render without polling.
func streamEvents(engine Engine) echo.HandlerFunc {
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

		ch, cancel := engine.Notifier().Subscribe(32)
		defer cancel()
		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, open := <-ch:
				if !open {
					return nil
				}
				data, err := sonic.ConfigStd.Marshal(ev)
				if err != nil {
					c.Logger().Error(err)
					continue
				}
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return err
				}
				if _, err := c.Response().Write(data); err != nil {
					return err
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return err
				}
				flusher.Flush()
			}
		}
	}
}
