package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// errorBody — единый формат ошибок API.
func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// newErrorHandler рендерит любую ошибку как {"error": "..."}.
func newErrorHandler(maxBodySize string, logger *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := "Error interno del servidor"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			switch code {
			case http.StatusRequestEntityTooLarge:
				msg = fmt.Sprintf("Payload demasiado grande (límite %s)", maxBodySize)
			default:
				if s, ok := he.Message.(string); ok {
					msg = s
				} else {
					msg = http.StatusText(code)
				}
			}
		} else {
			logger.Errorw("Необработанная ошибка запроса", "path", c.Path(), "error", err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, errorBody(msg))
		}
		if err != nil {
			logger.Warnw("Не удалось отправить ошибку клиенту", "error", err)
		}
	}
}
