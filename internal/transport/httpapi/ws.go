package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const wsReadLimit = 32 << 10

var errPeerGone = errors.New("websocket peer gone")

func newUpgrader(origins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.TrimSuffix(r.Header.Get("Origin"), "/")
			return origin == "" || slices.Contains(origins, origin)
		},
	}
}

// ChatWS — тот же чат поверх WebSocket: кадр {id, nombre, mensaje} → {respuesta} или {error}.
// Квота общая с /chat по id пользователя.
func (h *Handler) ChatWS(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		h.logger.Warnw("WebSocket upgrade не удался", "error", err)
		return nil
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	// После hijack net/http соединение не слушает, контекст запроса сам не отменится.
	// Отменяем его, как только читающая сторона увидит закрытие.
	ctx, cancel := context.WithCancelCause(c.Request().Context())
	defer cancel(nil)

	frames := make(chan []byte)
	go func() {
		defer close(frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Warnw("WebSocket закрыт с ошибкой", "error", err)
				}
				cancel(errPeerGone)
				return
			}
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for data := range frames {
		frame := h.handleFrame(ctx, data)
		if ctx.Err() != nil {
			return nil
		}
		if err := conn.WriteJSON(frame); err != nil {
			h.logger.Warnw("Не удалось отправить кадр", "error", err)
			return nil
		}
	}
	return nil
}

// handleFrame отвечает на один кадр: {"respuesta": ...} либо {"error": ...}.
func (h *Handler) handleFrame(ctx context.Context, data []byte) map[string]string {
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return errorBody("JSON inválido")
	}
	in, err := ValidateChat(body)
	if err != nil {
		return errorBody(err.Error())
	}
	if allowed, _ := h.chatQuota.Allow(userKey(in.ID)); !allowed {
		return errorBody(msgChatLimited)
	}

	reply, err := h.chat(ctx, in)
	if err != nil {
		he := h.chatError(err).(*echo.HTTPError)
		return errorBody(he.Message.(string))
	}
	return map[string]string{"respuesta": reply}
}
