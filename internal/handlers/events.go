package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/memohai/crossplay/internal/event"
)

const (
	eventStreamBuffer = 64
	wsWriteTimeout    = 10 * time.Second
	wsPingInterval    = 30 * time.Second
)

// EventsHandler streams orchestrator events over SSE and websocket.
type EventsHandler struct {
	hub      event.Subscriber
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventsHandler creates an EventsHandler reading from hub.
func NewEventsHandler(log *slog.Logger, hub event.Subscriber) *EventsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &EventsHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.With(slog.String("handler", "events")),
	}
}

// Register registers event stream routes.
func (h *EventsHandler) Register(e *echo.Echo) {
	e.GET("/events", h.Stream)
	e.GET("/events/ws", h.WebSocket)
}

func parseTopic(raw string) (event.Topic, error) {
	switch t := event.Topic(strings.ToLower(strings.TrimSpace(raw))); t {
	case event.TopicAll, event.TopicIdentity, event.TopicLobby, event.TopicSession:
		return t, nil
	default:
		return "", fmt.Errorf("unknown topic %q", raw)
	}
}

// Stream writes events as server-sent events until the client goes away.
func (h *EventsHandler) Stream(c echo.Context) error {
	topic, err := parseTopic(c.QueryParam("topic"))
	if err != nil {
		return badRequest(err.Error())
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}
	writer := bufio.NewWriter(c.Response().Writer)

	_, stream, cancel := h.hub.Subscribe(topic, eventStreamBuffer)
	defer cancel()

	// Flush headers so clients see the stream open before the first event.
	flusher.Flush()
	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case ev, ok := <-stream:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn("encode event failed", slog.String("type", string(ev.Type)), slog.Any("error", err))
				continue
			}
			_, _ = fmt.Fprintf(writer, "event: %s\ndata: %s\n\n", ev.Type, data)
			writer.Flush()
			flusher.Flush()
		}
	}
}

// WebSocket upgrades the request and writes each event as a JSON text frame.
// Frames from the client are discarded; a read error ends the stream.
func (h *EventsHandler) WebSocket(c echo.Context) error {
	topic, err := parseTopic(c.QueryParam("topic"))
	if err != nil {
		return badRequest(err.Error())
	}
	_, stream, cancel := h.hub.Subscribe(topic, eventStreamBuffer)
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return nil
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case <-closed:
			return nil
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return nil
			}
		case ev, ok := <-stream:
			if !ok {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", slog.Any("error", err))
				return nil
			}
		}
	}
}
