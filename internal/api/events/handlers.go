package events

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/pkg/events"
	"github.com/lissto-dev/imagecache/pkg/logging"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	queueSize    = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler streams cache events over a websocket
type Handler struct {
	bus *events.Bus
}

// NewHandler creates a new event stream handler
func NewHandler(bus *events.Bus) *Handler {
	return &Handler{bus: bus}
}

// Stream handles GET /events. With ?key= only events affecting that key are sent.
func (h *Handler) Stream(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logging.Logger.Debug("Websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer conn.Close()

	log := logging.Component("events")
	queue := make(chan events.Event, queueSize)
	push := func(e events.Event) {
		select {
		case queue <- e:
		default:
			log.Warn("Dropping cache event for slow subscriber", zap.String("type", string(e.Type)))
		}
	}

	var unsubscribe func()
	if key := c.QueryParam("key"); key != "" {
		unsubscribe = h.bus.SubscribeKey(key, push)
	} else {
		unsubscribe = h.bus.Subscribe("ws-"+uuid.New().String(), push)
	}
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case e := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				log.Debug("Websocket write failed", zap.Error(err))
				return nil
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return nil
			}
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// RegisterRoutes registers the event stream route
func RegisterRoutes(g *echo.Group, handler *Handler) {
	g.GET("/events", handler.Stream)
}
