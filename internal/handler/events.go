package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/badminton-sessions/internal/engine"
	"github.com/iliyamo/badminton-sessions/internal/events"
	"github.com/iliyamo/badminton-sessions/internal/model"
	"github.com/iliyamo/badminton-sessions/internal/tracker"
)

// EventsHandler streams invalidation signals as server-sent events.  Each
// signal becomes one "message" event naming the topic; clients refetch the
// resource when they receive it.
type EventsHandler struct {
	Hub       *events.Hub
	Engine    *engine.Engine
	Tracker   *tracker.Tracker
	Heartbeat time.Duration
}

// NewEventsHandler constructs an EventsHandler.  A non-positive heartbeat
// defaults to 15 seconds.
func NewEventsHandler(hub *events.Hub, e *engine.Engine, t *tracker.Tracker, heartbeat time.Duration) *EventsHandler {
	if hub == nil || e == nil || t == nil {
		panic("nil dependency passed to NewEventsHandler")
	}
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &EventsHandler{Hub: hub, Engine: e, Tracker: t, Heartbeat: heartbeat}
}

// Session handles GET /events/sessions/:id.
func (h *EventsHandler) Session(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.Engine.GetSession(id); err != nil {
		return fail(c, err)
	}
	return h.stream(c, events.SessionTopic(id))
}

// Request handles GET /events/requests/:id.  Only the submitter or an
// admin may follow a request.
func (h *EventsHandler) Request(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	req, err := h.Tracker.Get(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	if req.UserID != a.UserID && !a.IsAdmin() {
		return fail(c, model.Errorf(model.KindForbidden, "request belongs to another user"))
	}
	return h.stream(c, events.RequestTopic(req.ID))
}

// stream subscribes before writing the initial message so that no change
// between the client's fetch and the subscription is lost.
func (h *EventsHandler) stream(c echo.Context, topic string) error {
	sub := h.Hub.Subscribe(topic)
	defer sub.Close()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, topic); err != nil {
		return nil
	}
	tick := time.NewTicker(h.Heartbeat)
	defer tick.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.C:
			if err := writeEvent(w, topic); err != nil {
				return nil
			}
		case <-tick.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeEvent(w *echo.Response, topic string) error {
	if _, err := fmt.Fprintf(w, "event: message\ndata: {\"topic\":%q}\n\n", topic); err != nil {
		return err
	}
	w.Flush()
	return nil
}
