package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"stockpulse/internal/domain"
	"stockpulse/internal/events"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
)

const wsWriteTimeout = 10 * time.Second

// subscribe opens the subscription named by the session_id and task_id
// query parameters and writes the error response itself on failure.
func (h *Handler) subscribe(c *gin.Context) (*events.Subscription, bool) {
	sessionID := c.Query("session_id")
	taskID := c.Query("task_id")
	if sessionID == "" && taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id or task_id is required"})
		return nil, false
	}
	sub, err := h.tasks.Subscribe(sessionID, taskID)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return sub, true
}

// finalFor reports whether ev ends a stream scoped to a single task.
func finalFor(sub *events.Subscription, ev domain.Event) bool {
	return sub.TaskID() != "" && ev.Kind.IsTerminal()
}

// Stream godoc
// @Summary      Stream task events (SSE)
// @Description  Server-sent events for one task (task_id) or every task of a session (session_id). Each event carries its kind, sequence number and JSON payload. A task stream ends after its terminal event.
// @Tags         events
// @Produce      text/event-stream
// @Param        session_id  query  string  false  "Session id used at submission"
// @Param        task_id     query  string  false  "Task id"
// @Success      200  {string}  string
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/stream [get]
func (h *Handler) Stream(c *gin.Context) {
	sub, ok := h.subscribe(c)
	if !ok {
		return
	}
	defer sub.Close()

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": connected session=%s\n\n", sub.SessionID())
	w.Flush()

	log := h.log.With().Str("session_id", sub.SessionID()).Str("task_id", sub.TaskID()).Logger()
	log.Info().Msg("sse client connected")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			log.Info().Msg("sse client disconnected")
			return
		case ev, open := <-sub.C():
			if !open {
				// Replaced by a newer subscription for the same session.
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Msg("encode event")
				continue
			}
			fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", ev.Kind, ev.Seq, data)
			w.Flush()
			if finalFor(sub, ev) {
				return
			}
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat %d\n\n", time.Now().Unix())
			w.Flush()
		}
	}
}

// WebSocket godoc
// @Summary      Stream task events (WebSocket)
// @Description  Same events as /api/stream, one JSON text frame per event.
// @Tags         events
// @Param        session_id  query  string  false  "Session id used at submission"
// @Param        task_id     query  string  false  "Task id"
// @Success      101  {string}  string
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/ws [get]
func (h *Handler) WebSocket(c *gin.Context) {
	sub, ok := h.subscribe(c)
	if !ok {
		return
	}
	defer sub.Close()

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	log := h.log.With().Str("session_id", sub.SessionID()).Str("task_id", sub.TaskID()).Logger()
	log.Info().Msg("websocket client connected")

	// Clients never send; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(c.Request.Context())
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("websocket client disconnected")
			return
		case ev, open := <-sub.C():
			if !open {
				conn.Close(websocket.StatusGoingAway, "subscription replaced")
				return
			}
			if err := writeFrame(ctx, conn, ev); err != nil {
				log.Warn().Err(err).Msg("websocket write failed")
				return
			}
			if finalFor(sub, ev) {
				conn.Close(websocket.StatusNormalClosure, string(ev.Kind))
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
