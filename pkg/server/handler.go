package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeboe/deep-research/pkg/streaming"
)

type Handler struct {
	Service *Service
	MCP     http.Handler
}

func NewHandler(s *Service, mcp http.Handler) *Handler {
	return &Handler{Service: s, MCP: mcp}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if h.MCP != nil {
		r.Any("/mcp", gin.WrapH(h.MCP))
	}

	api := r.Group("/api")
	{
		api.POST("/research", h.createRun)
		api.GET("/research", h.listRuns)
		api.GET("/research/:id", h.getRun)
		api.GET("/research/:id/logs", h.getRunLogs)
		api.GET("/research/:id/events", h.getRunEvents)
		api.GET("/research/:id/stream", h.streamRun)
		api.POST("/research/:id/cancel", h.cancelRun)
		api.POST("/research/:id/ask", h.askRun)
	}
}

// writeError maps service errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrEmptyQuery):
		status = http.StatusBadRequest
	case errors.Is(err, ErrRunNotActive), errors.Is(err, ErrRunNotCompleted):
		status = http.StatusConflict
	case errors.Is(err, ErrChatUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) createRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.Service.CreateRun(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

func (h *Handler) listRuns(c *gin.Context) {
	runs, err := h.Service.ListRuns(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	// Return empty list instead of null
	if runs == nil {
		runs = []Run{}
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handler) getRun(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	run, err := h.Service.GetRun(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) getRunLogs(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	logs, err := h.Service.GetRunLogs(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if logs == nil {
		logs = []LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) getRunEvents(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	events, err := h.Service.GetRunEvents(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []StoredEvent{}
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handler) cancelRun(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.Service.CancelRun(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "cancelling"})
}

func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
}

func writeSSE(c *gin.Context, id uint64, event string, data []byte) {
	if id > 0 {
		_, _ = fmt.Fprintf(c.Writer, "id: %d\n", id)
	}
	_, _ = fmt.Fprintf(c.Writer, "event: %s\n", event)
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(data)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

// lastEventID reads the resume point from the Last-Event-ID header or the
// last_event_id query parameter.
func lastEventID(c *gin.Context) uint64 {
	raw := c.GetHeader("Last-Event-ID")
	if raw == "" {
		raw = c.Query("last_event_id")
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// streamRun sends the run's events as SSE: retained events after
// Last-Event-ID first, then live events until the run finishes.
func (h *Handler) streamRun(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	run, err := h.Service.GetRun(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	key := id.String()
	streams := h.Service.Streams
	ch := streams.Subscribe(key, 64)
	defer streams.Unsubscribe(key, ch)

	sseHeaders(c)
	last := lastEventID(c)

	replay := streams.ReplaySince(key, last)
	if len(replay) == 0 && run.Status.Terminal() {
		// history is gone, e.g. after a restart; fall back to the stored log
		stored, err := h.Service.GetRunEvents(c.Request.Context(), id)
		if err != nil {
			writeSSE(c, 0, "error", []byte(strconv.Quote(err.Error())))
			return
		}
		for _, evt := range stored {
			if evt.Seq > last {
				writeSSE(c, evt.Seq, evt.Type, evt.Payload)
			}
		}
		return
	}
	for _, evt := range replay {
		writeEvent(c, evt)
		last = evt.Seq
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Seq <= last {
				continue
			}
			writeEvent(c, evt)
			last = evt.Seq
		}
	}
}

func writeEvent(c *gin.Context, evt streaming.Event) {
	writeSSE(c, evt.Seq, string(evt.Type), evt.Marshal())
}

func (h *Handler) askRun(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Question string `json:"question"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next, err := h.Service.Ask(c.Request.Context(), id, req.Question)
	if err != nil {
		writeError(c, err)
		return
	}

	sseHeaders(c)
	for event, err := range next {
		if err != nil {
			writeSSE(c, 0, "error", []byte(strconv.Quote(err.Error())))
			return
		}
		data, err := json.Marshal(event)
		if err != nil {
			return
		}
		writeSSE(c, 0, event.Type, data)
	}
}
