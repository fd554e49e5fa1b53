package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/usecase"
)

const streamPollInterval = 500 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Subscriber delivers status events for one task.
type Subscriber interface {
	Subscribe(taskID uuid.UUID) (<-chan domain.TaskEvent, func())
}

// StreamHandler pushes task state over a WebSocket until the task is terminal.
type StreamHandler struct {
	getUC  *usecase.GetTaskUsecase
	events Subscriber
	poll   time.Duration
	logger *zap.Logger
}

// NewStreamHandler creates a new StreamHandler. events may be nil, in which
// case the stream relies on polling alone.
func NewStreamHandler(getUC *usecase.GetTaskUsecase, events Subscriber, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		getUC:  getUC,
		events: events,
		poll:   streamPollInterval,
		logger: logger,
	}
}

// Stream handles GET /api/v1/tasks/:id/stream (WebSocket upgrade)
func (h *StreamHandler) Stream(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	task, err := h.getUC.Execute(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// Subscribe before the first write so no transition slips between them.
	var events <-chan domain.TaskEvent
	if h.events != nil {
		ch, unsubscribe := h.events.Subscribe(id)
		defer unsubscribe()
		events = ch
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.String("task_id", id.String()))
	log.Debug("WebSocket connection opened")

	// The request context is not cancelled after the hijack, so a client
	// disconnect is only visible as a read error.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if !h.send(conn, task, log) {
		return
	}
	last := task.Status

	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			log.Debug("WebSocket client went away")
			return
		case _, open := <-events:
			if !open {
				events = nil
				continue
			}
		case <-ticker.C:
		}

		task, err := h.getUC.Execute(ctx, id)
		if err != nil {
			_ = conn.WriteJSON(gin.H{"error": "Task not found"})
			return
		}
		if task.Status == last && !task.Status.IsTerminal() {
			continue
		}
		if !h.send(conn, task, log) {
			return
		}
		last = task.Status
	}
}

// send writes the task and reports whether the stream should continue.
func (h *StreamHandler) send(conn *websocket.Conn, task *domain.Task, log *zap.Logger) bool {
	if err := conn.WriteJSON(task); err != nil {
		log.Debug("WebSocket write failed (client disconnected)", zap.Error(err))
		return false
	}
	if task.Status.IsTerminal() {
		log.Debug("Task reached terminal state, closing WebSocket")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(task.Status)))
		return false
	}
	return true
}
