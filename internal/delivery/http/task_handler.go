package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/usecase"
)

// TaskHandler handles HTTP requests for execution tasks.
type TaskHandler struct {
	submitUC *usecase.SubmitTaskUsecase
	getUC    *usecase.GetTaskUsecase
	cancelUC *usecase.CancelTaskUsecase
	listUC   *usecase.ListTasksUsecase
	logger   *zap.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(
	submitUC *usecase.SubmitTaskUsecase,
	getUC *usecase.GetTaskUsecase,
	cancelUC *usecase.CancelTaskUsecase,
	listUC *usecase.ListTasksUsecase,
	logger *zap.Logger,
) *TaskHandler {
	return &TaskHandler{
		submitUC: submitUC,
		getUC:    getUC,
		cancelUC: cancelUC,
		listUC:   listUC,
		logger:   logger,
	}
}

// Submit handles POST /api/v1/tasks
func (h *TaskHandler) Submit(c *gin.Context) {
	var req domain.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
		})
		return
	}

	resp, err := h.submitUC.Execute(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err, "Submit task failed")
		return
	}

	if resp.Cached {
		c.JSON(http.StatusOK, resp)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// GetByID handles GET /api/v1/tasks/:id
func (h *TaskHandler) GetByID(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}

	task, err := h.getUC.Execute(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "Get task failed")
		return
	}

	c.JSON(http.StatusOK, task)
}

// Cancel handles POST /api/v1/tasks/:id/cancel
func (h *TaskHandler) Cancel(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}

	task, err := h.cancelUC.Execute(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "Cancel task failed")
		return
	}

	c.JSON(http.StatusOK, task)
}

// History handles GET /api/v1/executors/:id/tasks
func (h *TaskHandler) History(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	tasks, err := h.listUC.Execute(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.writeError(c, err, "List tasks failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// SnippetTasks handles GET /api/v1/snippets/:id/tasks
func (h *TaskHandler) SnippetTasks(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	tasks, err := h.listUC.BySnippet(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.writeError(c, err, "List snippet tasks failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// ListByStatus handles GET /api/v1/tasks?status=RUNNING
func (h *TaskHandler) ListByStatus(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	status := domain.TaskStatus(strings.ToUpper(c.Query("status")))

	tasks, err := h.listUC.ByStatus(c.Request.Context(), status, limit)
	if err != nil {
		h.writeError(c, err, "List tasks by status failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": status, "tasks": tasks})
}

// LanguageStats handles GET /api/v1/stats/languages
func (h *TaskHandler) LanguageStats(c *gin.Context) {
	counts, err := h.listUC.LanguageCounts(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "Count tasks by language failed")
		return
	}

	total := 0
	for _, lc := range counts {
		total += lc.Count
	}
	c.JSON(http.StatusOK, gin.H{"languages": counts, "total": total})
}

func (h *TaskHandler) writeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrPayloadTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrQuotaExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Execution queue is full, try again later"})
	case errors.Is(err, domain.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	default:
		h.logger.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return 0, false
	}
	return n, true
}

func parseTaskID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid task ID format"})
		return uuid.Nil, false
	}
	return id, true
}
