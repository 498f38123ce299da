package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auraflow/auraflow/pkg/apiserver/middleware"
	"github.com/auraflow/auraflow/pkg/bridge"
	"github.com/auraflow/auraflow/pkg/model"
	"github.com/auraflow/auraflow/pkg/taskqueue"
)

type TaskHandler struct {
	bridge *bridge.Bridge
	logger *zap.Logger
}

func NewTaskHandler(b *bridge.Bridge, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{bridge: b, logger: logger}
}

type taskCreateRequest struct {
	WorkflowID   string                 `json:"workflow_id" binding:"required"`
	TaskType     model.TaskType         `json:"task_type" binding:"required"`
	CustomerName string                 `json:"customer_name"`
	AssignedTo   string                 `json:"assigned_to"`
	Priority     model.TaskPriority     `json:"priority"`
	DueDate      *time.Time             `json:"due_date"`
	Data         map[string]interface{} `json:"data"`
	Notes        string                 `json:"notes"`
}

func (h *TaskHandler) Create(c *gin.Context) {
	var req taskCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	workflowID, err := uuid.Parse(req.WorkflowID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow_id"})
		return
	}

	task, err := h.bridge.CreateTask(c.Request.Context(), taskqueue.CreateTaskParams{
		WorkflowID:   workflowID,
		TaskType:     req.TaskType,
		CustomerName: req.CustomerName,
		AssignedTo:   req.AssignedTo,
		Priority:     req.Priority,
		DueDate:      req.DueDate,
		Data:         model.JSONB(req.Data),
		Notes:        req.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, task)
}

type taskStatusRequest struct {
	Status model.TaskStatus `json:"status" binding:"required"`
	Notes  string           `json:"notes"`
}

func (h *TaskHandler) UpdateStatus(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	var req taskStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	task, err := h.bridge.UpdateTaskStatus(c.Request.Context(), taskID, req.Status,
		c.GetString(middleware.CtxStaffID), req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) List(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		userID = c.GetString(middleware.CtxStaffID)
	}

	var statuses []model.TaskStatus
	for _, s := range c.QueryArray("status") {
		statuses = append(statuses, model.TaskStatus(s))
	}

	tasks, err := h.bridge.GetUserTasks(c.Request.Context(), userID, statuses,
		model.TaskPriority(c.Query("priority")), parseLimit(c.Query("limit"), 0))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (h *TaskHandler) Reprioritize(c *gin.Context) {
	changed, err := h.bridge.ReprioritizeTasks(c.Request.Context(), c.GetString(middleware.CtxClinicID))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reprioritized": changed})
}

func (h *TaskHandler) AutoAssign(c *gin.Context) {
	assigned, err := h.bridge.AutoAssignTasks(c.Request.Context(), c.GetString(middleware.CtxClinicID))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"assigned": assigned})
}
