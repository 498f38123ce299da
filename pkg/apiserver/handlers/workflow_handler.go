package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auraflow/auraflow/pkg/apiserver/middleware"
	"github.com/auraflow/auraflow/pkg/bridge"
	"github.com/auraflow/auraflow/pkg/engine"
	"github.com/auraflow/auraflow/pkg/model"
)

type WorkflowHandler struct {
	bridge *bridge.Bridge
	logger *zap.Logger
}

func NewWorkflowHandler(b *bridge.Bridge, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{bridge: b, logger: logger}
}

type workflowCreateRequest struct {
	CustomerID      string                 `json:"customer_id" binding:"required"`
	CustomerName    string                 `json:"customer_name" binding:"required"`
	CustomerEmail   string                 `json:"customer_email"`
	CustomerPhone   string                 `json:"customer_phone"`
	AssignedSalesID string                 `json:"assigned_sales_id"`
	Metadata        map[string]interface{} `json:"metadata"`
}

func (h *WorkflowHandler) Create(c *gin.Context) {
	var req workflowCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	state, err := h.bridge.CreateWorkflow(c.Request.Context(), engine.CreateWorkflowParams{
		ClinicID:        c.GetString(middleware.CtxClinicID),
		CustomerID:      req.CustomerID,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		AssignedSalesID: req.AssignedSalesID,
		Metadata:        model.JSONB(req.Metadata),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, state)
}

type transitionRequest struct {
	Action model.WorkflowActionType `json:"action" binding:"required"`
	Data   map[string]interface{}   `json:"data"`
	Notes  string                   `json:"notes"`
}

func (h *WorkflowHandler) Transition(c *gin.Context) {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	state, err := h.bridge.ExecuteTransition(c.Request.Context(), workflowID, req.Action,
		c.GetString(middleware.CtxStaffID),
		[]model.StaffRole{model.StaffRole(c.GetString(middleware.CtxRole))},
		model.JSONB(req.Data), req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

func (h *WorkflowHandler) Get(c *gin.Context) {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	state, err := h.bridge.GetWorkflowState(c.Request.Context(), workflowID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

func (h *WorkflowHandler) List(c *gin.Context) {
	filter := engine.ListFilter{
		ClinicID:   c.GetString(middleware.CtxClinicID),
		Stage:      model.WorkflowStage(c.Query("stage")),
		AssignedTo: c.Query("assigned_to"),
		Limit:      parseLimit(c.Query("limit"), 50),
		Offset:     parseOffset(c.Query("offset")),
	}

	workflows, err := h.bridge.GetClinicWorkflows(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"workflows": workflows, "count": len(workflows)})
}

func (h *WorkflowHandler) Stats(c *gin.Context) {
	counts, err := h.bridge.StageCounts(c.Request.Context(), c.GetString(middleware.CtxClinicID))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stages": counts})
}

func (h *WorkflowHandler) ListTasks(c *gin.Context) {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	tasks, err := h.bridge.GetWorkflowTasks(c.Request.Context(), workflowID,
		c.Query("include_completed") == "true")
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (h *WorkflowHandler) ListEvents(c *gin.Context) {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	var types []model.EventType
	for _, t := range c.QueryArray("type") {
		types = append(types, model.EventType(t))
	}

	events, err := h.bridge.GetEventHistory(c.Request.Context(), workflowID, types,
		parseLimit(c.Query("limit"), 50))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
