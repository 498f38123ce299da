package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/auraflow/auraflow/pkg/apiserver/handlers"
	"github.com/auraflow/auraflow/pkg/apiserver/middleware"
	"github.com/auraflow/auraflow/pkg/auth"
	"github.com/auraflow/auraflow/pkg/bridge"
	"github.com/auraflow/auraflow/pkg/config"
)

type Server struct {
	router *gin.Engine
	bridge *bridge.Bridge
	tokens *auth.StaffTokenManager
	cfg    *config.Config
	logger *zap.Logger
}

func NewServer(b *bridge.Bridge, tokens *auth.StaffTokenManager, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		bridge: b,
		tokens: tokens,
		cfg:    cfg,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.Use(middleware.Auth(s.tokens))

		workflowHandler := handlers.NewWorkflowHandler(s.bridge, s.logger)
		api.POST("/workflows", workflowHandler.Create)
		api.GET("/workflows", workflowHandler.List)
		api.GET("/workflows/stats", workflowHandler.Stats)
		api.GET("/workflows/:id", workflowHandler.Get)
		api.POST("/workflows/:id/transitions", workflowHandler.Transition)
		api.GET("/workflows/:id/tasks", workflowHandler.ListTasks)
		api.GET("/workflows/:id/events", workflowHandler.ListEvents)

		taskHandler := handlers.NewTaskHandler(s.bridge, s.logger)
		api.POST("/tasks", taskHandler.Create)
		api.GET("/tasks", taskHandler.List)
		api.PATCH("/tasks/:id/status", taskHandler.UpdateStatus)
		api.POST("/tasks/reprioritize", taskHandler.Reprioritize)
		api.POST("/tasks/auto-assign", taskHandler.AutoAssign)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
