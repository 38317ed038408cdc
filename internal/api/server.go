// Package api exposes the engine over HTTP: provider webhooks, the agent
// REST surface and the websocket endpoint for live updates.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/omnidesk/omnidesk/internal/channel"
	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/database"
	"github.com/omnidesk/omnidesk/internal/engine"
	"github.com/omnidesk/omnidesk/internal/logger"
	"github.com/omnidesk/omnidesk/internal/ws"
)

// Server is the HTTP surface over the engine.
type Server struct {
	cfg      config.ServerConfig
	engine   *engine.Engine
	store    database.Store
	hub      *ws.Hub
	logger   *slog.Logger
	validate *validator.Validate

	httpServer *http.Server
}

// NewServer builds the router and wraps it in an http.Server.
func NewServer(cfg config.ServerConfig, eng *engine.Engine, store database.Store, hub *ws.Hub, log *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   eng,
		store:    store,
		hub:      hub,
		logger:   log.With("component", "api"),
		validate: validator.New(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinMiddleware(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.registerRoutes(router)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)
	router.GET("/ws", func(c *gin.Context) {
		ws.ServeWS(s.hub, c.Writer, c.Request)
	})

	api := router.Group("/api")

	api.POST("/webhooks/:configId/:channel", s.handleWebhook)

	api.POST("/configs", s.handleSaveConfig)
	api.GET("/configs/:configId", s.handleGetConfig)

	cfgGroup := api.Group("/configs/:configId")
	{
		cfgGroup.GET("/conversations", s.handleListConversations)
		cfgGroup.GET("/conversations/:id", s.handleGetConversation)
		cfgGroup.GET("/conversations/:id/messages", s.handleListMessages)
		cfgGroup.POST("/conversations/:id/messages", s.handleSendMessage)
		cfgGroup.POST("/conversations/:id/read", s.handleMarkRead)
		cfgGroup.POST("/conversations/:id/status", s.handleUpdateStatus)
		cfgGroup.POST("/conversations/:id/assign", s.handleAssign)
		cfgGroup.POST("/conversations/:id/unescalate", s.handleUnescalate)

		cfgGroup.GET("/templates", s.handleListTemplates)
		cfgGroup.POST("/templates", s.handleCreateTemplate)
		cfgGroup.PATCH("/templates/:id", s.handleUpdateTemplate)
		cfgGroup.POST("/templates/:id/submit", s.handleSubmitTemplate)
		cfgGroup.POST("/templates/:id/approval", s.handleTemplateApproval)
		cfgGroup.POST("/templates/:id/send", s.handleSendTemplate)

		cfgGroup.GET("/quick-replies", s.handleListQuickReplies)
		cfgGroup.PUT("/quick-replies", s.handleUpsertQuickReply)
		cfgGroup.DELETE("/quick-replies/:shortcut", s.handleDeleteQuickReply)

		cfgGroup.GET("/automations", s.handleListAutomations)
		cfgGroup.POST("/automations", s.handleSaveAutomation)
		cfgGroup.GET("/automations/:id", s.handleGetAutomation)
		cfgGroup.PUT("/automations/:id", s.handleSaveAutomation)
		cfgGroup.DELETE("/automations/:id", s.handleDeleteAutomation)
	}
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps engine errors onto HTTP status codes.
func (s *Server) respondError(c *gin.Context, err error) {
	var ae *channel.AdapterError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrConfigNotFound),
		errors.Is(err, engine.ErrConversationNotFound),
		errors.Is(err, engine.ErrTemplateNotFound),
		errors.Is(err, engine.ErrQuickReplyNotFound):
		status = http.StatusNotFound

	case errors.Is(err, channel.ErrUnknownChannel):
		status = http.StatusNotFound

	case errors.Is(err, engine.ErrConfigInactive):
		status = http.StatusGone

	case errors.Is(err, engine.ErrTemplateNotApproved),
		errors.Is(err, engine.ErrInvalidTransition):
		status = http.StatusConflict

	case errors.Is(err, engine.ErrDispatchFailed):
		status = http.StatusBadGateway

	case errors.As(err, &ae):
		if ae.Kind == channel.MalformedPayload {
			status = http.StatusBadRequest
		} else {
			status = http.StatusBadGateway
		}
	}

	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(c.Request.Context(), "Request failed",
			"path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
