package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/omnidesk/omnidesk/internal/engine"
)

func (s *Server) handleListConversations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	convs, err := s.store.ListConversations(c.Request.Context(),
		c.Param("configId"), c.Query("status"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (s *Server) handleGetConversation(c *gin.Context) {
	conv, err := s.store.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if conv == nil || conv.ConfigID != c.Param("configId") {
		s.respondError(c, engine.ErrConversationNotFound)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleListMessages(c *gin.Context) {
	conv, err := s.store.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if conv == nil || conv.ConfigID != c.Param("configId") {
		s.respondError(c, engine.ErrConversationNotFound)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	messages, err := s.store.ListMessages(c.Request.Context(), conv.ID, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type sendMessageRequest struct {
	Body     string `json:"body"`
	Shortcut string `json:"shortcut"`
}

// handleSendMessage records and dispatches an agent reply. A shortcut, when
// given, expands to its registered quick-reply body.
func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	configID := c.Param("configId")
	body := req.Body
	if req.Shortcut != "" {
		expanded, err := s.engine.ExpandQuickReply(c.Request.Context(), configID, req.Shortcut)
		if err != nil {
			s.respondError(c, err)
			return
		}
		body = expanded
	}
	if body == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body or shortcut is required"})
		return
	}

	msg, err := s.engine.SendOutbound(c.Request.Context(), configID, c.Param("id"), body)
	if err != nil {
		// A failed dispatch still recorded the message; return it with the
		// error so the agent can retry.
		if msg != nil {
			c.JSON(http.StatusBadGateway, gin.H{"message": msg, "error": err.Error()})
			return
		}
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) handleMarkRead(c *gin.Context) {
	conv, err := s.engine.MarkRead(c.Request.Context(), c.Param("configId"), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) handleUpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := s.engine.UpdateStatus(c.Request.Context(), c.Param("configId"), c.Param("id"), req.Status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

type assignRequest struct {
	Agent string `json:"agent" binding:"required"`
}

func (s *Server) handleAssign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := s.engine.Assign(c.Request.Context(), c.Param("configId"), c.Param("id"), req.Agent)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleUnescalate(c *gin.Context) {
	conv, err := s.engine.Unescalate(c.Request.Context(), c.Param("configId"), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}
