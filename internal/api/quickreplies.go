package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleListQuickReplies(c *gin.Context) {
	qrs, err := s.store.ListQuickReplies(c.Request.Context(), c.Param("configId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quickReplies": qrs})
}

type upsertQuickReplyRequest struct {
	Shortcut string `json:"shortcut" binding:"required"`
	Body     string `json:"body" binding:"required"`
}

func (s *Server) handleUpsertQuickReply(c *gin.Context) {
	var req upsertQuickReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	qr, err := s.engine.UpsertQuickReply(c.Request.Context(), c.Param("configId"), req.Shortcut, req.Body)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, qr)
}

func (s *Server) handleDeleteQuickReply(c *gin.Context) {
	err := s.engine.DeleteQuickReply(c.Request.Context(), c.Param("configId"), c.Param("shortcut"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
