package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleListTemplates(c *gin.Context) {
	tpls, err := s.store.ListTemplates(c.Request.Context(), c.Param("configId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": tpls})
}

type createTemplateRequest struct {
	Name    string `json:"name" binding:"required"`
	Body    string `json:"body" binding:"required"`
	Channel string `json:"channel"`
}

func (s *Server) handleCreateTemplate(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tpl, err := s.engine.CreateTemplate(c.Request.Context(), c.Param("configId"), req.Name, req.Body, req.Channel)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

type updateTemplateRequest struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

func (s *Server) handleUpdateTemplate(c *gin.Context) {
	var req updateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tpl, err := s.engine.UpdateTemplate(c.Request.Context(), c.Param("configId"), c.Param("id"), req.Name, req.Body)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (s *Server) handleSubmitTemplate(c *gin.Context) {
	tpl, err := s.engine.SubmitTemplate(c.Request.Context(), c.Param("configId"), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

type templateApprovalRequest struct {
	Verdict string `json:"verdict" binding:"required"`
	Reason  string `json:"reason"`
}

// handleTemplateApproval records a provider review verdict. This is the
// callback endpoint for approval webhooks.
func (s *Server) handleTemplateApproval(c *gin.Context) {
	var req templateApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tpl, err := s.engine.ApplyApprovalResult(c.Request.Context(), c.Param("configId"), c.Param("id"), req.Verdict, req.Reason)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

type sendTemplateRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
}

func (s *Server) handleSendTemplate(c *gin.Context) {
	var req sendTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := s.engine.SendTemplate(c.Request.Context(), c.Param("configId"), req.ConversationID, c.Param("id"))
	if err != nil {
		if msg != nil {
			c.JSON(http.StatusBadGateway, gin.H{"message": msg, "error": err.Error()})
			return
		}
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
