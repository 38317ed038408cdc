package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omnidesk/omnidesk/internal/database"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// handleWebhook ingests one raw provider delivery. Redeliveries succeed
// with 200 and duplicate=true; fresh messages return 202.
func (s *Server) handleWebhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read payload"})
		return
	}

	result, err := s.engine.Ingest(c.Request.Context(), c.Param("configId"), c.Param("channel"), raw)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if result.Duplicate {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

type saveConfigRequest struct {
	ID     string `json:"id" binding:"required"`
	Name   string `json:"name" binding:"required"`
	Active *bool  `json:"active"`

	AIEnabled             bool     `json:"aiEnabled"`
	AIInstruction         string   `json:"aiInstruction"`
	AIConfidenceThreshold float64  `json:"aiConfidenceThreshold"`
	AIDraftTimeoutSecs    int      `json:"aiDraftTimeoutSecs"`
	EscalationKeywords    []string `json:"escalationKeywords"`

	NotifyQueueKey string `json:"notifyQueueKey"`
	NotifyChatID   int64  `json:"notifyChatId"`

	WhatsAppToken   string `json:"whatsappToken"`
	WhatsAppPhoneID string `json:"whatsappPhoneId"`
	EmailAPIKey     string `json:"emailApiKey"`
	EmailFrom       string `json:"emailFrom"`
}

func (s *Server) handleSaveConfig(c *gin.Context) {
	var req saveConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	cfg := &database.MessagingConfig{
		ID:                    req.ID,
		Name:                  req.Name,
		Active:                active,
		AIEnabled:             req.AIEnabled,
		AIInstruction:         req.AIInstruction,
		AIConfidenceThreshold: req.AIConfidenceThreshold,
		AIDraftTimeoutSecs:    req.AIDraftTimeoutSecs,
		EscalationKeywords:    req.EscalationKeywords,
		NotifyQueueKey:        req.NotifyQueueKey,
		NotifyChatID:          req.NotifyChatID,
		WhatsAppToken:         req.WhatsAppToken,
		WhatsAppPhoneID:       req.WhatsAppPhoneID,
		EmailAPIKey:           req.EmailAPIKey,
		EmailFrom:             req.EmailFrom,
	}

	// Keep stored credentials when the request omits them.
	if existing, err := s.store.GetConfig(c.Request.Context(), req.ID); err == nil && existing != nil {
		if cfg.WhatsAppToken == "" {
			cfg.WhatsAppToken = existing.WhatsAppToken
		}
		if cfg.EmailAPIKey == "" {
			cfg.EmailAPIKey = existing.EmailAPIKey
		}
		cfg.CreatedAt = existing.CreatedAt
	}

	if err := s.store.SaveConfig(c.Request.Context(), cfg); err != nil {
		s.respondError(c, err)
		return
	}
	s.engine.InvalidateConfig(cfg.ID)

	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleGetConfig(c *gin.Context) {
	cfg, err := s.store.GetConfig(c.Request.Context(), c.Param("configId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "messaging config not found"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}
