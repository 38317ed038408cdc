package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/omnidesk/omnidesk/internal/database"
)

func (s *Server) handleListAutomations(c *gin.Context) {
	rules, err := s.store.ListAutomations(c.Request.Context(), c.Param("configId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"automations": rules})
}

func (s *Server) handleGetAutomation(c *gin.Context) {
	rule, err := s.store.GetAutomation(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if rule == nil || rule.ConfigID != c.Param("configId") {
		c.JSON(http.StatusNotFound, gin.H{"error": "automation not found"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

type saveAutomationRequest struct {
	Name         string                 `json:"name"`
	TriggerType  string                 `json:"triggerType"`
	TriggerValue string                 `json:"triggerValue"`
	Conditions   database.ConditionList `json:"conditions"`
	ActionType   string                 `json:"actionType"`
	ActionValue  string                 `json:"actionValue"`
	Channels     database.StringList    `json:"channels"`
	IsActive     *bool                  `json:"isActive"`
}

// handleSaveAutomation creates or updates a rule. The trigger, condition
// operator and action variants are closed sets rejected here, at
// configuration time, so evaluation never sees an unknown variant.
func (s *Server) handleSaveAutomation(c *gin.Context) {
	var req saveAutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.engine.Config(c.Request.Context(), c.Param("configId")); err != nil {
		s.respondError(c, err)
		return
	}

	rule := &database.Automation{
		ID:           c.Param("id"),
		ConfigID:     c.Param("configId"),
		Name:         req.Name,
		TriggerType:  req.TriggerType,
		TriggerValue: req.TriggerValue,
		Conditions:   req.Conditions,
		ActionType:   req.ActionType,
		ActionValue:  req.ActionValue,
		Channels:     req.Channels,
		IsActive:     true,
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	} else {
		existing, err := s.store.GetAutomation(c.Request.Context(), rule.ID)
		if err != nil {
			s.respondError(c, err)
			return
		}
		if existing == nil || existing.ConfigID != rule.ConfigID {
			c.JSON(http.StatusNotFound, gin.H{"error": "automation not found"})
			return
		}
		rule.CreatedAt = existing.CreatedAt
		rule.TimesTriggered = existing.TimesTriggered
		rule.LastTriggeredAt = existing.LastTriggeredAt
	}

	if err := s.validate.Struct(rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateAutomationSemantics(rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.SaveAutomation(c.Request.Context(), rule); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) handleDeleteAutomation(c *gin.Context) {
	rule, err := s.store.GetAutomation(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if rule == nil || rule.ConfigID != c.Param("configId") {
		c.JSON(http.StatusNotFound, gin.H{"error": "automation not found"})
		return
	}

	if err := s.store.DeleteAutomation(c.Request.Context(), rule.ID); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// validateAutomationSemantics enforces the per-variant requirements the
// struct tags cannot express.
func validateAutomationSemantics(rule *database.Automation) error {
	switch rule.TriggerType {
	case database.TriggerKeyword:
		if rule.TriggerValue == "" {
			return fmt.Errorf("keyword trigger requires a trigger value")
		}
	case database.TriggerTimeElapsed:
		secs, err := strconv.Atoi(rule.TriggerValue)
		if err != nil || secs <= 0 {
			return fmt.Errorf("time_elapsed trigger requires a positive number of seconds, got %q", rule.TriggerValue)
		}
	}

	switch rule.ActionType {
	case database.ActionAssign, database.ActionTag, database.ActionSendTemplate:
		if rule.ActionValue == "" {
			return fmt.Errorf("%s action requires an action value", rule.ActionType)
		}
	}

	for _, ch := range rule.Channels {
		switch ch {
		case database.ChannelWebChat, database.ChannelWhatsApp, database.ChannelEmail:
		default:
			return fmt.Errorf("unknown channel %q in rule scope", ch)
		}
	}

	for _, cond := range rule.Conditions {
		if _, ok := knownConditionField(cond.Field); !ok {
			return fmt.Errorf("unknown condition field %q", cond.Field)
		}
	}
	return nil
}

func knownConditionField(field string) (string, bool) {
	switch field {
	case "conversation.status", "conversation.priority", "conversation.channel",
		"conversation.contact_id", "conversation.contact_name",
		"conversation.assigned_to", "conversation.tags",
		"message.body", "message.type", "message.direction":
		return field, true
	}
	return "", false
}
