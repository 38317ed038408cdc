package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/omnidesk/omnidesk/internal/ai"
	"github.com/omnidesk/omnidesk/internal/database"
	"github.com/omnidesk/omnidesk/internal/notify"
)

// respond drafts and possibly auto-sends an AI reply to an inbound
// message. Every exit that does not send leaves the conversation untouched
// for a human; drafting failures and timeouts are silent fallbacks, never
// customer-visible errors.
func (e *Engine) respond(ctx context.Context, cfg *database.MessagingConfig, conv *database.Conversation, inbound *database.Message) {
	if !cfg.AIEnabled || conv.AIEscalated || e.ai == nil {
		return
	}

	if kw, hit := matchEscalationKeyword(cfg.EscalationKeywords, inbound.Body); hit {
		e.escalateForAI(ctx, cfg, conv.ID, "escalation_keyword:"+kw,
			fmt.Sprintf("Customer message matched escalation keyword %q", kw))
		return
	}

	history, err := e.store.ListMessages(ctx, conv.ID, e.historyLimit)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to load history for drafting",
			"conversation_id", conv.ID, "error", err)
		return
	}

	draft, err := e.ai.GenerateDraft(ctx, cfg.AIInstruction, history)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		// Budget exhausted. The conversation simply waits for a human.
		e.logger.InfoContext(ctx, "AI draft timed out",
			"conversation_id", conv.ID, "budget", cfg.AIDraftTimeout())
		return

	case errors.Is(err, ai.ErrQuotaExceeded):
		e.logger.ErrorContext(ctx, "AI quota exceeded",
			"config_id", cfg.ID, "conversation_id", conv.ID)
		e.sendNotification(ctx, cfg, notify.Notification{
			Kind:           notify.KindAIQuota,
			ConfigID:       cfg.ID,
			ConversationID: conv.ID,
			Subject:        "AI drafting quota exceeded",
			Body:           "Automatic replies are paused until quota recovers.",
		})
		return

	case err != nil:
		e.logger.ErrorContext(ctx, "AI draft failed",
			"conversation_id", conv.ID, "error", err)
		return
	}

	if draft.Confidence < cfg.AIConfidenceThreshold {
		e.logger.InfoContext(ctx, "AI confidence below threshold, handing off",
			"conversation_id", conv.ID,
			"confidence", draft.Confidence, "threshold", cfg.AIConfidenceThreshold)
		e.escalateForAI(ctx, cfg, conv.ID, "low_confidence",
			fmt.Sprintf("Draft confidence %.2f below threshold %.2f", draft.Confidence, cfg.AIConfidenceThreshold))
		return
	}

	// The inbound message must still be the newest one. If an agent (or a
	// second customer message) got there first, the draft is discarded.
	updated, msg, err := e.router.RouteOutbound(ctx, cfg.ID, conv.ID, draft.Body, OutboundOptions{
		AIGenerated:   true,
		AIConfidence:  draft.Confidence,
		RequireLatest: inbound.ID,
	})
	if errors.Is(err, ErrStaleDraft) {
		e.logger.DebugContext(ctx, "Discarding stale AI draft",
			"conversation_id", conv.ID, "inbound_id", inbound.ID)
		return
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to record AI reply",
			"conversation_id", conv.ID, "error", err)
		return
	}

	e.publish("new_message", msg)
	e.publish("conversation_updated", updated)

	if err := e.deliver(ctx, cfg, updated, msg); err != nil {
		e.logger.WarnContext(ctx, "AI reply dispatch failed",
			"conversation_id", conv.ID, "message_id", msg.ID, "error", err)
	}
}

// escalateForAI marks the conversation escalated and alerts the tenant.
// The status stays as-is: escalation signals "needs a human", it does not
// pretend one has taken over.
func (e *Engine) escalateForAI(ctx context.Context, cfg *database.MessagingConfig, conversationID, reason, detail string) {
	conv, err := e.router.Mutate(ctx, cfg.ID, conversationID, func(conv *database.Conversation) error {
		conv.AIEscalated = true
		conv.AIHandoffReason = reason
		return nil
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to escalate conversation",
			"conversation_id", conversationID, "error", err)
		return
	}

	e.publish("conversation_updated", conv)
	e.sendNotification(ctx, cfg, notify.Notification{
		Kind:           notify.KindEscalation,
		ConfigID:       cfg.ID,
		ConversationID: conversationID,
		Subject:        "Conversation needs a human",
		Body:           detail,
	})
}

func matchEscalationKeyword(keywords database.StringList, body string) (string, bool) {
	for _, kw := range keywords {
		if containsFold(body, kw) {
			return kw, true
		}
	}
	return "", false
}
