package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/omnidesk/omnidesk/internal/database"
)

// channelRequiresApproval reports whether a channel's provider must approve
// template content before it may be sent.
func channelRequiresApproval(channel string) bool {
	return channel == database.ChannelWhatsApp
}

// CreateTemplate stores a new template in draft state.
func (e *Engine) CreateTemplate(ctx context.Context, configID, name, body, channel string) (*database.Template, error) {
	if _, err := e.Config(ctx, configID); err != nil {
		return nil, err
	}
	if name == "" || body == "" {
		return nil, fmt.Errorf("template name and body are required")
	}

	tpl := &database.Template{
		ID:             uuid.NewString(),
		ConfigID:       configID,
		Name:           name,
		Body:           body,
		Channel:        channel,
		ApprovalStatus: database.TemplateDraft,
	}
	if err := e.store.SaveTemplate(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// UpdateTemplate edits a template's content. Editing is allowed in draft
// and rejected states only; pending and approved content is frozen so the
// provider's verdict always refers to what was submitted.
func (e *Engine) UpdateTemplate(ctx context.Context, configID, id, name, body string) (*database.Template, error) {
	tpl, err := e.templateFor(ctx, configID, id)
	if err != nil {
		return nil, err
	}

	if tpl.ApprovalStatus != database.TemplateDraft && tpl.ApprovalStatus != database.TemplateRejected {
		return nil, fmt.Errorf("%w: cannot edit template in state %q", ErrInvalidTransition, tpl.ApprovalStatus)
	}

	if name != "" {
		tpl.Name = name
	}
	if body != "" {
		tpl.Body = body
	}
	if err := e.store.SaveTemplate(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// SubmitTemplate moves a draft or rejected template to pending review. The
// previous rejection reason is kept until the next verdict arrives.
func (e *Engine) SubmitTemplate(ctx context.Context, configID, id string) (*database.Template, error) {
	tpl, err := e.templateFor(ctx, configID, id)
	if err != nil {
		return nil, err
	}

	if tpl.ApprovalStatus != database.TemplateDraft && tpl.ApprovalStatus != database.TemplateRejected {
		return nil, fmt.Errorf("%w: cannot submit template in state %q", ErrInvalidTransition, tpl.ApprovalStatus)
	}

	tpl.ApprovalStatus = database.TemplatePending
	if err := e.store.SaveTemplate(ctx, tpl); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Template submitted for approval",
		"template_id", tpl.ID, "config_id", configID)
	return tpl, nil
}

// ApplyApprovalResult records the provider's verdict verbatim. Verdicts can
// arrive in any state since providers may revoke a previous approval.
func (e *Engine) ApplyApprovalResult(ctx context.Context, configID, id, verdict, reason string) (*database.Template, error) {
	if verdict != database.TemplateApproved && verdict != database.TemplateRejected {
		return nil, fmt.Errorf("%w: verdict must be approved or rejected, got %q", ErrInvalidTransition, verdict)
	}

	tpl, err := e.templateFor(ctx, configID, id)
	if err != nil {
		return nil, err
	}

	tpl.ApprovalStatus = verdict
	if verdict == database.TemplateRejected {
		tpl.RejectionReason = reason
	} else {
		tpl.RejectionReason = ""
	}
	if err := e.store.SaveTemplate(ctx, tpl); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Template approval verdict recorded",
		"template_id", tpl.ID, "verdict", verdict)
	return tpl, nil
}

// SendTemplate records and dispatches a template's content into a
// conversation. Approval is re-checked at send time: a verdict may have
// been revoked between scheduling and dispatch.
func (e *Engine) SendTemplate(ctx context.Context, configID, conversationID, templateID string) (*database.Message, error) {
	cfg, err := e.Config(ctx, configID)
	if err != nil {
		return nil, err
	}

	tpl, err := e.templateFor(ctx, configID, templateID)
	if err != nil {
		return nil, err
	}

	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil || conv.ConfigID != configID {
		return nil, ErrConversationNotFound
	}

	if tpl.Channel != "" && tpl.Channel != conv.Channel {
		return nil, fmt.Errorf("template %s targets channel %q, conversation is on %q",
			tpl.ID, tpl.Channel, conv.Channel)
	}
	if channelRequiresApproval(conv.Channel) && tpl.ApprovalStatus != database.TemplateApproved {
		return nil, fmt.Errorf("%w: template %s is %q", ErrTemplateNotApproved, tpl.ID, tpl.ApprovalStatus)
	}

	conv, msg, err := e.router.RouteOutbound(ctx, configID, conversationID, tpl.Body, OutboundOptions{})
	if err != nil {
		return nil, err
	}

	e.publish("new_message", msg)
	e.publish("conversation_updated", conv)

	if err := e.deliver(ctx, cfg, conv, msg); err != nil {
		return msg, err
	}

	if err := e.store.IncrementTemplateSends(ctx, tpl.ID); err != nil {
		e.logger.WarnContext(ctx, "Failed to count template send",
			"template_id", tpl.ID, "error", err)
	}
	return msg, nil
}

func (e *Engine) templateFor(ctx context.Context, configID, id string) (*database.Template, error) {
	tpl, err := e.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl == nil || tpl.ConfigID != configID {
		return nil, ErrTemplateNotFound
	}
	return tpl, nil
}
