package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/omnidesk/omnidesk/internal/database"
)

// WidgetSink receives outbound web-chat messages. The websocket hub
// satisfies it; the widget session listens on the hub for its replies.
type WidgetSink interface {
	Push(contactID string, payload any)
}

// widgetPayload is the JSON body posted by the chat widget.
type widgetPayload struct {
	MessageID string `json:"messageId"`
	VisitorID string `json:"visitorId"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Body      string `json:"body"`
	SentAt    int64  `json:"sentAt"`
}

// WebChatAdapter serves the embedded web chat widget. Inbound messages
// arrive as widget JSON; outbound messages are pushed to the widget's
// websocket session.
type WebChatAdapter struct {
	sink WidgetSink
}

// NewWebChatAdapter creates a web-chat adapter delivering replies to sink.
func NewWebChatAdapter(sink WidgetSink) *WebChatAdapter {
	return &WebChatAdapter{sink: sink}
}

func (a *WebChatAdapter) Channel() string { return database.ChannelWebChat }

func (a *WebChatAdapter) NormalizeInbound(raw []byte) (*InboundMessage, error) {
	var p widgetPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, NewAdapterError(a.Channel(), MalformedPayload, fmt.Errorf("invalid widget payload: %w", err))
	}
	if p.VisitorID == "" || p.Body == "" {
		return nil, NewAdapterError(a.Channel(), MalformedPayload, fmt.Errorf("widget payload missing visitorId or body"))
	}

	// Older widget builds omit messageId; generate one so dedup still has a key.
	externalID := p.MessageID
	if externalID == "" {
		externalID = uuid.NewString()
	}

	receivedAt := time.Now().UTC()
	if p.SentAt > 0 {
		receivedAt = time.UnixMilli(p.SentAt).UTC()
	}

	msgType := p.Type
	if msgType == "" {
		msgType = "text"
	}

	return &InboundMessage{
		Channel:     a.Channel(),
		ExternalID:  externalID,
		ContactID:   p.VisitorID,
		ContactName: p.Name,
		Type:        msgType,
		Body:        p.Body,
		ReceivedAt:  receivedAt,
	}, nil
}

func (a *WebChatAdapter) DispatchOutbound(ctx context.Context, cfg *database.MessagingConfig, msg *OutboundMessage) (*DeliveryResult, error) {
	if a.sink == nil {
		return nil, NewAdapterError(a.Channel(), ProviderUnavailable, fmt.Errorf("widget sink is not connected"))
	}
	if ctx.Err() != nil {
		return nil, NewAdapterError(a.Channel(), ProviderUnavailable, ctx.Err())
	}

	a.sink.Push(msg.ContactID, map[string]any{
		"type":           "message",
		"messageId":      msg.MessageID,
		"conversationId": msg.ConversationID,
		"body":           msg.Body,
	})

	return &DeliveryResult{
		ProviderMessageID: msg.MessageID,
		DeliveredAt:       time.Now().UTC(),
	}, nil
}
