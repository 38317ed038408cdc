package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Channel identifiers understood by the engine. Adapters register under
// one of these names and all persisted rows reference them.
const (
	ChannelWebChat  = "webchat"
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
)

// Conversation status values.
const (
	StatusOpen     = "open"
	StatusAssigned = "assigned"
	StatusResolved = "resolved"
	StatusSpam     = "spam"
)

// Message direction values.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message delivery status values.
const (
	MessageQueued    = "queued"
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageRead      = "read"
	MessageFailed    = "failed"
)

// Template approval status values.
const (
	TemplateDraft    = "draft"
	TemplatePending  = "pending"
	TemplateApproved = "approved"
	TemplateRejected = "rejected"
)

// StringList is a JSON-encoded string array stored in a TEXT column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		return json.Unmarshal([]byte(v), l)
	case []byte:
		return json.Unmarshal(v, l)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
}

// Contains reports whether the list holds s.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// MessagingConfig is the tenant/channel-set configuration. Identity is
// immutable; settings may change. Configs are deactivated, never deleted.
type MessagingConfig struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`

	AIEnabled             bool       `db:"ai_enabled" json:"aiEnabled"`
	AIInstruction         string     `db:"ai_instruction" json:"aiInstruction"`
	AIConfidenceThreshold float64    `db:"ai_confidence_threshold" json:"aiConfidenceThreshold"`
	AIDraftTimeoutSecs    int        `db:"ai_draft_timeout_secs" json:"aiDraftTimeoutSecs"`
	EscalationKeywords    StringList `db:"escalation_keywords" json:"escalationKeywords"`

	NotifyQueueKey string `db:"notify_queue_key" json:"notifyQueueKey"`
	NotifyChatID   int64  `db:"notify_chat_id" json:"notifyChatId"`

	WhatsAppToken   string `db:"whatsapp_token" json:"-"`
	WhatsAppPhoneID string `db:"whatsapp_phone_id" json:"whatsappPhoneId"`
	EmailAPIKey     string `db:"email_api_key" json:"-"`
	EmailFrom       string `db:"email_from" json:"emailFrom"`
}

// AIDraftTimeout returns the configured drafting budget as a duration.
func (c *MessagingConfig) AIDraftTimeout() time.Duration {
	if c.AIDraftTimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.AIDraftTimeoutSecs) * time.Second
}

// Conversation is one ongoing thread with a single external contact on a
// single channel. Channel and contact identity are stable once created;
// conversations are never hard-deleted, only resolved or marked spam.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	ConfigID  string    `db:"config_id" json:"configId"`
	Channel   string    `db:"channel" json:"channel"`
	ContactID string    `db:"contact_id" json:"contactId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`

	ContactName string         `db:"contact_name" json:"contactName"`
	Status      string         `db:"status" json:"status"`
	Priority    string         `db:"priority" json:"priority"`
	AssignedTo  sql.NullString `db:"assigned_to" json:"-"`
	Tags        StringList     `db:"tags" json:"tags"`

	AIHandled       bool   `db:"ai_handled" json:"aiHandled"`
	AIEscalated     bool   `db:"ai_escalated" json:"aiEscalated"`
	AILastIntent    string `db:"ai_last_intent" json:"aiLastIntent,omitempty"`
	AIHandoffReason string `db:"ai_handoff_reason" json:"aiHandoffReason,omitempty"`

	UnreadCount        int          `db:"unread_count" json:"unreadCount"`
	LastMessageAt      sql.NullTime `db:"last_message_at" json:"-"`
	LastMessagePreview string       `db:"last_message_preview" json:"lastMessagePreview"`
}

// Message is an append-only record inside a conversation. ExternalID is the
// provider's message id and acts as the ingestion idempotency key; it is
// unique per channel when set.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversationId"`
	ConfigID       string    `db:"config_id" json:"configId"`
	Channel        string    `db:"channel" json:"channel"`
	Direction      string    `db:"direction" json:"direction"`
	Type           string    `db:"type" json:"type"`
	Body           string    `db:"body" json:"body"`
	ExternalID     string    `db:"external_id" json:"externalId,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`

	AIGenerated  bool    `db:"ai_generated" json:"aiGenerated"`
	AIConfidence float64 `db:"ai_confidence" json:"aiConfidence,omitempty"`

	Status       string       `db:"status" json:"status"`
	ErrorMessage string       `db:"error_message" json:"errorMessage,omitempty"`
	DeliveredAt  sql.NullTime `db:"delivered_at" json:"-"`
	ReadAt       sql.NullTime `db:"read_at" json:"-"`
}

// Template is an outbound content definition subject to third-party
// approval on channels that require it.
type Template struct {
	ID              string    `db:"id" json:"id"`
	ConfigID        string    `db:"config_id" json:"configId"`
	Name            string    `db:"name" json:"name"`
	Body            string    `db:"body" json:"body"`
	Channel         string    `db:"channel" json:"channel"`
	ApprovalStatus  string    `db:"approval_status" json:"approvalStatus"`
	RejectionReason string    `db:"rejection_reason" json:"rejectionReason,omitempty"`
	TimesSent       int64     `db:"times_sent" json:"timesSent"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// QuickReply maps an agent-typed shortcut to canned text within a tenant.
type QuickReply struct {
	ID        string    `db:"id" json:"id"`
	ConfigID  string    `db:"config_id" json:"configId"`
	Shortcut  string    `db:"shortcut" json:"shortcut"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Automation trigger types.
const (
	TriggerNewMessage      = "new_message"
	TriggerNewConversation = "new_conversation"
	TriggerKeyword         = "keyword"
	TriggerTimeElapsed     = "time_elapsed"
)

// Automation action types.
const (
	ActionAssign       = "assign"
	ActionTag          = "tag"
	ActionSendTemplate = "send_template"
	ActionNotify       = "notify"
	ActionEscalate     = "escalate"
)

// Condition operators.
const (
	OpEquals    = "eq"
	OpNotEquals = "neq"
	OpContains  = "contains"
)

// Condition is a single field comparison evaluated against the event's
// subject entities. Field paths look like "conversation.status" or
// "message.body".
type Condition struct {
	Field string `json:"field" validate:"required"`
	Op    string `json:"op" validate:"required,oneof=eq neq contains"`
	Value string `json:"value"`
}

// ConditionList is a JSON-encoded condition array stored in a TEXT column.
// All conditions must hold for a rule to fire (conjunction).
type ConditionList []Condition

// Value implements driver.Valuer.
func (l ConditionList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal condition list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *ConditionList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		return json.Unmarshal([]byte(v), l)
	case []byte:
		return json.Unmarshal(v, l)
	default:
		return fmt.Errorf("cannot scan %T into ConditionList", src)
	}
}

// Automation is a trigger/condition/action rule. The trigger, condition
// operators, and action are closed sets validated at configuration time,
// so the evaluation path never sees an unknown variant.
type Automation struct {
	ID        string    `db:"id" json:"id"`
	ConfigID  string    `db:"config_id" json:"configId"`
	Name      string    `db:"name" json:"name" validate:"required"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`

	TriggerType  string        `db:"trigger_type" json:"triggerType" validate:"required,oneof=new_message new_conversation keyword time_elapsed"`
	TriggerValue string        `db:"trigger_value" json:"triggerValue"`
	Conditions   ConditionList `db:"conditions" json:"conditions" validate:"dive"`
	ActionType   string        `db:"action_type" json:"actionType" validate:"required,oneof=assign tag send_template notify escalate"`
	ActionValue  string        `db:"action_value" json:"actionValue"`
	Channels     StringList    `db:"channels" json:"channels"`

	IsActive        bool         `db:"is_active" json:"isActive"`
	TimesTriggered  int64        `db:"times_triggered" json:"timesTriggered"`
	LastTriggeredAt sql.NullTime `db:"last_triggered_at" json:"-"`
}

// AppliesToChannel reports whether the rule's channel scope includes ch.
// An empty scope means all channels.
func (a *Automation) AppliesToChannel(ch string) bool {
	if len(a.Channels) == 0 {
		return true
	}
	return a.Channels.Contains(ch)
}
