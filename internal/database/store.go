package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations. Methods accept
// context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetConfig retrieves a messaging config by ID. Returns nil, nil if not found.
	GetConfig(ctx context.Context, id string) (*MessagingConfig, error)

	// SaveConfig inserts or updates a messaging config.
	SaveConfig(ctx context.Context, cfg *MessagingConfig) error

	// GetConversation retrieves a conversation by ID. Returns nil, nil if not found.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// FindConversation resolves a conversation by its stable identity tuple.
	// Returns nil, nil if not found.
	FindConversation(ctx context.Context, configID, channel, contactID string) (*Conversation, error)

	// CreateConversation inserts a new conversation record.
	CreateConversation(ctx context.Context, conv *Conversation) error

	// UpdateConversation persists the mutable fields of a conversation.
	UpdateConversation(ctx context.Context, conv *Conversation) error

	// ListConversations returns conversations for a config, most recent first.
	ListConversations(ctx context.Context, configID, status string, limit int) ([]*Conversation, error)

	// FindStaleConversations returns open conversations whose last message
	// is older than the cutoff.
	FindStaleConversations(ctx context.Context, cutoff time.Time) ([]*Conversation, error)

	// SaveMessage inserts a new message record.
	SaveMessage(ctx context.Context, message *Message) error

	// GetMessageByExternalID retrieves a message by its provider id within a
	// channel. Returns nil, nil if not found.
	GetMessageByExternalID(ctx context.Context, channel, externalID string) (*Message, error)

	// GetLatestMessage returns the newest message of a conversation.
	// Returns nil, nil if the conversation has no messages.
	GetLatestMessage(ctx context.Context, conversationID string) (*Message, error)

	// ListMessages returns up to limit messages of a conversation in
	// chronological order.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// UpdateMessageStatus updates a message's delivery status and error text.
	UpdateMessageStatus(ctx context.Context, id, status, errorMessage string) error

	// GetTemplate retrieves a template by ID. Returns nil, nil if not found.
	GetTemplate(ctx context.Context, id string) (*Template, error)

	// SaveTemplate inserts or updates a template.
	SaveTemplate(ctx context.Context, tpl *Template) error

	// ListTemplates returns all templates for a config.
	ListTemplates(ctx context.Context, configID string) ([]*Template, error)

	// IncrementTemplateSends bumps times_sent after a successful dispatch.
	IncrementTemplateSends(ctx context.Context, id string) error

	// GetQuickReply resolves a shortcut within a tenant. Returns nil, nil if
	// not found. Shortcuts are case-sensitive.
	GetQuickReply(ctx context.Context, configID, shortcut string) (*QuickReply, error)

	// UpsertQuickReply creates or replaces a shortcut (last-writer-wins).
	UpsertQuickReply(ctx context.Context, qr *QuickReply) error

	// ListQuickReplies returns all quick replies for a config.
	ListQuickReplies(ctx context.Context, configID string) ([]*QuickReply, error)

	// DeleteQuickReply removes a shortcut from a tenant.
	DeleteQuickReply(ctx context.Context, configID, shortcut string) error

	// GetAutomation retrieves an automation by ID. Returns nil, nil if not found.
	GetAutomation(ctx context.Context, id string) (*Automation, error)

	// SaveAutomation inserts or updates an automation rule.
	SaveAutomation(ctx context.Context, a *Automation) error

	// DeleteAutomation removes an automation rule.
	DeleteAutomation(ctx context.Context, id string) error

	// ListAutomations returns all automations for a config, oldest first.
	ListAutomations(ctx context.Context, configID string) ([]*Automation, error)

	// ListActiveAutomations returns active rules for a trigger type, ordered
	// by creation time ascending for deterministic evaluation.
	ListActiveAutomations(ctx context.Context, configID, triggerType string) ([]*Automation, error)

	// ListTimeElapsedAutomations returns every active time_elapsed rule
	// across all configs, for the periodic sweep.
	ListTimeElapsedAutomations(ctx context.Context) ([]*Automation, error)

	// MarkAutomationTriggered increments times_triggered and stamps
	// last_triggered_at for a rule that acted on a qualifying event.
	MarkAutomationTriggered(ctx context.Context, id string, at time.Time) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// IsUniqueViolation reports whether err is a unique constraint failure.
// modernc.org/sqlite surfaces these as textual errors, so the check is on
// the message.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE")
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) GetConfig(ctx context.Context, id string) (*MessagingConfig, error) {
	if id == "" {
		return nil, fmt.Errorf("config id cannot be empty")
	}

	var cfg MessagingConfig
	err := s.db.GetContext(ctx, &cfg, `SELECT * FROM messaging_configs WHERE id = ?`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No messaging config found", "config_id", id)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get messaging config %s: %w", id, err)
	}
	return &cfg, nil
}

func (s *sqlxStore) SaveConfig(ctx context.Context, cfg *MessagingConfig) error {
	if cfg == nil {
		return fmt.Errorf("cannot save nil config")
	}

	now := time.Now().UTC()
	cfg.UpdatedAt = now
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}

	query := `
        INSERT INTO messaging_configs (
            id, name, active, ai_enabled, ai_instruction, ai_confidence_threshold,
            ai_draft_timeout_secs, escalation_keywords, notify_queue_key, notify_chat_id,
            whatsapp_token, whatsapp_phone_id, email_api_key, email_from, created_at, updated_at
        ) VALUES (
            :id, :name, :active, :ai_enabled, :ai_instruction, :ai_confidence_threshold,
            :ai_draft_timeout_secs, :escalation_keywords, :notify_queue_key, :notify_chat_id,
            :whatsapp_token, :whatsapp_phone_id, :email_api_key, :email_from, :created_at, :updated_at
        )
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            active = excluded.active,
            ai_enabled = excluded.ai_enabled,
            ai_instruction = excluded.ai_instruction,
            ai_confidence_threshold = excluded.ai_confidence_threshold,
            ai_draft_timeout_secs = excluded.ai_draft_timeout_secs,
            escalation_keywords = excluded.escalation_keywords,
            notify_queue_key = excluded.notify_queue_key,
            notify_chat_id = excluded.notify_chat_id,
            whatsapp_token = excluded.whatsapp_token,
            whatsapp_phone_id = excluded.whatsapp_phone_id,
            email_api_key = excluded.email_api_key,
            email_from = excluded.email_from,
            updated_at = excluded.updated_at;
    `
	if _, err := s.db.NamedExecContext(ctx, query, cfg); err != nil {
		return fmt.Errorf("failed to save messaging config %s: %w", cfg.ID, err)
	}

	s.logger.DebugContext(ctx, "Messaging config saved", "config_id", cfg.ID)
	return nil
}

func (s *sqlxStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	if id == "" {
		return nil, fmt.Errorf("conversation id cannot be empty")
	}

	var conv Conversation
	err := s.db.GetContext(ctx, &conv, `SELECT * FROM conversations WHERE id = ?`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &conv, nil
}

func (s *sqlxStore) FindConversation(ctx context.Context, configID, channel, contactID string) (*Conversation, error) {
	if configID == "" || channel == "" || contactID == "" {
		return nil, fmt.Errorf("config id, channel and contact id are all required")
	}

	var conv Conversation
	err := s.db.GetContext(ctx, &conv,
		`SELECT * FROM conversations WHERE config_id = ? AND channel = ? AND contact_id = ?`,
		configID, channel, contactID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to find conversation for contact %s on %s: %w", contactID, channel, err)
	}
	return &conv, nil
}

func (s *sqlxStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv == nil {
		return fmt.Errorf("cannot create nil conversation")
	}
	if conv.ID == "" || conv.ConfigID == "" || conv.Channel == "" || conv.ContactID == "" {
		return fmt.Errorf("conversation must have id, config_id, channel and contact_id")
	}

	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	query := `
        INSERT INTO conversations (
            id, config_id, channel, contact_id, contact_name, status, priority,
            assigned_to, tags, ai_handled, ai_escalated, ai_last_intent, ai_handoff_reason,
            unread_count, last_message_at, last_message_preview, created_at, updated_at
        ) VALUES (
            :id, :config_id, :channel, :contact_id, :contact_name, :status, :priority,
            :assigned_to, :tags, :ai_handled, :ai_escalated, :ai_last_intent, :ai_handoff_reason,
            :unread_count, :last_message_at, :last_message_preview, :created_at, :updated_at
        );
    `
	if _, err := s.db.NamedExecContext(ctx, query, conv); err != nil {
		return fmt.Errorf("failed to create conversation for contact %s on %s: %w", conv.ContactID, conv.Channel, err)
	}

	s.logger.DebugContext(ctx, "Conversation created",
		"conversation_id", conv.ID, "channel", conv.Channel, "contact_id", conv.ContactID)
	return nil
}

func (s *sqlxStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("cannot update conversation without id")
	}

	conv.UpdatedAt = time.Now().UTC()

	query := `
        UPDATE conversations SET
            contact_name = :contact_name,
            status = :status,
            priority = :priority,
            assigned_to = :assigned_to,
            tags = :tags,
            ai_handled = :ai_handled,
            ai_escalated = :ai_escalated,
            ai_last_intent = :ai_last_intent,
            ai_handoff_reason = :ai_handoff_reason,
            unread_count = :unread_count,
            last_message_at = :last_message_at,
            last_message_preview = :last_message_preview,
            updated_at = :updated_at
        WHERE id = :id;
    `
	result, err := s.db.NamedExecContext(ctx, query, conv)
	if err != nil {
		return fmt.Errorf("failed to update conversation %s: %w", conv.ID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected updating conversation",
			"conversation_id", conv.ID, "affected", affected)
	}
	return nil
}

func (s *sqlxStore) ListConversations(ctx context.Context, configID, status string, limit int) ([]*Conversation, error) {
	if configID == "" {
		return nil, fmt.Errorf("config id cannot be empty")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var convs []*Conversation
	var err error
	if status != "" {
		err = s.db.SelectContext(ctx, &convs,
			`SELECT * FROM conversations WHERE config_id = ? AND status = ?
			 ORDER BY last_message_at DESC LIMIT ?`, configID, status, limit)
	} else {
		err = s.db.SelectContext(ctx, &convs,
			`SELECT * FROM conversations WHERE config_id = ?
			 ORDER BY last_message_at DESC LIMIT ?`, configID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations for config %s: %w", configID, err)
	}
	return convs, nil
}

func (s *sqlxStore) FindStaleConversations(ctx context.Context, cutoff time.Time) ([]*Conversation, error) {
	var convs []*Conversation
	err := s.db.SelectContext(ctx, &convs,
		`SELECT * FROM conversations
		 WHERE status = ? AND last_message_at IS NOT NULL AND last_message_at < ?
		 ORDER BY last_message_at ASC`, StatusOpen, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to find stale conversations: %w", err)
	}
	return convs, nil
}

func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.ID == "" || message.ConversationID == "" {
		return fmt.Errorf("message must have id and conversation_id")
	}
	if message.Direction != DirectionInbound && message.Direction != DirectionOutbound {
		return fmt.Errorf("message direction %q is invalid", message.Direction)
	}

	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	if message.Type == "" {
		message.Type = "text"
	}

	query := `
        INSERT INTO messages (
            id, conversation_id, config_id, channel, direction, type, body,
            external_id, ai_generated, ai_confidence, status, error_message,
            delivered_at, read_at, created_at
        ) VALUES (
            :id, :conversation_id, :config_id, :channel, :direction, :type, :body,
            :external_id, :ai_generated, :ai_confidence, :status, :error_message,
            :delivered_at, :read_at, :created_at
        );
    `
	if _, err := s.db.NamedExecContext(ctx, query, message); err != nil {
		if IsUniqueViolation(err) {
			// Caller treats duplicate external ids as an idempotent no-op.
			return fmt.Errorf("duplicate message %s on %s: %w", message.ExternalID, message.Channel, err)
		}
		return fmt.Errorf("failed to save message for conversation %s: %w", message.ConversationID, err)
	}

	s.logger.DebugContext(ctx, "Message saved",
		"message_id", message.ID, "conversation_id", message.ConversationID, "direction", message.Direction)
	return nil
}

func (s *sqlxStore) GetMessageByExternalID(ctx context.Context, channel, externalID string) (*Message, error) {
	if channel == "" || externalID == "" {
		return nil, fmt.Errorf("channel and external id are required")
	}

	var msg Message
	err := s.db.GetContext(ctx, &msg,
		`SELECT * FROM messages WHERE channel = ? AND external_id = ?`, channel, externalID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get message by external id %s on %s: %w", externalID, channel, err)
	}
	return &msg, nil
}

func (s *sqlxStore) GetLatestMessage(ctx context.Context, conversationID string) (*Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id cannot be empty")
	}

	var msg Message
	err := s.db.GetContext(ctx, &msg,
		`SELECT * FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, conversationID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get latest message for conversation %s: %w", conversationID, err)
	}
	return &msg, nil
}

func (s *sqlxStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id cannot be empty")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var messages []*Message
	err := s.db.SelectContext(ctx, &messages,
		`SELECT * FROM (
		     SELECT * FROM messages WHERE conversation_id = ?
		     ORDER BY created_at DESC, id DESC LIMIT ?
		 ) ORDER BY created_at ASC, id ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for conversation %s: %w", conversationID, err)
	}
	return messages, nil
}

func (s *sqlxStore) UpdateMessageStatus(ctx context.Context, id, status, errorMessage string) error {
	if id == "" {
		return fmt.Errorf("message id cannot be empty")
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, error_message = ? WHERE id = ?`,
		status, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to update status for message %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected updating message status",
			"message_id", id, "affected", affected)
	}
	return nil
}

func (s *sqlxStore) GetTemplate(ctx context.Context, id string) (*Template, error) {
	if id == "" {
		return nil, fmt.Errorf("template id cannot be empty")
	}

	var tpl Template
	err := s.db.GetContext(ctx, &tpl, `SELECT * FROM templates WHERE id = ?`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get template %s: %w", id, err)
	}
	return &tpl, nil
}

func (s *sqlxStore) SaveTemplate(ctx context.Context, tpl *Template) error {
	if tpl == nil || tpl.ID == "" {
		return fmt.Errorf("cannot save template without id")
	}

	now := time.Now().UTC()
	tpl.UpdatedAt = now
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}

	query := `
        INSERT INTO templates (
            id, config_id, name, body, channel, approval_status,
            rejection_reason, times_sent, created_at, updated_at
        ) VALUES (
            :id, :config_id, :name, :body, :channel, :approval_status,
            :rejection_reason, :times_sent, :created_at, :updated_at
        )
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            body = excluded.body,
            channel = excluded.channel,
            approval_status = excluded.approval_status,
            rejection_reason = excluded.rejection_reason,
            updated_at = excluded.updated_at;
    `
	if _, err := s.db.NamedExecContext(ctx, query, tpl); err != nil {
		return fmt.Errorf("failed to save template %s: %w", tpl.ID, err)
	}
	return nil
}

func (s *sqlxStore) ListTemplates(ctx context.Context, configID string) ([]*Template, error) {
	if configID == "" {
		return nil, fmt.Errorf("config id cannot be empty")
	}

	var tpls []*Template
	err := s.db.SelectContext(ctx, &tpls,
		`SELECT * FROM templates WHERE config_id = ? ORDER BY created_at ASC`, configID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates for config %s: %w", configID, err)
	}
	return tpls, nil
}

func (s *sqlxStore) IncrementTemplateSends(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("template id cannot be empty")
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE templates SET times_sent = times_sent + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to increment sends for template %s: %w", id, err)
	}
	return nil
}

func (s *sqlxStore) GetQuickReply(ctx context.Context, configID, shortcut string) (*QuickReply, error) {
	if configID == "" || shortcut == "" {
		return nil, fmt.Errorf("config id and shortcut are required")
	}

	var qr QuickReply
	err := s.db.GetContext(ctx, &qr,
		`SELECT * FROM quick_replies WHERE config_id = ? AND shortcut = ?`, configID, shortcut)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get quick reply %q: %w", shortcut, err)
	}
	return &qr, nil
}

func (s *sqlxStore) UpsertQuickReply(ctx context.Context, qr *QuickReply) error {
	if qr == nil || qr.ConfigID == "" || qr.Shortcut == "" {
		return fmt.Errorf("quick reply must have config_id and shortcut")
	}

	now := time.Now().UTC()
	qr.UpdatedAt = now
	if qr.CreatedAt.IsZero() {
		qr.CreatedAt = now
	}

	query := `
        INSERT INTO quick_replies (id, config_id, shortcut, body, created_at, updated_at)
        VALUES (:id, :config_id, :shortcut, :body, :created_at, :updated_at)
        ON CONFLICT(config_id, shortcut) DO UPDATE SET
            body = excluded.body,
            updated_at = excluded.updated_at;
    `
	if _, err := s.db.NamedExecContext(ctx, query, qr); err != nil {
		return fmt.Errorf("failed to upsert quick reply %q: %w", qr.Shortcut, err)
	}
	return nil
}

func (s *sqlxStore) ListQuickReplies(ctx context.Context, configID string) ([]*QuickReply, error) {
	if configID == "" {
		return nil, fmt.Errorf("config id cannot be empty")
	}

	var qrs []*QuickReply
	err := s.db.SelectContext(ctx, &qrs,
		`SELECT * FROM quick_replies WHERE config_id = ? ORDER BY shortcut ASC`, configID)
	if err != nil {
		return nil, fmt.Errorf("failed to list quick replies for config %s: %w", configID, err)
	}
	return qrs, nil
}

func (s *sqlxStore) DeleteQuickReply(ctx context.Context, configID, shortcut string) error {
	if configID == "" || shortcut == "" {
		return fmt.Errorf("config id and shortcut are required")
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM quick_replies WHERE config_id = ? AND shortcut = ?`, configID, shortcut)
	if err != nil {
		return fmt.Errorf("failed to delete quick reply %q: %w", shortcut, err)
	}
	return nil
}

func (s *sqlxStore) GetAutomation(ctx context.Context, id string) (*Automation, error) {
	if id == "" {
		return nil, fmt.Errorf("automation id cannot be empty")
	}

	var a Automation
	err := s.db.GetContext(ctx, &a, `SELECT * FROM automations WHERE id = ?`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get automation %s: %w", id, err)
	}
	return &a, nil
}

func (s *sqlxStore) SaveAutomation(ctx context.Context, a *Automation) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("cannot save automation without id")
	}

	now := time.Now().UTC()
	a.UpdatedAt = now
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	query := `
        INSERT INTO automations (
            id, config_id, name, trigger_type, trigger_value, conditions,
            action_type, action_value, channels, is_active, times_triggered,
            last_triggered_at, created_at, updated_at
        ) VALUES (
            :id, :config_id, :name, :trigger_type, :trigger_value, :conditions,
            :action_type, :action_value, :channels, :is_active, :times_triggered,
            :last_triggered_at, :created_at, :updated_at
        )
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            trigger_type = excluded.trigger_type,
            trigger_value = excluded.trigger_value,
            conditions = excluded.conditions,
            action_type = excluded.action_type,
            action_value = excluded.action_value,
            channels = excluded.channels,
            is_active = excluded.is_active,
            updated_at = excluded.updated_at;
    `
	if _, err := s.db.NamedExecContext(ctx, query, a); err != nil {
		return fmt.Errorf("failed to save automation %s: %w", a.ID, err)
	}
	return nil
}

func (s *sqlxStore) DeleteAutomation(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("automation id cannot be empty")
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM automations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete automation %s: %w", id, err)
	}
	return nil
}

func (s *sqlxStore) ListAutomations(ctx context.Context, configID string) ([]*Automation, error) {
	if configID == "" {
		return nil, fmt.Errorf("config id cannot be empty")
	}

	var rules []*Automation
	err := s.db.SelectContext(ctx, &rules,
		`SELECT * FROM automations WHERE config_id = ? ORDER BY created_at ASC, id ASC`, configID)
	if err != nil {
		return nil, fmt.Errorf("failed to list automations for config %s: %w", configID, err)
	}
	return rules, nil
}

func (s *sqlxStore) ListActiveAutomations(ctx context.Context, configID, triggerType string) ([]*Automation, error) {
	if configID == "" || triggerType == "" {
		return nil, fmt.Errorf("config id and trigger type are required")
	}

	var rules []*Automation
	err := s.db.SelectContext(ctx, &rules,
		`SELECT * FROM automations
		 WHERE config_id = ? AND trigger_type = ? AND is_active = 1
		 ORDER BY created_at ASC, id ASC`, configID, triggerType)
	if err != nil {
		return nil, fmt.Errorf("failed to list active automations for config %s: %w", configID, err)
	}
	return rules, nil
}

func (s *sqlxStore) ListTimeElapsedAutomations(ctx context.Context) ([]*Automation, error) {
	var rules []*Automation
	err := s.db.SelectContext(ctx, &rules,
		`SELECT * FROM automations
		 WHERE trigger_type = ? AND is_active = 1
		 ORDER BY config_id ASC, created_at ASC, id ASC`, TriggerTimeElapsed)
	if err != nil {
		return nil, fmt.Errorf("failed to list time_elapsed automations: %w", err)
	}
	return rules, nil
}

func (s *sqlxStore) MarkAutomationTriggered(ctx context.Context, id string, at time.Time) error {
	if id == "" {
		return fmt.Errorf("automation id cannot be empty")
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE automations SET times_triggered = times_triggered + 1, last_triggered_at = ?, updated_at = ?
		 WHERE id = ?`, at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark automation %s triggered: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected marking automation",
			"automation_id", id, "affected", affected)
	}
	return nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}
