// Package engine implements the conversation core: webhook ingestion,
// routing, automation rules, AI drafting and outbound delivery. It sits
// between the HTTP surface and the channel adapters and owns every
// conversation mutation.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/omnidesk/omnidesk/internal/ai"
	"github.com/omnidesk/omnidesk/internal/channel"
	"github.com/omnidesk/omnidesk/internal/database"
	"github.com/omnidesk/omnidesk/internal/notify"
)

// Broadcaster pushes live events to connected agent dashboards.
type Broadcaster interface {
	Broadcast(message any)
}

// Options tunes engine behaviour beyond its collaborators.
type Options struct {
	// HistoryLimit caps how many messages are handed to the AI drafter.
	HistoryLimit int
	// ConfigCacheTTL bounds staleness of cached messaging configs.
	ConfigCacheTTL time.Duration
}

// Engine wires the store, adapters, AI client and notifiers into the
// conversation pipeline.
type Engine struct {
	logger     *slog.Logger
	store      database.Store
	router     *Router
	registry   *channel.Registry
	dispatcher *channel.Dispatcher
	ai         ai.Client
	notifier   notify.Notifier
	broadcast  Broadcaster
	locks      *keyedMutex
	configs    *cache.Cache

	historyLimit int

	// draftWG tracks in-flight background drafting goroutines so shutdown
	// and tests can wait for them.
	draftWG sync.WaitGroup

	// sweepGate remembers the last fire per rule and conversation so one
	// stale conversation triggers a time_elapsed rule once per silence
	// window instead of once per sweep run.
	sweepGate sync.Map
}

// New assembles an engine. aiClient, notifier and broadcaster may be nil;
// the matching features degrade to no-ops.
func New(store database.Store, registry *channel.Registry, dispatcher *channel.Dispatcher,
	aiClient ai.Client, notifier notify.Notifier, broadcaster Broadcaster,
	logger *slog.Logger, opts Options) *Engine {

	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	if opts.ConfigCacheTTL <= 0 {
		opts.ConfigCacheTTL = time.Minute
	}

	locks := newKeyedMutex()
	return &Engine{
		logger:       logger.With("component", "engine"),
		store:        store,
		router:       NewRouter(store, locks, logger),
		registry:     registry,
		dispatcher:   dispatcher,
		ai:           aiClient,
		notifier:     notifier,
		broadcast:    broadcaster,
		locks:        locks,
		configs:      cache.New(opts.ConfigCacheTTL, 5*time.Minute),
		historyLimit: opts.HistoryLimit,
	}
}

// Ingest processes one raw webhook delivery: normalize, route, broadcast,
// run automations and hand the conversation to the AI responder. Duplicate
// deliveries succeed with Duplicate set and cause no side effects.
func (e *Engine) Ingest(ctx context.Context, configID, channelName string, raw []byte) (*IngestResult, error) {
	cfg, err := e.Config(ctx, configID)
	if err != nil {
		return nil, err
	}

	adapter, err := e.registry.Get(channelName)
	if err != nil {
		return nil, err
	}

	in, err := adapter.NormalizeInbound(raw)
	if err != nil {
		e.logger.WarnContext(ctx, "Dropping malformed inbound payload",
			"config_id", configID, "channel", channelName, "error", err)
		return nil, err
	}

	conv, msg, created, err := e.router.RouteInbound(ctx, configID, in)
	if errors.Is(err, ErrDuplicateMessage) {
		e.logger.DebugContext(ctx, "Duplicate delivery ignored",
			"channel", channelName, "external_id", in.ExternalID)
		return &IngestResult{Conversation: conv, Message: msg, Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}

	e.publish("new_message", msg)
	e.publish("conversation_updated", conv)

	if created {
		e.runAutomations(ctx, Event{
			Kind:         EventNewConversation,
			Config:       cfg,
			Conversation: *conv,
			Message:      msg,
		})
	}
	e.runAutomations(ctx, Event{
		Kind:         EventNewMessage,
		Config:       cfg,
		Conversation: *conv,
		Message:      msg,
	})

	// Automations may have escalated or reassigned; the responder gate
	// reads the fresh state.
	fresh, err := e.store.GetConversation(ctx, conv.ID)
	if err == nil && fresh != nil {
		conv = fresh
	}

	if cfg.AIEnabled && !conv.AIEscalated && e.ai != nil {
		e.spawnResponder(cfg, conv, msg)
	}

	return &IngestResult{Conversation: conv, Message: msg, Created: created}, nil
}

// SendOutbound records an agent-authored reply and dispatches it through
// the conversation's channel. The message is persisted before dispatch;
// delivery failures leave it with status=failed and a wrapped
// ErrDispatchFailed.
func (e *Engine) SendOutbound(ctx context.Context, configID, conversationID, body string) (*database.Message, error) {
	cfg, err := e.Config(ctx, configID)
	if err != nil {
		return nil, err
	}
	if body == "" {
		return nil, fmt.Errorf("outbound body cannot be empty")
	}

	conv, msg, err := e.router.RouteOutbound(ctx, configID, conversationID, body, OutboundOptions{})
	if err != nil {
		return nil, err
	}

	e.publish("new_message", msg)
	e.publish("conversation_updated", conv)

	if err := e.deliver(ctx, cfg, conv, msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// MarkRead resets a conversation's unread counter.
func (e *Engine) MarkRead(ctx context.Context, configID, conversationID string) (*database.Conversation, error) {
	conv, err := e.router.MarkRead(ctx, configID, conversationID)
	if err != nil {
		return nil, err
	}
	e.publish("conversation_updated", conv)
	return conv, nil
}

// UpdateStatus moves a conversation to one of the closed status values.
func (e *Engine) UpdateStatus(ctx context.Context, configID, conversationID, status string) (*database.Conversation, error) {
	switch status {
	case database.StatusOpen, database.StatusAssigned, database.StatusResolved, database.StatusSpam:
	default:
		return nil, fmt.Errorf("unknown conversation status %q", status)
	}

	conv, err := e.router.Mutate(ctx, configID, conversationID, func(conv *database.Conversation) error {
		conv.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish("conversation_updated", conv)
	return conv, nil
}

// Assign hands a conversation to an agent and marks it assigned.
func (e *Engine) Assign(ctx context.Context, configID, conversationID, agent string) (*database.Conversation, error) {
	if agent == "" {
		return nil, fmt.Errorf("agent cannot be empty")
	}

	conv, err := e.router.Mutate(ctx, configID, conversationID, func(conv *database.Conversation) error {
		conv.AssignedTo = nullString(agent)
		conv.Status = database.StatusAssigned
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish("conversation_updated", conv)
	return conv, nil
}

// Unescalate returns a conversation to AI handling. Escalation is sticky
// and only this explicit call clears it.
func (e *Engine) Unescalate(ctx context.Context, configID, conversationID string) (*database.Conversation, error) {
	conv, err := e.router.Mutate(ctx, configID, conversationID, func(conv *database.Conversation) error {
		conv.AIEscalated = false
		conv.AIHandoffReason = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish("conversation_updated", conv)
	return conv, nil
}

// Config resolves a messaging config through the in-process cache. Unknown
// ids return ErrConfigNotFound; deactivated configs return
// ErrConfigInactive.
func (e *Engine) Config(ctx context.Context, id string) (*database.MessagingConfig, error) {
	if v, ok := e.configs.Get(id); ok {
		cfg := v.(*database.MessagingConfig)
		if !cfg.Active {
			return nil, ErrConfigInactive
		}
		return cfg, nil
	}

	cfg, err := e.store.GetConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrConfigNotFound
	}

	e.configs.Set(id, cfg, cache.DefaultExpiration)
	if !cfg.Active {
		return nil, ErrConfigInactive
	}
	return cfg, nil
}

// InvalidateConfig drops a config from the cache after a settings change.
func (e *Engine) InvalidateConfig(id string) {
	e.configs.Delete(id)
}

// Drain waits for in-flight background drafting to finish.
func (e *Engine) Drain() {
	e.draftWG.Wait()
}

// deliver dispatches a persisted outbound message and reconciles its
// delivery status.
func (e *Engine) deliver(ctx context.Context, cfg *database.MessagingConfig, conv *database.Conversation, msg *database.Message) error {
	result, err := e.dispatcher.Dispatch(ctx, cfg, conv.Channel, &channel.OutboundMessage{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		ContactID:      conv.ContactID,
		Type:           msg.Type,
		Body:           msg.Body,
	})
	if err != nil {
		msg.Status = database.MessageFailed
		msg.ErrorMessage = err.Error()
		if uerr := e.store.UpdateMessageStatus(ctx, msg.ID, database.MessageFailed, err.Error()); uerr != nil {
			e.logger.ErrorContext(ctx, "Failed to record dispatch failure",
				"message_id", msg.ID, "error", uerr)
		}
		e.publish("message_updated", msg)
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	msg.Status = database.MessageSent
	if err := e.store.UpdateMessageStatus(ctx, msg.ID, database.MessageSent, ""); err != nil {
		e.logger.ErrorContext(ctx, "Failed to record dispatch success",
			"message_id", msg.ID, "error", err)
	}
	e.publish("message_updated", msg)

	e.logger.InfoContext(ctx, "Outbound message dispatched",
		"message_id", msg.ID, "channel", conv.Channel, "provider_id", result.ProviderMessageID)
	return nil
}

// spawnResponder starts drafting in the background with a detached context
// so a finished webhook request cannot cancel the draft; the config's
// drafting budget bounds it instead.
func (e *Engine) spawnResponder(cfg *database.MessagingConfig, conv *database.Conversation, msg *database.Message) {
	e.draftWG.Add(1)
	go func() {
		defer e.draftWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.AIDraftTimeout())
		defer cancel()

		e.respond(ctx, cfg, conv, msg)
	}()
}

func (e *Engine) publish(eventType string, payload any) {
	if e.broadcast == nil {
		return
	}
	e.broadcast.Broadcast(wsEvent{Type: eventType, Payload: payload})
}

func (e *Engine) sendNotification(ctx context.Context, cfg *database.MessagingConfig, n notify.Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, cfg, n); err != nil {
		e.logger.WarnContext(ctx, "Notification delivery failed",
			"kind", n.Kind, "config_id", cfg.ID, "error", err)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
