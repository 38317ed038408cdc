package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/omnidesk/omnidesk/internal/channel"
	"github.com/omnidesk/omnidesk/internal/database"
)

const previewLimit = 100

// Router owns conversation resolution and message persistence. Every
// mutation of a conversation runs under that conversation's keyed lock so
// unread counters and previews survive concurrent deliveries.
type Router struct {
	store  database.Store
	locks  *keyedMutex
	logger *slog.Logger
}

// NewRouter creates a Router sharing the engine's keyed locks.
func NewRouter(store database.Store, locks *keyedMutex, logger *slog.Logger) *Router {
	return &Router{
		store:  store,
		locks:  locks,
		logger: logger.With("component", "router"),
	}
}

// RouteInbound resolves or creates the conversation for an inbound message
// and appends it. Redelivered messages (same channel and external id) are
// detected before and after the insert; they return the original record
// with ErrDuplicateMessage and leave counters untouched. The returned bool
// reports whether a conversation was created.
func (r *Router) RouteInbound(ctx context.Context, configID string, in *channel.InboundMessage) (*database.Conversation, *database.Message, bool, error) {
	if in.ContactID == "" {
		return nil, nil, false, fmt.Errorf("inbound message has no contact id")
	}

	if in.ExternalID != "" {
		existing, err := r.store.GetMessageByExternalID(ctx, in.Channel, in.ExternalID)
		if err != nil {
			return nil, nil, false, err
		}
		if existing != nil {
			conv, err := r.store.GetConversation(ctx, existing.ConversationID)
			if err != nil {
				return nil, nil, false, err
			}
			return conv, existing, false, ErrDuplicateMessage
		}
	}

	conv, created, err := r.resolveConversation(ctx, configID, in)
	if err != nil {
		return nil, nil, false, err
	}

	unlock := r.locks.Lock(conv.ID)
	defer unlock()

	if !created {
		// resolveConversation read the row outside the lock; a concurrent
		// delivery may have advanced the counters since. Reload now that the
		// lock is held so the increment below works on current state.
		conv, err = r.store.GetConversation(ctx, conv.ID)
		if err != nil {
			return nil, nil, false, err
		}
		if conv == nil {
			return nil, nil, false, ErrConversationNotFound
		}
	}

	now := time.Now().UTC()
	msg := &database.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		ConfigID:       configID,
		Channel:        in.Channel,
		Direction:      database.DirectionInbound,
		Type:           in.Type,
		Body:           in.Body,
		ExternalID:     in.ExternalID,
		Status:         database.MessageDelivered,
		CreatedAt:      now,
	}
	if !in.ReceivedAt.IsZero() {
		msg.CreatedAt = in.ReceivedAt.UTC()
	}

	if err := r.store.SaveMessage(ctx, msg); err != nil {
		if database.IsUniqueViolation(err) {
			// Lost the race against a concurrent delivery of the same
			// provider message. The winner already updated the counters.
			existing, gerr := r.store.GetMessageByExternalID(ctx, in.Channel, in.ExternalID)
			if gerr != nil || existing == nil {
				return nil, nil, false, err
			}
			return conv, existing, false, ErrDuplicateMessage
		}
		return nil, nil, false, err
	}

	conv.UnreadCount++
	conv.LastMessageAt = toNullTime(msg.CreatedAt)
	conv.LastMessagePreview = previewOf(msg.Body)
	if in.ContactName != "" && conv.ContactName == "" {
		conv.ContactName = in.ContactName
	}
	if err := r.store.UpdateConversation(ctx, conv); err != nil {
		return nil, nil, false, err
	}

	r.logger.InfoContext(ctx, "Inbound message routed",
		"conversation_id", conv.ID, "channel", in.Channel, "created", created)
	return conv, msg, created, nil
}

// OutboundOptions tunes how RouteOutbound records a message.
type OutboundOptions struct {
	Type         string
	AIGenerated  bool
	AIConfidence float64

	// RequireLatest, when set, aborts with ErrStaleDraft unless the given
	// message id is still the newest in the conversation. The check runs
	// inside the conversation lock so a concurrent append cannot slip in
	// between the check and the insert.
	RequireLatest string
}

// RouteOutbound appends an outbound message to an existing conversation and
// resets its unread counter. It never creates conversations; outbound flow
// requires an inbound-established thread.
func (r *Router) RouteOutbound(ctx context.Context, configID, conversationID, body string, opts OutboundOptions) (*database.Conversation, *database.Message, error) {
	unlock := r.locks.Lock(conversationID)
	defer unlock()

	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil || conv.ConfigID != configID {
		return nil, nil, ErrConversationNotFound
	}

	if opts.RequireLatest != "" {
		latest, err := r.store.GetLatestMessage(ctx, conversationID)
		if err != nil {
			return nil, nil, err
		}
		if latest == nil || latest.ID != opts.RequireLatest {
			return nil, nil, ErrStaleDraft
		}
	}

	msgType := opts.Type
	if msgType == "" {
		msgType = "text"
	}

	now := time.Now().UTC()
	msg := &database.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		ConfigID:       configID,
		Channel:        conv.Channel,
		Direction:      database.DirectionOutbound,
		Type:           msgType,
		Body:           body,
		AIGenerated:    opts.AIGenerated,
		AIConfidence:   opts.AIConfidence,
		Status:         database.MessageQueued,
		CreatedAt:      now,
	}
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		return nil, nil, err
	}

	conv.UnreadCount = 0
	conv.LastMessageAt = toNullTime(now)
	conv.LastMessagePreview = previewOf(body)
	if opts.AIGenerated {
		conv.AIHandled = true
	}
	if err := r.store.UpdateConversation(ctx, conv); err != nil {
		return nil, nil, err
	}

	return conv, msg, nil
}

// MarkRead resets the unread counter of a conversation.
func (r *Router) MarkRead(ctx context.Context, configID, conversationID string) (*database.Conversation, error) {
	return r.Mutate(ctx, configID, conversationID, func(conv *database.Conversation) error {
		conv.UnreadCount = 0
		return nil
	})
}

// Mutate applies fn to a freshly loaded conversation under its lock and
// persists the result. fn returning an error aborts without writing.
func (r *Router) Mutate(ctx context.Context, configID, conversationID string, fn func(conv *database.Conversation) error) (*database.Conversation, error) {
	unlock := r.locks.Lock(conversationID)
	defer unlock()

	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil || conv.ConfigID != configID {
		return nil, ErrConversationNotFound
	}

	if err := fn(conv); err != nil {
		return nil, err
	}
	if err := r.store.UpdateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// resolveConversation finds the thread for the inbound identity tuple or
// creates it. A unique-index violation on create means a concurrent
// delivery won the creation race; the existing row is fetched instead.
func (r *Router) resolveConversation(ctx context.Context, configID string, in *channel.InboundMessage) (*database.Conversation, bool, error) {
	conv, err := r.store.FindConversation(ctx, configID, in.Channel, in.ContactID)
	if err != nil {
		return nil, false, err
	}
	if conv != nil {
		return conv, false, nil
	}

	conv = &database.Conversation{
		ID:          uuid.NewString(),
		ConfigID:    configID,
		Channel:     in.Channel,
		ContactID:   in.ContactID,
		ContactName: in.ContactName,
		Status:      database.StatusOpen,
		Priority:    "normal",
	}
	if err := r.store.CreateConversation(ctx, conv); err != nil {
		if database.IsUniqueViolation(err) {
			existing, ferr := r.store.FindConversation(ctx, configID, in.Channel, in.ContactID)
			if ferr != nil {
				return nil, false, ferr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	return conv, true, nil
}

func previewOf(body string) string {
	runes := []rune(body)
	if len(runes) <= previewLimit {
		return body
	}
	return string(runes[:previewLimit]) + "…"
}

func toNullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}
