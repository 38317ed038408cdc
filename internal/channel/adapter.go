// Package channel defines the adapter boundary between the engine and the
// messaging providers. Adapters are stateless translators: they normalize
// provider payloads into canonical inbound messages and turn canonical
// outbound messages into provider calls.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/omnidesk/omnidesk/internal/database"
)

// ErrorKind classifies adapter failures so the engine can decide between
// dropping, retrying and surfacing to the config owner.
type ErrorKind string

const (
	// MalformedPayload means the provider payload could not be understood.
	// Dropped and logged, never retried.
	MalformedPayload ErrorKind = "malformed_payload"
	// ProviderUnavailable is a transient provider failure, eligible for
	// retry with backoff.
	ProviderUnavailable ErrorKind = "provider_unavailable"
	// AuthInvalid means the channel credentials were rejected. Fatal for the
	// config; surfaced to its owner.
	AuthInvalid ErrorKind = "auth_invalid"
)

// AdapterError wraps a channel failure with its classification.
type AdapterError struct {
	Kind    ErrorKind
	Channel string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s adapter: %s: %v", e.Channel, e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Transient reports whether the failure is eligible for retry.
func (e *AdapterError) Transient() bool { return e.Kind == ProviderUnavailable }

// IsTransient reports whether err is a transient adapter failure.
func IsTransient(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Transient()
}

// NewAdapterError builds a classified adapter error.
func NewAdapterError(channel string, kind ErrorKind, err error) *AdapterError {
	return &AdapterError{Kind: kind, Channel: channel, Err: err}
}

// InboundMessage is the canonical form of a provider delivery. ExternalID
// must be a stable provider message id usable as a dedup key; ContactID is
// the canonical contact identity on the channel.
type InboundMessage struct {
	Channel     string
	ExternalID  string
	ContactID   string
	ContactName string
	Type        string
	Body        string
	ReceivedAt  time.Time
}

// OutboundMessage is the canonical form of a message to deliver.
type OutboundMessage struct {
	MessageID      string
	ConversationID string
	ContactID      string
	Type           string
	Body           string
}

// DeliveryResult reports a successful provider dispatch.
type DeliveryResult struct {
	ProviderMessageID string
	DeliveredAt       time.Time
}

// Adapter translates between one provider's wire format and the canonical
// message model. Implementations hold no per-conversation state.
type Adapter interface {
	// Channel returns the channel identifier the adapter serves.
	Channel() string

	// NormalizeInbound parses a raw provider payload. Parse failures return
	// a MalformedPayload AdapterError.
	NormalizeInbound(raw []byte) (*InboundMessage, error)

	// DispatchOutbound delivers an outbound message through the provider
	// using the config's channel credentials.
	DispatchOutbound(ctx context.Context, cfg *database.MessagingConfig, msg *OutboundMessage) (*DeliveryResult, error)
}
