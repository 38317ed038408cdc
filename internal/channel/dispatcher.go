package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/omnidesk/omnidesk/internal/database"
)

// ErrUnknownChannel reports a channel name with no registered adapter.
var ErrUnknownChannel = errors.New("unknown channel")

// Registry holds the adapters known to the engine, keyed by channel name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Channel()] = a
	}
	return r
}

// Get returns the adapter for a channel, or an error for unknown channels.
func (r *Registry) Get(channel string) (Adapter, error) {
	a, ok := r.adapters[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	return a, nil
}

// RetryPolicy bounds dispatch retries for transient provider failures.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Dispatcher delivers outbound messages through the adapter registry,
// retrying transient provider failures with exponential backoff. Permanent
// failures (auth, malformed) are returned immediately.
type Dispatcher struct {
	registry *Registry
	policy   RetryPolicy
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the registry with the given
// retry policy.
func NewDispatcher(registry *Registry, policy RetryPolicy, logger *slog.Logger) *Dispatcher {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = 500 * time.Millisecond
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = 10 * time.Second
	}
	return &Dispatcher{
		registry: registry,
		policy:   policy,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch sends msg on the given channel. The returned error, if any, is
// the classified error of the final attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg *database.MessagingConfig, channelName string, msg *OutboundMessage) (*DeliveryResult, error) {
	adapter, err := d.registry.Get(channelName)
	if err != nil {
		return nil, err
	}

	backoff := d.policy.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		result, err := adapter.DispatchOutbound(ctx, cfg, msg)
		if err == nil {
			if attempt > 1 {
				d.logger.InfoContext(ctx, "Dispatch succeeded after retry",
					"channel", channelName, "message_id", msg.MessageID, "attempt", attempt)
			}
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) {
			d.logger.WarnContext(ctx, "Dispatch failed permanently",
				"channel", channelName, "message_id", msg.MessageID, "error", err)
			return nil, err
		}

		if attempt < d.policy.MaxAttempts {
			d.logger.WarnContext(ctx, "Transient dispatch failure, backing off",
				"channel", channelName, "message_id", msg.MessageID,
				"attempt", attempt, "backoff", backoff, "error", err)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}

			backoff *= 2
			if backoff > d.policy.MaxBackoff {
				backoff = d.policy.MaxBackoff
			}
		}
	}

	d.logger.ErrorContext(ctx, "Dispatch failed after max attempts",
		"channel", channelName, "message_id", msg.MessageID,
		"attempts", d.policy.MaxAttempts, "error", lastErr)
	return nil, lastErr
}
