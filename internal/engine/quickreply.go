package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/omnidesk/omnidesk/internal/database"
)

// UpsertQuickReply registers or replaces a shortcut (last-writer-wins).
func (e *Engine) UpsertQuickReply(ctx context.Context, configID, shortcut, body string) (*database.QuickReply, error) {
	if _, err := e.Config(ctx, configID); err != nil {
		return nil, err
	}

	shortcut = strings.TrimSpace(shortcut)
	if shortcut == "" || strings.ContainsAny(shortcut, " \t\n") {
		return nil, fmt.Errorf("shortcut must be a single non-empty token")
	}
	if body == "" {
		return nil, fmt.Errorf("quick reply body cannot be empty")
	}

	qr := &database.QuickReply{
		ID:       uuid.NewString(),
		ConfigID: configID,
		Shortcut: shortcut,
		Body:     body,
	}
	if err := e.store.UpsertQuickReply(ctx, qr); err != nil {
		return nil, err
	}
	return qr, nil
}

// DeleteQuickReply removes a shortcut from the tenant's registry.
func (e *Engine) DeleteQuickReply(ctx context.Context, configID, shortcut string) error {
	qr, err := e.store.GetQuickReply(ctx, configID, shortcut)
	if err != nil {
		return err
	}
	if qr == nil {
		return ErrQuickReplyNotFound
	}
	return e.store.DeleteQuickReply(ctx, configID, shortcut)
}

// ExpandQuickReply resolves a shortcut to its canned body. Lookup is
// case-sensitive and exact.
func (e *Engine) ExpandQuickReply(ctx context.Context, configID, shortcut string) (string, error) {
	qr, err := e.store.GetQuickReply(ctx, configID, shortcut)
	if err != nil {
		return "", err
	}
	if qr == nil {
		return "", fmt.Errorf("%w: %q", ErrQuickReplyNotFound, shortcut)
	}
	return qr.Body, nil
}
