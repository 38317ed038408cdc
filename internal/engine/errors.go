package engine

import "errors"

// Engine error taxonomy. Callers branch on these with errors.Is; the HTTP
// layer maps them to status codes.
var (
	// ErrConfigNotFound means the referenced messaging config does not exist.
	ErrConfigNotFound = errors.New("messaging config not found")

	// ErrConfigInactive means the config exists but has been deactivated.
	ErrConfigInactive = errors.New("messaging config is deactivated")

	// ErrConversationNotFound means the referenced conversation does not
	// exist or belongs to another config.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrDuplicateMessage marks a redelivery of an already ingested message.
	// It is an idempotent no-op, not a failure to the caller.
	ErrDuplicateMessage = errors.New("message already ingested")

	// ErrTemplateNotFound means the referenced template does not exist.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrTemplateNotApproved blocks sending a template that lacks provider
	// approval on a channel that requires it.
	ErrTemplateNotApproved = errors.New("template is not approved")

	// ErrInvalidTransition rejects a template lifecycle move the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid template state transition")

	// ErrQuickReplyNotFound means the shortcut is not registered.
	ErrQuickReplyNotFound = errors.New("quick reply not found")

	// ErrStaleDraft discards an outbound draft because a newer message was
	// appended to the conversation first (a human reply wins the race).
	ErrStaleDraft = errors.New("draft superseded by a newer message")

	// ErrDispatchFailed wraps a permanent channel delivery failure. The
	// message stays recorded with status=failed so the UI can offer retry.
	ErrDispatchFailed = errors.New("channel dispatch failed")
)
