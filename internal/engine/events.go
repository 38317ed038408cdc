package engine

import "github.com/omnidesk/omnidesk/internal/database"

// Event kinds handed to the automation evaluator.
const (
	EventNewConversation = "new_conversation"
	EventNewMessage      = "new_message"
	EventTimeElapsed     = "time_elapsed"
)

// Event carries value-copy snapshots of the entities a rule evaluates
// against. Rules within one pass all see the same snapshot, so an action
// mutating the conversation cannot change the outcome of later rules or
// re-trigger evaluation.
type Event struct {
	Kind         string
	Config       *database.MessagingConfig
	Conversation database.Conversation
	Message      *database.Message
}

// wsEvent is the JSON envelope pushed to agent dashboards over websocket.
type wsEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// IngestResult reports what ingestion did with a webhook delivery.
type IngestResult struct {
	Conversation *database.Conversation `json:"conversation"`
	Message      *database.Message      `json:"message"`
	Created      bool                   `json:"conversationCreated"`
	Duplicate    bool                   `json:"duplicate"`
}
