// Package tasks implements the engine's recurring jobs and their
// registration with the scheduler.
package tasks

import (
	"log/slog"

	"github.com/omnidesk/omnidesk/internal/database"
	"github.com/omnidesk/omnidesk/internal/engine"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Engine *engine.Engine
}
