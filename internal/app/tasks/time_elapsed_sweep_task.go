package tasks

import (
	"context"
	"fmt"
	"time"
)

// newTimeElapsedSweepTask creates the recurring pass that fires
// time_elapsed automations for conversations gone silent.
func newTimeElapsedSweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "time_elapsed_sweep")

	return func(ctx context.Context) error {
		start := time.Now()

		if err := deps.Engine.SweepTimeElapsed(ctx); err != nil {
			log.ErrorContext(ctx, "Time elapsed sweep failed",
				"error", err, "duration", time.Since(start))
			return fmt.Errorf("time elapsed sweep failed: %w", err)
		}

		log.DebugContext(ctx, "Time elapsed sweep completed", "duration", time.Since(start))
		return nil
	}
}
