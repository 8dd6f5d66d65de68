// Package tasks holds the background jobs the scheduler runs.
package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgard/chatmemory/internal/database"
)

// ScheduledTaskFunc is the signature of every scheduled task. The context is
// cancelled at shutdown.
type ScheduledTaskFunc func(ctx context.Context) error

// BlockSweeper drops expired block entries and reports how many went.
type BlockSweeper interface {
	SweepBlocks() int
}

// TaskDeps are the collaborators tasks may use.
type TaskDeps struct {
	Logger  *slog.Logger
	Store   database.Store
	Sweeper BlockSweeper
}

// RegisterAllTasks returns the tasks keyed by the name used in the
// scheduler.tasks configuration section.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := map[string]ScheduledTaskFunc{
		"block_sweep":     newBlockSweepTask(deps),
		"sql_maintenance": newSQLMaintenanceTask(deps),
	}
	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}

func newBlockSweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "block_sweep")

	return func(ctx context.Context) error {
		if removed := deps.Sweeper.SweepBlocks(); removed > 0 {
			log.InfoContext(ctx, "Removed expired blocks", "removed", removed)
		}
		return nil
	}
}

func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "sql_maintenance")

	return func(ctx context.Context) error {
		start := time.Now()
		if err := deps.Store.RunSQLMaintenance(ctx); err != nil {
			log.ErrorContext(ctx, "SQL maintenance failed", "error", err, "duration", time.Since(start))
			return err
		}
		log.InfoContext(ctx, "SQL maintenance completed", "duration", time.Since(start))
		return nil
	}
}
