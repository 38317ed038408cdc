// Package app wires the engine's components together and manages their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/omnidesk/omnidesk/internal/api"
	"github.com/omnidesk/omnidesk/internal/engine"
	"github.com/omnidesk/omnidesk/internal/ws"
)

// App orchestrates the HTTP server, websocket hub and scheduler.
type App struct {
	logger    *slog.Logger
	server    *api.Server
	hub       *ws.Hub
	scheduler *Scheduler
	engine    *engine.Engine
}

// NewApp creates the orchestrator over already constructed components.
func NewApp(logger *slog.Logger, server *api.Server, hub *ws.Hub, scheduler *Scheduler, eng *engine.Engine) *App {
	return &App{
		logger:    logger.With("component", "orchestrator"),
		server:    server,
		hub:       hub,
		scheduler: scheduler,
		engine:    eng,
	}
}

// Run starts all components and blocks until the context is cancelled or a
// component fails. Shutdown waits for in-flight AI drafts.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(gCtx)
		return nil
	})

	g.Go(func() error {
		if err := a.server.Run(gCtx); err != nil {
			a.logger.Error("HTTP server failed", "error", err)
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.scheduler.Start(); err != nil {
			a.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	a.logger.Info("Orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	a.logger.Info("Waiting for in-flight AI drafts...")
	a.engine.Drain()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Orchestrator stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Orchestrator stopped gracefully.")
	return nil
}
