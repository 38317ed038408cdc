// Package main contains the entrypoint for the messaging engine.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omnidesk/omnidesk/internal/ai"
	"github.com/omnidesk/omnidesk/internal/api"
	"github.com/omnidesk/omnidesk/internal/app"
	"github.com/omnidesk/omnidesk/internal/app/tasks"
	"github.com/omnidesk/omnidesk/internal/channel"
	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/database"
	"github.com/omnidesk/omnidesk/internal/engine"
	"github.com/omnidesk/omnidesk/internal/logger"
	"github.com/omnidesk/omnidesk/internal/notify"
	"github.com/omnidesk/omnidesk/internal/ws"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all components, handles graceful shutdown and
// returns the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	var aiClient ai.Client
	if cfg.AI.APIKey != "" {
		aiClient, err = ai.NewClient(ctx, cfg.AI, log)
		if err != nil {
			log.Error("Failed to initialize AI client", "error", err)
			return 1
		}
	} else {
		log.Warn("No AI API key configured, automatic replies disabled")
	}

	hub := ws.NewHub(log)

	registry := channel.NewRegistry(
		channel.NewWebChatAdapter(hub),
		channel.NewWhatsAppAdapter(cfg.Dispatch.RequestTimeout, ""),
		channel.NewEmailAdapter(cfg.Dispatch.RequestTimeout, ""),
	)
	dispatcher := channel.NewDispatcher(registry, channel.RetryPolicy{
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		InitialBackoff: cfg.Dispatch.InitialBackoff,
		MaxBackoff:     cfg.Dispatch.MaxBackoff,
	}, log)

	var notifiers []notify.Notifier
	if cfg.Notify.AMQPURL != "" {
		queue, err := notify.NewQueuePublisher(cfg.Notify.AMQPURL, cfg.Notify.Exchange, log)
		if err != nil {
			log.Error("Failed to connect to notification queue", "error", err)
			return 1
		}
		defer queue.Close()
		notifiers = append(notifiers, queue)
	}
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Notify.TelegramToken, log)
		if err != nil {
			log.Error("Failed to create Telegram notifier", "error", err)
			return 1
		}
		notifiers = append(notifiers, tg)
	}

	eng := engine.New(store, registry, dispatcher, aiClient,
		notify.NewFanout(log, notifiers...), hub, log, engine.Options{
			HistoryLimit: cfg.AI.MaxHistory,
		})

	server := api.NewServer(cfg.Server, eng, store, hub, log)

	sched, err := app.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Engine: eng,
	}))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	application := app.NewApp(log, server, hub, sched, eng)

	log.Info("Starting engine...")
	runErr := application.Run(ctx)
	log.Info("Engine run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Engine stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Engine stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
