// Package main contains the entrypoint for the Telegram chat bot.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/spf13/cobra"

	"github.com/edgard/chatmemory/internal/admission"
	"github.com/edgard/chatmemory/internal/blocklist"
	"github.com/edgard/chatmemory/internal/bot"
	"github.com/edgard/chatmemory/internal/bot/handlers"
	"github.com/edgard/chatmemory/internal/bot/tasks"
	"github.com/edgard/chatmemory/internal/chat"
	"github.com/edgard/chatmemory/internal/config"
	"github.com/edgard/chatmemory/internal/database"
	"github.com/edgard/chatmemory/internal/dispatch"
	"github.com/edgard/chatmemory/internal/history"
	"github.com/edgard/chatmemory/internal/logger"
	"github.com/edgard/chatmemory/internal/provider"
	"github.com/edgard/chatmemory/internal/telegram"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "chatmemory",
	Short:         "Telegram chat bot with per-conversation memory",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), configPath)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to configuration file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("Bot stopped due to error", "error", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is canceled or a
// component fails.
func run(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	store := database.NewStore(cfg.Database.Dir, log)

	ai, err := provider.New(ctx, cfg.AI, log)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create completion provider: %w", err)
	}

	owner := cfg.Telegram.OwnerID
	blocks := blocklist.New(owner)
	dispatcher := dispatch.New(dispatch.Options{
		OwnerID:   owner,
		Separator: cfg.Dispatch.Separator,
		Fallback:  cfg.Dispatch.Fallback,
		Retry: dispatch.RetryPolicy{
			MaxAttempts:    cfg.AI.MaxRetries,
			AttemptTimeout: cfg.AI.AttemptTimeout,
			Backoff:        cfg.AI.RetryBackoff,
			Deadline:       cfg.AI.RequestDeadline,
		},
		MinDelay: cfg.Dispatch.MinDelay,
		MaxDelay: cfg.Dispatch.MaxDelay,
	}, dispatch.Deps{
		Provider: ai,
		Blocks:   blocks,
		Logger:   log,
	})

	svc := chat.NewService(chat.Identity{OwnerID: owner}, chat.Deps{
		Histories:  history.NewManager(store, cfg.History.GroupSize, cfg.History.PrivateSize, time.Local, log),
		Blocks:     blocks,
		Admission:  admission.New(owner, admission.Mode(cfg.Admission.Mode), blocks, time.Now),
		Dispatcher: dispatcher,
		Persona:    cfg.AI.Persona,
		Location:   time.Local,
		Logger:     log,
	})

	hDeps := handlers.HandlerDeps{
		Logger:    log,
		Config:    cfg,
		Service:   svc,
		Captioner: handlers.CaptionPassthrough{},
	}

	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log,
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(handlers.NewObserveHandler(hDeps)),
	)
	if err != nil {
		_ = store.Close()
		return err
	}

	me, err := tg.GetMe(ctx)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("get bot info: %w", err)
	}
	cfg.Telegram.BotID = strconv.FormatInt(me.ID, 10)
	cfg.Telegram.BotName = me.Username
	svc.SetBotIdentity(cfg.Telegram.BotID, cfg.Telegram.BotName)
	log.Info("Retrieved bot info", "bot_id", me.ID, "bot_username", me.Username)

	if _, err := telegram.RegisterHandlers(tg, log, handlers.RegisterAllCommands(hDeps)); err != nil {
		_ = store.Close()
		return err
	}

	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:  log,
		Store:   store,
		Sweeper: svc,
	}))
	if err != nil {
		_ = store.Close()
		return err
	}

	log.Info("Starting bot...")
	runErr := bot.NewBot(log, store, tg, sched).Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	log.Info("Bot stopped gracefully")
	return nil
}
