package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"b24bot/internal/bitrix"
	"b24bot/internal/bot"
	"b24bot/internal/config"
	"b24bot/internal/conversation"
	"b24bot/internal/credstore"
	"b24bot/internal/observability/logger"
	"b24bot/internal/session"
	"b24bot/internal/webhook"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bot",
	Long:  `Start long polling Telegram and serving the ops endpoints`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info(ctx, "starting b24bot",
		zap.String("service", cfg.ServiceName),
		zap.String("backend_url", cfg.BackendURL),
	)

	// Session store: Redis when configured, process memory otherwise.
	var sessions session.Store
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		sessions = session.NewRedisStore(redisClient)
		log.Info(ctx, "redis session store connected", zap.String("addr", cfg.RedisAddr))
	} else {
		sessions = session.NewMemoryStore()
		log.Info(ctx, "using in-memory session store")
	}

	creds := credstore.NewClient(cfg.BackendURL, log)

	newCRM := func(desc webhook.Descriptor) bot.CRM {
		return bitrix.NewClient(desc, log)
	}

	engine := conversation.NewEngine(&conversation.Env{
		Creds:    creds,
		Sessions: sessions,
		NewCRM: func(desc webhook.Descriptor) conversation.CRM {
			return newCRM(desc)
		},
		Log: log,
	})

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	log.Info(ctx, "telegram connected", zap.String("username", api.Self.UserName))

	// Ops HTTP server for health checks and metrics.
	opsServer := &http.Server{
		Addr:         cfg.OpsAddr,
		Handler:      buildOpsRouter(log, redisClient),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info(ctx, "starting ops server", zap.String("addr", opsServer.Addr))
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "ops server failed", zap.Error(err))
		}
	}()

	b := bot.New(api, engine, creds, newCRM, log)
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("bot stopped: %w", err)
	}

	log.Info(ctx, "shutdown signal received, starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "ops server shutdown error", zap.Error(err))
	}

	log.Info(shutdownCtx, "shutdown complete")
	return nil
}
