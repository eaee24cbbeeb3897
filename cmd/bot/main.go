package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/finnybot/internal/admin"
	"github.com/example/finnybot/internal/config"
	"github.com/example/finnybot/internal/database"
	"github.com/example/finnybot/internal/llm"
	"github.com/example/finnybot/internal/repository"
	"github.com/example/finnybot/internal/search"
	"github.com/example/finnybot/internal/service"
	"github.com/example/finnybot/internal/telegram"
	"github.com/example/finnybot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.Debug)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", "err", err)
		redisClient = nil
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	assistantRepo := repository.NewAssistantRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	userService := service.NewUserService(userRepo, logr, cfg.FreeDailyTokens, cfg.ReferralBonusTokens)
	quotaService := service.NewQuotaService(userRepo, logr, cfg.FreeDailyTokens, cfg.TokenUnitCost)
	assistantService := service.NewAssistantService(assistantRepo, redisClient, logr, cfg.AssistantCacheTTL)
	historyService := service.NewHistoryService(historyRepo, redisClient, logr, cfg.HistoryLimit)
	paymentService := service.NewPaymentService(cfg, paymentRepo, userRepo, logr)

	if err := assistantService.Seed(ctx); err != nil {
		log.Fatalf("seed assistants: %v", err)
	}

	searchClient := search.NewClient(
		&http.Client{Timeout: cfg.FetchTimeout},
		logr,
		cfg.SearchBaseURL,
		cfg.SearchRegion,
		cfg.SearchSafety,
	)
	openaiClient := llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	orchestrator := llm.NewOrchestrator(openaiClient, searchClient, logr, cfg.OpenAIModel)

	chatService := service.NewChatService(quotaService, assistantService, historyService, orchestrator, logr)

	bot := telegram.NewBot(cfg, botAPI, logr, userService, quotaService, chatService, assistantService, historyService, paymentService)

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, userService, assistantService, paymentService, botAPI)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	go runRenewalSweep(ctx, paymentService, cfg.RenewalSweepInterval)

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}

func runRenewalSweep(ctx context.Context, payments *service.PaymentService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			payments.RunRenewalSweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}
