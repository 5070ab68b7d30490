// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, репозитории, сервисы, обработчики
// и собирает из них бота, HTTP-сервер и планировщик.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/pumpreels-bot/internal/bot"
	"serotonyl.ru/pumpreels-bot/internal/config"
	"serotonyl.ru/pumpreels-bot/internal/db/postgres"
	"serotonyl.ru/pumpreels-bot/internal/features/generation"
	"serotonyl.ru/pumpreels-bot/internal/features/ledger"
	"serotonyl.ru/pumpreels-bot/internal/features/payments"
	"serotonyl.ru/pumpreels-bot/internal/httpapi"
	"serotonyl.ru/pumpreels-bot/internal/jobs"
)

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	HTTP      *httpapi.Server
	Scheduler *jobs.Scheduler
	DB        *pgxpool.Pool
	BotAPI    *tgbotapi.BotAPI
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	if err := postgres.Migrate(ctx, pool, postgres.Migrations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 2. Telegram Bot API ===
	// Нужен и без long polling: через него уходят уведомления об оплате
	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	botAPI.Debug = cfg.AppEnv == "development" && cfg.AppLogLevel == "trace"
	log.Infof("Авторизован как @%s", botAPI.Self.UserName)

	// === 3. Репозитории ===
	ledgerRepo := ledger.NewRepository(pool, cfg.DBTxMaxRetries)
	paymentsRepo := payments.NewRepository(pool, cfg.DBTxMaxRetries)
	generationRepo := generation.NewRepository(pool, cfg.DBTxMaxRetries)

	// === 4. Сервисы ===
	provider := generation.NewPikaClient(generation.PikaConfig{
		BaseURL:          cfg.ProviderBaseURL,
		APIKey:           cfg.ProviderAPIKey,
		Timeout:          cfg.ProviderRequestTimeout,
		NegativePrompt:   cfg.ProviderNegativePrompt,
		Seed:             cfg.ProviderSeed,
		Duration:         cfg.ProviderDuration,
		Resolution:       cfg.ProviderResolution,
		FailureThreshold: cfg.BreakerFailureThreshold,
		BreakerTimeout:   cfg.BreakerTimeout,
	}, nil)
	poller := generation.NewPoller(provider, cfg.PollInterval, cfg.PollBudget)

	ledgerService := ledger.NewService(ledgerRepo)
	paymentsService := payments.NewService(paymentsRepo, payments.NewTelegramNotifier(botAPI))
	generationService := generation.NewService(generationRepo, provider, poller, cfg.VideoCost)

	a := &App{
		DB:     pool,
		BotAPI: botAPI,
	}

	// === 5. Бот ===
	if cfg.FeatureBotEnabled {
		images := generation.NewTelegramImages(botAPI, &http.Client{Timeout: 30 * time.Second}, cfg.HTTPMaxImageBytes)
		ledgerHandler := ledger.NewHandler(ledgerService, botAPI, cfg.VideoCost, cfg.PaymentCheckoutBaseURL)
		generationHandler := generation.NewHandler(generationService, botAPI, images)
		a.Bot = bot.New(botAPI, cfg, ledgerHandler, generationHandler)
	}

	// === 6. HTTP ===
	if cfg.FeatureHTTPEnabled {
		a.HTTP = httpapi.NewServer(httpapi.Options{
			Addr:            cfg.HTTPAddr,
			ReadTimeout:     cfg.HTTPReadTimeout,
			ShutdownTimeout: cfg.HTTPShutdownTimeout,
			RateLimit:       cfg.HTTPRateLimit,
			RateWindow:      cfg.HTTPRateWindow,
			MaxImageBytes:   cfg.HTTPMaxImageBytes,
			WebhookHeader:   cfg.PaymentWebhookHeader,
			WebhookKeyHash:  cfg.PaymentWebhookKeyHash,
		}, ledgerService, paymentsService, generationService, pool)
	}

	// === 7. Планировщик задач ===
	a.Scheduler = jobs.NewScheduler(generationService, cfg.SweepSchedule, cfg.PollBudget+cfg.SweepGrace)

	return a, nil
}
