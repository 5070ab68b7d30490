// Package main — точка входа сервиса.
// Загружает конфигурацию, инициализирует приложение и запускает бота и HTTP API.
// Поддерживает graceful shutdown по SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"serotonyl.ru/pumpreels-bot/internal/app"
	"serotonyl.ru/pumpreels-bot/internal/config"
)

func main() {
	// Настраиваем логирование
	setupLogging()

	log.Info("=== PumpReels запускается ===")

	// Загружаем конфигурацию из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}

	// Устанавливаем уровень логирования из конфига
	level, err := log.ParseLevel(cfg.AppLogLevel)
	if err == nil {
		log.SetLevel(level)
	}

	// Контекст отменяется по Ctrl+C / docker stop
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Инициализируем приложение (БД, бот, сервисы, обработчики)
	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Не удалось инициализировать приложение")
	}
	// БД закрываем последней: ожидания генераций пишут возвраты до самого конца
	defer application.DB.Close()

	g, gctx := errgroup.WithContext(ctx)

	if err := application.Scheduler.Start(gctx); err != nil {
		log.WithError(err).Fatal("Не удалось запустить планировщик")
	}
	defer application.Scheduler.Stop()

	if application.Bot != nil {
		g.Go(func() error {
			application.Bot.Start(gctx)
			return nil
		})
	}
	if application.HTTP != nil {
		g.Go(func() error {
			return application.HTTP.Run(gctx)
		})
	}

	log.Info("=== PumpReels готов к работе ===")

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Сервис остановлен с ошибкой")
	}

	log.Info("=== PumpReels остановлен ===")
}

// setupLogging настраивает формат логов.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}
