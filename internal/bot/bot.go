// Package bot содержит главный модуль бота: приём апдейтов и маршрутизацию команд.
package bot

import (
	"context"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/pumpreels-bot/internal/bot/filters"
	"serotonyl.ru/pumpreels-bot/internal/bot/middleware"
	"serotonyl.ru/pumpreels-bot/internal/common"
	"serotonyl.ru/pumpreels-bot/internal/config"
	"serotonyl.ru/pumpreels-bot/internal/features/generation"
	"serotonyl.ru/pumpreels-bot/internal/features/ledger"
	"serotonyl.ru/pumpreels-bot/internal/metrics"
)

// Bot — главная структура бота, объединяющая все компоненты.
type Bot struct {
	api    *tgbotapi.BotAPI
	sender common.Sender
	self   tgbotapi.User
	cfg    *config.Config

	chatFilter  *filters.ChatFilter
	rateLimiter *middleware.RateLimiter

	ledgerHandler     *ledger.Handler
	generationHandler *generation.Handler

	parser *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
	wg       sync.WaitGroup
}

// New создаёт новый экземпляр бота со всеми зависимостями.
func New(
	api *tgbotapi.BotAPI,
	cfg *config.Config,
	ledgerHandler *ledger.Handler,
	generationHandler *generation.Handler,
) *Bot {
	b := newBot(api, api.Self, cfg, ledgerHandler, generationHandler)
	b.api = api
	return b
}

func newBot(
	sender common.Sender,
	self tgbotapi.User,
	cfg *config.Config,
	ledgerHandler *ledger.Handler,
	generationHandler *generation.Handler,
) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	username := self.UserName
	if username == "" {
		username = cfg.TelegramBotUsername
	}

	return &Bot{
		sender:            sender,
		self:              self,
		cfg:               cfg,
		chatFilter:        filters.NewChatFilter(self.ID),
		rateLimiter:       middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		ledgerHandler:     ledgerHandler,
		generationHandler: generationHandler,
		parser:            NewCommandParser(username),
		inflight:          make(chan struct{}, maxInFlight),
	}
}

// Start запускает polling обновлений от Telegram и блокируется до отмены ctx.
// После отмены ждёт обработчики: идущие генерации успевают вернуть кредиты.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.BotUpdateTimeoutSeconds

	updates := b.api.GetUpdatesChan(u)

	log.WithFields(log.Fields{
		"max_inflight": b.cfg.BotMaxInflight,
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
		"username":     b.self.UserName,
	}).Info("Бот запущен и ожидает сообщения...")

	defer b.shutdown()

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			b.api.StopReceivingUpdates()
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return
			}

			// лимит параллелизма
			select {
			case b.inflight <- struct{}{}:
			case <-ctx.Done():
				b.api.StopReceivingUpdates()
				return
			}
			b.dispatch(ctx, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	b.wg.Add(1)
	go func(upd tgbotapi.Update) {
		defer b.wg.Done()
		defer func() { <-b.inflight }()
		b.handleUpdate(ctx, upd)
	}(update)
}

func (b *Bot) shutdown() {
	b.wg.Wait()
	b.rateLimiter.Close()
	log.Info("Обработчики апдейтов завершены")
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer middleware.RecoverFromPanic()

	message := update.Message
	if message == nil || message.Chat == nil {
		metrics.BotUpdates.WithLabelValues("other").Inc()
		return
	}

	// Бота добавили в группу (или создали группу вместе с ним)
	if b.isBotAdded(message) {
		metrics.BotUpdates.WithLabelValues("bot_added").Inc()
		b.ledgerHandler.HandleBotAdded(ctx, message)
		return
	}

	// Фото приходит с подписью, обычные команды — с текстом
	text := message.Text
	if text == "" {
		text = message.Caption
	}
	if text == "" {
		metrics.BotUpdates.WithLabelValues("other").Inc()
		return
	}

	middleware.LogMessage(message)

	if !b.chatFilter.CheckAccess(message) {
		metrics.BotUpdates.WithLabelValues("filtered").Inc()
		return
	}

	cmd, args, isCommand := b.parser.ParseCommand(text)
	if !isCommand {
		metrics.BotUpdates.WithLabelValues("text").Inc()
		return
	}

	if !b.rateLimiter.Allow(message.From.ID) {
		metrics.BotUpdates.WithLabelValues("rate_limited").Inc()
		log.WithField("user_id", message.From.ID).Debug("rate limited")
		return
	}

	log.WithFields(log.Fields{
		"cmd":     cmd,
		"args":    args,
		"chat_id": message.Chat.ID,
	}).Debug("routing command")
	metrics.BotUpdates.WithLabelValues("command").Inc()
	b.routeCommand(ctx, message, cmd, args)
}

// routeCommand маршрутизирует команду к нужному обработчику.
func (b *Bot) routeCommand(ctx context.Context, message *tgbotapi.Message, cmd string, args []string) {
	chatID := message.Chat.ID
	userID := message.From.ID

	switch cmd {
	case "start", "help":
		b.ledgerHandler.HandleStart(chatID)

	case "credits":
		b.ledgerHandler.HandleCredits(ctx, message.Chat, userID)

	case "pumpreels":
		if !filters.IsGroup(message.Chat) {
			b.sendMessage(chatID, "Use /pumpreels in a group where I was added")
			return
		}
		b.ledgerHandler.HandlePumpReels(ctx, chatID)

	case "grant":
		// Только оператор и только в личке
		if message.Chat.IsPrivate() && b.cfg.IsAdmin(userID) {
			b.ledgerHandler.HandleGrant(ctx, chatID, userID, args)
		}

	default:
		prompt, ok := generation.ResolvePrompt(cmd, args)
		if !ok {
			return
		}
		if !filters.IsGroup(message.Chat) {
			b.sendMessage(chatID, "Add me to a group to generate videos")
			return
		}
		b.generationHandler.HandleGenerate(ctx, message, prompt)
	}
}

// isBotAdded сообщает, что сообщение — о добавлении этого бота в чат.
func (b *Bot) isBotAdded(message *tgbotapi.Message) bool {
	if message.GroupChatCreated || message.SuperGroupChatCreated {
		return true
	}
	for _, user := range message.NewChatMembers {
		if b.self.ID != 0 && user.ID == b.self.ID {
			return true
		}
		if user.IsBot && strings.EqualFold(user.UserName, b.cfg.TelegramBotUsername) {
			return true
		}
	}
	return false
}

// sendMessage — утилита для отправки сообщений.
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}
