package common

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender — часть *tgbotapi.BotAPI, которой пользуются обработчики.
// В тестах подменяется заглушкой.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// IsNotModified — Telegram отвечает так, когда текст не изменился.
// Для обновления прогресса это не ошибка.
func IsNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}
