// Package filters решает, какие сообщения бот вообще обрабатывает.
package filters

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// ChatFilter пропускает сообщения от людей из групп и лички.
// Каналы и сообщения от других ботов игнорируются.
type ChatFilter struct {
	botID int64
}

func NewChatFilter(botID int64) *ChatFilter {
	return &ChatFilter{botID: botID}
}

func (f *ChatFilter) CheckAccess(message *tgbotapi.Message) bool {
	if message == nil || message.Chat == nil {
		log.WithField("component", "ChatFilter").Warn("nil message/chat")
		return false
	}
	if message.From == nil {
		log.WithFields(log.Fields{
			"component": "ChatFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Debug("nil message.From (service/channel message?)")
		return false
	}

	logger := log.WithFields(log.Fields{
		"component": "ChatFilter",
		"chat_id":   message.Chat.ID,
		"chat_type": message.Chat.Type,
		"user_id":   message.From.ID,
	})

	if message.From.IsBot || message.From.ID == f.botID {
		logger.Debug("deny: bot author")
		return false
	}
	if message.Chat.IsChannel() {
		logger.Debug("deny: channel")
		return false
	}
	return true
}

// IsGroup — генерация и баланс работают только в группах.
func IsGroup(chat *tgbotapi.Chat) bool {
	return chat != nil && (chat.IsGroup() || chat.IsSuperGroup())
}
