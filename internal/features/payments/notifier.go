package payments

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"serotonyl.ru/pumpreels-bot/internal/common"
)

// TelegramNotifier пишет в группу о поступившем платеже.
type TelegramNotifier struct {
	bot common.Sender
}

// NewTelegramNotifier создаёт уведомитель.
func NewTelegramNotifier(bot common.Sender) *TelegramNotifier {
	return &TelegramNotifier{bot: bot}
}

// CreditsAdded отправляет сообщение о пополнении.
func (n *TelegramNotifier) CreditsAdded(_ context.Context, groupID string, credits, balance int64) error {
	chatID, err := strconv.ParseInt(groupID, 10, 64)
	if err != nil {
		return fmt.Errorf("group_id %q is not a chat id: %w", groupID, err)
	}
	text := fmt.Sprintf("✅ Payment received: %s\n🎥 Group balance: %s",
		common.FormatCreditsDelta(credits), common.FormatCredits(balance))
	if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send payment notification: %w", err)
	}
	return nil
}
