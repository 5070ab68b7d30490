// Package ledger — handlers.go обрабатывает команды:
// /start, /help, /credits (баланс и пакеты), /pumpreels и добавление бота в чат.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/pumpreels-bot/internal/common"
)

// StartMessage — приветствие для /start и /help.
const StartMessage = `🚀 Welcome to PumpReels!

Add me to your group, then send a photo with one of the captions:
/generate <prompt> — your own prompt
/moon, /lambo, /wagmi — ready-made templates

/credits — balance and top-up packages
/pumpreels — group balance`

// Handler обрабатывает команды, связанные с балансом группы.
type Handler struct {
	service     *Service
	bot         common.Sender
	videoCost   int64
	checkoutURL string
}

// NewHandler создаёт обработчик.
// checkoutURL — база ссылки на оплату, к ней добавляется /<credits>.
func NewHandler(service *Service, bot common.Sender, videoCost int64, checkoutURL string) *Handler {
	return &Handler{
		service:     service,
		bot:         bot,
		videoCost:   videoCost,
		checkoutURL: strings.TrimRight(checkoutURL, "/"),
	}
}

// HandleStart отвечает на /start и /help.
func (h *Handler) HandleStart(chatID int64) {
	h.sendMessage(chatID, StartMessage, nil)
}

// HandleCredits показывает баланс группы и пакеты пополнения.
// В личке показывает балансы всех групп, куда пользователь добавил бота.
func (h *Handler) HandleCredits(ctx context.Context, chat *tgbotapi.Chat, userID int64) {
	kb := h.CreditButtons()

	if chat.IsPrivate() {
		groups, err := h.service.GroupsByCreator(ctx, userID)
		if err != nil {
			log.WithError(err).WithField("user_id", userID).Error("groups by creator")
			h.sendMessage(chat.ID, "❌ Failed to load your groups", nil)
			return
		}
		if len(groups) == 0 {
			h.sendMessage(chat.ID, "You have not added me to any group yet.\n\n"+h.packagesText(), &kb)
			return
		}
		var sb strings.Builder
		sb.WriteString("🎥 Your groups:\n")
		for _, g := range groups {
			title := g.Title
			if title == "" {
				title = g.GroupID
			}
			fmt.Fprintf(&sb, "• %s: %s\n", common.Truncate(title, 40), common.FormatCredits(g.Credits))
		}
		sb.WriteString("\n")
		sb.WriteString(h.packagesText())
		h.sendMessage(chat.ID, sb.String(), &kb)
		return
	}

	balance, err := h.service.Balance(ctx, GroupIDFromChat(chat.ID))
	if err != nil && !errors.Is(err, common.ErrGroupNotFound) {
		log.WithError(err).WithField("chat_id", chat.ID).Error("balance")
		h.sendMessage(chat.ID, "❌ Failed to load balance", nil)
		return
	}

	text := fmt.Sprintf("🚀 PumpReels Video Credit System\n\n🎥 Your current credits: %s\n💰 1 video = %s\n\n%s",
		common.FormatCredits(balance), common.FormatCredits(h.videoCost), h.packagesText())
	h.sendMessage(chat.ID, text, &kb)
}

// HandlePumpReels показывает баланс группы и подсказку по использованию.
func (h *Handler) HandlePumpReels(ctx context.Context, chatID int64) {
	balance, err := h.service.Balance(ctx, GroupIDFromChat(chatID))
	switch {
	case errors.Is(err, common.ErrGroupNotFound):
		h.sendMessage(chatID, "Your group is not registered. Add me to the group again or contact an admin.", nil)
		return
	case err != nil:
		log.WithError(err).WithField("chat_id", chatID).Error("balance")
		h.sendMessage(chatID, "❌ Failed to load balance", nil)
		return
	}

	if balance < h.videoCost {
		kb := h.CreditButtons()
		h.sendMessage(chatID, "Your group is out of credits. Top up to continue.", &kb)
		return
	}

	h.sendMessage(chatID, fmt.Sprintf(
		"Welcome to PumpReels! Your group has %s remaining.\nSend a photo with /generate <prompt> to make a video.",
		common.FormatCredits(balance)), nil)
}

// HandleBotAdded регистрирует группу, когда бота добавили в чат.
// Создателем группы считается тот, кто добавил бота.
func (h *Handler) HandleBotAdded(ctx context.Context, message *tgbotapi.Message) {
	if message == nil || message.Chat == nil {
		return
	}

	g := Group{
		GroupID:  GroupIDFromChat(message.Chat.ID),
		Title:    message.Chat.Title,
		ChatType: message.Chat.Type,
	}
	if message.From != nil {
		id := message.From.ID
		g.CreatorID = &id
	}

	out, err := h.service.Register(ctx, g)
	if err != nil {
		log.WithError(err).WithField("chat_id", message.Chat.ID).Error("register group")
		return
	}

	kb := h.CreditButtons()
	h.sendMessage(message.Chat.ID, fmt.Sprintf(
		"👋 Thanks for adding PumpReels!\nGroup balance: %s\n\n%s",
		common.FormatCredits(out.Credits), h.packagesText()), &kb)
}

// HandleGrant начисляет кредиты вручную: /grant <group_id> <credits>.
// Права оператора проверяет вызывающий.
func (h *Handler) HandleGrant(ctx context.Context, chatID, operatorID int64, args []string) {
	if len(args) != 2 {
		h.sendMessage(chatID, "Usage: /grant <group_id> <credits>", nil)
		return
	}
	credits, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || credits <= 0 {
		h.sendMessage(chatID, "Credits must be a positive number", nil)
		return
	}

	groupID := args[0]
	if _, err := h.service.Group(ctx, groupID); err != nil {
		if errors.Is(err, common.ErrGroupNotFound) {
			h.sendMessage(chatID, "Group "+groupID+" is not registered", nil)
			return
		}
		log.WithError(err).WithField("group_id", groupID).Error("grant: group lookup")
		h.sendMessage(chatID, "❌ Something went wrong, try again later", nil)
		return
	}

	balance, err := h.service.Increment(ctx, groupID, credits)
	if err != nil {
		log.WithError(err).WithField("group_id", groupID).Error("grant: increment")
		h.sendMessage(chatID, "❌ Something went wrong, try again later", nil)
		return
	}

	log.WithFields(log.Fields{
		"operator_id": operatorID,
		"group_id":    groupID,
		"credits":     credits,
		"balance":     balance,
	}).Warn("credits granted manually")
	h.sendMessage(chatID, fmt.Sprintf("✅ %s → %s, balance %s",
		common.FormatCreditsDelta(credits), groupID, common.FormatCredits(balance)), nil)
}

// CreditButtons — кнопки оплаты пакетов, по два в ряд.
func (h *Handler) CreditButtons() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, p := range Packages {
		label := fmt.Sprintf("%s Credits", common.FormatNumber(p.Credits))
		url := fmt.Sprintf("%s/%d", h.checkoutURL, p.Credits)
		row = append(row, tgbotapi.NewInlineKeyboardButtonURL(label, url))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (h *Handler) packagesText() string {
	var sb strings.Builder
	sb.WriteString("📦 Bulk credit packages:\n")
	for _, p := range Packages {
		videos := p.Credits / h.videoCost
		fmt.Fprintf(&sb, "%s videos (%s) → $%s\n",
			common.FormatNumber(videos), common.FormatCredits(p.Credits), common.FormatNumber(p.PriceUSD))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (h *Handler) sendMessage(chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

// GroupIDFromChat переводит Telegram chat ID в ID группы.
func GroupIDFromChat(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
