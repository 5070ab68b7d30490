// Package generation — handlers.go обрабатывает фото с подписью
// /generate <промпт> или шаблонами /moon, /lambo, /wagmi.
package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/pumpreels-bot/internal/common"
	"serotonyl.ru/pumpreels-bot/internal/features/ledger"
)

// ImageFetcher скачивает фото из Telegram по file_id.
type ImageFetcher interface {
	FetchImage(ctx context.Context, fileID string) ([]byte, error)
}

// FileURLer — часть *tgbotapi.BotAPI для получения ссылки на файл.
type FileURLer interface {
	GetFileDirectURL(fileID string) (string, error)
}

// TelegramImages скачивает фото по прямой ссылке Telegram.
type TelegramImages struct {
	api      FileURLer
	http     *http.Client
	maxBytes int64
}

// NewTelegramImages создаёт загрузчик. maxBytes ограничивает размер фото.
func NewTelegramImages(api FileURLer, httpClient *http.Client, maxBytes int64) *TelegramImages {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TelegramImages{api: api, http: httpClient, maxBytes: maxBytes}
}

// FetchImage скачивает файл.
func (t *TelegramImages) FetchImage(ctx context.Context, fileID string) ([]byte, error) {
	url, err := t.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > t.maxBytes {
		return nil, fmt.Errorf("file is larger than %d bytes", t.maxBytes)
	}
	return data, nil
}

// Handler обрабатывает команды генерации в чате.
type Handler struct {
	service *Service
	bot     common.Sender
	images  ImageFetcher
}

// NewHandler создаёт обработчик генерации.
func NewHandler(service *Service, bot common.Sender, images ImageFetcher) *Handler {
	return &Handler{service: service, bot: bot, images: images}
}

// ResolvePrompt возвращает промпт для команды: шаблон или текст после /generate.
// ok=false, если команда не относится к генерации.
func ResolvePrompt(cmd string, args []string) (prompt string, ok bool) {
	if tpl, found := PromptTemplates[cmd]; found {
		return tpl, true
	}
	if cmd == "generate" {
		return strings.TrimSpace(strings.Join(args, " ")), true
	}
	return "", false
}

// HandleGenerate запускает генерацию по фото из сообщения и ждёт результата.
// Блокирует до конца задачи, поэтому вызывается из горутины апдейта.
func (h *Handler) HandleGenerate(ctx context.Context, message *tgbotapi.Message, prompt string) {
	chatID := message.Chat.ID
	if prompt == "" {
		h.reply(message, "Add a prompt: send a photo with the caption /generate <prompt>, or use /moon, /lambo, /wagmi")
		return
	}
	if len(message.Photo) == 0 {
		h.reply(message, "📷 Send a photo with this command in the caption")
		return
	}

	// Telegram присылает несколько размеров, последний — самый большой
	photo := message.Photo[len(message.Photo)-1]
	image, err := h.images.FetchImage(ctx, photo.FileID)
	if err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("failed to download photo")
		h.reply(message, "❌ Could not read the photo, please try again")
		return
	}

	status, err := h.bot.Send(h.replyConfig(message, "⏳ Your video is in queue..."))
	if err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("failed to send status message")
	}

	onProgress := func(progress int) {
		if status.MessageID == 0 {
			return
		}
		h.editStatus(chatID, status.MessageID, fmt.Sprintf("🎬 Rendering your video... %d%%", progress))
	}

	res, err := h.service.Generate(ctx, Request{
		GroupID:    ledger.GroupIDFromChat(chatID),
		PromptText: prompt,
		Image:      image,
		ImageName:  "image.jpg",
	}, onProgress)
	if err != nil {
		h.finishStatus(message, status.MessageID, userMessage(err, h.service.Cost()))
		return
	}

	video := tgbotapi.NewVideo(chatID, tgbotapi.FileURL(res.URL))
	video.Caption = "🚀 " + common.Truncate(prompt, 200)
	video.ReplyToMessageID = message.MessageID
	if _, err := h.bot.Send(video); err != nil {
		log.WithError(err).WithField("video_id", res.Job.VideoID).Error("failed to send video, sending link")
		h.reply(message, "✅ Your video is ready: "+res.URL)
	}
	if status.MessageID != 0 {
		if _, err := h.bot.Request(tgbotapi.NewDeleteMessage(chatID, status.MessageID)); err != nil {
			log.WithError(err).Debug("failed to delete status message")
		}
	}
}

// userMessage переводит ошибку генерации в ответ пользователю.
func userMessage(err error, cost int64) string {
	switch {
	case errors.Is(err, common.ErrInsufficientCredits):
		return fmt.Sprintf("💸 Not enough credits: one video costs %s. Top up with /credits", common.FormatCredits(cost))
	case errors.Is(err, common.ErrGroupNotFound):
		return "This group is not registered. Add me to the group again or contact an admin."
	case errors.Is(err, common.ErrEmptyPrompt):
		return "Add a prompt: /generate <prompt>"
	case errors.Is(err, common.ErrEmptyImage):
		return "📷 Send a photo with this command in the caption"
	default:
		return "❌ Processing failed, credits refunded"
	}
}

func (h *Handler) editStatus(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := h.bot.Request(edit); err != nil && !common.IsNotModified(err) {
		log.WithError(err).WithField("chat_id", chatID).Debug("failed to edit status message")
	}
}

func (h *Handler) finishStatus(message *tgbotapi.Message, statusID int, text string) {
	if statusID == 0 {
		h.reply(message, text)
		return
	}
	h.editStatus(message.Chat.ID, statusID, text)
}

func (h *Handler) replyConfig(message *tgbotapi.Message, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ReplyToMessageID = message.MessageID
	return msg
}

func (h *Handler) reply(message *tgbotapi.Message, text string) {
	if _, err := h.bot.Send(h.replyConfig(message, text)); err != nil {
		log.WithError(err).WithField("chat_id", message.Chat.ID).Error("Ошибка отправки сообщения")
	}
}
