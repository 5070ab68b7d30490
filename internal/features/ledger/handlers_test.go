package ledger

import (
	"context"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func newTestHandler() (*Handler, *MemoryStore, *fakeSender) {
	store := NewMemoryStore()
	sender := &fakeSender{}
	h := NewHandler(NewService(store), sender, 50, "https://pay.example.com/pay/")
	return h, store, sender
}

func TestHandleBotAddedRegistersGroup(t *testing.T) {
	h, store, sender := newTestHandler()

	h.HandleBotAdded(context.Background(), &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: -100123, Type: "supergroup", Title: "Moon Club"},
		From: &tgbotapi.User{ID: 42},
	})

	g, err := store.GetGroup(context.Background(), "-100123")
	require.NoError(t, err)
	assert.Equal(t, "Moon Club", g.Title)
	require.NotNil(t, g.CreatorID)
	assert.Equal(t, int64(42), *g.CreatorID)

	msg := sender.last(t)
	assert.Equal(t, int64(-100123), msg.ChatID)
	assert.Contains(t, msg.Text, "0 credits")
}

func TestHandleCreditsShowsBalanceAndPackages(t *testing.T) {
	h, store, sender := newTestHandler()
	_, err := store.Increment(context.Background(), "-5", 2500)
	require.NoError(t, err)

	h.HandleCredits(context.Background(), &tgbotapi.Chat{ID: -5, Type: "group"}, 1)

	msg := sender.last(t)
	assert.Contains(t, msg.Text, "2,500 credits")
	assert.Contains(t, msg.Text, "50 videos (2,500 credits) → $140")

	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 2)
	require.NotNil(t, kb.InlineKeyboard[0][0].URL)
	assert.Equal(t, "https://pay.example.com/pay/2500", *kb.InlineKeyboard[0][0].URL)
	assert.Equal(t, "25,000 Credits", kb.InlineKeyboard[1][1].Text)
}

func TestHandleCreditsPrivateListsCreatorGroups(t *testing.T) {
	h, store, sender := newTestHandler()
	creator := int64(9)
	_, err := store.RegisterGroup(context.Background(), Group{GroupID: "-1", Title: "A", CreatorID: &creator})
	require.NoError(t, err)

	h.HandleCredits(context.Background(), &tgbotapi.Chat{ID: 9, Type: "private"}, creator)

	msg := sender.last(t)
	assert.True(t, strings.HasPrefix(msg.Text, "🎥 Your groups:"))
	assert.Contains(t, msg.Text, "• A: 0 credits")
}

func TestHandlePumpReels(t *testing.T) {
	h, store, sender := newTestHandler()

	h.HandlePumpReels(context.Background(), -7)
	assert.Contains(t, sender.last(t).Text, "not registered")

	_, err := store.RegisterGroup(context.Background(), Group{GroupID: "-7"})
	require.NoError(t, err)
	h.HandlePumpReels(context.Background(), -7)
	assert.Contains(t, sender.last(t).Text, "out of credits")

	_, err = store.Increment(context.Background(), "-7", 120)
	require.NoError(t, err)
	h.HandlePumpReels(context.Background(), -7)
	assert.Contains(t, sender.last(t).Text, "120 credits remaining")
}

func TestHandleGrant(t *testing.T) {
	h, store, sender := newTestHandler()
	ctx := context.Background()
	_, err := store.RegisterGroup(ctx, Group{GroupID: "-100500"})
	require.NoError(t, err)

	h.HandleGrant(ctx, 1, 7, []string{"-100500", "250"})
	g, err := store.GetGroup(ctx, "-100500")
	require.NoError(t, err)
	assert.Equal(t, int64(250), g.Credits)
	assert.True(t, strings.HasPrefix(sender.last(t).Text, "✅"))

	h.HandleGrant(ctx, 1, 7, []string{"-100500", "-5"})
	assert.Contains(t, sender.last(t).Text, "positive")

	h.HandleGrant(ctx, 1, 7, []string{"ghost", "10"})
	assert.Contains(t, sender.last(t).Text, "not registered")
	_, err = store.GetGroup(ctx, "ghost")
	assert.Error(t, err, "grant must not create groups")

	h.HandleGrant(ctx, 1, 7, nil)
	assert.Contains(t, sender.last(t).Text, "Usage")
}
