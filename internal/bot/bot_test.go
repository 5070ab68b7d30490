package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/pumpreels-bot/internal/bot/middleware"
	"serotonyl.ru/pumpreels-bot/internal/config"
	"serotonyl.ru/pumpreels-bot/internal/features/generation"
	"serotonyl.ru/pumpreels-bot/internal/features/ledger"
)

type fakeSender struct {
	mu     sync.Mutex
	texts  []string
	videos int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		f.texts = append(f.texts, m.Text)
	case tgbotapi.VideoConfig:
		f.videos++
	}
	return tgbotapi.Message{MessageID: len(f.texts) + f.videos}, nil
}

func (f *fakeSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) lastText(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.texts)
	return f.texts[len(f.texts)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts) + f.videos
}

type finishedProvider struct{}

func (finishedProvider) CreateVideo(context.Context, string, []byte, string) (string, error) {
	return "vid-1", nil
}

func (finishedProvider) VideoStatus(_ context.Context, videoID string) (*generation.VideoStatus, error) {
	return &generation.VideoStatus{VideoID: videoID, Status: generation.StatusFinished, Progress: 100, URL: "https://cdn.test/v.mp4"}, nil
}

type stubImages struct{}

func (stubImages) FetchImage(context.Context, string) ([]byte, error) { return []byte("img"), nil }

type testBot struct {
	bot    *Bot
	ledger *ledger.MemoryStore
	sender *fakeSender
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	cfg := &config.Config{
		TelegramBotUsername: "pumpreels_bot",
		AdminIDs:            []int64{7},
		BotMaxInflight:      4,
		RateLimitRequests:   100,
		RateLimitWindow:     time.Minute,
	}
	store := ledger.NewMemoryStore()
	sender := &fakeSender{}

	ledgerHandler := ledger.NewHandler(ledger.NewService(store), sender, 50, "https://pay.example.com")
	genService := generation.NewService(
		generation.NewMemoryStore(store), finishedProvider{},
		generation.NewPoller(finishedProvider{}, time.Millisecond, time.Second), 50,
	)
	genHandler := generation.NewHandler(genService, sender, stubImages{})

	b := newBot(sender, tgbotapi.User{ID: 999, UserName: "pumpreels_bot", IsBot: true}, cfg, ledgerHandler, genHandler)
	t.Cleanup(b.rateLimiter.Close)
	return &testBot{bot: b, ledger: store, sender: sender}
}

func groupMessage(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 10,
		From:      &tgbotapi.User{ID: 1, UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: -100, Type: "supergroup", Title: "Doge Army"},
		Text:      text,
	}
}

func privateMessage(userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 11,
		From:      &tgbotapi.User{ID: userID},
		Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
		Text:      text,
	}
}

func (tb *testBot) handle(msg *tgbotapi.Message) {
	tb.bot.handleUpdate(context.Background(), tgbotapi.Update{Message: msg})
}

func (tb *testBot) credits(t *testing.T, groupID string) int64 {
	t.Helper()
	g, err := tb.ledger.GetGroup(context.Background(), groupID)
	require.NoError(t, err)
	return g.Credits
}

func TestBotAddedRegistersGroup(t *testing.T) {
	tb := newTestBot(t)

	msg := groupMessage("")
	msg.NewChatMembers = []tgbotapi.User{{ID: 999, IsBot: true, UserName: "pumpreels_bot"}}
	tb.handle(msg)

	g, err := tb.ledger.GetGroup(context.Background(), "-100")
	require.NoError(t, err)
	assert.Equal(t, "Doge Army", g.Title)
	require.NotNil(t, g.CreatorID)
	assert.Equal(t, int64(1), *g.CreatorID)
}

func TestOtherMembersJoiningIsIgnored(t *testing.T) {
	tb := newTestBot(t)

	msg := groupMessage("")
	msg.NewChatMembers = []tgbotapi.User{{ID: 5, UserName: "bob"}}
	tb.handle(msg)

	_, err := tb.ledger.GetGroup(context.Background(), "-100")
	assert.Error(t, err)
	assert.Zero(t, tb.sender.count())
}

func TestGenerateFromPhotoCaptionCharges(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	_, err := tb.ledger.RegisterGroup(ctx, ledger.Group{GroupID: "-100"})
	require.NoError(t, err)
	_, err = tb.ledger.Increment(ctx, "-100", 120)
	require.NoError(t, err)

	msg := groupMessage("")
	msg.Caption = "/moon@pumpreels_bot"
	msg.Photo = []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "big"}}
	tb.handle(msg)

	assert.Equal(t, int64(70), tb.credits(t, "-100"))
	assert.Equal(t, 1, tb.sender.videos)
}

func TestGenerateOutsideGroupIsRejected(t *testing.T) {
	tb := newTestBot(t)

	tb.handle(privateMessage(1, "/generate doge"))
	assert.Contains(t, tb.sender.lastText(t), "Add me to a group")

	tb.handle(privateMessage(1, "/pumpreels"))
	assert.Contains(t, tb.sender.lastText(t), "in a group")
}

func TestGrantRequiresOperatorInPrivate(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	_, err := tb.ledger.RegisterGroup(ctx, ledger.Group{GroupID: "-100"})
	require.NoError(t, err)

	tb.handle(privateMessage(1, "/grant -100 500"))
	assert.Equal(t, int64(0), tb.credits(t, "-100"))

	grant := groupMessage("/grant -100 500")
	grant.From.ID = 7
	tb.handle(grant)
	assert.Equal(t, int64(0), tb.credits(t, "-100"))

	tb.handle(privateMessage(7, "/grant -100 500"))
	assert.Equal(t, int64(500), tb.credits(t, "-100"))
}

func TestCommandsForOtherBotsAndPlainTextAreIgnored(t *testing.T) {
	tb := newTestBot(t)

	tb.handle(groupMessage("/credits@some_other_bot"))
	tb.handle(groupMessage("gm frens"))
	assert.Zero(t, tb.sender.count())

	tb.handle(groupMessage("/start"))
	assert.Equal(t, ledger.StartMessage, tb.sender.lastText(t))
}

func TestRateLimitedUserIsDropped(t *testing.T) {
	tb := newTestBot(t)
	tb.bot.rateLimiter.Close()
	tb.bot.rateLimiter = middleware.NewRateLimiter(1, time.Minute)
	defer tb.bot.rateLimiter.Close()

	tb.handle(groupMessage("/start"))
	tb.handle(groupMessage("/start"))
	assert.Equal(t, 1, tb.sender.count())
}
