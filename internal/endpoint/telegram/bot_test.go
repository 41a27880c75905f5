package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/magefree/anonrelay-server-go/internal/endpoint"
	"github.com/magefree/anonrelay-server-go/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeAPI struct {
	mu      sync.Mutex
	updates chan tgbotapi.Update
	sent    []tgbotapi.MessageConfig
	sendErr error
	stopped bool
	timeout int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 16)}
}

func (f *fakeAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	f.mu.Lock()
	f.timeout = config.Timeout
	f.mu.Unlock()
	return f.updates
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

func textUpdate(chatID int64, messageID int, text string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: messageID,
			Chat:      &tgbotapi.Chat{ID: chatID},
			Text:      text,
		},
	}
}

func TestBot_ServeDispatchesCommands(t *testing.T) {
	api := newFakeAPI()
	bot := newBot(api, Config{PollTimeout: 30 * time.Second}, zaptest.NewLogger(t))

	got := make(chan endpoint.Command, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- bot.Serve(ctx, func(ctx context.Context, cmd endpoint.Command) error {
			got <- cmd
			return cmd.Reply.Reply(ctx, "Hello, fox!")
		})
	}()

	api.updates <- textUpdate(111, 7, "just chatting")
	api.updates <- tgbotapi.Update{}
	api.updates <- textUpdate(111, 8, "/register@RelayBot trivia fox")

	var cmd endpoint.Command
	select {
	case cmd = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("command was not dispatched")
	}
	assert.Equal(t, "register", cmd.Name)
	assert.Equal(t, []string{"trivia", "fox"}, cmd.Args)
	assert.Equal(t, registry.Identity("111"), cmd.Sender)

	require.Eventually(t, func() bool { return len(api.messages()) == 1 }, time.Second, 5*time.Millisecond)
	reply := api.messages()[0]
	assert.Equal(t, int64(111), reply.ChatID)
	assert.Equal(t, 8, reply.ReplyToMessageID)
	assert.Equal(t, "Hello, fox!", reply.Text)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, api.stopped)
	assert.Equal(t, 30, api.timeout)
	assert.Empty(t, got)
}

func TestBot_HandlerErrorStopsServe(t *testing.T) {
	api := newFakeAPI()
	bot := newBot(api, Config{}, zaptest.NewLogger(t))
	boom := errors.New("boom")

	api.updates <- textUpdate(111, 1, "/new_game trivia")
	err := bot.Serve(context.Background(), func(ctx context.Context, cmd endpoint.Command) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, api.stopped)
}

func TestBot_ServeEndsWhenUpdatesClose(t *testing.T) {
	api := newFakeAPI()
	bot := newBot(api, Config{}, zaptest.NewLogger(t))
	close(api.updates)

	assert.NoError(t, bot.Serve(context.Background(), func(ctx context.Context, cmd endpoint.Command) error {
		return nil
	}))
}

func TestBot_Deliver(t *testing.T) {
	api := newFakeAPI()
	bot := newBot(api, Config{}, zaptest.NewLogger(t))

	require.NoError(t, bot.Deliver(context.Background(), "222", "Message from fox in trivia: hi"))
	msgs := api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(222), msgs[0].ChatID)
	assert.Equal(t, "Message from fox in trivia: hi", msgs[0].Text)
	assert.Zero(t, msgs[0].ReplyToMessageID)

	assert.ErrorIs(t, bot.Deliver(context.Background(), "not-a-chat", "x"), endpoint.ErrUnreachable)
}

func TestBot_DeliverToBlockedChat(t *testing.T) {
	api := newFakeAPI()
	bot := newBot(api, Config{}, zaptest.NewLogger(t))

	api.sendErr = &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	assert.ErrorIs(t, bot.Deliver(context.Background(), "222", "x"), endpoint.ErrUnreachable)

	api.sendErr = errors.New("connection reset")
	err := bot.Deliver(context.Background(), "222", "x")
	require.Error(t, err)
	assert.False(t, errors.Is(err, endpoint.ErrUnreachable))
}
