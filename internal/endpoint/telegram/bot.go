// Package telegram is a Telegram messaging endpoint backed by long polling.
// A participant's identity is the decimal id of their private chat with the bot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/magefree/anonrelay-server-go/internal/endpoint"
	"github.com/magefree/anonrelay-server-go/internal/registry"
	"go.uber.org/zap"
)

// Config configures the bot.
type Config struct {
	Token       string
	PollTimeout time.Duration
}

// botAPI is the subset of *tgbotapi.BotAPI the endpoint uses.
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopReceivingUpdates()
}

// Bot receives commands from Telegram chats and delivers relayed messages.
type Bot struct {
	api         botAPI
	pollTimeout time.Duration
	logger      *zap.Logger
}

// New authenticates with the Bot API and returns a bot ready to serve.
func New(cfg Config, logger *zap.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	logger.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
	return newBot(api, cfg, logger), nil
}

func newBot(api botAPI, cfg Config, logger *zap.Logger) *Bot {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 60 * time.Second
	}
	return &Bot{
		api:         api,
		pollTimeout: cfg.PollTimeout,
		logger:      logger,
	}
}

// Serve polls for updates and passes each command to h in arrival order.
func (b *Bot) Serve(ctx context.Context, h endpoint.Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(b.pollTimeout / time.Second)

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.logger.Info("telegram polling started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			cmd, ok := b.toCommand(update)
			if !ok {
				continue
			}
			if err := h(ctx, cmd); err != nil {
				return err
			}
		}
	}
}

func (b *Bot) toCommand(update tgbotapi.Update) (endpoint.Command, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return endpoint.Command{}, false
	}
	name, args, ok := endpoint.ParseCommandLine(msg.Text)
	if !ok {
		return endpoint.Command{}, false
	}
	return endpoint.Command{
		Name:   name,
		Args:   args,
		Sender: registry.Identity(strconv.FormatInt(msg.Chat.ID, 10)),
		Reply: &quoteReply{
			bot:       b,
			chatID:    msg.Chat.ID,
			messageID: msg.MessageID,
		},
	}, true
}

// Deliver sends text to the chat identified by to.
func (b *Bot) Deliver(ctx context.Context, to registry.Identity, text string) error {
	chatID, err := strconv.ParseInt(string(to), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid chat id %q", endpoint.ErrUnreachable, to)
	}
	return b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) send(msg tgbotapi.MessageConfig) error {
	if _, err := b.api.Send(msg); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusForbidden || apiErr.Code == http.StatusBadRequest) {
			return fmt.Errorf("%w: %v", endpoint.ErrUnreachable, err)
		}
		return err
	}
	return nil
}

// quoteReply answers in the originating chat, quoting the command message.
type quoteReply struct {
	bot       *Bot
	chatID    int64
	messageID int
}

func (r *quoteReply) Reply(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(r.chatID, text)
	msg.ReplyToMessageID = r.messageID
	return r.bot.send(msg)
}
