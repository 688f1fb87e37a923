// Package telegram is the platform transport: a long-poll update listener
// that turns Telegram messages into inbound turns, and the Messenger
// implementation used for delivery and typing indicators.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/gungold-XwX/yui-telegram-bot/common/redact"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/bot"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/trigger"
)

// TurnHandler processes one inbound turn. Satisfied by *bot.Handler.
type TurnHandler interface {
	Handle(ctx context.Context, msg bot.Inbound) error
}

// Client wraps the Bot API connection.
type Client struct {
	api    *tgbotapi.BotAPI
	token  string
	logger *slog.Logger
}

// New connects to the Bot API and verifies the token.
func New(token string, logger *slog.Logger) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", sanitize(err, token))
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("telegram connected", "bot", api.Self.UserName)
	return &Client{api: api, token: token, logger: logger}, nil
}

// sanitize scrubs the bot token from transport errors; the Bot API embeds it
// in every request URL, so raw errors must never reach the logs.
func sanitize(err error, token string) error {
	if err == nil {
		return nil
	}
	return errors.New(redact.String(err.Error(), token))
}

// Username returns the bot's own handle, without the @.
func (c *Client) Username() string { return c.api.Self.UserName }

// Listen long-polls for updates until ctx is cancelled, dispatching each
// message to its own goroutine. Turn isolation lives in the handler; a
// failed turn is logged here and never stops the listener.
func (c *Client) Listen(ctx context.Context, h TurnHandler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			c.logger.Info("telegram listener stopped")
			return
		case update, ok := <-updates:
			if !ok {
				c.logger.Warn("telegram update channel closed")
				return
			}
			msg := update.Message
			// Stickers, bare media and service updates carry no text and are
			// dropped before they reach the pipeline.
			if msg == nil || msg.From == nil || messageText(msg) == "" {
				continue
			}
			inb := c.inbound(msg)
			go func() {
				if err := h.Handle(ctx, inb); err != nil {
					c.logger.Error("turn failed", "chat_id", inb.ChatID, "err", err)
				}
			}()
		}
	}
}

func (c *Client) inbound(msg *tgbotapi.Message) bot.Inbound {
	return bot.Inbound{
		Inbound: trigger.Inbound{
			ChatID:      msg.Chat.ID,
			SenderID:    msg.From.ID,
			Text:        messageText(msg),
			Private:     msg.Chat.IsPrivate(),
			FromBot:     msg.From.ID == c.api.Self.ID,
			MentionsBot: mentionsUser(msg, c.api.Self.UserName),
			ReplyToBot:  repliesToUser(msg, c.api.Self.ID),
		},
		MessageID: msg.MessageID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
	}
}

// messageText prefers the text body and falls back to a media caption so
// captioned photos still count as conversation.
func messageText(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func mentionsUser(msg *tgbotapi.Message, username string) bool {
	if username == "" {
		return false
	}
	return strings.Contains(strings.ToLower(messageText(msg)), "@"+strings.ToLower(username))
}

func repliesToUser(msg *tgbotapi.Message, userID int64) bool {
	return msg.ReplyToMessage != nil &&
		msg.ReplyToMessage.From != nil &&
		msg.ReplyToMessage.From.ID == userID
}

// SendTyping shows the typing indicator; the platform clears it after a few
// seconds or on the next message.
func (c *Client) SendTyping(_ context.Context, chatID int64) error {
	_, err := c.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	if err != nil {
		return fmt.Errorf("telegram: typing: %w", sanitize(err, c.token))
	}
	return nil
}

// SendText delivers a message, optionally threaded onto the message being
// answered.
func (c *Client) SendText(_ context.Context, chatID int64, text string, replyTo int) error {
	m := tgbotapi.NewMessage(chatID, text)
	if replyTo != 0 {
		m.ReplyToMessageID = replyTo
	}
	if _, err := c.api.Send(m); err != nil {
		return fmt.Errorf("telegram: send: %w", sanitize(err, c.token))
	}
	return nil
}
