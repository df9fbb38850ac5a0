// Package telegram lets Telegram chats follow the log through a bot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/kxrxh/logcast/internal/registry"
	"github.com/kxrxh/logcast/internal/subscriber"
)

// MaxMessageLength is Telegram's limit for one text message, in characters.
const MaxMessageLength = 4096

const (
	replySubscribed   = "Subscribed. New log lines will be sent here."
	replyUnsubscribed = "Unsubscribed."
	replyHelp         = "Commands: /subscribe, /unsubscribe"
)

// Sender is the part of *telego.Bot used to deliver messages.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Store persists which chats follow the log.
type Store interface {
	Subscribe(chatID int64) error
	Unsubscribe(chatID int64) error
	Subscribers() ([]int64, error)
}

type Engine interface {
	OnConnect(sub registry.Subscriber) error
	Attach(sub registry.Subscriber)
	Disconnect(id string)
}

type Bot struct {
	sender       Sender
	store        Store
	engine       Engine
	logger       *slog.Logger
	outboxSize   int
	writeTimeout time.Duration
}

type Option func(*Bot)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithOutboxSize(n int) Option { return func(b *Bot) { b.outboxSize = n } }

func WithWriteTimeout(d time.Duration) Option { return func(b *Bot) { b.writeTimeout = d } }

func New(sender Sender, store Store, engine Engine, opts ...Option) *Bot {
	b := &Bot{
		sender:       sender,
		store:        store,
		engine:       engine,
		logger:       slog.New(slog.DiscardHandler),
		outboxSize:   subscriber.DefaultOutboxSize,
		writeTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SubscriberID is the registry id used for a chat.
func SubscriberID(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}

// Restore registers every persisted chat without sending it context.
func (b *Bot) Restore(ctx context.Context) error {
	chats, err := b.store.Subscribers()
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	for _, chatID := range chats {
		b.engine.Attach(b.newSubscriber(ctx, chatID))
	}
	b.logger.Info("telegram subscriptions restored", "chats", len(chats))
	return nil
}

// Run handles updates until ctx is done or the channel closes.
func (b *Bot) Run(ctx context.Context, updates <-chan telego.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

func (b *Bot) HandleUpdate(ctx context.Context, update telego.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	chatID := msg.Chat.ID

	switch command(msg.Text) {
	case "start", "subscribe":
		b.subscribe(ctx, chatID)
	case "stop", "unsubscribe":
		b.unsubscribe(ctx, chatID)
	default:
		b.reply(ctx, chatID, replyHelp)
	}
}

func (b *Bot) subscribe(ctx context.Context, chatID int64) {
	if err := b.store.Subscribe(chatID); err != nil {
		b.logger.Error("persist subscription", "chat", chatID, "err", err)
	}
	b.reply(ctx, chatID, replySubscribed)

	if err := b.engine.OnConnect(b.newSubscriber(ctx, chatID)); err != nil {
		b.logger.Warn("telegram connect failed", "chat", chatID, "err", err)
	}
}

func (b *Bot) unsubscribe(ctx context.Context, chatID int64) {
	if err := b.store.Unsubscribe(chatID); err != nil {
		b.logger.Error("remove subscription", "chat", chatID, "err", err)
	}
	b.engine.Disconnect(SubscriberID(chatID))
	b.reply(ctx, chatID, replyUnsubscribed)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.sender.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		b.logger.Warn("telegram reply failed", "chat", chatID, "err", err)
	}
}

func (b *Bot) newSubscriber(ctx context.Context, chatID int64) *subscriber.Subscriber {
	return subscriber.New(ctx, &chatConn{sender: b.sender, chatID: chatID},
		subscriber.WithID(SubscriberID(chatID)),
		subscriber.WithOutboxSize(b.outboxSize),
		subscriber.WithWriteTimeout(b.writeTimeout),
		subscriber.WithOnFailure(func(s *subscriber.Subscriber, err error) {
			b.logger.Warn("telegram delivery failed", "chat", chatID, "err", err)
			if !blocked(err) {
				return
			}
			if err := b.store.Unsubscribe(chatID); err != nil {
				b.logger.Error("remove subscription", "chat", chatID, "err", err)
				return
			}
			b.logger.Info("chat unreachable, subscription removed", "chat", chatID)
		}),
	)
}

// command extracts "subscribe" from "/subscribe@logcast_bot args".
func command(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(text[1:], " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd)
}

// blocked reports whether Telegram refused delivery for good: the bot was
// blocked by the user or removed from the chat.
func blocked(err error) bool {
	var apiErr *telegoapi.Error
	return errors.As(err, &apiErr) && apiErr.ErrorCode == http.StatusForbidden
}

type chatConn struct {
	sender Sender
	chatID int64
}

// Write sends msg as one Telegram message, or as several consecutive ones
// when it is over the length limit.
func (c *chatConn) Write(ctx context.Context, msg string) error {
	parts := splitMessage(msg)
	for i, part := range parts {
		if _, err := c.sender.SendMessage(ctx, tu.Message(tu.ID(c.chatID), part)); err != nil {
			return fmt.Errorf("send part %d/%d: %w", i+1, len(parts), err)
		}
	}
	return nil
}

func (c *chatConn) Close() error { return nil }

// splitMessage cuts msg into parts Telegram accepts. Parts end on a line
// break where one falls inside the limit and otherwise on a rune boundary.
// Blank text is rejected by Telegram, so it becomes "(empty)".
func splitMessage(msg string) []string {
	var parts []string
	for utf8.RuneCountInString(msg) > MaxMessageLength {
		cut := byteOffset(msg, MaxMessageLength)
		if i := strings.LastIndexByte(msg[:cut], '\n'); i > 0 {
			cut = i + 1
		}
		parts = appendNonBlank(parts, msg[:cut])
		msg = msg[cut:]
	}
	parts = appendNonBlank(parts, msg)
	if len(parts) == 0 {
		return []string{"(empty)"}
	}
	return parts
}

func appendNonBlank(parts []string, s string) []string {
	if strings.TrimSpace(s) == "" {
		return parts
	}
	return append(parts, s)
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}
