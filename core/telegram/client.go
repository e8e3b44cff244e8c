// Package telegram wraps the Bot API for outbound delivery and webhook management.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/concierge/core/logger"
	"github.com/m3rciful/concierge/core/secrets"
	"github.com/m3rciful/concierge/core/telegram/keyboard"
	"github.com/m3rciful/concierge/core/telegram/sender"
)

// API is the subset of *tele.Bot the client calls.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	SetWebhook(w *tele.Webhook) error
	RemoveWebhook(dropPending ...bool) error
	SetCommands(opts ...interface{}) error
}

// Message is one outbound bot message. When Video or Audio is set the URL is
// sent as a native attachment with Text as caption.
type Message struct {
	ChatID  int64
	Text    string
	Buttons []keyboard.Button
	Video   string
	Audio   string
}

// Options configures a Client.
type Options struct {
	ParseMode string
	HTTP      HTTPOptions
	Sender    sender.Options
}

// Client delivers messages through a lazily constructed bot.
type Client struct {
	bot       *secrets.Lazy[API]
	sender    *sender.Sender
	parseMode tele.ParseMode
}

// NewClient returns a client whose bot is built on first use from the token cell.
// The bot is created offline so no getMe round trip happens at startup.
func NewClient(token *secrets.Lazy[string], opts Options) *Client {
	httpClient := BuildHTTPClient(opts.HTTP)
	bot := secrets.Map(token, func(tok string) (API, error) {
		if strings.TrimSpace(tok) == "" {
			return nil, fmt.Errorf("telegram: empty bot token")
		}
		start := time.Now()
		b, err := tele.NewBot(tele.Settings{Token: tok, Client: httpClient, Offline: true})
		if err != nil {
			return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
		}
		logger.Info(context.Background(), logger.CompTelegram, "bot.ready",
			slog.Duration("duration", logger.Took(start)),
		)
		return b, nil
	})
	return newClient(bot, opts)
}

// NewClientWithAPI wraps an existing bot.
func NewClientWithAPI(api API, opts Options) *Client {
	return newClient(secrets.Value(api), opts)
}

func newClient(bot *secrets.Lazy[API], opts Options) *Client {
	return &Client{
		bot:       bot,
		sender:    sender.New(opts.Sender),
		parseMode: ParseMode(opts.ParseMode),
	}
}

// ParseMode maps a configured name onto a telebot parse mode. Empty means Markdown.
func ParseMode(name string) tele.ParseMode {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "markdown":
		return tele.ModeMarkdown
	case "markdownv2":
		return tele.ModeMarkdownV2
	case "html":
		return tele.ModeHTML
	case "none", "text":
		return tele.ModeDefault
	}
	return tele.ModeMarkdown
}

// Send delivers m, retrying transient failures through the sender.
func (c *Client) Send(ctx context.Context, m Message) error {
	if m.ChatID == 0 {
		return fmt.Errorf("telegram: send: empty chat id")
	}
	bot, err := c.bot.Get(ctx)
	if err != nil {
		return err
	}
	opts := &tele.SendOptions{ParseMode: c.parseMode}
	var (
		what   interface{} = m.Text
		action             = "send.text"
	)
	switch {
	case m.Video != "":
		what, action = &tele.Video{File: tele.FromURL(m.Video), Caption: m.Text}, "send.video"
	case m.Audio != "":
		what, action = &tele.Audio{File: tele.FromURL(m.Audio), Caption: m.Text}, "send.audio"
	default:
		opts.ReplyMarkup = keyboard.Inline(m.Buttons...)
	}
	to := tele.ChatID(m.ChatID)
	return c.sender.Do(ctx, action, func() error {
		_, err := bot.Send(to, what, opts)
		return err
	})
}

// API returns the underlying bot, building it if needed.
func (c *Client) API(ctx context.Context) (API, error) {
	return c.bot.Get(ctx)
}
