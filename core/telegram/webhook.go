package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/concierge/core/logger"
)

// WebhookOptions describes a webhook registration.
type WebhookOptions struct {
	URL         string
	Secret      string
	DropPending bool
}

// RegisterWebhook points Telegram at opts.URL with the secret token and
// publishes the command menu from reg.
func (c *Client) RegisterWebhook(ctx context.Context, opts WebhookOptions, reg *Registry) error {
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		return fmt.Errorf("telegram: webhook url is required")
	}
	if opts.Secret == "" {
		return fmt.Errorf("telegram: webhook secret is required")
	}
	bot, err := c.bot.Get(ctx)
	if err != nil {
		return err
	}
	hook := &tele.Webhook{
		SecretToken: opts.Secret,
		DropUpdates: opts.DropPending,
		Endpoint:    &tele.WebhookEndpoint{PublicURL: url},
	}
	if err := c.sender.Do(ctx, "webhook.set", func() error { return bot.SetWebhook(hook) }); err != nil {
		return fmt.Errorf("telegram: set webhook: %w", err)
	}
	logger.Info(ctx, logger.CompTelegram, "webhook.registered",
		slog.String("public_url", url),
		slog.Bool("drop_pending", opts.DropPending),
	)
	if reg == nil {
		return nil
	}
	return InitBotCommands(ctx, bot, reg)
}

// DeleteWebhook removes the webhook so the bot stops receiving pushes.
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	bot, err := c.bot.Get(ctx)
	if err != nil {
		return err
	}
	if err := c.sender.Do(ctx, "webhook.delete", func() error { return bot.RemoveWebhook(dropPending) }); err != nil {
		return fmt.Errorf("telegram: delete webhook: %w", err)
	}
	logger.Info(ctx, logger.CompTelegram, "webhook.deleted", slog.Bool("drop_pending", dropPending))
	return nil
}
