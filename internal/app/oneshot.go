package app

import (
	"context"
	"errors"
	"strings"

	"weatherbot/internal/bot"
	"weatherbot/internal/broadcast"
	"weatherbot/internal/config"
	telegram "weatherbot/internal/transport/telegram/adapter"
	logx "weatherbot/pkg/logx"
)

// LoadConfig parses and validates the config file without watching it.
func LoadConfig(ctx context.Context, path string) (*config.Config, error) {
	m := config.NewManager(path)
	m.SetValidator(validateSchedule)
	return m.Load(ctx)
}

// RegisterWebhook points Telegram at telegram.webhook_url and publishes the
// command menu. It returns the registered URL.
func RegisterWebhook(ctx context.Context, cfg *config.Config, log logx.Logger) (string, error) {
	raw := strings.TrimSpace(cfg.Telegram.WebhookURL)
	if raw == "" {
		return "", errors.New("telegram.webhook_url is not set")
	}
	endpoint, err := WebhookURL(raw)
	if err != nil {
		return "", err
	}
	ad, err := telegram.New(mapTelegramConfig(cfg), log)
	if err != nil {
		return "", err
	}
	if err := ad.RegisterEndpoint(ctx, endpoint, cfg.Telegram.WebhookSecret); err != nil {
		return "", err
	}
	reg, err := bot.New(nil, bot.Options{}).Registry()
	if err != nil {
		return "", err
	}
	if err := ad.UpdateMenuCommands(ctx, reg.MenuCommands()); err != nil {
		log.Warn("command menu not updated", logx.Err(err))
	}
	return endpoint, nil
}

// DeleteWebhook removes the Telegram webhook.
func DeleteWebhook(ctx context.Context, cfg *config.Config, dropPending bool, log logx.Logger) error {
	ad, err := telegram.New(mapTelegramConfig(cfg), log)
	if err != nil {
		return err
	}
	return ad.UnregisterEndpoint(ctx, dropPending)
}

// RunBroadcastOnce performs a single broadcast outside the server.
func RunBroadcastOnce(ctx context.Context, cfg *config.Config) (broadcast.Report, error) {
	c, err := Build(ctx, cfg)
	if err != nil {
		return broadcast.Report{}, err
	}
	defer c.Close()
	rep := c.Executor.RunWithTrigger(ctx, "cli")
	if rep.Error != "" {
		return rep, errors.New(rep.Error)
	}
	return rep, nil
}
