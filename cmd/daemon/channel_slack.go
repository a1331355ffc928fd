//go:build slack

package main

import (
	"log/slog"

	"alfred-ai/internal/adapter/channel"
	"alfred-ai/internal/domain"
	"alfred-ai/internal/infra/config"
)

func buildSlackChannel(cc config.ChannelConfig, logger *slog.Logger) (domain.Channel, error) {
	if cc.Slack == nil || cc.Slack.BotToken == "" || cc.Slack.AppToken == "" {
		return nil, errMissingChannelCredentials("slack")
	}
	return channel.NewSlackChannel(cc.Slack.BotToken, cc.Slack.AppToken, logger), nil
}
