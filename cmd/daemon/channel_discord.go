//go:build discord

package main

import (
	"log/slog"

	"alfred-ai/internal/adapter/channel"
	"alfred-ai/internal/domain"
	"alfred-ai/internal/infra/config"
)

func buildDiscordChannel(cc config.ChannelConfig, logger *slog.Logger) (domain.Channel, error) {
	if cc.Discord == nil || cc.Discord.Token == "" {
		return nil, errMissingChannelCredentials("discord")
	}
	var opts []channel.DiscordOption
	if cc.Discord.GuildID != "" {
		opts = append(opts, channel.WithDiscordGuild(cc.Discord.GuildID))
	}
	return channel.NewDiscordChannel(cc.Discord.Token, logger, opts...), nil
}
