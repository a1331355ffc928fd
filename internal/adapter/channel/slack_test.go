//go:build slack

package channel

import (
	"io"
	"log/slog"
	"testing"
)

func newSlackTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSlackChannelID(t *testing.T) {
	ch := NewSlackChannel("bot-token", "app-token", newSlackTestLogger())
	if ch.ID() != "slack" {
		t.Errorf("ID = %q", ch.ID())
	}
}

func TestSlackOptionChannels(t *testing.T) {
	ch := NewSlackChannel("bot", "app", newSlackTestLogger(), WithSlackChannels([]string{"c1", "c2"}))
	if !ch.channelIDs["c1"] || !ch.channelIDs["c2"] {
		t.Errorf("channelIDs = %v", ch.channelIDs)
	}
}

func TestSlackOptionMentionOnly(t *testing.T) {
	ch := NewSlackChannel("bot", "app", newSlackTestLogger(), WithSlackMentionOnly(true))
	if !ch.mentionOnly {
		t.Error("mentionOnly should be true")
	}
}

func TestSlackDisconnectBeforeConnect(t *testing.T) {
	ch := NewSlackChannel("bot", "app", newSlackTestLogger())
	if err := ch.Disconnect(nil); err != nil {
		t.Errorf("Disconnect: %v", err)
	}
}

func TestSlackNewChannel(t *testing.T) {
	ch := NewSlackChannel("bot", "app", newSlackTestLogger())
	if ch.botToken != "bot" || ch.appToken != "app" {
		t.Error("tokens not set")
	}
}

func TestSlackMultipleOptions(t *testing.T) {
	ch := NewSlackChannel("bot", "app", newSlackTestLogger(),
		WithSlackMentionOnly(true),
		WithSlackChannels([]string{"ch1"}),
	)
	if !ch.mentionOnly || !ch.channelIDs["ch1"] {
		t.Error("options not applied correctly")
	}
}
