package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a
// *ValidationError when one or more problems are found, allowing callers to
// inspect all issues at once.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateSocket(cfg, ve)
	validateChannels(cfg, ve)
	validateScheduler(cfg, ve)
	validatePulse(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateSocket(cfg *Config, ve *ValidationError) {
	if cfg.Socket == "" {
		ve.Add("socket is required")
	}
	if cfg.DataDir == "" {
		ve.Add("data_dir is required")
	}
}

var validChannelTypes = map[string]bool{
	"discord": true,
	"slack":   true,
}

func validateChannels(cfg *Config, ve *ValidationError) {
	for i, ch := range cfg.Channels {
		if !validChannelTypes[ch.Type] {
			ve.Add("channels[%d].type %q is invalid (want: discord, slack)", i, ch.Type)
			continue
		}
		switch ch.Type {
		case "discord":
			if ch.Discord == nil || ch.Discord.Token == "" {
				ve.Add("channels[%d] (discord): discord.token is required (set via ALFREDD_DISCORD_TOKEN)", i)
			}
		case "slack":
			if ch.Slack == nil {
				ve.Add("channels[%d] (slack): slack config section is required", i)
			} else {
				if ch.Slack.BotToken == "" {
					ve.Add("channels[%d] (slack): slack.bot_token is required (set via ALFREDD_SLACK_BOT_TOKEN)", i)
				}
				if ch.Slack.AppToken == "" {
					ve.Add("channels[%d] (slack): slack.app_token is required", i)
				}
			}
		}
	}
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		}
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule is required", i)
		}
	}
}

func validatePulse(cfg *Config, ve *ValidationError) {
	if !cfg.Pulse.Enabled {
		return
	}
	if cfg.Pulse.Schedule == "" {
		ve.Add("pulse.schedule is required when pulse is enabled")
	}
	if cfg.Pulse.ResponseTo != "" && cfg.Pulse.ResponseTo != "lastActive" {
		if _, ok := cfg.Pulse.NamedDestinations[cfg.Pulse.ResponseTo]; !ok {
			ve.Add("pulse.response_to %q is neither \"lastActive\" nor a name in pulse.destinations", cfg.Pulse.ResponseTo)
		}
	}
}
