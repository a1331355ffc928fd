//go:build !bedrock

package main

import (
	"log/slog"

	"alfred-ai/internal/domain"
)

// buildModelFactory returns a nil ModelFactory when built without the
// bedrock tag: agent.spawn/agent.continue then fail with
// domain.ErrMissingModelFactory instead of the daemon refusing to boot.
func buildModelFactory(_ *slog.Logger) (domain.ModelFactory, error) {
	return nil, nil
}
