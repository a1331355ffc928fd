//go:build bedrock

package main

import (
	"log/slog"
	"os"

	"alfred-ai/internal/adapter/llm"
	"alfred-ai/internal/domain"
)

func buildModelFactory(logger *slog.Logger) (domain.ModelFactory, error) {
	return llm.NewBedrockFactory(os.Getenv("ALFREDD_BEDROCK_REGION"), logger)
}
