//go:build bedrock

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"alfred-ai/internal/domain"
	"alfred-ai/internal/infra/tracer"
)

// bedrockConverseAPI abstracts the Bedrock runtime methods for testability.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockFactory implements domain.ModelFactory using the AWS Bedrock
// Converse API. One factory instance is shared across sessions; it mints
// one BedrockAdapter per Coordinator.Spawn/Continue call.
type BedrockFactory struct {
	region string
	client bedrockConverseAPI
	logger *slog.Logger
}

// NewBedrockFactory creates a BedrockFactory using the default AWS
// credential chain. region defaults to "us-east-1" when empty.
func NewBedrockFactory(region string, logger *slog.Logger) (*BedrockFactory, error) {
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &BedrockFactory{
		region: region,
		client: bedrockruntime.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// newBedrockFactoryWithClient builds a BedrockFactory around an injected
// client, for testing without live AWS credentials.
func newBedrockFactoryWithClient(client bedrockConverseAPI, logger *slog.Logger) *BedrockFactory {
	return &BedrockFactory{client: client, logger: logger}
}

// Create implements domain.ModelFactory.
func (f *BedrockFactory) Create(_ context.Context, sessionID domain.AgentSessionID, model string) (domain.ModelAdapter, error) {
	if model == "" {
		return nil, fmt.Errorf("bedrock: %w: empty model", domain.ErrInvalidInput)
	}
	return &BedrockAdapter{
		sessionID: sessionID,
		model:     model,
		client:    f.client,
		logger:    f.logger,
	}, nil
}

// BedrockAdapter implements domain.ModelAdapter for one agent session bound
// to a single Bedrock model. It also exposes Chat directly so the reference
// Coordinator can drive a turn without reaching back into the factory.
type BedrockAdapter struct {
	sessionID domain.AgentSessionID
	model     string
	client    bedrockConverseAPI
	logger    *slog.Logger
}

// Config implements domain.ModelAdapter.
func (a *BedrockAdapter) Config() domain.AdapterConfig {
	return domain.AdapterConfig{Model: a.model}
}

// Chat sends one turn to Bedrock's Converse API.
func (a *BedrockAdapter) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", "bedrock"),
			tracer.StringAttr("llm.model", a.model),
			tracer.StringAttr("llm.session_id", string(a.sessionID)),
		),
	)
	defer span.End()

	if req.Model == "" {
		req.Model = a.model
	}

	input := toBedrockConverseInput(req)

	output, err := a.client.Converse(ctx, input)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, mapBedrockError(err)
	}

	result := fromBedrockConverseOutput(output, req.Model)
	tracer.SetOK(span)
	a.logger.Debug("bedrock chat completed",
		"session_id", a.sessionID,
		"model", result.Model,
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens,
	)

	return result, nil
}

// --- Bedrock request/response conversion ---

func toBedrockConverseInput(req domain.ChatRequest) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.Model),
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	input.InferenceConfig = &types.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(maxTokens)),
	}
	if req.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
	}

	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			input.System = []types.SystemContentBlock{
				&types.SystemContentBlockMemberText{Value: m.Content},
			}
			continue
		}
		if msg := toBedrockMessage(m); msg != nil {
			input.Messages = append(input.Messages, *msg)
		}
	}

	return input
}

func toBedrockMessage(m domain.Message) *types.Message {
	switch m.Role {
	case domain.RoleAssistant:
		return &types.Message{
			Role:    types.ConversationRoleAssistant,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		}
	case domain.RoleUser, domain.RoleTool:
		return &types.Message{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		}
	default:
		return nil
	}
}

func fromBedrockConverseOutput(output *bedrockruntime.ConverseOutput, model string) *domain.ChatResponse {
	now := time.Now()
	result := &domain.ChatResponse{
		Model:     model,
		CreatedAt: now,
	}

	if output.Usage != nil {
		result.Usage = domain.Usage{
			PromptTokens:     int(aws.ToInt32(output.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(output.Usage.InputTokens)) + int(aws.ToInt32(output.Usage.OutputTokens)),
		}
	}

	msg := domain.Message{Role: domain.RoleAssistant, Timestamp: now}
	if outMsg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range outMsg.Value.Content {
			if b, ok := block.(*types.ContentBlockMemberText); ok {
				msg.Content = b.Value
			}
		}
	}

	result.Message = msg
	return result
}

// --- Error mapping ---

func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case code == "ThrottlingException" || code == "TooManyRequestsException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		case code == "AccessDeniedException" || code == "UnrecognizedClientException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case code == "ValidationException" && strings.Contains(msg, "too long"):
			return fmt.Errorf("%w: %s", domain.ErrContextOverflow, msg)
		case code == "ModelNotReadyException" || code == "ServiceUnavailableException" ||
			code == "InternalServerException":
			return fmt.Errorf("%w: %s", domain.ErrProviderError, msg)
		}
	}

	return domain.WrapOp("bedrock", err)
}
