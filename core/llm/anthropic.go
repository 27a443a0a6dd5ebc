package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	coreerrors "github.com/adalundhe/hindsight/core/errors"
)

// AnthropicConfig configures the Anthropic-backed client.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// DefaultAnthropicConfig returns sensible defaults; the API key comes from
// the environment or config file.
func DefaultAnthropicConfig() AnthropicConfig {
	return AnthropicConfig{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 2048,
	}
}

// AnthropicClient implements Client on Anthropic's Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	config AnthropicConfig
}

// NewAnthropicClient creates the client.
func NewAnthropicClient(config AnthropicConfig) (*AnthropicClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key required")
	}
	if config.Model == "" {
		config.Model = DefaultAnthropicConfig().Model
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultAnthropicConfig().MaxTokens
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := anthropic.NewClient(opts...)
	return &AnthropicClient{client: &client, config: config}, nil
}

func (a *AnthropicClient) complete(ctx context.Context, prompt string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.config.Model),
		MaxTokens: a.config.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: anthropic: %v", coreerrors.ErrLLMUnavailable, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (a *AnthropicClient) ExtractFacts(ctx context.Context, req ExtractionRequest) (*Extraction, error) {
	prompt := fmt.Sprintf(extractionPromptTemplate,
		req.Timestamp.UTC().Format(time.RFC3339), req.Context, req.Content)

	reply, err := a.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	extraction, err := parseExtraction(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrLLMUnavailable, err)
	}
	return extraction, nil
}

func (a *AnthropicClient) ResolveEntity(ctx context.Context, req DisambiguationRequest) (string, error) {
	prompt := fmt.Sprintf(disambiguationPromptTemplate,
		req.Mention, req.FactText, formatCandidates(req.Candidates))

	reply, err := a.complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return parseResolution(reply, req.Candidates), nil
}

func (a *AnthropicClient) SynthesizeObservations(ctx context.Context, req ObservationRequest) ([]string, error) {
	prompt := fmt.Sprintf(observationPromptTemplate,
		req.EntityName, req.EntityType, strings.Join(req.FactTexts, "\n"))

	reply, err := a.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	statements, err := parseObservations(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrLLMUnavailable, err)
	}
	return statements, nil
}
