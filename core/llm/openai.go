package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	coreerrors "github.com/adalundhe/hindsight/core/errors"
)

// OpenAIConfig configures the OpenAI-backed client.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{Model: openai.ChatModelGPT4oMini}
}

// OpenAIClient implements Client on the OpenAI chat completions API.
type OpenAIClient struct {
	client openai.Client
	config OpenAIConfig
}

// NewOpenAIClient creates the client.
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai api key required")
	}
	if config.Model == "" {
		config.Model = DefaultOpenAIConfig().Model
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &OpenAIClient{client: openai.NewClient(opts...), config: config}, nil
}

func (o *OpenAIClient) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.config.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai: %v", coreerrors.ErrLLMUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai returned no choices", coreerrors.ErrLLMUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIClient) ExtractFacts(ctx context.Context, req ExtractionRequest) (*Extraction, error) {
	prompt := fmt.Sprintf(extractionPromptTemplate,
		req.Timestamp.UTC().Format(time.RFC3339), req.Context, req.Content)

	reply, err := o.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	extraction, err := parseExtraction(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrLLMUnavailable, err)
	}
	return extraction, nil
}

func (o *OpenAIClient) ResolveEntity(ctx context.Context, req DisambiguationRequest) (string, error) {
	prompt := fmt.Sprintf(disambiguationPromptTemplate,
		req.Mention, req.FactText, formatCandidates(req.Candidates))

	reply, err := o.complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return parseResolution(reply, req.Candidates), nil
}

func (o *OpenAIClient) SynthesizeObservations(ctx context.Context, req ObservationRequest) ([]string, error) {
	prompt := fmt.Sprintf(observationPromptTemplate,
		req.EntityName, req.EntityType, strings.Join(req.FactTexts, "\n"))

	reply, err := o.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	statements, err := parseObservations(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrLLMUnavailable, err)
	}
	return statements, nil
}
