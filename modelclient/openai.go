package modelclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultBaseURL targets OpenRouter, an OpenAI-compatible aggregator. Any
// OpenAI-compatible endpoint works via WithBaseURL.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// OpenAIClient adapts an OpenAI-compatible chat completion API to the
// Completer interface.
type OpenAIClient struct {
	api      *openai.Client
	provider string
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*openaiConfig)

type openaiConfig struct {
	baseURL    string
	provider   string
	httpClient *http.Client
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openaiConfig) { c.baseURL = url }
}

// WithProviderName sets the provider label used in error messages.
func WithProviderName(name string) OpenAIOption {
	return func(c *openaiConfig) { c.provider = name }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *openaiConfig) { c.httpClient = hc }
}

// NewOpenAIClient creates a Completer backed by an OpenAI-compatible API.
// If apiKey is empty, OPENROUTER_API_KEY then OPENAI_API_KEY are consulted.
func NewOpenAIClient(apiKey string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: "no API key: set OPENROUTER_API_KEY or OPENAI_API_KEY",
		}}
	}

	cfg := openaiConfig{
		baseURL:  DefaultBaseURL,
		provider: "openrouter",
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	apiCfg := openai.DefaultConfig(apiKey)
	apiCfg.BaseURL = cfg.baseURL
	apiCfg.HTTPClient = cfg.httpClient

	return &OpenAIClient{
		api:      openai.NewClientWithConfig(apiCfg),
		provider: cfg.provider,
	}, nil
}

// Complete sends a chat completion request and converts the response.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	apiReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertMessages(req.Messages),
		Tools:    convertTools(req.Tools),
	}
	if req.Temperature != nil {
		apiReq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		apiReq.MaxTokens = *req.MaxTokens
	}

	resp, err := c.api.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, c.convertError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{
			ClientError: ClientError{Message: "provider returned no choices"},
			Provider:    c.provider,
			Retryable:   true,
		}
	}

	choice := resp.Choices[0].Message
	completion := &Completion{
		ID:    resp.ID,
		Model: resp.Model,
		Text:  choice.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return completion, nil
}

func (c *OpenAIClient) convertError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = fmt.Sprintf("provider error (status %d)", apiErr.HTTPStatusCode)
		}
		return ErrorFromStatusCode(apiErr.HTTPStatusCode, msg, c.provider, nil)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RequestTimeoutError{ClientError: ClientError{Message: "model request timed out", Cause: err}}
	}
	if errors.Is(err, context.Canceled) {
		return &AbortError{ClientError: ClientError{Message: "model request cancelled", Cause: err}}
	}
	return &NetworkError{ClientError: ClientError{Message: "model request failed", Cause: err}}
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		am := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			am.ToolCalls = append(am.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, am)
	}
	return out
}

func convertTools(tools []ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, td := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	return out
}
