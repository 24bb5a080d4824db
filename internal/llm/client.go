// Package llm wraps the OpenAI API behind the wire types the agent loop
// works with. Chat completions and embeddings are the only two calls the
// system makes; both are blocking and retried a bounded number of times.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/vgrachev/memora/pkg/api"
)

// UnavailableError indicates the model or embedding backend could not be
// reached or rejected the request after all retry attempts.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("llm backend: %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Options configure the client.
type Options struct {
	APIKey         string
	Model          string
	Temperature    float64
	EmbeddingModel string
	MaxAttempts    int           // completion retry attempts, default 3
	RetryBackoff   time.Duration // base backoff, doubled per attempt, default 500ms
	Logger         *slog.Logger
}

// Client calls the OpenAI chat completions and embeddings endpoints.
type Client struct {
	c    openai.Client
	opts Options
}

// New creates a Client. The API key must already be validated by config.
func New(opts Options) *Client {
	if opts.Model == "" {
		opts.Model = openai.ChatModelGPT4o
	}
	if opts.EmbeddingModel == "" {
		opts.EmbeddingModel = openai.EmbeddingModelTextEmbedding3Small
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	// The SDK retries internally by default; retries are handled here instead
	// so the policy is explicit and logged.
	client := openai.NewClient(
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	)
	return &Client{c: client, opts: opts}
}

// Complete sends a chat completion request, retrying transient failures with
// exponential backoff. Only the backend call is retried; tool execution and
// everything above it never is.
func (c *Client) Complete(ctx context.Context, req *api.ChatCompletionRequest) (*api.ChatCompletionResponse, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	backoff := c.opts.RetryBackoff
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		resp, err := c.c.Chat.Completions.New(ctx, params)
		if err == nil {
			return convertResponse(resp), nil
		}
		lastErr = err
		c.opts.Logger.Warn("completion attempt failed",
			"attempt", attempt, "max_attempts", c.opts.MaxAttempts, "error", err)

		if attempt == c.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, &UnavailableError{Op: "chat completion", Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, &UnavailableError{Op: "chat completion", Err: lastErr}
}

// Embed produces an embedding vector for text via the embeddings endpoint.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.c.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: c.opts.EmbeddingModel,
	})
	if err != nil {
		return nil, &UnavailableError{Op: "embedding", Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &UnavailableError{Op: "embedding", Err: fmt.Errorf("no embedding returned")}
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (c *Client) buildParams(req *api.ChatCompletionRequest) (openai.ChatCompletionNewParams, error) {
	model := req.Model
	if model == "" {
		model = c.opts.Model
	}
	temperature := c.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	params := openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    buildMessages(req.Messages),
		Temperature: openai.Float(temperature),
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, t := range req.Tools {
			var schema map[string]any
			if err := json.Unmarshal(t.Function.Parameters, &schema); err != nil {
				return params, fmt.Errorf("tool %q parameters: %w", t.Function.Name, err)
			}
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        t.Function.Name,
					Description: openai.String(t.Function.Description),
					Parameters:  openai.FunctionParameters(schema),
				},
			}
		}
		params.Tools = tools
	}
	return params, nil
}

// buildMessages converts wire messages into SDK message params. The agent
// loop already orders tool results directly after the assistant message that
// requested them, so the conversion is a straight pass.
func buildMessages(msgs []api.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "user":
			out = append(out, openai.UserMessage(m.Content))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				}
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: toolCalls,
			}
			// Keep any reasoning text produced alongside the tool calls.
			if m.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(m.Content),
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			if m.Content != "" {
				out = append(out, openai.UserMessage(m.Content))
			}
		}
	}
	return out
}

func convertResponse(resp *openai.ChatCompletion) *api.ChatCompletionResponse {
	out := &api.ChatCompletionResponse{
		ID:      resp.ID,
		Object:  string(resp.Object),
		Created: resp.Created,
		Model:   resp.Model,
	}
	for _, ch := range resp.Choices {
		msg := api.Message{
			Role:    "assistant",
			Content: ch.Message.Content,
		}
		for _, tc := range ch.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
				ID:   tc.ID,
				Type: string(tc.Type),
				Function: api.ToolCallFunction{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out.Choices = append(out.Choices, api.Choice{
			Index:        int(ch.Index),
			Message:      msg,
			FinishReason: string(ch.FinishReason),
		})
	}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &api.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		}
	}
	return out
}
