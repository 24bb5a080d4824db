// Package agent orchestrates a single conversational turn: it assembles the
// short-term context, drives the model's tool-calling loop against the memory
// tools, and records the outcome in the session buffer, the log and the
// metrics recorder.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vgrachev/memora/internal/metrics"
	"github.com/vgrachev/memora/internal/session"
	"github.com/vgrachev/memora/internal/tools"
	"github.com/vgrachev/memora/pkg/api"
)

// CompletionFunc sends a chat completion request and returns the response.
// This abstraction decouples the agent from the OpenAI client; tests pass a
// scripted func.
type CompletionFunc func(ctx context.Context, req *api.ChatCompletionRequest) (*api.ChatCompletionResponse, error)

// Hooks are optional callbacks invoked during the turn for the REPL UI.
type Hooks struct {
	OnToolCall   func(call api.ToolCall)
	OnToolResult func(call api.ToolCall, result string)
}

// Config configures the agent.
type Config struct {
	SystemPrompt  string
	MaxIterations int     // model call iterations per turn (default 10)
	CostPer1K     float64 // dollars per 1000 tokens; 0 disables cost metrics
	Hooks         Hooks
}

// turnState tracks a turn through its lifecycle, for logging.
type turnState string

const (
	stateReceived  turnState = "received"
	stateModelCall turnState = "model_call"
	stateToolCall  turnState = "tool_call"
	stateResponded turnState = "responded"
	stateFailed    turnState = "failed"
)

const maxConsecutiveErrors = 3

// toolCallKey identifies a tool call by name + arguments, used for detecting
// repeated identical failing calls.
func toolCallKey(tc api.ToolCall) string {
	return tc.Function.Name + ":" + tc.Function.Arguments
}

const defaultSystemPrompt = `You are a helpful assistant with short-term and long-term memory.

Use your tools deliberately:
- save_to_memory when the user shares information worth keeping across sessions, or asks you to remember something.
- search_memory when the user asks about something that may have been saved earlier.
- remember_context to pin the state of the current working session.
Answer from memory search results when they are relevant; say so when nothing is found.`

// Agent processes conversational turns one at a time. Not safe for
// concurrent use; the chat loop is single-threaded.
type Agent struct {
	complete CompletionFunc
	tools    *tools.Set
	session  *session.Buffer
	recorder *metrics.Recorder
	logger   *slog.Logger
	cfg      Config
}

// New creates an Agent. All collaborators are required except cfg fields,
// which default sensibly.
func New(complete CompletionFunc, toolSet *tools.Set, buf *session.Buffer, recorder *metrics.Recorder, logger *slog.Logger, cfg Config) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	// Always use the agent system prompt; a caller-supplied prompt extends it.
	if cfg.SystemPrompt != "" {
		cfg.SystemPrompt = defaultSystemPrompt + "\n\n" + cfg.SystemPrompt
	} else {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		complete: complete,
		tools:    toolSet,
		session:  buf,
		recorder: recorder,
		logger:   logger,
		cfg:      cfg,
	}
}

// Chat processes one user message to completion and returns the assistant's
// final text. On a model-call failure the session buffer is left untouched,
// the failure is logged in full and counted, and the error is returned for
// the caller to render as a generic message.
func (a *Agent) Chat(ctx context.Context, userText string) (string, error) {
	start := time.Now()
	state := stateReceived

	messages := a.assembleContext(userText)
	apiTools := a.tools.APITools()

	var (
		toolSteps   int
		totalTokens int
	)
	errorCounts := make(map[string]int) // track repeated failing calls

	for i := 0; i < a.cfg.MaxIterations; i++ {
		state = stateModelCall
		req := &api.ChatCompletionRequest{
			Messages: messages,
			Tools:    apiTools,
		}

		resp, err := a.complete(ctx, req)
		if err != nil {
			a.failTurn(userText, state, start, err)
			return "", fmt.Errorf("model call failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			err := fmt.Errorf("empty response from model")
			a.failTurn(userText, state, start, err)
			return "", err
		}

		choice := resp.Choices[0]
		messages = append(messages, choice.Message)
		if resp.Usage != nil {
			totalTokens += resp.Usage.TotalTokens
		}

		if len(choice.Message.ToolCalls) == 0 {
			a.finishTurn(userText, choice.Message.Content, start, toolSteps, totalTokens)
			return choice.Message.Content, nil
		}

		// Execute tool calls sequentially, one at a time, feeding each
		// result back into the same loop's context.
		state = stateToolCall
		for _, tc := range choice.Message.ToolCalls {
			if a.cfg.Hooks.OnToolCall != nil {
				a.cfg.Hooks.OnToolCall(tc)
			}

			result := a.tools.Dispatch(ctx, tc.Function.Name, tc.Function.Arguments)
			toolSteps++

			key := toolCallKey(tc)
			if result.IsError {
				errorCounts[key]++
				if errorCounts[key] >= maxConsecutiveErrors {
					// Force a hint into the result so the model knows to stop
					result.Output += "\n\nYou have repeated this exact failing call multiple times. Do NOT retry it. Either try different arguments or respond to the user explaining what went wrong."
				}
			} else {
				delete(errorCounts, key)
			}

			if a.cfg.Hooks.OnToolResult != nil {
				a.cfg.Hooks.OnToolResult(tc, result.Output)
			}

			messages = append(messages, api.Message{
				Role:       "tool",
				Content:    result.Output,
				ToolCallID: tc.ID,
				Name:       tc.Function.Name,
			})
		}

		// If every call this iteration was a repeat failure past the hint,
		// the model ignored the steer; stop instead of burning iterations.
		stuck := len(choice.Message.ToolCalls) > 0
		for _, tc := range choice.Message.ToolCalls {
			if errorCounts[toolCallKey(tc)] <= maxConsecutiveErrors {
				stuck = false
				break
			}
		}
		if stuck {
			err := fmt.Errorf("agent stuck: repeated identical failing tool calls")
			a.failTurn(userText, stateToolCall, start, err)
			return "", err
		}
	}

	err := fmt.Errorf("turn exceeded %d model call iterations", a.cfg.MaxIterations)
	a.failTurn(userText, stateToolCall, start, err)
	return "", err
}

// assembleContext builds the model request messages: system prompt, retained
// session turns oldest-first, then the new user message. The user turn is not
// yet in the session buffer; it is appended only when the turn succeeds.
func (a *Agent) assembleContext(userText string) []api.Message {
	turns := a.session.Context(0)
	messages := make([]api.Message, 0, len(turns)+2)
	messages = append(messages, api.Message{Role: "system", Content: a.cfg.SystemPrompt})
	for _, t := range turns {
		messages = append(messages, api.Message{Role: string(t.Role), Content: t.Content})
	}
	messages = append(messages, api.Message{Role: "user", Content: userText})
	return messages
}

func (a *Agent) finishTurn(userText, assistantText string, start time.Time, toolSteps, totalTokens int) {
	a.session.Append(session.Turn{Role: session.RoleUser, Content: userText})
	a.session.Append(session.Turn{Role: session.RoleAssistant, Content: assistantText})

	latency := time.Since(start)

	a.recorder.Record(metrics.CategoryAgents, metrics.Fields{
		"turns":     1,
		"completed": 1,
		"steps":     float64(toolSteps),
	})
	systemFields := metrics.Fields{
		"requests":        1,
		"success":         1,
		"error":           0,
		"latency_seconds": latency.Seconds(),
		"total_tokens":    float64(totalTokens),
	}
	if a.cfg.CostPer1K > 0 && totalTokens > 0 {
		systemFields["cost_dollars"] = a.cfg.CostPer1K * float64(totalTokens) / 1000
	}
	a.recorder.Record(metrics.CategorySystem, systemFields)

	refused := 0.0
	if looksLikeRefusal(assistantText) {
		refused = 1
	}
	a.recorder.Record(metrics.CategoryPrompts, metrics.Fields{
		"requests":        1,
		"response_length": float64(len(assistantText)),
		"refused":         refused,
	})

	a.logger.Info("turn completed",
		"state", stateResponded,
		"user_chars", len(userText),
		"response_chars", len(assistantText),
		"tool_steps", toolSteps,
		"total_tokens", totalTokens,
		"latency", latency)
}

func (a *Agent) failTurn(userText string, state turnState, start time.Time, err error) {
	a.recorder.Record(metrics.CategorySystem, metrics.Fields{
		"requests":        1,
		"success":         0,
		"error":           1,
		"latency_seconds": time.Since(start).Seconds(),
	})
	a.recorder.Record(metrics.CategoryAgents, metrics.Fields{
		"turns":     1,
		"completed": 0,
	})

	a.logger.Error("turn failed",
		"state", stateFailed,
		"failed_in", state,
		"user_chars", len(userText),
		"error", err)
}

// looksLikeRefusal checks whether the assistant declined to answer. This is a
// surface heuristic for the prompt metrics, not a safety mechanism.
func looksLikeRefusal(text string) bool {
	lower := strings.ToLower(text)
	signals := []string{
		"i can't help", "i cannot help", "i can't assist", "i cannot assist",
		"i'm not able to", "i am not able to", "i won't be able to",
	}
	for _, sig := range signals {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
