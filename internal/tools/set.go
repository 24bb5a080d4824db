package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vgrachev/memora/internal/memory"
	"github.com/vgrachev/memora/internal/metrics"
	"github.com/vgrachev/memora/internal/session"
	"github.com/vgrachev/memora/pkg/api"
)

const defaultSearchLimit = 5

// Set holds the memory tools and their shared dependencies. One Set serves
// the whole session.
type Set struct {
	store    memory.Store
	session  *session.Buffer
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// NewSet creates the tool set.
func NewSet(store memory.Store, buf *session.Buffer, recorder *metrics.Recorder, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{store: store, session: buf, recorder: recorder, logger: logger}
}

// APITools returns the fixed tool descriptions for inclusion in model requests.
func (s *Set) APITools() []api.Tool {
	return []api.Tool{
		{
			Type: "function",
			Function: api.ToolFunction{
				Name:        NameSave,
				Description: "Save important information to long-term memory. Use when the user asks to remember something, or when information may be needed in later sessions.",
				Parameters: Schema{
					Type: "object",
					Properties: map[string]SchemaProperty{
						"content":  {Type: "string", Description: "The information to save"},
						"category": {Type: "string", Description: "Category of the information (work, personal, project, etc.); defaults to general"},
					},
					Required: []string{"content"},
				}.MustMarshal(),
			},
		},
		{
			Type: "function",
			Function: api.ToolFunction{
				Name:        NameSearch,
				Description: "Search long-term memory for previously saved information relevant to a query.",
				Parameters: Schema{
					Type: "object",
					Properties: map[string]SchemaProperty{
						"query": {Type: "string", Description: "The search query"},
						"limit": {Type: "integer", Description: "Maximum number of results (default 5)"},
					},
					Required: []string{"query"},
				}.MustMarshal(),
			},
		},
		{
			Type: "function",
			Function: api.ToolFunction{
				Name:        NameRememberContext,
				Description: "Pin a note about the current conversation or working session into the active session context, without a long-term write.",
				Parameters: Schema{
					Type: "object",
					Properties: map[string]SchemaProperty{
						"context": {Type: "string", Description: "Description of the current context or working state"},
					},
					Required: []string{"context"},
				}.MustMarshal(),
			},
		},
	}
}

// Dispatch executes the named tool with JSON arguments from the model.
// Unknown names and malformed arguments come back as error results for the
// model to correct; they never abort the turn. Every call is timed and
// counted in the agents metrics category.
func (s *Set) Dispatch(ctx context.Context, name, arguments string) *ToolResult {
	start := time.Now()

	kind, ok := KindFromName(name)
	if !ok {
		s.recorder.Record(metrics.CategoryAgents, metrics.Fields{"unknown_tool_calls": 1})
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	var result *ToolResult
	switch kind {
	case KindSave:
		result = s.save(ctx, arguments)
	case KindSearch:
		result = s.search(ctx, arguments)
	case KindRememberContext:
		result = s.rememberContext(arguments)
	}

	elapsed := time.Since(start)
	outcome := 1.0
	if result.IsError {
		outcome = 0
	}
	s.recorder.Record(metrics.CategoryAgents, metrics.Fields{
		"tool_calls." + name:   1,
		"tool_success." + name: outcome,
		"tool_latency_seconds": elapsed.Seconds(),
	})

	s.logger.Debug("tool call",
		"tool", name, "error", result.IsError, "elapsed", elapsed)
	return result
}

func (s *Set) save(ctx context.Context, arguments string) *ToolResult {
	var args saveArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return ErrorResult(fmt.Sprintf("invalid arguments: %v; expected {\"content\": string, \"category\"?: string}", err))
	}
	if strings.TrimSpace(args.Content) == "" {
		return ErrorResult("content is required")
	}
	if args.Category == "" {
		args.Category = "general"
	}

	n, err := s.store.Save(ctx, args.Content, map[string]string{"category": args.Category})
	if err != nil {
		s.logger.Error("save_to_memory failed", "error", err)
		return ErrorResult(fmt.Sprintf("failed to save to memory: %v", err))
	}
	return &ToolResult{Output: fmt.Sprintf("Saved %d chunk(s) to long-term memory.", n)}
}

func (s *Set) search(ctx context.Context, arguments string) *ToolResult {
	var args searchArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return ErrorResult(fmt.Sprintf("invalid arguments: %v; expected {\"query\": string, \"limit\"?: integer}", err))
	}
	if strings.TrimSpace(args.Query) == "" {
		return ErrorResult("query is required")
	}
	if args.Limit <= 0 {
		args.Limit = defaultSearchLimit
	}

	start := time.Now()
	results, err := s.store.Search(ctx, args.Query, args.Limit)
	if err != nil {
		s.logger.Error("search_memory failed", "error", err)
		return ErrorResult(fmt.Sprintf("failed to search memory: %v", err))
	}

	var topScore float64
	if len(results) > 0 {
		topScore = float64(results[0].Score)
	}
	s.recorder.Record(metrics.CategoryRAG, metrics.Fields{
		"retrievals":                1,
		"chunks_retrieved":          float64(len(results)),
		"retrieval_latency_seconds": time.Since(start).Seconds(),
		"top_score":                 topScore,
	})

	if len(results) == 0 {
		return &ToolResult{Output: "No relevant information found in memory."}
	}

	var sb strings.Builder
	sb.WriteString("Found in memory:\n\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. [relevance %.2f]\n   %s\n", i+1, r.Score, r.Chunk.Text)
		if ts := r.Chunk.Metadata["timestamp"]; ts != "" {
			fmt.Fprintf(&sb, "   saved: %s\n", ts)
		}
		if cat := r.Chunk.Metadata["category"]; cat != "" {
			fmt.Fprintf(&sb, "   category: %s\n", cat)
		}
		sb.WriteString("\n")
	}
	return &ToolResult{Output: sb.String()}
}

func (s *Set) rememberContext(arguments string) *ToolResult {
	var args rememberArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return ErrorResult(fmt.Sprintf("invalid arguments: %v; expected {\"context\": string}", err))
	}
	if strings.TrimSpace(args.Context) == "" {
		return ErrorResult("context is required")
	}

	s.session.Append(session.Turn{
		Role:    session.RoleTool,
		Content: "Session context: " + args.Context,
	})
	return &ToolResult{Output: "Context pinned to the current session."}
}
