package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vgrachev/memora/internal/agent"
	"github.com/vgrachev/memora/internal/config"
	"github.com/vgrachev/memora/internal/llm"
	"github.com/vgrachev/memora/internal/logging"
	"github.com/vgrachev/memora/internal/memory"
	"github.com/vgrachev/memora/internal/metrics"
	"github.com/vgrachev/memora/internal/session"
	"github.com/vgrachev/memora/internal/tools"
	"github.com/vgrachev/memora/pkg/api"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat with the memory agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		systemPrompt, _ := cmd.Flags().GetString("system")
		verbose, _ := cmd.Flags().GetBool("verbose")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := config.EnsureDirs(cfg); err != nil {
			return fmt.Errorf("create data directories: %w", err)
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLog, err := logging.Setup(config.LogsDir(cfg), level)
		if err != nil {
			return err
		}
		defer closeLog()

		recorder := metrics.NewRecorder(config.MetricsDir(cfg))
		// Metrics must reach disk on every exit path, error paths included.
		defer func() {
			if err := recorder.Flush(); err != nil {
				logger.Error("final metrics flush failed", "error", err)
			}
		}()

		client := llm.New(llm.Options{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Logger:      logger,
		})

		store, err := memory.NewChromemStore(
			config.MemoryDir(cfg),
			cfg.ChunkSize,
			cfg.ChunkOverlap,
			memory.NormalizingEmbedFunc(client.Embed),
			logger,
		)
		if err != nil {
			return fmt.Errorf("initialize long-term memory: %w", err)
		}
		defer store.Close()

		buf := session.NewBuffer(cfg.ShortTermMax)
		toolSet := tools.NewSet(store, buf, recorder, logger)

		hooks := agent.Hooks{}
		if verbose {
			hooks.OnToolCall = func(tc api.ToolCall) {
				fmt.Printf("  [tool] %s %s\n", tc.Function.Name, tc.Function.Arguments)
			}
		}

		ag := agent.New(client.Complete, toolSet, buf, recorder, logger, agent.Config{
			SystemPrompt: systemPrompt,
			Hooks:        hooks,
		})

		logger.Info("agent ready",
			"model", cfg.Model,
			"short_term_max", cfg.ShortTermMax,
			"stored_memories", store.Count())

		fmt.Printf("Memory agent ready (%d stored memories).\n", store.Count())
		fmt.Println("Commands: history, clear, metrics, exit. /help for memory admin.")
		fmt.Println()

		return chatLoop(ag, buf, store, recorder)
	},
}

func chatLoop(ag *agent.Agent, buf *session.Buffer, store memory.Store, recorder *metrics.Recorder) error {
	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()

	for {
		fmt.Print(">>> ")
		if !scanner.Scan() {
			fmt.Println()
			return nil
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "exit", "quit":
			return nil
		case "history":
			fmt.Println(buf.Summary())
			continue
		case "clear":
			buf.Clear()
			fmt.Println("Short-term memory cleared.")
			continue
		case "metrics":
			fmt.Println(metrics.Format(recorder.Snapshot()))
			continue
		}
		if handleMemoryCommand(ctx, input, store) {
			continue
		}

		reply, err := ag.Chat(ctx, input)
		if err != nil {
			fmt.Println("Sorry, something went wrong processing that. Details are in the log.")
		} else {
			fmt.Printf("Agent: %s\n", reply)
		}
		fmt.Println()

		if err := recorder.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: metrics flush failed: %v\n", err)
		}
	}
}

// handleMemoryCommand handles the /-prefixed long-term memory admin commands.
// Returns true if the input was a command.
func handleMemoryCommand(ctx context.Context, input string, store memory.Store) bool {
	switch {
	case input == "/memory":
		chunks, err := store.List(ctx, 10)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing memories: %v\n", err)
			return true
		}
		if len(chunks) == 0 {
			fmt.Println("No stored memories.")
			return true
		}
		fmt.Printf("Stored memories (%d total, newest first):\n", store.Count())
		for _, c := range chunks {
			fmt.Printf("  [%s] %s\n", c.ID[:8], truncate(c.Text, 70))
		}
		return true

	case strings.HasPrefix(input, "/memory search "):
		query := strings.TrimSpace(strings.TrimPrefix(input, "/memory search "))
		if query == "" {
			fmt.Println("Usage: /memory search <query>")
			return true
		}
		results, err := store.Search(ctx, query, 5)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error searching memories: %v\n", err)
			return true
		}
		if len(results) == 0 {
			fmt.Println("No matching memories found.")
			return true
		}
		fmt.Printf("Search results (%d):\n", len(results))
		for _, r := range results {
			fmt.Printf("  [%s] score=%.3f %s\n", r.Chunk.ID[:8], r.Score, truncate(r.Chunk.Text, 70))
		}
		return true

	case strings.HasPrefix(input, "/memory forget "):
		idPrefix := strings.TrimSpace(strings.TrimPrefix(input, "/memory forget "))
		if idPrefix == "" {
			fmt.Println("Usage: /memory forget <id-prefix>")
			return true
		}
		chunks, _ := store.List(ctx, 0)
		for _, c := range chunks {
			if strings.HasPrefix(c.ID, idPrefix) {
				if err := store.Delete(ctx, c.ID); err != nil {
					fmt.Fprintf(os.Stderr, "Error deleting memory: %v\n", err)
				} else {
					fmt.Printf("Deleted memory %s\n", c.ID[:8])
				}
				return true
			}
		}
		fmt.Printf("No memory found with prefix %q\n", idPrefix)
		return true

	case input == "/memory clear":
		if err := store.Clear(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing memories: %v\n", err)
		} else {
			fmt.Println("All long-term memories cleared.")
		}
		return true

	case input == "/help":
		fmt.Println("Commands:")
		fmt.Println("  history             - Show short-term conversation history")
		fmt.Println("  clear               - Clear short-term memory")
		fmt.Println("  metrics             - Show metrics summary")
		fmt.Println("  exit, quit          - Flush metrics and exit")
		fmt.Println("  /memory             - List recent long-term memories")
		fmt.Println("  /memory search <q>  - Search long-term memories")
		fmt.Println("  /memory forget <id> - Delete a memory by ID prefix")
		fmt.Println("  /memory clear       - Clear all long-term memories")
		return true
	}

	return false
}

// truncate shortens s to at most max runes so multibyte characters are never
// split mid-sequence.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func init() {
	chatCmd.Flags().String("system", "", "Extra system prompt appended to the default")
	chatCmd.Flags().Bool("verbose", false, "Log at debug level and print tool calls")
	rootCmd.AddCommand(chatCmd)
}
