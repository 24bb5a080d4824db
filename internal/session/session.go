// Package session holds the short-term conversation memory: a bounded,
// append-only log of recent turns. Oldest turns are evicted when the
// configured maximum is exceeded, so the buffer always reflects the most
// recent exchange window.
package session

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is a single message in the conversation. Immutable once appended.
type Turn struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// Buffer is a FIFO-bounded short-term memory of conversation turns.
// Not safe for concurrent use; the chat loop is single-threaded.
type Buffer struct {
	max          int
	turns        []Turn
	sessionStart time.Time
}

// NewBuffer creates a Buffer retaining at most max turns. max must be positive;
// anything else falls back to 10.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 10
	}
	return &Buffer{
		max:          max,
		sessionStart: time.Now(),
	}
}

// Append adds a turn to the end of the buffer, evicting the oldest turns
// until the bound holds. Pure in-memory operation; cannot fail.
func (b *Buffer) Append(turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	b.turns = append(b.turns, turn)
	if len(b.turns) > b.max {
		b.turns = b.turns[len(b.turns)-b.max:]
	}
}

// Context returns the last n retained turns, oldest first. n <= 0 returns
// all retained turns. The buffer is not mutated; the returned slice is a copy.
func (b *Buffer) Context(n int) []Turn {
	turns := b.turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Clear resets the buffer to empty. Idempotent.
func (b *Buffer) Clear() {
	b.turns = nil
	b.sessionStart = time.Now()
}

// Len returns the number of retained turns.
func (b *Buffer) Len() int {
	return len(b.turns)
}

// Max returns the configured capacity.
func (b *Buffer) Max() int {
	return b.max
}

// SessionStart returns when the current session (or the last Clear) began.
func (b *Buffer) SessionStart() time.Time {
	return b.sessionStart
}

// Summary renders a short human-readable dump of the last few turns,
// used by the `history` console command.
func (b *Buffer) Summary() string {
	if len(b.turns) == 0 {
		return "No conversation history."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Conversation history (%d turns):\n", len(b.turns))

	recent := b.Context(5)
	for i, turn := range recent {
		fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, turn.Role, truncateRunes(turn.Content, 100))
	}
	return sb.String()
}

// truncateRunes shortens s to at most max runes so multibyte characters are
// never split mid-sequence.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
