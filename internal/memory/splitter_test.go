package memory

import (
	"strings"
	"testing"
)

func TestSplitTextShortInput(t *testing.T) {
	chunks := SplitText("hello", 1000, 200)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("SplitText = %v, want [hello]", chunks)
	}
}

func TestSplitTextEmptyInput(t *testing.T) {
	if chunks := SplitText("", 1000, 200); chunks != nil {
		t.Fatalf("SplitText(\"\") = %v, want nil", chunks)
	}
}

func TestSplitTextWindows(t *testing.T) {
	text := strings.Repeat("abcdefghij", 10) // 100 chars
	size, overlap := 40, 10

	chunks := SplitText(text, size, overlap)

	// step = 30: windows start at 0, 30, 60; the third reaches the end
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}

	for i, c := range chunks {
		if len(c) > size {
			t.Errorf("chunk %d length %d exceeds size %d", i, len(c), size)
		}
	}

	// Consecutive windows overlap by exactly `overlap` chars, except possibly the last.
	for i := 0; i < len(chunks)-1; i++ {
		tail := chunks[i][len(chunks[i])-overlap:]
		head := chunks[i+1][:overlap]
		if tail != head {
			t.Errorf("chunks %d/%d do not overlap by %d chars: %q vs %q", i, i+1, overlap, tail, head)
		}
	}

	// Reassembling without the overlaps reproduces the input.
	var sb strings.Builder
	sb.WriteString(chunks[0])
	for _, c := range chunks[1:] {
		sb.WriteString(c[overlap:])
	}
	if sb.String() != text {
		t.Error("reassembled chunks do not reproduce the input")
	}
}

func TestSplitTextExactFit(t *testing.T) {
	text := strings.Repeat("x", 40)
	chunks := SplitText(text, 40, 10)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
}

func TestSplitTextUnicode(t *testing.T) {
	text := strings.Repeat("привет", 10) // 60 runes, 120 bytes
	chunks := SplitText(text, 25, 5)

	for i, c := range chunks {
		if n := len([]rune(c)); n > 25 {
			t.Errorf("chunk %d has %d runes, want <= 25", i, n)
		}
	}

	var sb strings.Builder
	sb.WriteString(chunks[0])
	for _, c := range chunks[1:] {
		sb.WriteString(string([]rune(c)[5:]))
	}
	if sb.String() != text {
		t.Error("reassembled unicode chunks do not reproduce the input")
	}
}

func TestSplitTextZeroOverlap(t *testing.T) {
	text := strings.Repeat("y", 100)
	chunks := SplitText(text, 30, 0)
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}
	if got := len(chunks[3]); got != 10 {
		t.Errorf("last chunk length = %d, want 10", got)
	}
}
