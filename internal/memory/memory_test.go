package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mockEmbedFunc creates deterministic embedding vectors from text hashing.
// Produces a 64-dimensional unit vector based on FNV hash.
func mockEmbedFunc(ctx context.Context, text string) ([]float32, error) {
	const dims = 64
	vec := make([]float32, dims)
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	for i := range vec {
		// Use bits of the hash to generate pseudo-random components
		bits := seed ^ (uint64(i) * 0x9E3779B97F4A7C15)
		vec[i] = float32(bits%1000) / 1000.0
	}

	normalizeVector(vec)
	return vec, nil
}

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStoreInMemory(1000, 200, mockEmbedFunc)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNormalizeVector(t *testing.T) {
	v := []float32{3, 4}
	normalizeVector(v)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if norm := math.Sqrt(sum); math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("normalizeVector: norm = %f, want 1.0", norm)
	}

	if math.Abs(float64(v[0])-0.6) > 1e-5 || math.Abs(float64(v[1])-0.8) > 1e-5 {
		t.Errorf("normalizeVector: got [%f, %f], want [0.6, 0.8]", v[0], v[1])
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	v := []float32{0, 0, 0}
	normalizeVector(v) // Should not panic
	for _, x := range v {
		if x != 0 {
			t.Errorf("normalizeVector of zero vector: got %f, want 0", x)
		}
	}
}

func TestSaveReturnsChunkCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.Save(ctx, "My name is Vadim", map[string]string{"source": "user"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Save returned %d chunks, want 1", n)
	}
	if store.Count() != 1 {
		t.Errorf("Count() = %d, want 1", store.Count())
	}
}

func TestSaveSplitsLongText(t *testing.T) {
	store, err := NewChromemStoreInMemory(40, 10, mockEmbedFunc)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	text := strings.Repeat("abcdefghij", 10) // 100 chars -> 3 windows of step 30

	n, err := store.Save(ctx, text, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("Save returned %d chunks, want 3", n)
	}

	chunks, err := store.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("List returned %d chunks, want 3", len(chunks))
	}
	for _, c := range chunks {
		if c.Total != 3 {
			t.Errorf("chunk %s Total = %d, want 3", c.ID, c.Total)
		}
		if c.Index < 0 || c.Index >= 3 {
			t.Errorf("chunk %s Index = %d out of range", c.ID, c.Index)
		}
	}
}

func TestSaveEmptyText(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save(context.Background(), "   ", nil)
	var serr *StoreError
	if !errors.As(err, &serr) {
		t.Fatalf("got %v, want StoreError", err)
	}
	if !errors.Is(err, ErrEmptyText) {
		t.Errorf("error does not wrap ErrEmptyText: %v", err)
	}
}

func TestSaveAttachesMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, "quarterly report draft", map[string]string{"category": "work"}); err != nil {
		t.Fatal(err)
	}

	chunks, err := store.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if chunks[0].Metadata["category"] != "work" {
		t.Errorf("category metadata = %q, want work", chunks[0].Metadata["category"])
	}
	if chunks[0].Metadata["timestamp"] == "" {
		t.Error("timestamp metadata not set")
	}
}

func TestSearchEmptyStore(t *testing.T) {
	store := newTestStore(t)

	results, err := store.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("Search on empty store errored: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty store, want 0", len(results))
	}
}

func TestSaveThenSearchRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	texts := []string{
		"use go build to compile a module",
		"Paris is the capital of France",
		"goroutines are lightweight threads",
	}
	for _, text := range texts {
		if _, err := store.Save(ctx, text, nil); err != nil {
			t.Fatal(err)
		}
	}

	// Searching with the exact saved text must surface that chunk first:
	// identical text means identical mock embedding, similarity 1.
	results, err := store.Search(ctx, "Paris is the capital of France", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if !strings.Contains(results[0].Chunk.Text, "Paris") {
		t.Errorf("top result = %q, want the Paris chunk", results[0].Chunk.Text)
	}
	if results[0].Score < 0.99 {
		t.Errorf("top score = %f, want ~1.0 for identical text", results[0].Score)
	}

	// Scores are descending.
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted: score[%d]=%f > score[%d]=%f",
				i, results[i].Score, i-1, results[i-1].Score)
		}
	}
}

func TestSearchRecallsSavedName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.Save(ctx, "My name is Vadim", map[string]string{"source": "user"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Save returned %d chunks, want 1", n)
	}

	results, err := store.Search(ctx, "What is my name?", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if !strings.Contains(results[0].Chunk.Text, "Vadim") {
		t.Errorf("top result = %q, want text containing Vadim", results[0].Chunk.Text)
	}
}

func TestSearchFewerThanK(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, "only one memory", nil); err != nil {
		t.Fatal(err)
	}

	results, err := store.Search(ctx, "memory", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, "to be forgotten", nil); err != nil {
		t.Fatal(err)
	}
	chunks, _ := store.List(ctx, 0)
	if err := store.Delete(ctx, chunks[0].ID); err != nil {
		t.Fatal(err)
	}
	if store.Count() != 0 {
		t.Errorf("Count() = %d after delete, want 0", store.Count())
	}
}

func TestClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if _, err := store.Save(ctx, text, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if store.Count() != 0 {
		t.Errorf("Count() = %d after clear, want 0", store.Count())
	}

	results, err := store.Search(ctx, "one", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results after clear, want 0", len(results))
	}
}

func TestSaveSurvivesIndexWriteFailure(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewChromemStore(dir, 1000, 200, mockEmbedFunc, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	// Occupy the index path with a directory so the index write fails.
	if err := os.Mkdir(filepath.Join(dir, "chunks_index.json"), 0755); err != nil {
		t.Fatal(err)
	}

	n, err := store.Save(ctx, "a fact worth keeping", nil)
	if err != nil {
		t.Fatalf("Save failed on index write failure: %v", err)
	}
	if n != 1 {
		t.Errorf("Save returned %d chunks, want 1", n)
	}

	// The vector write committed regardless.
	results, err := store.Search(ctx, "a fact worth keeping", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Chunk.Text != "a fact worth keeping" {
		t.Errorf("search after failed index write = %+v", results)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewChromemStore(dir, 1000, 200, mockEmbedFunc, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(ctx, "persistent fact", map[string]string{"category": "test"}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := NewChromemStore(dir, 1000, 200, mockEmbedFunc, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	if reopened.Count() != 1 {
		t.Fatalf("Count() after reopen = %d, want 1", reopened.Count())
	}

	results, err := reopened.Search(ctx, "persistent fact", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Chunk.Text != "persistent fact" {
		t.Errorf("reopened search = %+v", results)
	}
	if results[0].Chunk.Metadata["category"] != "test" {
		t.Errorf("metadata lost across reopen: %+v", results[0].Chunk.Metadata)
	}
}
