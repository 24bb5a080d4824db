package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
)

// ChromemStore implements Store using chromem-go for vector storage.
// Saved texts are split into overlapping chunks; each chunk is embedded and
// indexed independently by chromem, and a small JSON index alongside the
// vector data keeps the full chunk records for listing.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	chunkSize  int
	overlap    int
	index      map[string]Chunk
	mu         sync.RWMutex
	persistDir string // empty for in-memory
	logger     *slog.Logger
}

// NewChromemStore creates a persistent ChromemStore backed by chromem-go.
// A nil logger falls back to slog.Default.
func NewChromemStore(persistDir string, chunkSize, overlap int, embedFunc EmbedFunc, logger *slog.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := chromem.NewPersistentDB(persistDir, false)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}

	col, err := db.GetOrCreateCollection("memories", nil, chromem.EmbeddingFunc(embedFunc))
	if err != nil {
		return nil, &StoreError{Op: "open collection", Err: err}
	}

	s := &ChromemStore{
		db:         db,
		collection: col,
		chunkSize:  chunkSize,
		overlap:    overlap,
		index:      make(map[string]Chunk),
		persistDir: persistDir,
		logger:     logger,
	}

	// The index file does not exist on first run.
	if err := s.loadIndex(); err != nil && !os.IsNotExist(err) {
		return nil, &StoreError{Op: "load index", Err: err}
	}

	return s, nil
}

// NewChromemStoreInMemory creates an in-memory ChromemStore for testing.
func NewChromemStoreInMemory(chunkSize, overlap int, embedFunc EmbedFunc) (*ChromemStore, error) {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection("memories", nil, chromem.EmbeddingFunc(embedFunc))
	if err != nil {
		return nil, &StoreError{Op: "open collection", Err: err}
	}

	return &ChromemStore{
		db:         db,
		collection: col,
		chunkSize:  chunkSize,
		overlap:    overlap,
		index:      make(map[string]Chunk),
		logger:     slog.Default(),
	}, nil
}

// Save splits text into chunks, assigns each chunk the shared metadata plus
// its position, and persists all of them. Returns the number of chunks written.
func (s *ChromemStore) Save(ctx context.Context, text string, metadata map[string]string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, &StoreError{Op: "save", Err: ErrEmptyText}
	}

	pieces := SplitText(text, s.chunkSize, s.overlap)
	timestamp := time.Now().Format(time.RFC3339)

	chunks := make([]Chunk, len(pieces))
	docs := make([]chromem.Document, len(pieces))
	for i, piece := range pieces {
		meta := map[string]string{
			"timestamp": timestamp,
			"type":      "memory",
		}
		for k, v := range metadata {
			meta[k] = v
		}

		chunk := Chunk{
			ID:       uuid.New().String(),
			Text:     piece,
			Metadata: meta,
			Index:    i,
			Total:    len(pieces),
		}
		chunks[i] = chunk

		docMeta := make(map[string]string, len(meta)+2)
		for k, v := range meta {
			docMeta[k] = v
		}
		docMeta["chunk_index"] = strconv.Itoa(i)
		docMeta["chunk_total"] = strconv.Itoa(len(pieces))

		docs[i] = chromem.Document{
			ID:       chunk.ID,
			Content:  piece,
			Metadata: docMeta,
		}
	}

	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return 0, &StoreError{Op: "save", Err: err}
	}

	s.mu.Lock()
	for _, c := range chunks {
		s.index[c.ID] = c
	}
	s.mu.Unlock()

	s.saveIndex()
	return len(chunks), nil
}

// Search returns the k most similar chunks, descending by score. Ties are
// broken by chunk ID so repeated queries are deterministic.
func (s *ChromemStore) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		k = 5
	}

	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}

	// Query up to k results (but not more than exist)
	nResults := k
	if nResults > count {
		nResults = count
	}

	results, err := s.collection.Query(ctx, query, nResults, nil, nil)
	if err != nil {
		return nil, &StoreError{Op: "search", Err: err}
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		out = append(out, Result{
			Chunk: s.chunkFromResult(r),
			Score: r.Similarity,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})

	return out, nil
}

// List returns stored chunks, newest first.
func (s *ChromemStore) List(ctx context.Context, limit int) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := make([]Chunk, 0, len(s.index))
	for _, c := range s.index {
		chunks = append(chunks, c)
	}

	sort.Slice(chunks, func(i, j int) bool {
		ti, tj := chunks[i].Metadata["timestamp"], chunks[j].Metadata["timestamp"]
		if ti != tj {
			return ti > tj
		}
		return chunks[i].ID < chunks[j].ID
	})

	if limit > 0 && len(chunks) > limit {
		chunks = chunks[:limit]
	}

	return chunks, nil
}

func (s *ChromemStore) Delete(ctx context.Context, id string) error {
	if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}

	s.mu.Lock()
	delete(s.index, id)
	s.mu.Unlock()

	s.saveIndex()
	return nil
}

func (s *ChromemStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.index))
	for id := range s.index {
		ids = append(ids, id)
	}
	s.index = make(map[string]Chunk)
	s.mu.Unlock()

	if len(ids) > 0 {
		if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
			return &StoreError{Op: "clear", Err: err}
		}
	}

	s.saveIndex()
	return nil
}

func (s *ChromemStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

func (s *ChromemStore) Close() error {
	return nil
}

// chunkFromResult reconstructs a Chunk from a chromem-go Result.
func (s *ChromemStore) chunkFromResult(r chromem.Result) Chunk {
	s.mu.RLock()
	if c, ok := s.index[r.ID]; ok {
		s.mu.RUnlock()
		return c
	}
	s.mu.RUnlock()

	// Fallback: reconstruct from document metadata
	idx, _ := strconv.Atoi(r.Metadata["chunk_index"])
	total, _ := strconv.Atoi(r.Metadata["chunk_total"])
	meta := make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		if k == "chunk_index" || k == "chunk_total" {
			continue
		}
		meta[k] = v
	}
	return Chunk{
		ID:       r.ID,
		Text:     r.Content,
		Metadata: meta,
		Index:    idx,
		Total:    total,
	}
}

// Index persistence: a JSON file alongside the chromem data.

func (s *ChromemStore) indexPath() string {
	if s.persistDir == "" {
		return ""
	}
	return filepath.Join(s.persistDir, "chunks_index.json")
}

// saveIndex writes the index best-effort: the vector data is already
// committed, and chunkFromResult can rebuild a chunk from document metadata,
// so a failed index write is logged rather than failing the operation.
func (s *ChromemStore) saveIndex() {
	path := s.indexPath()
	if path == "" {
		return
	}

	s.mu.RLock()
	data, err := json.Marshal(s.index)
	s.mu.RUnlock()

	if err != nil {
		s.logger.Warn("marshal chunk index", "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		s.logger.Warn("persist chunk index", "error", err, "path", path)
	}
}

func (s *ChromemStore) loadIndex() error {
	path := s.indexPath()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := json.Unmarshal(data, &s.index); err != nil {
		return fmt.Errorf("decode chunk index: %w", err)
	}
	return nil
}
