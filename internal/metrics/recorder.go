// Package metrics aggregates per-component counters for the agent: prompt
// quality, retrieval behavior, tool usage and system-level latency/errors.
// Aggregates are kept in memory as running statistics and persisted on Flush
// as one overwritten JSON summary plus an append-only JSONL log per category.
package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Category groups related metrics.
type Category string

const (
	CategoryPrompts Category = "prompts"
	CategoryRAG     Category = "rag"
	CategoryAgents  Category = "agents"
	CategorySystem  Category = "system"
)

// Categories lists all known categories in display order.
var Categories = []Category{CategoryPrompts, CategoryRAG, CategoryAgents, CategorySystem}

// Stat is a running aggregate of one numeric field.
type Stat struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Mean  float64 `json:"mean"`
}

// Fields is a single observation: metric name to value. Boolean outcomes are
// recorded as 0/1 so their mean is a rate.
type Fields map[string]float64

// Snapshot is an immutable copy of the aggregates at one point in time.
type Snapshot struct {
	Categories    map[Category]map[string]Stat `json:"categories"`
	StartTime     time.Time                    `json:"start_time"`
	UptimeSeconds float64                      `json:"uptime_seconds"`
}

type observation struct {
	Timestamp time.Time `json:"timestamp"`
	Fields    Fields    `json:"fields"`
}

// Recorder owns the metric aggregates. It is created at process start and
// passed explicitly to every component that reports; there is no ambient
// singleton. Flush must run on every exit path.
type Recorder struct {
	mu      sync.Mutex
	dir     string // empty disables persistence
	start   time.Time
	stats   map[Category]map[string]*Stat
	pending map[Category][]observation
}

// NewRecorder creates a Recorder persisting under dir. An empty dir keeps
// everything in memory, which tests use.
func NewRecorder(dir string) *Recorder {
	stats := make(map[Category]map[string]*Stat, len(Categories))
	for _, c := range Categories {
		stats[c] = make(map[string]*Stat)
	}
	return &Recorder{
		dir:     dir,
		start:   time.Now(),
		stats:   stats,
		pending: make(map[Category][]observation),
	}
}

// Record merges one observation into the running aggregates and queues the
// raw observation for the next Flush.
func (r *Recorder) Record(category Category, fields Fields) {
	if len(fields) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cat, ok := r.stats[category]
	if !ok {
		cat = make(map[string]*Stat)
		r.stats[category] = cat
	}

	for name, value := range fields {
		st := cat[name]
		if st == nil {
			st = &Stat{}
			cat[name] = st
		}
		st.Count++
		st.Sum += value
		// Online mean update
		st.Mean += (value - st.Mean) / float64(st.Count)
	}

	copied := make(Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	r.pending[category] = append(r.pending[category], observation{
		Timestamp: time.Now(),
		Fields:    copied,
	})
}

// Snapshot returns a deep copy of the current aggregates.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Categories:    make(map[Category]map[string]Stat, len(r.stats)),
		StartTime:     r.start,
		UptimeSeconds: time.Since(r.start).Seconds(),
	}
	for cat, fields := range r.stats {
		out := make(map[string]Stat, len(fields))
		for name, st := range fields {
			out[name] = *st
		}
		snap.Categories[cat] = out
	}
	return snap
}

// Flush persists the aggregate snapshot (overwriting aggregated_metrics.json)
// and appends queued raw observations to <category>_metrics.jsonl. Called
// periodically from the chat loop and unconditionally at shutdown.
func (r *Recorder) Flush() error {
	if r.dir == "" {
		r.mu.Lock()
		r.pending = make(map[Category][]observation)
		r.mu.Unlock()
		return nil
	}

	snap := r.Snapshot()

	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[Category][]observation)
	r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("metrics dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal aggregates: %w", err)
	}
	aggPath := filepath.Join(r.dir, "aggregated_metrics.json")
	if err := os.WriteFile(aggPath, data, 0644); err != nil {
		return fmt.Errorf("write aggregates: %w", err)
	}

	for cat, obs := range pending {
		if err := r.appendObservations(cat, obs); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) appendObservations(cat Category, obs []observation) error {
	path := filepath.Join(r.dir, string(cat)+"_metrics.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open %s log: %w", cat, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, o := range obs {
		if err := enc.Encode(o); err != nil {
			return fmt.Errorf("append %s observation: %w", cat, err)
		}
	}
	return nil
}

// Format renders a snapshot for the `metrics` console command.
func Format(snap Snapshot) string {
	var sb strings.Builder
	sb.WriteString("Metrics summary\n")
	fmt.Fprintf(&sb, "  uptime: %.0fs\n", snap.UptimeSeconds)

	for _, cat := range Categories {
		fields := snap.Categories[cat]
		if len(fields) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n[%s]\n", cat)

		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			st := fields[name]
			fmt.Fprintf(&sb, "  %-28s count=%d sum=%.3f mean=%.3f\n", name, st.Count, st.Sum, st.Mean)
		}
	}
	return sb.String()
}
