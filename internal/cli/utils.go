// Package cli formats command output for embedkit.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/embedkit/internal/cache"
	"github.com/hyperjump/embedkit/internal/service"
	"github.com/hyperjump/embedkit/internal/storage"
	"github.com/hyperjump/embedkit/internal/vector"
	"github.com/hyperjump/embedkit/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputJSONL is one JSON object per line.
	OutputJSONL OutputFormat = "jsonl"
)

// previewValues is how many vector components text output shows.
const previewValues = 5

// EmbedOutput is the JSON shape of one embed result.
type EmbedOutput struct {
	Text       string    `json:"text"`
	Hash       string    `json:"hash"`
	Dimensions int       `json:"dimensions"`
	FromCache  bool      `json:"from_cache"`
	Embedding  []float32 `json:"embedding"`
}

func NewEmbedOutput(text string, res *service.Result) EmbedOutput {
	return EmbedOutput{
		Text:       text,
		Hash:       cache.Hash(text),
		Dimensions: len(res.Embedding),
		FromCache:  res.FromCache,
		Embedding:  res.Embedding,
	}
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func encodeLines[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

// WriteEmbedResults writes embed results to w. Text output shows a short preview of each vector.
func WriteEmbedResults(w io.Writer, results []EmbedOutput, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return encodeJSON(w, results)
	case OutputJSONL:
		return encodeLines(w, results)
	}
	for _, r := range results {
		source := "worker"
		if r.FromCache {
			source = "cache"
		}
		fmt.Fprintf(w, "%s  dims=%d  source=%s  %s\n", r.Hash[:12], r.Dimensions, source, preview(r.Embedding))
		fmt.Fprintf(w, "    %s\n", utils.Preview(r.Text, 80))
	}
	return nil
}

func preview(v []float32) string {
	n := min(len(v), previewValues)
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprintf("%.4f", v[i])
	}
	s := "[" + strings.Join(parts, ", ")
	if len(v) > n {
		s += ", ..."
	}
	return s + "]"
}

// WriteStats writes service stats to w.
func WriteStats(w io.Writer, st service.Stats, format OutputFormat) error {
	if format == OutputJSON || format == OutputJSONL {
		return encodeJSON(w, st)
	}
	fmt.Fprintln(w, "Cache")
	fmt.Fprintf(w, "  entries:     %d\n", st.Cache.Size)
	fmt.Fprintf(w, "  bytes used:  %d\n", st.Cache.BytesUsed)
	fmt.Fprintf(w, "  disk bytes:  %d\n", st.Cache.DiskBytes)
	fmt.Fprintf(w, "  hits/misses: %d/%d (hit rate %.1f%%)\n", st.Cache.Hits, st.Cache.Misses, st.Cache.HitRate*100)
	fmt.Fprintf(w, "  evictions:   %d\n", st.Cache.Evictions)
	fmt.Fprintln(w, "Service")
	fmt.Fprintf(w, "  requests:    %d\n", st.Requests)
	fmt.Fprintf(w, "  memory hits: %d (%d entries)\n", st.MemoryHits, st.MemoryEntries)
	fmt.Fprintf(w, "  cache hits:  %d\n", st.CacheHits)
	fmt.Fprintf(w, "  worker:      %s, %d calls, %.1fms mean\n", st.WorkerState, st.WorkerCalls, st.MeanWorkerLatencyMs)
	fmt.Fprintf(w, "  failures:    %d\n", st.Failures)
	fmt.Fprintf(w, "  model bytes: %d\n", st.ModelBytes)
	return nil
}

// WriteEntries writes cache entries as a JSON array or as JSON lines.
func WriteEntries(w io.Writer, entries []storage.Entry, format OutputFormat) error {
	if format == OutputJSONL {
		return encodeLines(w, entries)
	}
	if entries == nil {
		entries = []storage.Entry{}
	}
	return encodeJSON(w, entries)
}

// WriteSimilar writes nearest-neighbour results, best first.
func WriteSimilar(w io.Writer, results []*vector.Result, format OutputFormat) error {
	switch format {
	case OutputJSON:
		if results == nil {
			results = []*vector.Result{}
		}
		return encodeJSON(w, results)
	case OutputJSONL:
		return encodeLines(w, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No similar entries.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(w, "%2d. %s  score=%.4f\n", i+1, r.ID, r.Score)
	}
	return nil
}
