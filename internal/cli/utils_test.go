package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/embedkit/internal/cache"
	"github.com/hyperjump/embedkit/internal/service"
	"github.com/hyperjump/embedkit/internal/storage"
	"github.com/hyperjump/embedkit/internal/vector"
)

func TestWriteEmbedResults_JSON(t *testing.T) {
	out := NewEmbedOutput("hello", &service.Result{Embedding: []float32{0.5, -0.5}, FromCache: true})
	var buf bytes.Buffer
	if err := WriteEmbedResults(&buf, []EmbedOutput{out}, OutputJSON); err != nil {
		t.Fatalf("WriteEmbedResults(json): %v", err)
	}
	var decoded []EmbedOutput
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if len(decoded) != 1 || decoded[0].Hash != cache.Hash("hello") || decoded[0].Dimensions != 2 || !decoded[0].FromCache {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteEmbedResults_text(t *testing.T) {
	vec := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}
	out := NewEmbedOutput("line one\nline two", &service.Result{Embedding: vec})
	var buf bytes.Buffer
	if err := WriteEmbedResults(&buf, []EmbedOutput{out}, OutputText); err != nil {
		t.Fatalf("WriteEmbedResults(text): %v", err)
	}
	s := buf.String()
	for _, sub := range []string{"dims=7", "source=worker", "[0.1000, 0.2000, 0.3000, 0.4000, 0.5000, ...]", "line one line two"} {
		if !strings.Contains(s, sub) {
			t.Errorf("text output missing %q:\n%s", sub, s)
		}
	}
}

func TestWriteStats(t *testing.T) {
	st := service.Stats{Requests: 3, WorkerState: "ready", Cache: cache.Stats{Hits: 2, Misses: 1, HitRate: 2.0 / 3.0, Size: 1}}
	var buf bytes.Buffer
	if err := WriteStats(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"entries:     1", "hit rate 66.7%", "requests:    3", "ready"} {
		if !strings.Contains(buf.String(), sub) {
			t.Errorf("stats output missing %q:\n%s", sub, buf.String())
		}
	}

	buf.Reset()
	if err := WriteStats(&buf, st, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded service.Stats
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("stats JSON: %v", err)
	}
	if decoded.Cache.Hits != 2 || decoded.WorkerState != "ready" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteEntries(t *testing.T) {
	entries := []storage.Entry{
		{Hash: "a", Embedding: storage.Vector{1, 0}, CreatedAt: 1, LastAccessedAt: 2},
		{Hash: "b", Embedding: storage.Vector{0, 1}, CreatedAt: 3, LastAccessedAt: 4},
	}

	var buf bytes.Buffer
	if err := WriteEntries(&buf, entries, OutputJSONL); err != nil {
		t.Fatal(err)
	}
	scanner := bufio.NewScanner(&buf)
	var lines int
	for scanner.Scan() {
		var e storage.Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %d: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("jsonl lines = %d, want 2", lines)
	}

	buf.Reset()
	if err := WriteEntries(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty export = %q, want []", buf.String())
	}
}

func TestWriteSimilar(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSimilar(&buf, nil, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No similar entries") {
		t.Errorf("got %q", buf.String())
	}

	buf.Reset()
	results := []*vector.Result{{ID: "abc", Score: 0.9}, {ID: "def", Score: 0.1}}
	if err := WriteSimilar(&buf, results, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), " 1. abc  score=0.9000") {
		t.Errorf("got %q", buf.String())
	}
}

func TestWrite_unknownFormatTreatedAsText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSimilar(&buf, []*vector.Result{{ID: "x"}}, OutputFormat("unknown")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "x") {
		t.Errorf("got %q", buf.String())
	}
}
