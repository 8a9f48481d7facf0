package analyzer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFSChunkerAppendsWithinChunk(t *testing.T) {
	root := t.TempDir()
	chunker := NewFSChunker(root)

	base := time.Date(2026, 7, 1, 14, 3, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := Record{
			DeviceID:  "d1",
			Sequence:  100 + i,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Analysis:  Analysis{Subtitle: "hello", HasIncidents: i == 2},
		}
		if err := chunker.CommitChunk("h1", "d1", rec); err != nil {
			t.Fatalf("CommitChunk: %v", err)
		}
	}

	path := filepath.Join(root, "h1", "d1", "transcript", "2026-07-01_14", "chunk_10min_0.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading chunk: %v", err)
	}
	var chunk TranscriptChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		t.Fatalf("parsing chunk: %v", err)
	}
	if len(chunk.Segments) != 3 {
		t.Fatalf("len(Segments) = %d, want 3", len(chunk.Segments))
	}
	if chunk.Segments[0].Sequence != 100 || !chunk.Segments[2].Incidents {
		t.Errorf("segments not appended in order: %+v", chunk.Segments)
	}
}

func TestFSChunkerRollsOverAt10Minutes(t *testing.T) {
	root := t.TempDir()
	chunker := NewFSChunker(root)

	early := Record{Sequence: 1, Timestamp: time.Date(2026, 7, 1, 14, 9, 59, 0, time.UTC)}
	late := Record{Sequence: 2, Timestamp: time.Date(2026, 7, 1, 14, 10, 0, 0, time.UTC)}
	for _, rec := range []Record{early, late} {
		if err := chunker.CommitChunk("h1", "d1", rec); err != nil {
			t.Fatalf("CommitChunk: %v", err)
		}
	}

	dir := filepath.Join(root, "h1", "d1", "transcript", "2026-07-01_14")
	for _, name := range []string{"chunk_10min_0.json", "chunk_10min_1.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
}
