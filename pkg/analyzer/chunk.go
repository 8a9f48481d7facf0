package analyzer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// TranscriptChunk is one 10-minute transcript file under
// transcript/<hour>/chunk_10min_<i>.json in the capture layout.
type TranscriptChunk struct {
	Hour       string              `json:"hour"`
	ChunkIndex int                 `json:"chunk_index"`
	Segments   []TranscriptSegment `json:"segments"`
}

// TranscriptSegment is one committed sample within a chunk.
type TranscriptSegment struct {
	Sequence  int    `json:"sequence"`
	Timestamp string `json:"timestamp"`
	Subtitle  string `json:"subtitle,omitempty"`
	Speech    bool   `json:"speech,omitempty"`
	Incidents bool   `json:"has_incidents"`
}

// FSChunker implements ChunkCommitter over the capture filesystem: each
// commit appends one segment to the device's current 10-minute chunk,
// rewritten atomically the same way sidecars are.
type FSChunker struct {
	root string
}

// NewFSChunker creates a chunker writing under root (the capture root).
func NewFSChunker(root string) *FSChunker {
	return &FSChunker{root: root}
}

// CommitChunk appends rec to the chunk its timestamp falls into.
func (c *FSChunker) CommitChunk(host, deviceID string, rec Record) error {
	hour := rec.Timestamp.Format("2006-01-02_15")
	index := rec.Timestamp.Minute() / 10

	dir := filepath.Join(c.root, host, deviceID, "transcript", hour)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("analyzer: preparing transcript dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("chunk_10min_%d.json", index))

	chunk := TranscriptChunk{Hour: hour, ChunkIndex: index}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &chunk); err != nil {
			return fmt.Errorf("analyzer: parsing existing chunk %q: %w", path, err)
		}
	}

	chunk.Segments = append(chunk.Segments, TranscriptSegment{
		Sequence:  rec.Sequence,
		Timestamp: rec.Timestamp.Format("15:04:05"),
		Subtitle:  rec.Analysis.Subtitle,
		Speech:    rec.Analysis.Speech,
		Incidents: rec.Analysis.HasIncidents,
	})

	data, err := json.MarshalIndent(chunk, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("analyzer: writing chunk: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("analyzer: renaming chunk into place: %w", err)
	}
	return nil
}
