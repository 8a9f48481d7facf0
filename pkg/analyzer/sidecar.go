package analyzer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// writeSidecar marshals rec and writes it next to the frame's JPEG as
// capture_<seq>.json, using the tmp-then-rename idiom from
// pkg/newtlab/state.go's SaveState so a reader never observes a partial
// write.
func writeSidecar(dir string, rec Record) error {
	name := fmt.Sprintf("capture_%d.json", rec.Sequence)
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("analyzer: marshaling sidecar for sequence %d: %w", rec.Sequence, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("analyzer: preparing sidecar dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("analyzer: writing sidecar %q: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("analyzer: renaming sidecar %q into place: %w", name, err)
	}
	return nil
}
