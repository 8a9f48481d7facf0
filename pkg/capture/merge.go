package capture

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// SegmentMerger concatenates .ts segments into a single file without
// re-encoding.
type SegmentMerger interface {
	Merge(segmentPaths []string, outPath string) error
}

// ffmpegMerger shells out to ffmpeg's concat demuxer in copy mode, mirroring
// pkg/newtlab/qemu.go's exec.Command process-supervision idiom: build argv,
// run, check exit status, surface stderr on failure.
type ffmpegMerger struct{}

func (ffmpegMerger) Merge(segmentPaths []string, outPath string) error {
	listPath := outPath + ".list"
	var buf bytes.Buffer
	for _, p := range segmentPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(&buf, "file '%s'\n", abs)
	}
	if err := os.WriteFile(listPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("capture: writing concat list: %w", err)
	}
	defer os.Remove(listPath)

	cmd := exec.Command("ffmpeg", "-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", outPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("capture: ffmpeg merge failed: %w: %s", err, stderr.String())
	}
	return nil
}
