package capture

import (
	"os"
	"path/filepath"
	"testing"
)

func writeDeviceFile(t *testing.T, root, host, device, name string, data []byte) {
	t.Helper()
	dir := filepath.Join(root, host, device)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLatestJSONReturnsHighestSequence(t *testing.T) {
	root := t.TempDir()
	writeDeviceFile(t, root, "h1", "d1", "capture_1.json", []byte(`{}`))
	writeDeviceFile(t, root, "h1", "d1", "capture_2.json", []byte(`{}`))
	writeDeviceFile(t, root, "h1", "d1", "capture_10.json", []byte(`{}`))

	ing := New(root, t.TempDir(), "http://example/capture")
	result, err := ing.LatestJSON("h1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Sequence != 10 {
		t.Errorf("expected sequence 10, got %d", result.Sequence)
	}
}

func TestTakeScreenshotReturnsLatestKeyframe(t *testing.T) {
	root := t.TempDir()
	writeDeviceFile(t, root, "h1", "d1", "capture_3.jpg", []byte("jpg"))
	writeDeviceFile(t, root, "h1", "d1", "capture_7.jpg", []byte("jpg"))

	ing := New(root, t.TempDir(), "http://example/capture")
	url, err := ing.TakeScreenshot("h1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if url != "http://example/capture/h1/d1/capture_7.jpg" {
		t.Errorf("unexpected url: %q", url)
	}
}

func TestRecentSegmentsSingleReturnsOriginalPath(t *testing.T) {
	root := t.TempDir()
	writeDeviceFile(t, root, "h1", "d1", "segment_1.ts", []byte("a"))

	ing := New(root, t.TempDir(), "http://example/capture")
	result, err := ing.RecentSegments("h1", "d1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if result.MergedPath != "" {
		t.Errorf("single segment should not be merged")
	}
	if len(result.Paths) != 1 {
		t.Errorf("expected 1 segment path, got %d", len(result.Paths))
	}
}

// failingMerger lets the merge-failure fallback path be tested without ffmpeg.
type failingMerger struct{}

func (failingMerger) Merge(segmentPaths []string, outPath string) error {
	return os.ErrInvalid
}

func TestRecentSegmentsFallsBackOnMergeFailure(t *testing.T) {
	root := t.TempDir()
	writeDeviceFile(t, root, "h1", "d1", "segment_1.ts", []byte("a"))
	writeDeviceFile(t, root, "h1", "d1", "segment_2.ts", []byte("b"))

	ing := New(root, t.TempDir(), "http://example/capture")
	ing.merger = failingMerger{}
	result, err := ing.RecentSegments("h1", "d1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if result.MergedPath != "" {
		t.Errorf("expected fallback to per-segment paths on merge failure")
	}
	if len(result.Paths) != 2 {
		t.Errorf("expected 2 fallback paths, got %d", len(result.Paths))
	}
}
