// Package capture is the Capture Ingestor (C9): for each controlled
// device, a continuous producer writes HLS `.ts` segments and JPEG
// keyframes to a capture folder (§6 layout), and the package exposes read
// operations (latestJson, recentSegments, takeScreenshot) over that
// folder. Grounded on pkg/newtlab/qemu.go's exec.Command process-
// supervision idiom, applied here to segment writing and ffmpeg
// concatenation instead of QEMU boot.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fleetlab/fleetlab/pkg/util"
)

// LatestJSONResult is the §4.9 latestJson response shape.
type LatestJSONResult struct {
	JSONURL   string    `json:"json_url"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// Ingestor reads the capture filesystem layout for a host/device pair.
// The layout itself (§6) is:
//
//	<capture_root>/<host>/<device_id>/
//	    segment_<N>.ts
//	    capture_<sequence>.jpg
//	    capture_<sequence>.json
//	    transcript/<hour>/chunk_10min_<i>.json
type Ingestor struct {
	root     string
	scratch  string
	urlBase  string
	merger   SegmentMerger
}

// New creates an Ingestor rooted at captureRoot, using scratchDir for
// temporary merged-segment files (§4.9's "temp file is deleted after
// consumption") and urlBase to build artifact URLs for JPEGs/sidecars.
func New(captureRoot, scratchDir, urlBase string) *Ingestor {
	return &Ingestor{root: captureRoot, scratch: scratchDir, urlBase: urlBase, merger: ffmpegMerger{}}
}

func (i *Ingestor) deviceDir(host, deviceID string) string {
	return filepath.Join(i.root, host, deviceID)
}

func (i *Ingestor) url(host, deviceID, filename string) string {
	return fmt.Sprintf("%s/%s/%s/%s", strings.TrimRight(i.urlBase, "/"), host, deviceID, filename)
}

// LatestJSON returns the most recent completed analysis sidecar for a
// device (§4.9).
func (i *Ingestor) LatestJSON(host, deviceID string) (*LatestJSONResult, error) {
	dir := i.deviceDir(host, deviceID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("capture: reading %q: %w", dir, err)
	}
	best := -1
	var bestName string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "capture_") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		seq, ok := parseSequence(e.Name())
		if !ok {
			continue
		}
		if seq > best {
			best = seq
			bestName = e.Name()
		}
	}
	if best < 0 {
		return nil, util.ErrNotFound
	}
	info, err := os.Stat(filepath.Join(dir, bestName))
	if err != nil {
		return nil, err
	}
	return &LatestJSONResult{
		JSONURL:   i.url(host, deviceID, bestName),
		Sequence:  best,
		Timestamp: info.ModTime(),
	}, nil
}

// parseSequence extracts the numeric sequence from "capture_<seq>.json" or
// "capture_<seq>.jpg".
func parseSequence(name string) (int, bool) {
	base := strings.TrimSuffix(strings.TrimSuffix(name, ".json"), ".jpg")
	base = strings.TrimPrefix(base, "capture_")
	n, err := strconv.Atoi(base)
	if err != nil {
		return 0, false
	}
	return n, true
}

// TakeScreenshot returns an image URL for the next available keyframe
// (§4.9) — the most recent capture_<sequence>.jpg.
func (i *Ingestor) TakeScreenshot(host, deviceID string) (string, error) {
	dir := i.deviceDir(host, deviceID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("capture: reading %q: %w", dir, err)
	}
	best := -1
	var bestName string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jpg") {
			continue
		}
		seq, ok := parseSequence(e.Name())
		if !ok {
			continue
		}
		if seq > best {
			best = seq
			bestName = e.Name()
		}
	}
	if best < 0 {
		return "", util.ErrNotFound
	}
	return i.url(host, deviceID, bestName), nil
}

// segmentPaths returns the n most recent segment_<N>.ts paths for a
// device, in chronological order.
func (i *Ingestor) segmentPaths(host, deviceID string, n int) ([]string, error) {
	dir := i.deviceDir(host, deviceID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("capture: reading %q: %w", dir, err)
	}
	type seg struct {
		seq  int
		path string
	}
	var segs []seg
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "segment_") || !strings.HasSuffix(e.Name(), ".ts") {
			continue
		}
		base := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "segment_"), ".ts")
		seq, err := strconv.Atoi(base)
		if err != nil {
			continue
		}
		segs = append(segs, seg{seq: seq, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(segs, func(a, b int) bool { return segs[a].seq < segs[b].seq })
	if len(segs) == 0 {
		return nil, util.ErrNotFound
	}
	if n > len(segs) {
		n = len(segs)
	}
	out := make([]string, n)
	for idx, s := range segs[len(segs)-n:] {
		out[idx] = s.path
	}
	return out, nil
}

// RecentSegments returns the last n .ts segments for a device. When n>1
// they are concatenated into a temporary merged .ts file in the scratch
// directory via ffmpeg copy-mode (no re-encode); the temp file is removed
// after the caller is done with it, and originals are never modified.
// Falls back to returning the individual segment paths on merge failure
// (§4.9).
func (i *Ingestor) RecentSegments(host, deviceID string, n int) (*MergedSegments, error) {
	paths, err := i.segmentPaths(host, deviceID, n)
	if err != nil {
		return nil, err
	}
	if len(paths) <= 1 {
		return &MergedSegments{Paths: paths}, nil
	}

	if err := os.MkdirAll(i.scratch, 0755); err != nil {
		return &MergedSegments{Paths: paths}, nil
	}
	out := filepath.Join(i.scratch, fmt.Sprintf("merged-%s-%s-%d.ts", host, deviceID, time.Now().UnixNano()))
	if err := i.merger.Merge(paths, out); err != nil {
		// Fallback to per-segment processing on merge failure (§4.9, §7).
		return &MergedSegments{Paths: paths}, nil
	}
	return &MergedSegments{Paths: paths, MergedPath: out, cleanup: func() { os.Remove(out) }}, nil
}

// MergedSegments is the result of RecentSegments: either a single merged
// file (MergedPath set) or the original per-segment paths as a fallback.
type MergedSegments struct {
	Paths      []string
	MergedPath string
	cleanup    func()
}

// Close removes the temporary merged file, if one was created. Always
// call this once the caller is done consuming the segments.
func (m *MergedSegments) Close() {
	if m.cleanup != nil {
		m.cleanup()
	}
}
