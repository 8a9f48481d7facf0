package hostapi

import (
	"sync"
	"time"

	"github.com/fleetlab/fleetlab/pkg/analyzer"
	"github.com/fleetlab/fleetlab/pkg/capture"
	"github.com/fleetlab/fleetlab/pkg/zapdetect"
)

// FrameRing is the small per-device buffer of recent analyzed frames the
// Zap Detector reads (§5: C11 "shares C10's most recent sidecars" via a
// ring it reads read-only). It implements analyzer.Observer on the write
// side and zapdetect.FrameSource on the read side.
type FrameRing struct {
	size int

	mu      sync.Mutex
	samples map[string][]zapdetect.FrameSample
}

// NewFrameRing creates a ring keeping the last size analyzed frames per
// device. The zap window is ≤10 frames, so anything ≥ that plus a margin
// for clock skew between key release and the next analysis is enough.
func NewFrameRing(size int) *FrameRing {
	if size <= 0 {
		size = 32
	}
	return &FrameRing{size: size, samples: make(map[string][]zapdetect.FrameSample)}
}

// RecordProcessed implements analyzer.Observer: each sidecar write appends
// one sample, evicting the oldest past the ring size.
func (r *FrameRing) RecordProcessed(host, deviceID string, frame capture.Frame, rec analyzer.Record) {
	sample := zapdetect.FrameSample{
		Timestamp:   rec.Timestamp,
		Blackscreen: rec.Analysis.Blackscreen,
		Freeze:      rec.Analysis.Freeze,
		JPEG:        frame.JPEG,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	buf := append(r.samples[deviceID], sample)
	if len(buf) > r.size {
		buf = buf[len(buf)-r.size:]
	}
	r.samples[deviceID] = buf
}

// Window implements zapdetect.FrameSource: frames at or after since, in
// capture order, capped at n.
func (r *FrameRing) Window(deviceID string, since time.Time, n int) ([]zapdetect.FrameSample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []zapdetect.FrameSample
	for _, s := range r.samples[deviceID] {
		if s.Timestamp.Before(since) {
			continue
		}
		out = append(out, s)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

// Reset clears a device's buffered frames, called when a new scripted
// session takes the device (§4.12 setup clears zap-detector state).
func (r *FrameRing) Reset(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.samples, deviceID)
}
