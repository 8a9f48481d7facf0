package analyzer

import (
	"sync"

	"github.com/fleetlab/fleetlab/pkg/capture"
)

// queuedFrame pairs a captured frame with its originating device so the
// worker loop can process FIFO across all devices sharing one Analyzer.
type queuedFrame struct {
	host, deviceID string
	frame          capture.Frame
}

// Queue is a per-process frame backlog shared by every device of the
// host. It has no capacity limit: Submit never blocks and never drops a
// frame, so the backlog grows while the Analyzer lags. Depth is the signal the
// Analyzer's adaptive sampling keys off (§4.10): callers read Depth()
// before processing each frame to decide whether to shed detections.
type Queue struct {
	mu    sync.Mutex
	items []queuedFrame
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Submit appends a frame to the backlog. It implements capture.FrameSink
// so a Producer can hand off frames directly.
func (q *Queue) Submit(host, deviceID string, frame capture.Frame) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, queuedFrame{host: host, deviceID: deviceID, frame: frame})
	return nil
}

// Depth reports the current backlog length.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pop removes and returns the oldest queued frame, or ok=false if empty.
func (q *Queue) pop() (queuedFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queuedFrame{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}
