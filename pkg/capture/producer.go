package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Frame is one JPEG keyframe pulled from a device's AV source, at source
// rate (~5 fps per §4.10).
type Frame struct {
	Sequence  int
	Timestamp time.Time
	JPEG      []byte
}

// Segment is one second of HLS transport-stream data.
type Segment struct {
	Sequence int
	Data     []byte
}

// Source is the per-device AV feed the Producer pulls from. Implemented
// by the fleethost daemon's device driver; a test fake stands in for unit
// tests.
type Source interface {
	NextFrame(ctx context.Context) (Frame, error)
	NextSegment(ctx context.Context) (Segment, error)
}

// Producer is the continuous per-device writer side of C9: it pulls
// frames/segments from a Source and writes them into the capture folder
// layout (§6), handing each frame to a FrameSink (pkg/analyzer's queue)
// for analysis.
type Producer struct {
	host, deviceID string
	root           string
	source         Source
	sink           FrameSink
}

// FrameSink receives every captured frame for analysis (pkg/analyzer.Queue).
type FrameSink interface {
	Submit(host, deviceID string, frame Frame) error
}

// multiSink fans each frame out to several sinks in order.
type multiSink []FrameSink

func (m multiSink) Submit(host, deviceID string, frame Frame) error {
	for _, s := range m {
		if err := s.Submit(host, deviceID, frame); err != nil {
			return err
		}
	}
	return nil
}

// Sinks combines several FrameSinks into one, so a Producer can feed both
// the analyzer queue and the websocket push hub.
func Sinks(sinks ...FrameSink) FrameSink {
	return multiSink(sinks)
}

// NewProducer creates a Producer writing into <root>/<host>/<deviceID>/.
func NewProducer(root, host, deviceID string, source Source, sink FrameSink) *Producer {
	return &Producer{host: host, deviceID: deviceID, root: root, source: source, sink: sink}
}

func (p *Producer) dir() string {
	return filepath.Join(p.root, p.host, p.deviceID)
}

// Run ingests continuously until ctx is canceled. It never drops a frame
// silently: a read, write or submit failure ends Run with the returned
// error, and what follows is left to the caller (fleethost's supervisor loop restarts
// the producer on error, matching the teacher's process-supervision
// idiom for QEMU nodes).
func (p *Producer) Run(ctx context.Context) error {
	if err := os.MkdirAll(p.dir(), 0755); err != nil {
		return fmt.Errorf("capture: preparing capture dir: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := p.source.NextFrame(ctx)
		if err != nil {
			return fmt.Errorf("capture: reading frame: %w", err)
		}
		if err := p.writeFrame(frame); err != nil {
			return err
		}
		if p.sink != nil {
			if err := p.sink.Submit(p.host, p.deviceID, frame); err != nil {
				return fmt.Errorf("capture: submitting frame %d to analyzer: %w", frame.Sequence, err)
			}
		}
	}
}

func (p *Producer) writeFrame(frame Frame) error {
	name := fmt.Sprintf("capture_%d.jpg", frame.Sequence)
	path := filepath.Join(p.dir(), name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, frame.JPEG, 0644); err != nil {
		return fmt.Errorf("capture: writing %q: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("capture: renaming %q into place: %w", name, err)
	}
	return nil
}

// RunSegments ingests HLS segments continuously until ctx is canceled,
// independent of the frame loop (segments and keyframes are separate
// streams per §4.9).
func (p *Producer) RunSegments(ctx context.Context) error {
	if err := os.MkdirAll(p.dir(), 0755); err != nil {
		return fmt.Errorf("capture: preparing capture dir: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		seg, err := p.source.NextSegment(ctx)
		if err != nil {
			return fmt.Errorf("capture: reading segment: %w", err)
		}
		name := fmt.Sprintf("segment_%d.ts", seg.Sequence)
		path := filepath.Join(p.dir(), name)
		if err := os.WriteFile(path, seg.Data, 0644); err != nil {
			return fmt.Errorf("capture: writing %q: %w", name, err)
		}
	}
}
