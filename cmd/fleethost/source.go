package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fleetlab/fleetlab/pkg/capture"
	"github.com/fleetlab/fleetlab/pkg/hostapi"
)

// httpSource pulls keyframes and HLS segments from a device's AV feed
// over HTTP: frame.jpg at ~5 fps and segment.ts once a second (§4.9's
// source rates). Appliances that only export files over SSH use
// capture.SSHSource instead (see startDevice).
type httpSource struct {
	baseURL string
	client  *http.Client

	frameSeq   int
	segmentSeq int
	frameTick  *time.Ticker
	segTick    *time.Ticker
}

const sourceFrameInterval = 200 * time.Millisecond

func newHTTPSource(baseURL string) *httpSource {
	return &httpSource{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 5 * time.Second},
		frameTick: time.NewTicker(sourceFrameInterval),
		segTick:   time.NewTicker(time.Second),
	}
}

func (s *httpSource) fetch(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("AV feed %s returned %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// NextFrame blocks until the next frame tick, then pulls the current
// keyframe.
func (s *httpSource) NextFrame(ctx context.Context) (capture.Frame, error) {
	select {
	case <-ctx.Done():
		return capture.Frame{}, ctx.Err()
	case <-s.frameTick.C:
	}
	data, err := s.fetch(ctx, "/frame.jpg")
	if err != nil {
		return capture.Frame{}, err
	}
	s.frameSeq++
	return capture.Frame{Sequence: s.frameSeq, Timestamp: time.Now(), JPEG: data}, nil
}

// NextSegment blocks until the next second boundary, then pulls the
// current segment.
func (s *httpSource) NextSegment(ctx context.Context) (capture.Segment, error) {
	select {
	case <-ctx.Done():
		return capture.Segment{}, ctx.Err()
	case <-s.segTick.C:
	}
	data, err := s.fetch(ctx, "/segment.ts")
	if err != nil {
		return capture.Segment{}, err
	}
	s.segmentSeq++
	return capture.Segment{Sequence: s.segmentSeq, Data: data}, nil
}

// notifyingSource decorates a Source so every new segment pushes a
// websocket event to that device's subscribers.
type notifyingSource struct {
	capture.Source
	hub      *hostapi.Hub
	deviceID string
}

func (n *notifyingSource) NextSegment(ctx context.Context) (capture.Segment, error) {
	seg, err := n.Source.NextSegment(ctx)
	if err == nil && n.hub != nil {
		n.hub.NotifySegment(n.deviceID, seg.Sequence)
	}
	return seg, err
}
