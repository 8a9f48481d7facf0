package capture

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLatestSegment(t *testing.T) {
	listing := []byte("frame.jpg\nsegment_3.ts\nsegment_10.ts\nsegment_7.ts\nnotes.txt\n")

	name, seq, ok := latestSegment(listing, 0)
	if !ok || name != "segment_10.ts" || seq != 10 {
		t.Errorf("latestSegment = %q/%d/%v, want segment_10.ts/10/true", name, seq, ok)
	}

	// Nothing newer than what was already read.
	if _, _, ok := latestSegment(listing, 10); ok {
		t.Error("expected ok=false when no segment is newer")
	}

	if _, _, ok := latestSegment([]byte("frame.jpg\n"), 0); ok {
		t.Error("expected ok=false for a listing with no segments")
	}
}

func TestSSHSourcePullsNewestUnreadSegment(t *testing.T) {
	s := NewSSHSource("appliance:22", "capture", "secret", "/export/d1")
	s.segTick.Stop()
	s.segTick = time.NewTicker(time.Millisecond)
	s.frameTick.Stop()
	s.frameTick = time.NewTicker(time.Millisecond)

	var commands []string
	s.run = func(cmd string) ([]byte, error) {
		commands = append(commands, cmd)
		if strings.HasPrefix(cmd, "ls") {
			return []byte("segment_1.ts\nsegment_2.ts\n"), nil
		}
		return []byte("ts-bytes"), nil
	}

	seg, err := s.NextSegment(context.Background())
	if err != nil {
		t.Fatalf("NextSegment: %v", err)
	}
	if seg.Sequence != 2 || string(seg.Data) != "ts-bytes" {
		t.Errorf("segment = %d/%q, want 2/ts-bytes", seg.Sequence, seg.Data)
	}
	if len(commands) != 2 || !strings.Contains(commands[1], "segment_2.ts") {
		t.Errorf("expected ls then cat of segment_2.ts, got %v", commands)
	}

	frame, err := s.NextFrame(context.Background())
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if frame.Sequence != 1 || !strings.Contains(commands[2], "frame.jpg") {
		t.Errorf("frame = %d, commands = %v", frame.Sequence, commands)
	}
}

func TestSSHSourceCanceledContext(t *testing.T) {
	s := NewSSHSource("appliance:22", "capture", "secret", "/export/d1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.NextSegment(ctx); err == nil {
		t.Error("expected context error")
	}
}
