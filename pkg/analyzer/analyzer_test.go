package analyzer

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/fleetlab/fleetlab/pkg/capture"
)

// fakeImage lets tests pin exact per-pixel luminance values without JPEG
// compression noise, so boundary assertions (e.g. meanDiff == 3.5) hold
// precisely.
type fakeImage struct {
	w, h int
	at   func(x, y int) color.Color
}

func (f fakeImage) ColorModel() color.Model  { return color.RGBAModel }
func (f fakeImage) Bounds() image.Rectangle  { return image.Rect(0, 0, f.w, f.h) }
func (f fakeImage) At(x, y int) color.Color  { return f.at(x, y) }

func gray(v uint8) color.Color { return color.Gray{Y: v} }

func uniformGray(v uint8) image.Image {
	return fakeImage{w: 4, h: 4, at: func(x, y int) color.Color { return gray(v) }}
}

func TestDetectBlackscreenAllDarkFlagged(t *testing.T) {
	img := uniformGray(5)
	isBlack, pct := DetectBlackscreen(img, 16.0, 0.9)
	if !isBlack {
		t.Fatalf("expected blackscreen, got pct=%v", pct)
	}
	if pct != 1.0 {
		t.Errorf("expected all pixels dark, got pct=%v", pct)
	}
}

func TestDetectBlackscreenBrightNotFlagged(t *testing.T) {
	img := uniformGray(200)
	isBlack, _ := DetectBlackscreen(img, 16.0, 0.9)
	if isBlack {
		t.Fatal("bright frame should not be blackscreen")
	}
}

func TestDetectFreezeBoundaryExactThresholdNotFrozen(t *testing.T) {
	// Two sample points (stride 10, w=11,h=1): diffs of 3 and 4 average to
	// exactly 3.5, the documented default threshold. §8 requires the
	// comparison be strict so an exact match does NOT count as frozen.
	prev := fakeImage{w: 11, h: 1, at: func(x, y int) color.Color { return gray(100) }}
	cur := fakeImage{w: 11, h: 1, at: func(x, y int) color.Color {
		if x == 0 {
			return gray(103)
		}
		return gray(104)
	}}

	frozen, diff := DetectFreeze(prev, cur, 3.5)
	if diff != 3.5 {
		t.Fatalf("expected mean diff 3.5, got %v", diff)
	}
	if frozen {
		t.Error("exact threshold match must not count as frozen (strict <)")
	}
}

func TestDetectFreezeBelowThresholdIsFrozen(t *testing.T) {
	prev := uniformGray(100)
	cur := uniformGray(101)
	frozen, diff := DetectFreeze(prev, cur, 3.5)
	if !frozen {
		t.Fatalf("expected frozen for diff=%v < 3.5", diff)
	}
}

func TestDetectAudioBelowSilenceFloor(t *testing.T) {
	if DetectAudio(-60, -50) {
		t.Fatal("expected audio loss below silence floor")
	}
	if !DetectAudio(-40, -50) {
		t.Fatal("expected audio present above silence floor")
	}
}

func TestQueueDepthTracksBacklog(t *testing.T) {
	q := NewQueue()
	if q.Depth() != 0 {
		t.Fatalf("expected empty queue, got depth %d", q.Depth())
	}
	for i := 0; i < 5; i++ {
		if err := q.Submit("h1", "d1", capture.Frame{Sequence: i}); err != nil {
			t.Fatal(err)
		}
	}
	if q.Depth() != 5 {
		t.Fatalf("expected depth 5, got %d", q.Depth())
	}
	if _, ok := q.pop(); !ok {
		t.Fatal("expected a frame to pop")
	}
	if q.Depth() != 4 {
		t.Fatalf("expected depth 4 after pop, got %d", q.Depth())
	}
}

func makeJPEG(t *testing.T, v uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestProcessFrameWritesSidecarAndTracksIncidents(t *testing.T) {
	root := t.TempDir()
	q := NewQueue()
	a := New(DefaultConfig(), root, q, nil, nil, nil)

	rec, err := a.ProcessFrame(context.Background(), "h1", "d1", capture.Frame{
		Sequence: 1, Timestamp: time.Now(), JPEG: makeJPEG(t, 5),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Analysis.Blackscreen {
		t.Error("expected dark frame to be flagged blackscreen")
	}
	if !rec.Analysis.HasIncidents {
		t.Error("blackscreen should count as an incident")
	}
}

// recordingAudio captures the lookback the analyzer requests per frame.
type recordingAudio struct {
	lookbacks []int
}

func (r *recordingAudio) MeanVolumeDB(host, deviceID string, lookback int) (float64, error) {
	r.lookbacks = append(r.lookbacks, lookback)
	return -20, nil
}

// setQueueDepth adjusts the queue backlog to a target depth observed by
// the next ProcessFrame call.
func setQueueDepth(t *testing.T, q *Queue, depth int) {
	t.Helper()
	for q.Depth() > depth {
		if _, ok := q.pop(); !ok {
			t.Fatal("queue drained unexpectedly")
		}
	}
	for i := q.Depth(); i < depth; i++ {
		_ = q.Submit("h1", "filler", capture.Frame{Sequence: i})
	}
}

func TestAudioWindowNarrowsUnderOverload(t *testing.T) {
	root := t.TempDir()
	q := NewQueue()
	audio := &recordingAudio{}
	a := New(DefaultConfig(), root, q, nil, audio, nil)
	ctx := context.Background()

	// Queue depths per frame; depth 30 exactly stays on the full path,
	// anything above narrows the audio lookback to a single read.
	for i, depth := range []int{10, 35, 35, 10} {
		setQueueDepth(t, q, depth)
		if _, err := a.ProcessFrame(ctx, "h1", "d1", capture.Frame{Sequence: i + 1, JPEG: makeJPEG(t, 100)}); err != nil {
			t.Fatal(err)
		}
	}

	want := []int{3, 1, 1, 3}
	if len(audio.lookbacks) != len(want) {
		t.Fatalf("audio read per frame, got %d reads for %d frames", len(audio.lookbacks), len(want))
	}
	for i, w := range want {
		if audio.lookbacks[i] != w {
			t.Errorf("frame %d: lookback = %d, want %d", i+1, audio.lookbacks[i], w)
		}
	}
}

func TestAudioWindowBoundaryDepth(t *testing.T) {
	root := t.TempDir()
	q := NewQueue()
	audio := &recordingAudio{}
	a := New(DefaultConfig(), root, q, nil, audio, nil)

	setQueueDepth(t, q, 30)
	if _, err := a.ProcessFrame(context.Background(), "h1", "d1", capture.Frame{Sequence: 1, JPEG: makeJPEG(t, 100)}); err != nil {
		t.Fatal(err)
	}
	if audio.lookbacks[0] != 3 {
		t.Errorf("depth 30 exactly should use the full window, got %d", audio.lookbacks[0])
	}
}

func TestProcessFrameCarriesFreezeForwardWhenOverloaded(t *testing.T) {
	root := t.TempDir()
	q := NewQueue()
	a := New(DefaultConfig(), root, q, nil, nil, nil)
	ctx := context.Background()

	if _, err := a.ProcessFrame(ctx, "h1", "d1", capture.Frame{Sequence: 1, JPEG: makeJPEG(t, 100)}); err != nil {
		t.Fatal(err)
	}

	// Push enough items onto the queue to push depth above the overload
	// threshold (30) as observed by the next ProcessFrame call.
	for i := 0; i < 31; i++ {
		_ = q.Submit("h1", "d1", capture.Frame{Sequence: i})
	}

	// Sequence 2 is not a multiple of OverloadDetectionInterval (10), so
	// under overload the analyzer must carry forward the prior freeze
	// result rather than silently omitting it.
	rec, err := a.ProcessFrame(ctx, "h1", "d1", capture.Frame{Sequence: 2, JPEG: makeJPEG(t, 101)})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Analysis.CarriedFrom == nil {
		t.Fatal("expected carried_from to be populated under overload")
	}
	if seq, ok := rec.Analysis.CarriedFrom["freeze"]; !ok || seq != 1 {
		t.Errorf("expected freeze carried from sequence 1, got %v", rec.Analysis.CarriedFrom)
	}
}
