package zapdetect

import (
	"testing"
	"time"
)

type fakeSource struct {
	window []FrameSample
	calls  int
}

func (f *fakeSource) Window(deviceID string, since time.Time, n int) ([]FrameSample, error) {
	f.calls++
	return f.window, nil
}

func frameAt(base time.Time, offsetSeconds float64, blackscreen, freeze bool) FrameSample {
	return FrameSample{
		Timestamp:   base.Add(time.Duration(offsetSeconds * float64(time.Second))),
		Blackscreen: blackscreen,
		Freeze:      freeze,
	}
}

func TestObserveNoTransitionIsNotDetected(t *testing.T) {
	base := time.Now()
	window := make([]FrameSample, 10)
	for i := range window {
		window[i] = frameAt(base, float64(i), false, false)
	}
	src := &fakeSource{window: window}
	c := New("dev1", src, nil, nil)

	event, err := c.Observe("KEY_OK", base)
	if err != nil {
		t.Fatal(err)
	}
	if event.Detected {
		t.Fatal("expected not_detected when no blackscreen or freeze occurs")
	}
	if c.Stats().LearnedMethod != "" {
		t.Error("no learned method should be recorded on a non-detection")
	}
}

func TestObserveLearnsFreezeWhenBlackscreenAbsent(t *testing.T) {
	base := time.Now()
	window := []FrameSample{
		frameAt(base, 0, false, true),
		frameAt(base, 1, false, true),
		frameAt(base, 2, false, false),
		frameAt(base, 3, false, false),
		frameAt(base, 4, false, false),
	}
	for len(window) < 10 {
		window = append(window, frameAt(base, float64(len(window)), false, false))
	}
	src := &fakeSource{window: window}
	c := New("dev1", src, nil, nil)

	event, err := c.Observe("KEY_OK", base)
	if err != nil {
		t.Fatal(err)
	}
	if !event.Detected {
		t.Fatal("expected zap detected via freeze")
	}
	if event.Method != MethodFreeze {
		t.Errorf("expected method freeze, got %v", event.Method)
	}
	if event.DurationS < 1.9 || event.DurationS > 2.1 {
		t.Errorf("expected duration ~2.0s, got %v", event.DurationS)
	}
	if c.Stats().LearnedMethod != MethodFreeze {
		t.Errorf("expected learned method freeze, got %v", c.Stats().LearnedMethod)
	}

	// Second zap in the same run: only the learned method (freeze) runs,
	// regardless of whether blackscreen would also have fired.
	window2 := []FrameSample{
		frameAt(base, 10, true, false),
		frameAt(base, 11, false, false),
	}
	for len(window2) < 10 {
		window2 = append(window2, frameAt(base, float64(10+len(window2)), false, false))
	}
	src.window = window2
	event2, err := c.Observe("KEY_OK", base.Add(10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if event2.Detected {
		t.Fatal("expected not_detected: blackscreen at frame 0 must be ignored once freeze is learned")
	}
}

func TestObserveEarlyTerminatesChannelExtraction(t *testing.T) {
	base := time.Now()
	window := []FrameSample{
		frameAt(base, 0, true, false),
		frameAt(base, 1, true, false),
		frameAt(base, 2, false, false),
	}
	for len(window) < 10 {
		window = append(window, frameAt(base, float64(len(window)), false, false))
	}
	src := &fakeSource{window: window}
	extractor := &countingExtractor{info: &ChannelInfo{ChannelName: "ESPN", ProgramName: "SportsCenter"}}
	c := New("dev1", src, allBanner{}, extractor)

	event, err := c.Observe("KEY_OK", base)
	if err != nil {
		t.Fatal(err)
	}
	if !event.Detected || event.ChannelInfo == nil {
		t.Fatal("expected detected zap with channel info")
	}
	if extractor.calls != 1 {
		t.Errorf("expected extraction to stop once channel info is complete, got %d calls", extractor.calls)
	}
}

type allBanner struct{}

func (allBanner) HasBanner(FrameSample) bool { return true }

type countingExtractor struct {
	info  *ChannelInfo
	calls int
}

func (e *countingExtractor) ExtractChannelInfo(jpeg []byte) (*ChannelInfo, error) {
	e.calls++
	return e.info, nil
}
