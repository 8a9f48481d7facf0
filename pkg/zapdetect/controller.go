package zapdetect

import (
	"fmt"
	"sync"
	"time"
)

// state names the controller's position in the IDLE → LEARN_OR_USE/DETECT
// machine (§4.11). The machine is terminal after a single event emission;
// a Controller is reused across events only insofar as learnedMethod
// persists.
type state int

const (
	stateIdle state = iota
	stateLearnOrUse
	stateDetect
)

const windowFrames = 10

// Controller runs the zap-detection state machine for a single device for
// the lifetime of one test run. The learned method, once set, is reused
// for every subsequent Observe call (§4.11 invariant: "learned_method,
// once set within a run, is used exclusively for all subsequent zaps").
type Controller struct {
	deviceID  string
	frames    FrameSource
	banner    BannerChecker
	extractor ChannelExtractor

	mu            sync.Mutex
	learnedMethod Method
	stats         Stats
}

// New creates a Controller for deviceID. extractor and banner may be nil,
// in which case banner/channel-info extraction is skipped entirely.
func New(deviceID string, frames FrameSource, banner BannerChecker, extractor ChannelExtractor) *Controller {
	return &Controller{
		deviceID:  deviceID,
		frames:    frames,
		banner:    banner,
		extractor: extractor,
		stats:     Stats{Languages: map[string]int{}, Channels: map[string]int{}},
	}
}

// Stats returns a copy of the run's accumulated statistics.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := c.stats
	cp.Languages = copyCounts(c.stats.Languages)
	cp.Channels = copyCounts(c.stats.Channels)
	cp.Durations = append([]float64(nil), c.stats.Durations...)
	return cp
}

func copyCounts(m map[string]int) map[string]int {
	cp := make(map[string]int, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// Observe runs one zap-detection event triggered at keyReleaseTS by
// actionCommand. It is scoped to a single event: IDLE advances to
// LEARN_OR_USE (first zap of the run) or DETECT (subsequent zaps), and the
// machine terminates after emitting one ZapEvent.
func (c *Controller) Observe(actionCommand string, keyReleaseTS time.Time) (ZapEvent, error) {
	c.mu.Lock()
	c.stats.Iterations++
	learned := c.learnedMethod
	c.mu.Unlock()

	window, err := c.frames.Window(c.deviceID, keyReleaseTS, windowFrames)
	if err != nil {
		return ZapEvent{}, fmt.Errorf("zapdetect: reading frame window: %w", err)
	}

	event := ZapEvent{
		DeviceID:      c.deviceID,
		ActionCommand: actionCommand,
		KeyReleaseTS:  keyReleaseTS,
	}

	st := stateLearnOrUse
	if learned != "" {
		st = stateDetect
	}

	switch st {
	case stateDetect:
		c.resolveWithMethod(&event, window, learned, keyReleaseTS)
	case stateLearnOrUse:
		if c.resolveWithMethod(&event, window, MethodBlackscreen, keyReleaseTS) {
			c.setLearned(MethodBlackscreen)
			break
		}
		event = ZapEvent{DeviceID: c.deviceID, ActionCommand: actionCommand, KeyReleaseTS: keyReleaseTS}
		if c.resolveWithMethod(&event, window, MethodFreeze, keyReleaseTS) {
			c.setLearned(MethodFreeze)
			break
		}
	}

	c.recordStats(event)

	if event.Detected && c.extractor != nil {
		c.extractChannelInfo(&event, window)
	}

	return event, nil
}

// resolveWithMethod looks for a run of method-positive frames in window
// followed by a transition back to negative, and fills event accordingly.
// It returns whether the method detected a zap.
func (c *Controller) resolveWithMethod(event *ZapEvent, window []FrameSample, method Method, keyReleaseTS time.Time) bool {
	positive := func(f FrameSample) bool {
		if method == MethodBlackscreen {
			return f.Blackscreen
		}
		return f.Freeze
	}

	startIdx := -1
	for i, f := range window {
		if positive(f) {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return false
	}

	endIdx := -1
	for i := startIdx + 1; i < len(window); i++ {
		if !positive(window[i]) {
			endIdx = i
			break
		}
	}

	event.Detected = true
	event.Method = method
	if endIdx != -1 {
		event.DurationS = window[endIdx].Timestamp.Sub(keyReleaseTS).Seconds()
	} else {
		event.DurationS = window[len(window)-1].Timestamp.Sub(keyReleaseTS).Seconds()
	}
	return true
}

func (c *Controller) setLearned(m Method) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.learnedMethod == "" {
		c.learnedMethod = m
	}
	c.stats.LearnedMethod = c.learnedMethod
}

func (c *Controller) recordStats(event ZapEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if event.Detected {
		c.stats.ZapDetectedCount++
		c.stats.Durations = append(c.stats.Durations, event.DurationS)
		c.stats.MotionDetectedCount++
	}
}

// extractChannelInfo runs the cheap banner heuristic over the window and
// calls the AI extractor only on candidate frames, stopping as soon as
// the channel info is complete (§4.11 "early termination").
func (c *Controller) extractChannelInfo(event *ZapEvent, window []FrameSample) {
	var info ChannelInfo
	for _, f := range window {
		if info.complete() {
			break
		}
		if c.banner != nil && !c.banner.HasBanner(f) {
			continue
		}
		extracted, err := c.extractor.ExtractChannelInfo(f.JPEG)
		if err != nil || extracted == nil {
			continue
		}
		if extracted.ChannelName != "" {
			info.ChannelName = extracted.ChannelName
		}
		if extracted.ProgramName != "" {
			info.ProgramName = extracted.ProgramName
		}
		if extracted.StartTime != "" {
			info.StartTime = extracted.StartTime
		}
		if extracted.EndTime != "" {
			info.EndTime = extracted.EndTime
		}
	}
	if info.ChannelName != "" || info.ProgramName != "" {
		event.ChannelInfo = &info
		c.mu.Lock()
		c.stats.Channels[info.ChannelName]++
		c.mu.Unlock()
	}
}
