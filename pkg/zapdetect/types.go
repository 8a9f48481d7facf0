// Package zapdetect is the Zap Detector (C11): an event-scoped state
// machine that determines whether a channel change completed within the
// next ≤10 frames after a key release, via blackscreen or freeze
// detection, learning which method works for a device and reusing it for
// the rest of the run. Grounded on pkg/newtest/runner.go's explicit
// state-stepping style (no exceptions for control flow).
package zapdetect

import "time"

// Method is the detection strategy a zap event was resolved with.
type Method string

const (
	MethodBlackscreen Method = "blackscreen"
	MethodFreeze      Method = "freeze"
)

// FrameSample is the subset of a captured frame's analysis the detector
// needs, supplied by the caller from C10's ring buffer so this package
// stays independent of the analyzer's sidecar format.
type FrameSample struct {
	Timestamp   time.Time
	Blackscreen bool
	Freeze      bool
	JPEG        []byte
}

// FrameSource returns the frames captured at or after since, in capture
// order, for a device — C10's small read-only ring buffer.
type FrameSource interface {
	Window(deviceID string, since time.Time, n int) ([]FrameSample, error)
}

// BannerChecker is a cheap, non-AI heuristic for whether a frame likely
// shows a channel banner, gating the expensive AI extraction call.
type BannerChecker interface {
	HasBanner(frame FrameSample) bool
}

// ChannelInfo is the banner-derived metadata for the channel being zapped
// to.
type ChannelInfo struct {
	ChannelName string `json:"channel_name"`
	ProgramName string `json:"program_name"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

func (c *ChannelInfo) complete() bool {
	return c != nil && c.ChannelName != "" && c.ProgramName != ""
}

// ChannelExtractor delegates banner OCR/parsing to the AI service.
type ChannelExtractor interface {
	ExtractChannelInfo(jpeg []byte) (*ChannelInfo, error)
}

// ZapEvent is the result of one Observe call (§3 Zap Event).
type ZapEvent struct {
	DeviceID      string       `json:"device_id"`
	ActionCommand string       `json:"action_command"`
	KeyReleaseTS  time.Time    `json:"key_release_ts"`
	Detected      bool         `json:"detected"`
	Method        Method       `json:"method,omitempty"`
	DurationS     float64      `json:"duration_s"`
	ChannelInfo   *ChannelInfo `json:"channel_info,omitempty"`
}

// Stats accumulates per-run totals across every Observe call on a
// Controller (§4.11 "Statistics per run").
type Stats struct {
	Iterations              int
	MotionDetectedCount     int
	SubtitleDetectedCount   int
	AudioSpeechDetectedCount int
	ZapDetectedCount        int
	Durations               []float64
	Languages               map[string]int
	Channels                map[string]int
	LearnedMethod           Method
}
