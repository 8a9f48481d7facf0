// Package analyzer is the Frame Analyzer (C10): per-frame blackscreen,
// freeze, audio-loss, and macroblock detection with adaptive sampling
// under backlog. New domain logic; the sidecar atomicity pattern (tmp +
// rename) is grounded on pkg/newtlab/state.go's SaveState.
package analyzer

import "time"

// Analysis is the detection payload written into a frame's JSON sidecar
// (§3 Capture Frame Record).
type Analysis struct {
	Blackscreen     bool     `json:"blackscreen"`
	BlackscreenPct  float64  `json:"blackscreen_pct"`
	Freeze          bool     `json:"freeze"`
	FreezeDiffs     float64  `json:"freeze_diffs"`
	Audio           bool     `json:"audio"`
	VolumePct       float64  `json:"volume_pct"`
	MeanVolumeDB    float64  `json:"mean_volume_db"`
	Macroblocks     bool     `json:"macroblocks"`
	QualityScore    float64  `json:"quality_score"`
	HasIncidents    bool     `json:"has_incidents"`
	Last3Filenames  []string `json:"last_3_filenames,omitempty"`
	Subtitle        string   `json:"subtitle,omitempty"`
	Speech          bool     `json:"speech,omitempty"`
	// CarriedFrom records the sequence a stale field was carried from when
	// adaptive sampling skips a detection (§4.10 invariant a) — the
	// analyzer never drops a frame silently.
	CarriedFrom map[string]int `json:"carried_from,omitempty"`
}

// Record is the full sidecar written next to a captured JPEG.
type Record struct {
	DeviceID  string    `json:"device_id"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	ImageURL  string    `json:"image_url"`
	Analysis  Analysis  `json:"analysis"`
}

// Config carries the Analyzer's thresholds, each exposed so it can be
// tuned without a code change (§9 Open Question on the macroblock
// threshold, and the adaptive-sampling constants of §4.10).
type Config struct {
	// OverloadThreshold is the queue-depth above which load shedding kicks
	// in (§4.10: "queue depth > 30").
	OverloadThreshold int
	// OverloadDetectionInterval is the frame-count interval at which
	// freeze is still computed while overloaded (§4.10: 10).
	OverloadDetectionInterval int
	// FreezeThreshold is the mean per-pixel absdiff below which a frame
	// pair is considered frozen (§4.10 default 3.5, strict <).
	FreezeThreshold float64
	// BlackscreenMeanThreshold is the mean luminance below which a frame
	// may be blackscreen.
	BlackscreenMeanThreshold float64
	// BlackscreenPixelCutoff is the minimum fraction of near-black pixels
	// required to confirm blackscreen.
	BlackscreenPixelCutoff float64
	// SilenceFloorDB is the mean dBFS below which audio is considered lost.
	SilenceFloorDB float64
	// AudioCacheWindow is the number of prior segment JSONs an audio read
	// averages over when not overloaded. Bounded to [1,3]; overload
	// reduces the effective window to 1 (§4.10 invariant c).
	AudioCacheWindow int
	// MacroblockThreshold is the edge-density score above which a frame is
	// flagged as having macroblocking artifacts (Open Question #3: not
	// invariant-critical, empirically set).
	MacroblockThreshold float64
	// ChunkCommitInterval is the sequence modulus that triggers a
	// chunk-append when not overloaded (§4.10: seq % 5 == 0).
	ChunkCommitInterval int
}

// audioWindow resolves the audio cache lookback for the current load:
// the configured window normally, one JSON under overload, always within
// [1,3].
func (c Config) audioWindow(overloaded bool) int {
	if overloaded {
		return 1
	}
	w := c.AudioCacheWindow
	if w < 1 {
		w = 1
	}
	if w > 3 {
		w = 3
	}
	return w
}

// DefaultConfig returns the documented §4.10 defaults.
func DefaultConfig() Config {
	return Config{
		OverloadThreshold:          30,
		OverloadDetectionInterval:  10,
		FreezeThreshold:            3.5,
		BlackscreenMeanThreshold:   16.0,
		BlackscreenPixelCutoff:     0.9,
		SilenceFloorDB:             -50.0,
		AudioCacheWindow:           3,
		MacroblockThreshold:        35.0,
		ChunkCommitInterval:        5,
	}
}
