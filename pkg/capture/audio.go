package capture

import (
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
)

// AudioProbe measures the mean audio level of a device's most recent
// segments with ffmpeg's volumedetect filter. It implements
// pkg/analyzer's AudioSource: the analyzer treats audio as a side input
// read from the segment stream, not decoded from the captured JPEG, and
// passes the lookback per call so load shedding can narrow it.
type AudioProbe struct {
	ingestor *Ingestor
}

// NewAudioProbe creates a probe over the device's capture folder. The
// merged-ts path is preferred; on merge failure each segment is probed
// individually and the results averaged (§4.9 fallback).
func NewAudioProbe(ingestor *Ingestor) *AudioProbe {
	return &AudioProbe{ingestor: ingestor}
}

// MeanVolumeDB returns the mean dBFS over the device's last lookback
// segments.
func (p *AudioProbe) MeanVolumeDB(host, deviceID string, lookback int) (float64, error) {
	if lookback < 1 {
		lookback = 1
	}
	merged, err := p.ingestor.RecentSegments(host, deviceID, lookback)
	if err != nil {
		return 0, err
	}
	defer merged.Close()

	if merged.MergedPath != "" {
		return probeMeanVolume(merged.MergedPath)
	}

	var sum float64
	var n int
	for _, path := range merged.Paths {
		db, err := probeMeanVolume(path)
		if err != nil {
			continue
		}
		sum += db
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("capture: no segment yielded an audio level for %s/%s", host, deviceID)
	}
	return sum / float64(n), nil
}

// probeMeanVolume runs ffmpeg volumedetect over one file and parses the
// mean_volume line from stderr.
func probeMeanVolume(path string) (float64, error) {
	cmd := exec.Command("ffmpeg", "-i", path, "-vn", "-af", "volumedetect", "-f", "null", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("capture: ffmpeg volumedetect on %q: %w: %s", path, err, stderr.String())
	}
	return parseMeanVolume(stderr.String())
}

var meanVolumeRe = regexp.MustCompile(`mean_volume:\s*(-?\d+(?:\.\d+)?)\s*dB`)

func parseMeanVolume(ffmpegOutput string) (float64, error) {
	m := meanVolumeRe.FindStringSubmatch(ffmpegOutput)
	if m == nil {
		return 0, fmt.Errorf("capture: no mean_volume in ffmpeg output")
	}
	return strconv.ParseFloat(m[1], 64)
}
