package analyzer

import "context"

// AIService delegates subtitle OCR and speech-presence detection to an
// external model. Both are expensive relative to the pixel detectors, so
// the Analyzer caches results per window (§4.10: "cached once per
// analysis window, not per frame") instead of invoking per frame.
type AIService interface {
	DetectSubtitle(ctx context.Context, jpeg []byte) (string, error)
	DetectSpeech(ctx context.Context, pcm []byte) (bool, error)
}

// aiWindowCache holds the last AI result per device so repeated frames
// within the same window reuse it instead of re-invoking the service.
type aiWindowCache struct {
	subtitle      string
	speech        bool
	windowSeq     int
	havePopulated bool
}

func (c *aiWindowCache) stale(seq, windowSize int) bool {
	if !c.havePopulated {
		return true
	}
	return seq/windowSize != c.windowSeq/windowSize
}
