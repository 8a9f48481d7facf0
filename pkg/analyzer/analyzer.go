package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"path/filepath"
	"sync"
	"time"

	"github.com/fleetlab/fleetlab/pkg/capture"
)

// AudioSource reports the current mean volume for a device, averaged over
// the last lookback segment/JSON reads. Reading audio is decoupled from
// the frame's JPEG, so it is modeled as a side input rather than decoded
// from the captured image. The analyzer varies lookback with load: the
// configured window normally, a single read while overloaded (§4.10).
type AudioSource interface {
	MeanVolumeDB(host, deviceID string, lookback int) (float64, error)
}

// Observer is notified after every sidecar write, in sequence order. The
// host daemon registers its zap-detection frame ring here so C11 reads
// C10's most recent analyses without re-parsing sidecars from disk.
type Observer interface {
	RecordProcessed(host, deviceID string, frame capture.Frame, rec Record)
}

// ChunkCommitter is notified on the sequence cadence defined by
// Config.ChunkCommitInterval, skipped entirely while the Analyzer is
// overloaded (§4.10).
type ChunkCommitter interface {
	CommitChunk(host, deviceID string, rec Record) error
}

type deviceKey struct {
	host, deviceID string
}

type deviceState struct {
	prevImage    image.Image
	prevSeq      int
	lastFreeze   bool
	lastDiffs    float64
	freezeSeq    int
	lastAudio    bool
	lastVolumeDB float64
	audioSeq     int
	last3        []string
	ai           aiWindowCache
}

// Analyzer is the Frame Analyzer (C10): it drains a Queue, runs the pixel
// detectors against each frame, applies adaptive sampling under backlog,
// and writes an atomic JSON sidecar per frame.
type Analyzer struct {
	cfg     Config
	root    string
	queue   *Queue
	ai       AIService
	audio    AudioSource
	chunker  ChunkCommitter
	observer Observer

	mu     sync.Mutex
	states map[deviceKey]*deviceState
}

// SetObserver registers the post-sidecar hook. Call before Run; the
// observer is invoked from the analysis loop, so it must be fast.
func (a *Analyzer) SetObserver(o Observer) {
	a.observer = o
}

// New creates an Analyzer writing sidecars under root/<host>/<deviceID>/,
// draining frames from queue. ai, audio, and chunker are all optional
// (nil-safe); omitting them simply skips that detection.
func New(cfg Config, root string, queue *Queue, ai AIService, audio AudioSource, chunker ChunkCommitter) *Analyzer {
	return &Analyzer{
		cfg:     cfg,
		root:    root,
		queue:   queue,
		ai:      ai,
		audio:   audio,
		chunker: chunker,
		states:  make(map[deviceKey]*deviceState),
	}
}

func (a *Analyzer) stateFor(key deviceKey) *deviceState {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[key]
	if !ok {
		st = &deviceState{freezeSeq: -1, audioSeq: -1}
		a.states[key] = st
	}
	return st
}

// Run drains the queue until ctx is canceled, processing one frame per
// iteration. When the queue is empty it polls at a short interval rather
// than busy-spinning.
func (a *Analyzer) Run(ctx context.Context) error {
	const idlePoll = 50 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, ok := a.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idlePoll):
			}
			continue
		}
		if _, err := a.ProcessFrame(ctx, item.host, item.deviceID, item.frame); err != nil {
			return err
		}
	}
}

// ProcessFrame runs detection for a single frame, applying the §4.10
// adaptive-sampling rules based on current queue depth, and writes the
// resulting sidecar. It never silently skips a frame: any detection it
// elects not to recompute is carried forward from the most recent value
// and recorded in Analysis.CarriedFrom.
func (a *Analyzer) ProcessFrame(ctx context.Context, host, deviceID string, frame capture.Frame) (Record, error) {
	key := deviceKey{host: host, deviceID: deviceID}
	st := a.stateFor(key)

	depth := a.queue.Depth()
	overloaded := depth > a.cfg.OverloadThreshold

	img, _, err := image.Decode(bytes.NewReader(frame.JPEG))
	if err != nil {
		return Record{}, fmt.Errorf("analyzer: decoding frame %d: %w", frame.Sequence, err)
	}

	var an Analysis
	carried := map[string]int{}

	isBlack, blackPct := DetectBlackscreen(img, a.cfg.BlackscreenMeanThreshold, a.cfg.BlackscreenPixelCutoff)
	an.Blackscreen = isBlack
	an.BlackscreenPct = blackPct

	hasArtifacts, quality := DetectMacroblocks(img, a.cfg.MacroblockThreshold)
	an.Macroblocks = hasArtifacts
	an.QualityScore = quality

	runFreeze := !overloaded || frame.Sequence%a.cfg.OverloadDetectionInterval == 0
	if runFreeze {
		// A device's first frame has no predecessor to compare against; it
		// is recorded as a computed, non-frozen result so later frames
		// can carry from it.
		frozen, diffs := false, 0.0
		if st.prevImage != nil {
			frozen, diffs = DetectFreeze(st.prevImage, img, a.cfg.FreezeThreshold)
		}
		an.Freeze = frozen
		an.FreezeDiffs = diffs
		st.lastFreeze = frozen
		st.lastDiffs = diffs
		st.freezeSeq = frame.Sequence
	} else {
		an.Freeze = st.lastFreeze
		an.FreezeDiffs = st.lastDiffs
		if st.freezeSeq >= 0 {
			carried["freeze"] = st.freezeSeq
		}
	}
	st.prevImage = img
	st.prevSeq = frame.Sequence

	// Audio is read every frame; load shedding narrows the cache lookback
	// to a single JSON instead of skipping the read (§4.10). Only an
	// actual read failure carries the previous value forward.
	if a.audio != nil {
		meanDB, err := a.audio.MeanVolumeDB(host, deviceID, a.cfg.audioWindow(overloaded))
		if err == nil {
			st.lastAudio = DetectAudio(meanDB, a.cfg.SilenceFloorDB)
			st.lastVolumeDB = meanDB
			st.audioSeq = frame.Sequence
		} else if st.audioSeq >= 0 {
			carried["audio"] = st.audioSeq
		}
		an.Audio = st.lastAudio
		an.MeanVolumeDB = st.lastVolumeDB
	}

	if a.ai != nil {
		const windowSize = 30
		if st.ai.stale(frame.Sequence, windowSize) {
			if subtitle, err := a.ai.DetectSubtitle(ctx, frame.JPEG); err == nil {
				st.ai.subtitle = subtitle
			}
			st.ai.windowSeq = frame.Sequence
			st.ai.havePopulated = true
		}
		an.Subtitle = st.ai.subtitle
	}

	an.HasIncidents = an.Blackscreen || an.Freeze || !an.Audio || an.Macroblocks
	if len(carried) > 0 {
		an.CarriedFrom = carried
	}

	st.last3 = append(st.last3, fmt.Sprintf("capture_%d.jpg", frame.Sequence))
	if len(st.last3) > 3 {
		st.last3 = st.last3[len(st.last3)-3:]
	}
	an.Last3Filenames = append([]string(nil), st.last3...)

	rec := Record{
		DeviceID:  deviceID,
		Sequence:  frame.Sequence,
		Timestamp: frame.Timestamp,
		ImageURL:  fmt.Sprintf("capture_%d.jpg", frame.Sequence),
		Analysis:  an,
	}

	dir := filepath.Join(a.root, host, deviceID)
	if err := writeSidecar(dir, rec); err != nil {
		return Record{}, err
	}

	if a.observer != nil {
		a.observer.RecordProcessed(host, deviceID, frame, rec)
	}

	if !overloaded && a.chunker != nil && frame.Sequence%a.cfg.ChunkCommitInterval == 0 {
		if err := a.chunker.CommitChunk(host, deviceID, rec); err != nil {
			return Record{}, fmt.Errorf("analyzer: chunk commit for sequence %d: %w", frame.Sequence, err)
		}
	}

	return rec, nil
}
