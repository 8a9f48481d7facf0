package hostapi

import (
	"sync"
	"time"

	"github.com/fleetlab/fleetlab/pkg/zapdetect"
)

// ZapRegistry holds one zapdetect.Controller per device, created lazily on
// the first zap of a run and discarded on Reset so the next run learns its
// detection method fresh (§4.11).
type ZapRegistry struct {
	ring      *FrameRing
	banner    zapdetect.BannerChecker
	extractor zapdetect.ChannelExtractor

	mu          sync.Mutex
	controllers map[string]*zapdetect.Controller
}

// NewZapRegistry creates a registry reading frames from ring. banner and
// extractor may be nil; channel-info extraction is then skipped.
func NewZapRegistry(ring *FrameRing, banner zapdetect.BannerChecker, extractor zapdetect.ChannelExtractor) *ZapRegistry {
	return &ZapRegistry{
		ring:        ring,
		banner:      banner,
		extractor:   extractor,
		controllers: make(map[string]*zapdetect.Controller),
	}
}

func (z *ZapRegistry) controllerFor(deviceID string) *zapdetect.Controller {
	z.mu.Lock()
	defer z.mu.Unlock()
	c, ok := z.controllers[deviceID]
	if !ok {
		c = zapdetect.New(deviceID, z.ring, z.banner, z.extractor)
		z.controllers[deviceID] = c
	}
	return c
}

// Observe resolves one zap event for deviceID.
func (z *ZapRegistry) Observe(deviceID, actionCommand string, keyReleaseTS time.Time) (zapdetect.ZapEvent, error) {
	return z.controllerFor(deviceID).Observe(actionCommand, keyReleaseTS)
}

// Stats returns the per-run statistics for deviceID's controller, or a
// zero value if the device has never zapped this run.
func (z *ZapRegistry) Stats(deviceID string) zapdetect.Stats {
	z.mu.Lock()
	c, ok := z.controllers[deviceID]
	z.mu.Unlock()
	if !ok {
		return zapdetect.Stats{}
	}
	return c.Stats()
}

// Reset discards deviceID's controller (and its learned method) along with
// the buffered frames, so a new scripted session starts clean.
func (z *ZapRegistry) Reset(deviceID string) {
	z.mu.Lock()
	delete(z.controllers, deviceID)
	z.mu.Unlock()
	if z.ring != nil {
		z.ring.Reset(deviceID)
	}
}
