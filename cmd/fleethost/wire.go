// Package main wires fleethost: the capture/analysis pipeline per device
// plus the hostapi.Deps the RPC router dispatches against.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetlab/fleetlab/pkg/analyzer"
	"github.com/fleetlab/fleetlab/pkg/capture"
	"github.com/fleetlab/fleetlab/pkg/config"
	"github.com/fleetlab/fleetlab/pkg/hostapi"
	"github.com/fleetlab/fleetlab/pkg/llmservice"
	"github.com/fleetlab/fleetlab/pkg/metrics"
	"github.com/fleetlab/fleetlab/pkg/util"
	"github.com/fleetlab/fleetlab/pkg/zapdetect"
)

// daemon bundles everything the serve command starts and shuts down.
type daemon struct {
	deps *hostapi.Deps
	hub  *hostapi.Hub
}

// buildDaemon assembles the per-device capture pipelines (§5: one producer
// and one analyzer consumer per device, connected by the frame queue) and
// the RPC dependencies.
func buildDaemon(ctx context.Context, cfg *config.Config) (*daemon, error) {
	captureRoot := cfg.GetCaptureRoot()
	scratch := filepath.Join(captureRoot, ".scratch")
	urlBase := strings.TrimRight(advertiseBase(cfg), "/") + "/capture"

	ingestor := capture.New(captureRoot, scratch, urlBase)
	queue := analyzer.NewQueue()
	hub := hostapi.NewHub()
	ring := hostapi.NewFrameRing(32)

	var ai analyzer.AIService
	var extractor *channelExtractor
	if cfg.LLMServiceURL != "" {
		client := llmservice.New(cfg.LLMServiceURL)
		ai = &aiAdapter{c: client}
		extractor = &channelExtractor{c: client}
	} else {
		util.Warn("fleethost: no llm_service_url configured, subtitle and banner analysis disabled")
	}

	analyzerCfg := analyzer.DefaultConfig()
	analyzerCfg.MacroblockThreshold = cfg.GetMacroblockThreshold()
	audio := capture.NewAudioProbe(ingestor)
	chunker := analyzer.NewFSChunker(captureRoot)
	frameAnalyzer := analyzer.New(analyzerCfg, captureRoot, queue, ai, audio, chunker)

	reg := metrics.New(prometheus.DefaultRegisterer)
	frameAnalyzer.SetObserver(analysisObservers{
		ring,
		&analysisMetrics{reg: reg, queue: queue, overload: analyzerCfg.OverloadThreshold},
	})

	go func() {
		for {
			err := frameAnalyzer.Run(ctx)
			if ctx.Err() != nil {
				return
			}
			util.Errorf("fleethost: analyzer stopped: %v, restarting", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}()

	for _, dev := range cfg.Devices {
		startDevice(ctx, cfg, dev, queue, hub, captureRoot)
	}

	zap := &zapMetrics{inner: newZapDeps(ring, extractor), reg: reg}

	deps := &hostapi.Deps{
		HostName:    cfg.HostName,
		Driver:      newADBDriver(cfg, ingestor),
		AV:          &avAdapter{i: ingestor},
		Zap:         zap,
		Hub:         hub,
		CaptureRoot: captureRoot,
	}
	return &daemon{deps: deps, hub: hub}, nil
}

// startDevice launches the frame and segment producer loops for one
// device, restarting them with a short delay on failure — the teacher's
// process-supervision posture for long-lived child workers.
func startDevice(ctx context.Context, cfg *config.Config, dev config.DeviceConfig, queue *analyzer.Queue, hub *hostapi.Hub, captureRoot string) {
	var source capture.Source
	switch {
	case dev.SSHAddr != "":
		source = capture.NewSSHSource(dev.SSHAddr, dev.SSHUser, dev.SSHPassword, dev.SSHCaptureDir)
	case dev.StreamURL != "":
		source = newHTTPSource(dev.StreamURL)
	default:
		util.WithDevice(dev.DeviceID).Warn("fleethost: no stream_url or ssh_addr configured, device served without capture")
		return
	}
	source = &notifyingSource{Source: source, hub: hub, deviceID: dev.DeviceID}

	sink := capture.Sinks(queue, hub)
	producer := capture.NewProducer(captureRoot, cfg.HostName, dev.DeviceID, source, sink)

	supervise := func(name string, run func(context.Context) error) {
		go func() {
			for {
				err := run(ctx)
				if ctx.Err() != nil {
					return
				}
				util.WithDevice(dev.DeviceID).Warnf("fleethost: %s loop exited: %v, restarting", name, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(2 * time.Second):
				}
			}
		}()
	}
	supervise("frame", producer.Run)
	supervise("segment", producer.RunSegments)
}

func advertiseBase(cfg *config.Config) string {
	if advertiseURL != "" {
		return advertiseURL
	}
	addr := listenAddr
	if strings.HasPrefix(addr, ":") {
		addr = cfg.HostName + addr
	}
	return "http://" + addr
}

// registerWithOrchestrator announces this daemon's base URL to fleetd so
// the Host Proxy can route RPCs here (§4.8).
func registerWithOrchestrator(cfg *config.Config) {
	payload, _ := json.Marshal(map[string]string{
		"host_name": cfg.HostName,
		"base_url":  advertiseBase(cfg),
	})
	url := strings.TrimRight(cfg.ServerURL, "/") + "/server/hosts/register"
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		util.Warnf("fleethost: registering with orchestrator: %v", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		util.Warnf("fleethost: orchestrator registration returned %d", resp.StatusCode)
		return
	}
	util.Infof("fleethost: registered with orchestrator at %s", cfg.ServerURL)
}

// avAdapter flattens capture.Ingestor's LatestJSON result onto the
// hostapi.AV tuple shape.
type avAdapter struct {
	i *capture.Ingestor
}

func (a *avAdapter) LatestJSON(host, deviceID string) (string, int, time.Time, error) {
	res, err := a.i.LatestJSON(host, deviceID)
	if err != nil {
		return "", 0, time.Time{}, err
	}
	return res.JSONURL, res.Sequence, res.Timestamp, nil
}

func (a *avAdapter) TakeScreenshot(host, deviceID string) (string, error) {
	return a.i.TakeScreenshot(host, deviceID)
}

// aiAdapter satisfies analyzer.AIService over the llmservice client.
type aiAdapter struct {
	c *llmservice.Client
}

func (a *aiAdapter) DetectSubtitle(ctx context.Context, jpeg []byte) (string, error) {
	return a.c.DetectSubtitle(jpeg)
}

func (a *aiAdapter) DetectSpeech(ctx context.Context, pcm []byte) (bool, error) {
	return a.c.DetectSpeech(pcm)
}

// analysisObservers fans the analyzer's post-sidecar hook out to several
// observers (the zap frame ring and the metrics recorder).
type analysisObservers []analyzer.Observer

func (o analysisObservers) RecordProcessed(host, deviceID string, frame capture.Frame, rec analyzer.Record) {
	for _, obs := range o {
		obs.RecordProcessed(host, deviceID, frame, rec)
	}
}

// analysisMetrics records the queue-depth gauge and frame counter after
// every processed frame.
type analysisMetrics struct {
	reg      *metrics.Registry
	queue    *analyzer.Queue
	overload int
}

func (m *analysisMetrics) RecordProcessed(host, deviceID string, frame capture.Frame, rec analyzer.Record) {
	depth := m.queue.Depth()
	m.reg.SetQueueDepth(host, deviceID, depth)
	m.reg.ObserveFrame(deviceID, depth > m.overload)
}

// zapMetrics counts zap outcomes around the underlying registry.
type zapMetrics struct {
	inner *hostapi.ZapRegistry
	reg   *metrics.Registry
}

func (z *zapMetrics) Observe(deviceID, actionCommand string, keyReleaseTS time.Time) (zapdetect.ZapEvent, error) {
	event, err := z.inner.Observe(deviceID, actionCommand, keyReleaseTS)
	if err == nil {
		z.reg.ObserveZapEvent(string(event.Method), event.Detected)
	}
	return event, err
}

func (z *zapMetrics) Reset(deviceID string) {
	z.inner.Reset(deviceID)
}

func newZapDeps(ring *hostapi.FrameRing, extractor *channelExtractor) *hostapi.ZapRegistry {
	if extractor == nil {
		return hostapi.NewZapRegistry(ring, nil, nil)
	}
	return hostapi.NewZapRegistry(ring, bannerHeuristic{}, extractor)
}

func (d *daemon) Close() {
	if d.hub != nil {
		d.hub.Close()
	}
}
