// Package llmservice is the thin client the Frame Analyzer and Zap
// Detector delegate subtitle/speech/channel-banner calls to. Grounded on
// the absence of any vendored LLM SDK in the example pack (cklxx-elephant.ai
// kept only a test for its internal/llm client) — the corpus's own pattern
// is a minimal hand-rolled HTTP JSON client against a configurable
// endpoint, not a vendored SDK, so this package follows suit.
package llmservice

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// Client is an HTTP client for the shared AI service, backing the
// subtitle/speech detection and channel-extraction calls. Its methods take
// no context and return this package's own types, so it does not satisfy
// analyzer.AIService or zapdetect.ChannelExtractor directly; fleethost
// wraps it in adapters for both.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a Client against baseURL with a bounded request timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
}

type subtitleRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type subtitleResponse struct {
	Subtitle string `json:"subtitle"`
}

// DetectSubtitle sends a frame JPEG for OCR and returns any detected
// subtitle text; fleethost's aiAdapter serves analyzer.AIService with it.
func (c *Client) DetectSubtitle(jpeg []byte) (string, error) {
	var resp subtitleResponse
	if err := c.post("/subtitle", subtitleRequest{ImageBase64: base64.StdEncoding.EncodeToString(jpeg)}, &resp); err != nil {
		return "", err
	}
	return resp.Subtitle, nil
}

type speechRequest struct {
	PCMBase64 string `json:"pcm_base64"`
}

type speechResponse struct {
	Speech bool `json:"speech"`
}

// DetectSpeech reports whether the given PCM audio sample contains
// speech; fleethost's aiAdapter serves analyzer.AIService with it.
func (c *Client) DetectSpeech(pcm []byte) (bool, error) {
	var resp speechResponse
	if err := c.post("/speech", speechRequest{PCMBase64: base64.StdEncoding.EncodeToString(pcm)}, &resp); err != nil {
		return false, err
	}
	return resp.Speech, nil
}

type channelRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type channelResponse struct {
	ChannelName string `json:"channel_name"`
	ProgramName string `json:"program_name"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

// ChannelInfo mirrors zapdetect.ChannelInfo without importing that package,
// keeping llmservice usable from both analyzer- and zapdetect-adjacent
// callers; the fleethost wiring layer copies fields across.
type ChannelInfo struct {
	ChannelName string
	ProgramName string
	StartTime   string
	EndTime     string
}

// ExtractChannelInfo runs banner OCR/parsing on a frame JPEG, satisfying
// zapdetect.ChannelExtractor (via a thin adapter in the wiring layer).
func (c *Client) ExtractChannelInfo(jpeg []byte) (*ChannelInfo, error) {
	var resp channelResponse
	if err := c.post("/channel-info", channelRequest{ImageBase64: base64.StdEncoding.EncodeToString(jpeg)}, &resp); err != nil {
		return nil, err
	}
	return &ChannelInfo{
		ChannelName: resp.ChannelName,
		ProgramName: resp.ProgramName,
		StartTime:   resp.StartTime,
		EndTime:     resp.EndTime,
	}, nil
}

func (c *Client) post(path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("llmservice: marshaling request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("llmservice: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("llmservice: calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("llmservice: %s returned status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("llmservice: decoding %s response: %w", path, err)
	}
	return nil
}
