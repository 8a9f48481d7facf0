package scriptexec

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleResults() []*ScenarioResult {
	return []*ScenarioResult{
		{
			Name:     "zap-smoke",
			Host:     "rack1-host3",
			Device:   "living-room-tv",
			Status:   StepPassed,
			Duration: 14 * time.Second,
			Summary: RunSummary{
				ScriptSuccess: true,
				StepResults: []StepResult{
					{From: "home", To: "settings", Status: StepPassed, Duration: 3 * time.Second},
					{From: "settings", To: "live_tv", Status: StepPassed, Duration: 11 * time.Second},
				},
			},
		},
		{
			Name:     "settings-walk",
			Host:     "rack1-host3",
			Device:   "living-room-tv",
			Status:   StepFailed,
			Duration: 6 * time.Second,
			Summary: RunSummary{
				StepResults: []StepResult{
					{From: "home", To: "settings", Status: StepPassed, Duration: 2 * time.Second},
					{From: "settings", To: "privacy", Status: StepFailed, Message: "verification failed", Duration: 4 * time.Second},
				},
			},
		},
		{
			Name:       "audio-check",
			Host:       "rack1-host3",
			Device:     "living-room-tv",
			Status:     StepSkipped,
			SkipReason: "suite pausing",
		},
	}
}

func TestPrintConsole(t *testing.T) {
	g := &ReportGenerator{Results: sampleResults()}
	var buf bytes.Buffer
	g.PrintConsole(&buf)

	out := buf.String()
	for _, want := range []string{
		"zap-smoke",
		"PASS: zap-smoke (2/2 steps passed",
		"FAIL: settings-walk (1/2 steps passed",
		"skipped: suite pausing",
		"verification failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteMarkdown(t *testing.T) {
	g := &ReportGenerator{Results: sampleResults()}
	path := filepath.Join(t.TempDir(), "reports", "suite.md")
	if err := g.WriteMarkdown(path); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	md := string(data)
	for _, want := range []string{
		"| Scenario | Host | Device |",
		"| zap-smoke | rack1-host3 | living-room-tv | PASS |",
		"## Failures",
		"Step settings → privacy: verification failed",
		"suite pausing",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestWriteJUnit(t *testing.T) {
	g := &ReportGenerator{Results: sampleResults()}
	path := filepath.Join(t.TempDir(), "reports", "junit.xml")
	if err := g.WriteJUnit(path); err != nil {
		t.Fatalf("WriteJUnit: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	x := string(data)
	for _, want := range []string{
		`<testsuite name="zap-smoke" tests="2" failures="0"`,
		`<testsuite name="settings-walk" tests="2" failures="1"`,
		`message="verification failed"`,
		`skipped="1"`,
	} {
		if !strings.Contains(x, want) {
			t.Errorf("junit missing %q:\n%s", want, x)
		}
	}
}
