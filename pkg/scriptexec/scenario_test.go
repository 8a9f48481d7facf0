package scriptexec

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validScenarioYAML = `name: zap-smoke
description: channel-change sanity
host: rack1-host3
device: living-room-tv
tree: horizon-eu
user_id: ci
steps:
  - name: open settings
    from: home
    to: settings
    final_wait_ms: 2000
  - name: zap to live tv
    from: settings
    to: live_tv
    trigger_zap: true
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing scenario: %v", err)
	}
	return path
}

func TestLoadScenario(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "zap.yaml", validScenarioYAML)

	s, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if s.Name != "zap-smoke" {
		t.Errorf("Name = %q, want zap-smoke", s.Name)
	}
	if len(s.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(s.Steps))
	}
	if s.Steps[0].FinalWaitMS != 2000 {
		t.Errorf("step 1 FinalWaitMS = %d, want 2000", s.Steps[0].FinalWaitMS)
	}
	if !s.Steps[1].TriggerZap {
		t.Error("step 2 TriggerZap = false, want true")
	}
}

func TestLoadScenarioInvalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing device",
			yaml:    "name: x\nhost: h1\ntree: t1\nsteps:\n  - name: s\n    from: a\n    to: b\n",
			wantErr: "device is required",
		},
		{
			name:    "no steps",
			yaml:    "name: x\nhost: h1\ndevice: d1\ntree: t1\n",
			wantErr: "no steps",
		},
		{
			name:    "step without destination",
			yaml:    "name: x\nhost: h1\ndevice: d1\ntree: t1\nsteps:\n  - name: s\n    from: a\n",
			wantErr: "either to or phrase",
		},
		{
			name:    "step with both to and phrase",
			yaml:    "name: x\nhost: h1\ndevice: d1\ntree: t1\nsteps:\n  - name: s\n    from: a\n    to: b\n    phrase: the settings screen\n",
			wantErr: "mutually exclusive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, t.TempDir(), "bad.yaml", tt.yaml)
			_, err := LoadScenario(path)
			if err == nil {
				t.Fatal("LoadScenario succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadSuiteOrdering(t *testing.T) {
	dir := t.TempDir()
	second := strings.Replace(validScenarioYAML, "zap-smoke", "second", 1)
	writeScenario(t, dir, "02-second.yaml", second)
	writeScenario(t, dir, "01-first.yaml", validScenarioYAML)
	writeScenario(t, dir, "notes.txt", "not a scenario")

	scenarios, err := LoadSuite(dir)
	if err != nil {
		t.Fatalf("LoadSuite: %v", err)
	}
	if len(scenarios) != 2 {
		t.Fatalf("len(scenarios) = %d, want 2", len(scenarios))
	}
	if scenarios[0].Name != "zap-smoke" || scenarios[1].Name != "second" {
		t.Errorf("suite order = [%s, %s], want [zap-smoke, second]", scenarios[0].Name, scenarios[1].Name)
	}
}

func TestLoadSuiteEmpty(t *testing.T) {
	if _, err := LoadSuite(t.TempDir()); err == nil {
		t.Fatal("LoadSuite on empty dir succeeded, want error")
	}
}

func TestScenarioScript(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "zap.yaml", validScenarioYAML)
	s, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}

	script := s.Script("sess-1")
	if script.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", script.SessionID)
	}
	if script.HostName != "rack1-host3" || script.DeviceID != "living-room-tv" || script.TreeID != "horizon-eu" {
		t.Errorf("script identity = %s/%s tree %s", script.HostName, script.DeviceID, script.TreeID)
	}
	if len(script.Steps) != 2 || script.Steps[1].TriggerZap != true {
		t.Errorf("steps not carried over: %+v", script.Steps)
	}
}
