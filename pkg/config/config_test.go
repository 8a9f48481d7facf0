package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_Defaults(t *testing.T) {
	c := &Config{}

	if got := c.GetCaptureRoot(); got != DefaultCaptureRoot {
		t.Errorf("GetCaptureRoot() default = %q, want %q", got, DefaultCaptureRoot)
	}
	if got := c.GetLeaseGraceFactor(); got != DefaultLeaseGraceFactor {
		t.Errorf("GetLeaseGraceFactor() default = %d, want %d", got, DefaultLeaseGraceFactor)
	}
	if got := c.GetMacroblockThreshold(); got != DefaultMacroblockThreshold {
		t.Errorf("GetMacroblockThreshold() default = %v, want %v", got, DefaultMacroblockThreshold)
	}
	if got := c.GetHostProxyRetries(); got != DefaultHostProxyRetries {
		t.Errorf("GetHostProxyRetries() default = %d, want %d", got, DefaultHostProxyRetries)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "fleet-config-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "config.json")

	original := &Config{
		ServerURL:   "https://orchestrator.example.com",
		TeamID:      "acme",
		HostName:    "host-01",
		CaptureRoot: "/data/capture",
	}

	if err := original.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}

	if loaded.ServerURL != original.ServerURL {
		t.Errorf("ServerURL mismatch: got %q, want %q", loaded.ServerURL, original.ServerURL)
	}
	if loaded.TeamID != original.TeamID {
		t.Errorf("TeamID mismatch: got %q, want %q", loaded.TeamID, original.TeamID)
	}
	if loaded.CaptureRoot != original.CaptureRoot {
		t.Errorf("CaptureRoot mismatch: got %q, want %q", loaded.CaptureRoot, original.CaptureRoot)
	}
}

func TestConfig_LoadNonExistent(t *testing.T) {
	c, err := LoadFrom("/nonexistent/path/config.json")
	if err != nil {
		t.Fatalf("LoadFrom() non-existent should not error: %v", err)
	}
	if c == nil {
		t.Fatal("LoadFrom() should return non-nil Config")
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	for _, kv := range [][2]string{
		{"SERVER_URL", "https://env.example.com"},
		{"TEAM_ID", "env-team"},
		{"HOST_NAME", "env-host"},
		{"DEVICE_ID", "env-device"},
		{"FLEET_LEASE_GRACE_FACTOR", "5"},
	} {
		os.Setenv(kv[0], kv[1])
		defer os.Unsetenv(kv[0])
	}

	tmpDir, err := os.MkdirTemp("", "fleet-config-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	c, err := LoadFrom(filepath.Join(tmpDir, "config.json"))
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}

	if c.ServerURL != "https://env.example.com" {
		t.Errorf("ServerURL env override not applied: %q", c.ServerURL)
	}
	if c.TeamID != "env-team" {
		t.Errorf("TeamID env override not applied: %q", c.TeamID)
	}
	if c.HostName != "env-host" {
		t.Errorf("HostName env override not applied: %q", c.HostName)
	}
	if c.DeviceID != "env-device" {
		t.Errorf("DeviceID env override not applied: %q", c.DeviceID)
	}
	if c.GetLeaseGraceFactor() != 5 {
		t.Errorf("LeaseGraceFactor env override not applied: %d", c.GetLeaseGraceFactor())
	}
}

func TestConfig_Clear(t *testing.T) {
	c := &Config{ServerURL: "x", TeamID: "y"}
	c.Clear()
	if c.ServerURL != "" || c.TeamID != "" {
		t.Error("Clear() should reset all fields")
	}
}
