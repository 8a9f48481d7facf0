// Package config resolves persistent settings and environment overrides
// shared by the fleetd/fleethost/fleetscript binaries.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// DefaultCaptureRoot is the default capture filesystem root used when no
// override is configured.
const DefaultCaptureRoot = "/var/lib/fleet/capture"

const (
	// DefaultLeaseTTLSeconds is the base lease duration before renewal.
	DefaultLeaseTTLSeconds = 30
	// DefaultLeaseGraceFactor is the multiple of the base lease TTL a
	// lease survives without renewal before it is considered expired.
	DefaultLeaseGraceFactor = 3
	// DefaultMacroblockThreshold is the empirical edge-density score above
	// which a frame is flagged as having macroblocking artifacts.
	DefaultMacroblockThreshold = 35.0
	// DefaultHostProxyRetries is the number of bounded-backoff retries the
	// Host Proxy attempts before surfacing a transport error.
	DefaultHostProxyRetries = 2
	// DefaultAuditMaxSizeMB is the default maximum audit log size in megabytes.
	DefaultAuditMaxSizeMB = 10
	// DefaultAuditMaxBackups is the default maximum number of rotated audit log files.
	DefaultAuditMaxBackups = 10
)

// Config holds persistent, file-backed settings overridable by environment
// variables per the external-interfaces contract (§6): SERVER_URL, TEAM_ID,
// HOST_NAME, DEVICE_ID.
type Config struct {
	// ServerURL is the orchestrator base URL used by fleetscript and fleethost.
	ServerURL string `json:"server_url,omitempty"`

	// TeamID scopes references, trees and disambiguation mappings.
	TeamID string `json:"team_id,omitempty"`

	// HostName identifies this host machine to the orchestrator.
	HostName string `json:"host_name,omitempty"`

	// DeviceID is the default device for single-device CLI invocations.
	DeviceID string `json:"device_id,omitempty"`

	// CaptureRoot overrides the default capture filesystem root.
	CaptureRoot string `json:"capture_root,omitempty"`

	// PostgresDSN is the navigation graph store's connection string.
	PostgresDSN string `json:"postgres_dsn,omitempty"`

	// RedisAddr backs the Navigation Cache mirror and the Lock Manager.
	RedisAddr string `json:"redis_addr,omitempty"`

	// LLMServiceURL is the base URL for the OCR/description/translate collaborator.
	LLMServiceURL string `json:"llm_service_url,omitempty"`

	// S3Bucket names the object-store bucket for reference artifacts; when
	// empty, artifacts stay on the local filesystem.
	S3Bucket string `json:"s3_bucket,omitempty"`

	// S3Endpoint overrides the S3 endpoint for S3-compatible stores
	// (MinIO and friends); empty uses the default AWS endpoint.
	S3Endpoint string `json:"s3_endpoint,omitempty"`

	// S3BaseURL is the public base URL artifact links are built from.
	S3BaseURL string `json:"s3_base_url,omitempty"`

	// LeaseTTLSeconds is the base lease duration before renewal.
	LeaseTTLSeconds int `json:"lease_ttl_seconds,omitempty"`

	// LeaseGraceFactor is the heartbeat-grace multiplier (Open Question #1).
	LeaseGraceFactor int `json:"lease_grace_factor,omitempty"`

	// MacroblockThreshold is the Frame Analyzer's quality threshold (Open Question #3).
	MacroblockThreshold float64 `json:"macroblock_threshold,omitempty"`

	// HostProxyRetries is the Host Proxy's bounded retry count.
	HostProxyRetries int `json:"host_proxy_retries,omitempty"`

	// AuditLogPath overrides the default audit log path.
	AuditLogPath string `json:"audit_log_path,omitempty"`

	// AuditMaxSizeMB is the max audit log size in MB before rotation.
	AuditMaxSizeMB int `json:"audit_max_size_mb,omitempty"`

	// AuditMaxBackups is the max number of rotated audit log files.
	AuditMaxBackups int `json:"audit_max_backups,omitempty"`

	// Devices lists the devices attached to this machine; only fleethost
	// reads it.
	Devices []DeviceConfig `json:"devices,omitempty"`
}

// DeviceConfig describes one physical device a fleethost daemon owns.
type DeviceConfig struct {
	// DeviceID identifies the device to the orchestrator.
	DeviceID string `json:"device_id"`

	// DeviceModel selects the Command Registry catalog for the device.
	DeviceModel string `json:"device_model,omitempty"`

	// StreamURL is the device's AV feed the capture producer pulls
	// keyframes and HLS segments from over HTTP.
	StreamURL string `json:"stream_url,omitempty"`

	// SSHAddr, SSHUser, SSHPassword and SSHCaptureDir describe a capture
	// appliance that only exports its recordings as files over SSH; when
	// SSHAddr is set it takes precedence over StreamURL.
	SSHAddr       string `json:"ssh_addr,omitempty"`
	SSHUser       string `json:"ssh_user,omitempty"`
	SSHPassword   string `json:"ssh_password,omitempty"`
	SSHCaptureDir string `json:"ssh_capture_dir,omitempty"`

	// ADBSerial is the adb target used for input commands; empty for
	// devices driven purely over IR or browser automation.
	ADBSerial string `json:"adb_serial,omitempty"`
}

// DefaultConfigPath returns the default path for the config file.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/fleet_config.json"
	}
	return filepath.Join(home, ".fleet", "config.json")
}

// Load reads config from the default location, then applies environment overrides.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigPath())
}

// LoadFrom reads config from a specific path, then applies environment overrides.
func LoadFrom(path string) (*Config, error) {
	c := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, c); err != nil {
		return nil, err
	}

	c.applyEnv()
	return c, nil
}

// applyEnv overrides fields with SERVER_URL/TEAM_ID/HOST_NAME/DEVICE_ID when set.
func (c *Config) applyEnv() {
	if v := os.Getenv("SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("TEAM_ID"); v != "" {
		c.TeamID = v
	}
	if v := os.Getenv("HOST_NAME"); v != "" {
		c.HostName = v
	}
	if v := os.Getenv("DEVICE_ID"); v != "" {
		c.DeviceID = v
	}
	if v := os.Getenv("FLEET_LEASE_GRACE_FACTOR"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			c.LeaseGraceFactor = n
		}
	}
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, os.ErrInvalid
	}
	return n, nil
}

// Save writes config to the default location.
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigPath())
}

// SaveTo writes config to a specific path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetCaptureRoot returns the capture root with a fallback default.
func (c *Config) GetCaptureRoot() string {
	if c.CaptureRoot != "" {
		return c.CaptureRoot
	}
	return DefaultCaptureRoot
}

// GetLeaseTTLSeconds returns the lease TTL with a fallback default.
func (c *Config) GetLeaseTTLSeconds() int {
	if c.LeaseTTLSeconds > 0 {
		return c.LeaseTTLSeconds
	}
	return DefaultLeaseTTLSeconds
}

// GetLeaseGraceFactor returns the heartbeat grace multiplier with a fallback default.
func (c *Config) GetLeaseGraceFactor() int {
	if c.LeaseGraceFactor > 0 {
		return c.LeaseGraceFactor
	}
	return DefaultLeaseGraceFactor
}

// GetMacroblockThreshold returns the macroblock edge-density threshold with a fallback default.
func (c *Config) GetMacroblockThreshold() float64 {
	if c.MacroblockThreshold > 0 {
		return c.MacroblockThreshold
	}
	return DefaultMacroblockThreshold
}

// GetHostProxyRetries returns the bounded retry count with a fallback default.
func (c *Config) GetHostProxyRetries() int {
	if c.HostProxyRetries > 0 {
		return c.HostProxyRetries
	}
	return DefaultHostProxyRetries
}

// GetAuditLogPath returns the audit log path with a fallback default.
func (c *Config) GetAuditLogPath() string {
	if c.AuditLogPath != "" {
		return c.AuditLogPath
	}
	return "/var/log/fleet/audit.log"
}

// GetAuditMaxSizeMB returns the audit max size in MB with a default of 10.
func (c *Config) GetAuditMaxSizeMB() int {
	if c.AuditMaxSizeMB > 0 {
		return c.AuditMaxSizeMB
	}
	return DefaultAuditMaxSizeMB
}

// GetAuditMaxBackups returns the audit max backups with a default of 10.
func (c *Config) GetAuditMaxBackups() int {
	if c.AuditMaxBackups > 0 {
		return c.AuditMaxBackups
	}
	return DefaultAuditMaxBackups
}

// Clear resets all fields to defaults.
func (c *Config) Clear() {
	*c = Config{}
}
