package lock

import "testing"

func TestDefaultConfigGraceTTL(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ttl().Seconds() != 30 {
		t.Errorf("expected 30s base TTL, got %v", cfg.ttl())
	}
	if cfg.graceFactor() != 3 {
		t.Errorf("expected grace factor 3, got %d", cfg.graceFactor())
	}
	if cfg.graceTTL().Seconds() != 90 {
		t.Errorf("expected 90s grace TTL, got %v", cfg.graceTTL())
	}
}

func TestZeroConfigFallsBackToDefaults(t *testing.T) {
	var cfg Config
	if cfg.ttl().Seconds() != 30 {
		t.Errorf("expected fallback 30s TTL, got %v", cfg.ttl())
	}
	if cfg.graceFactor() != 3 {
		t.Errorf("expected fallback grace factor 3, got %d", cfg.graceFactor())
	}
}

func TestLeaseCodecRoundTrip(t *testing.T) {
	l := Lease{HostName: "h1", DeviceID: "d1", SessionID: "s1", UserID: "u1"}
	data, err := encodeLease(l)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeLease(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "s1" || got.UserID != "u1" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}
