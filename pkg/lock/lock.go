// Package lock is the Lock Manager (C7): exclusive per-device leases with
// session identity, heartbeat renewal, and auto-release. Grounded on
// pkg/newtest/state.go's AcquireLock/ReleaseLock PID-file idiom, generalized
// to a Redis SET NX PX lease since leases here are cross-process/cross-host
// rather than single-machine.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrorType enumerates the takeControl failure modes (§4.7).
type ErrorType string

const (
	ErrTypeDeviceLocked      ErrorType = "device_locked"
	ErrTypeDeviceNotFound    ErrorType = "device_not_found"
	ErrTypeStreamService     ErrorType = "stream_service_error"
	ErrTypeADBConnection     ErrorType = "adb_connection_error"
	ErrTypeNetwork           ErrorType = "network_error"
)

// Lease is the persisted device lock row (§3 Device Lease).
type Lease struct {
	HostName  string    `json:"host_name"`
	DeviceID  string    `json:"device_id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	TreeID    string    `json:"tree_id,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// TakeControlError is returned by TakeControl on failure; it never exposes
// the owning session id of another user, only their user_id (§4.7).
type TakeControlError struct {
	Type   ErrorType
	Detail string
	// OwnerUserID is set only for ErrTypeDeviceLocked.
	OwnerUserID string
}

func (e *TakeControlError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Type, e.Detail)
	}
	return string(e.Type)
}

// Binder binds/unbinds the stream and input services to a session once a
// lease is acquired/released (§4.7 "downstream stream and input services
// are bound to the session"). Implemented by pkg/hostproxy.
type Binder interface {
	Bind(ctx context.Context, hostName, deviceID, sessionID string) error
	Unbind(ctx context.Context, hostName, deviceID, sessionID string) error
}

// Config controls lease TTL and the heartbeat grace window.
type Config struct {
	// TTLSeconds is the base lease duration before renewal.
	TTLSeconds int
	// GraceFactor is the heartbeat-grace multiplier (Open Question #1):
	// the Redis key expires TTLSeconds*GraceFactor after the last
	// acquire or heartbeat, which invalidates the lease. Configurable, not hardcoded, per the spec's open question.
	GraceFactor int
}

// DefaultConfig returns the documented defaults (30s TTL, 3x grace).
func DefaultConfig() Config {
	return Config{TTLSeconds: 30, GraceFactor: 3}
}

func (c Config) ttl() time.Duration {
	if c.TTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c Config) graceFactor() int {
	if c.GraceFactor <= 0 {
		return 3
	}
	return c.GraceFactor
}

// graceTTL is the full TTL applied to the Redis key: base TTL times the
// grace factor, so a lease survives GraceFactor base TTLs without renewal
// before Redis expires the key itself.
func (c Config) graceTTL() time.Duration {
	return c.ttl() * time.Duration(c.graceFactor())
}

// Manager is the Lock Manager (C7). One Redis key per (host, device) holds
// the lease as a SET NX PX, giving linearizable acquire/release per device
// without a separate distributed lock.
type Manager struct {
	redis  *redis.Client
	cfg    Config
	binder Binder

	mu      sync.Mutex
	localMu map[string]*sync.Mutex // best-effort same-process serialization
}

// New creates a Manager backed by redisClient. binder may be nil in tests
// that don't exercise stream/input binding.
func New(redisClient *redis.Client, cfg Config, binder Binder) *Manager {
	return &Manager{redis: redisClient, cfg: cfg, binder: binder, localMu: make(map[string]*sync.Mutex)}
}

func leaseKey(hostName, deviceID string) string {
	return fmt.Sprintf("lock:lease:%s:%s", hostName, deviceID)
}

// TakeControl acquires an exclusive lease for (hostName, deviceID), binding
// the session's stream/input services on success. A concurrent call on a
// locked device always fails fast with ErrTypeDeviceLocked carrying the
// current owner's user_id, never their session id (§4.7, invariant 1).
func (m *Manager) TakeControl(ctx context.Context, hostName, deviceID, sessionID, userID, treeID string) error {
	key := leaseKey(hostName, deviceID)
	lease := Lease{
		HostName: hostName, DeviceID: deviceID, SessionID: sessionID,
		UserID: userID, TreeID: treeID,
		AcquiredAt: time.Now(), ExpiresAt: time.Now().Add(m.cfg.ttl()),
	}
	payload, err := encodeLease(lease)
	if err != nil {
		return &TakeControlError{Type: ErrTypeNetwork, Detail: err.Error()}
	}

	ok, err := m.redis.SetNX(ctx, key, payload, m.cfg.graceTTL()).Result()
	if err != nil {
		return &TakeControlError{Type: ErrTypeNetwork, Detail: err.Error()}
	}
	if !ok {
		existing, gerr := m.get(ctx, hostName, deviceID)
		if gerr != nil || existing == nil {
			return &TakeControlError{Type: ErrTypeDeviceLocked}
		}
		return &TakeControlError{Type: ErrTypeDeviceLocked, OwnerUserID: existing.UserID}
	}

	if m.binder != nil {
		if err := m.binder.Bind(ctx, hostName, deviceID, sessionID); err != nil {
			m.redis.Del(ctx, key)
			return &TakeControlError{Type: ErrTypeStreamService, Detail: err.Error()}
		}
	}
	return nil
}

// ReleaseControl releases a lease. Idempotent: it succeeds if the caller
// owns the lease, or the lease is already absent (§4.7). The ownership
// check and the delete happen inside a single Redis EVAL (deleteIfOwner)
// so a lease a different session has since acquired is never deleted out
// from under it.
func (m *Manager) ReleaseControl(ctx context.Context, hostName, deviceID, sessionID string) error {
	key := leaseKey(hostName, deviceID)
	released, err := m.deleteIfOwner(ctx, key, sessionID)
	if err != nil {
		return err
	}
	if released && m.binder != nil {
		_ = m.binder.Unbind(ctx, hostName, deviceID, sessionID)
	}
	return nil
}

// Heartbeat renews the lease's TTL, keeping it alive past the grace
// window. Returns util.ErrLeaseExpired if the lease no longer exists or
// belongs to a different session. The ownership check and the renewal
// happen inside a single Redis EVAL (renewIfOwner, pkg/lock/renew.go) —
// not a GET followed by an unconditional SET — so a lease that has
// expired and been re-acquired by another session is never clobbered by
// a stale in-flight heartbeat from the session that used to own it.
func (m *Manager) Heartbeat(ctx context.Context, hostName, deviceID, sessionID string) error {
	expiresAt, err := time.Now().Add(m.cfg.ttl()).MarshalText()
	if err != nil {
		return err
	}
	return m.renewIfOwner(ctx, leaseKey(hostName, deviceID), sessionID, string(expiresAt), m.cfg.graceTTL())
}

// Get returns the current lease for (hostName, deviceID), or nil if none.
func (m *Manager) Get(ctx context.Context, hostName, deviceID string) (*Lease, error) {
	return m.get(ctx, hostName, deviceID)
}

func (m *Manager) get(ctx context.Context, hostName, deviceID string) (*Lease, error) {
	data, err := m.redis.Get(ctx, leaseKey(hostName, deviceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock: reading lease %s/%s: %w", hostName, deviceID, err)
	}
	lease, err := decodeLease(data)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// Shutdown releases every lease held by this process's sessions. Called on
// explicit server shutdown (§4.7's third auto-release path). leases is
// the set of leases this process still considers live.
func (m *Manager) Shutdown(ctx context.Context, leases []Lease) {
	for _, l := range leases {
		_ = m.ReleaseControl(ctx, l.HostName, l.DeviceID, l.SessionID)
	}
}
