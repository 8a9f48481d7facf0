package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fleetlab/fleetlab/pkg/util"
)

// renewScript atomically renews a lease's expiry only if the key's current
// value still belongs to the calling session. Heartbeat must not GET the
// lease, decide in Go that it's still owned, and then SET unconditionally:
// a concurrent TakeControl can acquire the key (via SetNX, once the old
// key has expired) in the window between that GET and the SET, and the
// unconditional SET would silently stomp the new owner's lease. Folding
// the compare and the write into one EVAL closes that window — Redis
// executes the script atomically, so the check is against the value at
// write time, not at some earlier read.
var renewScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false then
    return 0
end
local ok, decoded = pcall(cjson.decode, current)
if not ok or decoded["session_id"] ~= ARGV[1] then
    return 0
end
decoded["expires_at"] = ARGV[2]
redis.call("SET", KEYS[1], cjson.encode(decoded), "PX", ARGV[3])
return 1
`)

// releaseScript atomically deletes a lease only if it is still owned by
// the calling session, for the same reason: a plain GET-then-DEL can
// delete a lease a different session has since acquired.
var releaseScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false then
    return 1
end
local ok, decoded = pcall(cjson.decode, current)
if not ok or decoded["session_id"] ~= ARGV[1] then
    return 0
end
redis.call("DEL", KEYS[1])
return 1
`)

// renewIfOwner extends the lease's TTL to ttl iff sessionID still owns it,
// in one atomic Redis round trip. Returns util.ErrLeaseExpired if the
// lease is absent or owned by a different session.
func (m *Manager) renewIfOwner(ctx context.Context, key, sessionID, expiresAt string, ttl time.Duration) error {
	res, err := renewScript.Run(ctx, m.redis, []string{key}, sessionID, expiresAt, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("lock: renewing %s: %w", key, err)
	}
	if n, ok := res.(int64); !ok || n != 1 {
		return util.ErrLeaseExpired
	}
	return nil
}

// deleteIfOwner removes the lease iff sessionID still owns it (or it is
// already absent), in one atomic Redis round trip.
func (m *Manager) deleteIfOwner(ctx context.Context, key, sessionID string) (released bool, err error) {
	res, err := releaseScript.Run(ctx, m.redis, []string{key}, sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("lock: releasing %s: %w", key, err)
	}
	n, ok := res.(int64)
	return ok && n == 1, nil
}
