package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/werrors"
)

const (
	// HeartbeatTTL guards the per-instance heartbeat key.
	HeartbeatTTL = 90 * time.Second
	// LeaderTTL guards the leadership key; worst-case failover bound.
	LeaderTTL = 30 * time.Second
)

// renewScript renews the leader key only while the caller still holds it.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the leader key only while the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RegisterInstance writes the instance record into the cluster registry.
func (c *Client) RegisterInstance(ctx context.Context, rec *model.InstanceRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return werrors.Internal("encode instance "+rec.ID, err)
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.rdb.HSet(ctx, KeyClusterInstances(), rec.ID, raw).Err(); err != nil {
		return werrors.TransientStore("register instance "+rec.ID, err)
	}
	return nil
}

// Heartbeat refreshes the TTL-guarded heartbeat key and the registry
// record's last_heartbeat in one transaction.
func (c *Client) Heartbeat(ctx context.Context, rec *model.InstanceRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return werrors.Internal("encode instance "+rec.ID, err)
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, KeyInstanceHeartbeat(rec.ID), rec.LastHeartbeat, HeartbeatTTL)
	pipe.HSet(ctx, KeyClusterInstances(), rec.ID, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return werrors.TransientStore("heartbeat "+rec.ID, err)
	}
	return nil
}

// ListInstances reads the full cluster registry.
func (c *Client) ListInstances(ctx context.Context) ([]*model.InstanceRecord, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	raw, err := c.rdb.HGetAll(ctx, KeyClusterInstances()).Result()
	if err != nil {
		return nil, werrors.TransientStore("list instances", err)
	}
	out := make([]*model.InstanceRecord, 0, len(raw))
	for id, body := range raw {
		var rec model.InstanceRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			c.logger.WithComponent("store").WithField("instance_id", id).Warn("Dropping undecodable instance record")
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

// RemoveInstance deletes an instance's registry record and heartbeat key.
func (c *Client) RemoveInstance(ctx context.Context, id string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	pipe := c.rdb.TxPipeline()
	pipe.HDel(ctx, KeyClusterInstances(), id)
	pipe.Del(ctx, KeyInstanceHeartbeat(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return werrors.TransientStore("remove instance "+id, err)
	}
	return nil
}

// AcquireLeader attempts to take or renew leadership. Exactly one instance
// can succeed per election round: acquisition is SET-NX-PX, renewal a
// compare-and-expire script. Returns true while the caller is the leader.
func (c *Client) AcquireLeader(ctx context.Context, instanceID string) (bool, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	ok, err := c.rdb.SetNX(ctx, KeyClusterLeader(), instanceID, LeaderTTL).Result()
	if err != nil {
		return false, werrors.TransientStore("acquire leader", err)
	}
	if ok {
		return true, nil
	}

	// Key exists: renew only when we already hold it.
	res, err := renewScript.Run(ctx, c.rdb, []string{KeyClusterLeader()}, instanceID, LeaderTTL.Milliseconds()).Int64()
	if err != nil {
		return false, werrors.TransientStore("renew leader", err)
	}
	return res == 1, nil
}

// CurrentLeader reads the leader key, empty when no leader is elected.
func (c *Client) CurrentLeader(ctx context.Context) (string, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	id, err := c.rdb.Get(ctx, KeyClusterLeader()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", werrors.TransientStore("current leader", err)
	}
	return id, nil
}

// IsLeader re-checks leadership. Leader-only writers call this before each
// write so an expired ex-leader cannot corrupt shared state.
func (c *Client) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	id, err := c.CurrentLeader(ctx)
	if err != nil {
		return false, err
	}
	return id == instanceID, nil
}

// ReleaseLeader gives up leadership if currently held.
func (c *Client) ReleaseLeader(ctx context.Context, instanceID string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := releaseScript.Run(ctx, c.rdb, []string{KeyClusterLeader()}, instanceID).Err(); err != nil && err != redis.Nil {
		return werrors.TransientStore("release leader", err)
	}
	return nil
}
