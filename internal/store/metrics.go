package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dobrevit/formwaf/internal/werrors"
)

// MetricsInstanceTTL guards per-instance counter hashes so dead instances
// age out of the aggregate.
const MetricsInstanceTTL = 300 * time.Second

// PushInstanceCounters writes one instance's counters and the sibling
// timestamp key in a single transaction.
func (c *Client) PushInstanceCounters(ctx context.Context, instanceID string, counters map[string]float64, now time.Time) error {
	if len(counters) == 0 {
		return nil
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	fields := make(map[string]interface{}, len(counters))
	for k, v := range counters {
		fields[k] = strconv.FormatFloat(v, 'f', -1, 64)
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, KeyMetricsInstance(instanceID), fields)
	pipe.Expire(ctx, KeyMetricsInstance(instanceID), MetricsInstanceTTL)
	pipe.Set(ctx, KeyMetricsInstanceUpdated(instanceID), now.Unix(), MetricsInstanceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return werrors.TransientStore("push instance counters", err)
	}
	return nil
}

// ScanInstanceCounterKeys iterates the per-instance counter keys with a
// non-blocking SCAN, excluding the sibling timestamp keys.
func (c *Client) ScanInstanceCounterKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, KeyMetricsInstancePattern(), 100).Result()
		if err != nil {
			return nil, werrors.TransientStore("scan instance metrics", err)
		}
		for _, k := range batch {
			if !strings.HasSuffix(k, ":updated") {
				keys = append(keys, k)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// ReadInstanceCounters reads every given counter hash through one pipeline.
func (c *Client) ReadInstanceCounters(ctx context.Context, keys []string) ([]map[string]float64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, werrors.TransientStore("pipeline read counters", err)
	}

	out := make([]map[string]float64, 0, len(keys))
	for _, cmd := range cmds {
		raw, err := cmd.Result()
		if err != nil {
			continue
		}
		counters := make(map[string]float64, len(raw))
		for field, v := range raw {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				continue
			}
			counters[field] = f
		}
		out = append(out, counters)
	}
	return out, nil
}

// WriteGlobalCounters writes the cluster aggregate and its freshness
// timestamp. metrics:global is deliberately not TTL-guarded; callers must
// re-check leadership before invoking this.
func (c *Client) WriteGlobalCounters(ctx context.Context, counters map[string]float64, instanceCount int, now time.Time) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	fields := make(map[string]interface{}, len(counters)+1)
	for k, v := range counters {
		fields[k] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	fields["instance_count"] = strconv.Itoa(instanceCount)

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, KeyMetricsGlobal())
	pipe.HSet(ctx, KeyMetricsGlobal(), fields)
	pipe.Set(ctx, KeyMetricsGlobalUpdated(), now.Unix(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return werrors.TransientStore("write global counters", err)
	}
	return nil
}

// ReadGlobalCounters reads the cluster aggregate and its freshness
// timestamp. Readers tolerate stale data by surfacing last_updated.
func (c *Client) ReadGlobalCounters(ctx context.Context) (map[string]float64, int64, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	raw, err := c.rdb.HGetAll(ctx, KeyMetricsGlobal()).Result()
	if err != nil {
		return nil, 0, werrors.TransientStore("read global counters", err)
	}
	counters := make(map[string]float64, len(raw))
	for field, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		counters[field] = f
	}

	updated, err := c.rdb.Get(ctx, KeyMetricsGlobalUpdated()).Int64()
	if err == redis.Nil {
		updated = 0
	} else if err != nil {
		return nil, 0, werrors.TransientStore("read global counters timestamp", err)
	}
	return counters, updated, nil
}

// AppendLearnedFields records observed field names for an endpoint.
func (c *Client) AppendLearnedFields(ctx context.Context, endpointID string, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	members := make([]interface{}, len(fields))
	for i, f := range fields {
		members[i] = f
	}
	if err := c.rdb.SAdd(ctx, KeyLearnedFields(endpointID), members...).Err(); err != nil {
		return werrors.TransientStore("append learned fields", err)
	}
	return nil
}

// LearnedFields reads the observed field-name set for an endpoint.
func (c *Client) LearnedFields(ctx context.Context, endpointID string) ([]string, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	out, err := c.rdb.SMembers(ctx, KeyLearnedFields(endpointID)).Result()
	if err != nil {
		return nil, werrors.TransientStore("read learned fields", err)
	}
	return out, nil
}
