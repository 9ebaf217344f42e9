package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-redis/redis/v8"

	"github.com/dobrevit/formwaf/internal/werrors"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("store: entity not found")

// getJSON reads and decodes a JSON entity, mapping redis.Nil to ErrNotFound.
func (c *Client) getJSON(ctx context.Context, k string, dst interface{}) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	raw, err := c.rdb.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return werrors.TransientStore("get "+k, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return werrors.Internal("decode "+k, err)
	}
	return nil
}

// setJSON encodes and writes a JSON entity.
func (c *Client) setJSON(ctx context.Context, k string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return werrors.Internal("encode "+k, err)
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	if err := c.rdb.Set(ctx, k, raw, 0).Err(); err != nil {
		return werrors.TransientStore("set "+k, err)
	}
	return nil
}

// listJSONByIndex enumerates an index sorted set in score order and reads
// every member's config body through one pipeline. Members whose config key
// has vanished between the index read and the pipeline are skipped.
func (c *Client) listJSONByIndex(ctx context.Context, indexKey string, configKey func(id string) string, decode func(id string, raw []byte) error) error {
	ids, err := c.rdb.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return werrors.TransientStore("zrange "+indexKey, err)
	}
	if len(ids) == 0 {
		return nil
	}

	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, configKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return werrors.TransientStore("pipeline get "+indexKey, err)
	}

	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return werrors.TransientStore("get "+configKey(ids[i]), err)
		}
		if err := decode(ids[i], raw); err != nil {
			return err
		}
	}
	return nil
}
