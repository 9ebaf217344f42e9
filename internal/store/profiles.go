package store

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/werrors"
)

// PutProfile writes a defense profile body and its index entry.
func (c *Client) PutProfile(ctx context.Context, p *model.DefenseProfile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return werrors.Internal("encode profile "+p.ID, err)
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, KeyProfileConfig(p.ID), raw, 0)
	pipe.ZAdd(ctx, KeyProfilesIndex(), &redis.Z{Score: float64(p.Priority), Member: p.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return werrors.TransientStore("put profile "+p.ID, err)
	}
	return nil
}

// GetProfile reads one defense profile.
func (c *Client) GetProfile(ctx context.Context, id string) (*model.DefenseProfile, error) {
	var p model.DefenseProfile
	if err := c.getJSON(ctx, KeyProfileConfig(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles enumerates all defense profiles in priority order.
func (c *Client) ListProfiles(ctx context.Context) ([]*model.DefenseProfile, error) {
	var out []*model.DefenseProfile
	err := c.listJSONByIndex(ctx, KeyProfilesIndex(), KeyProfileConfig, func(id string, raw []byte) error {
		var p model.DefenseProfile
		if err := json.Unmarshal(raw, &p); err != nil {
			return werrors.Internal("decode profile "+id, err)
		}
		out = append(out, &p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteProfile removes a profile. Builtin profiles are protected.
func (c *Client) DeleteProfile(ctx context.Context, id string) error {
	p, err := c.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if p.Builtin {
		return werrors.Validation("builtin profiles cannot be deleted", []string{"id"})
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, KeyProfileConfig(id))
	pipe.ZRem(ctx, KeyProfilesIndex(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return werrors.TransientStore("delete profile "+id, err)
	}
	return nil
}

// BuiltinProfilesVersion reads the seeded builtin-set version, 0 when the
// cluster has never been seeded.
func (c *Client) BuiltinProfilesVersion(ctx context.Context) (int64, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	v, err := c.rdb.Get(ctx, KeyProfilesBuiltinVersion()).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, werrors.TransientStore("get builtin version", err)
	}
	return v, nil
}

// SetBuiltinProfilesVersion records the seeded builtin-set version.
func (c *Client) SetBuiltinProfilesVersion(ctx context.Context, v int64) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.rdb.Set(ctx, KeyProfilesBuiltinVersion(), v, 0).Err(); err != nil {
		return werrors.TransientStore("set builtin version", err)
	}
	return nil
}
