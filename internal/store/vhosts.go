package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/werrors"
)

// PutVhost writes a vhost body and maintains the enumeration and host
// lookup indexes in one transaction.
func (c *Client) PutVhost(ctx context.Context, v *model.Vhost) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return werrors.Internal("encode vhost "+v.ID, err)
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, KeyVhostConfig(v.ID), raw, 0)
	pipe.ZAdd(ctx, KeyVhostsIndex(), &redis.Z{Score: float64(v.Priority), Member: v.ID})
	for _, h := range v.Hostnames {
		if strings.Contains(h, "*") || model.IsCatchAll(h) {
			pipe.ZAdd(ctx, KeyVhostHostsWildcard(), &redis.Z{
				Score:  float64(v.Priority),
				Member: h + "|" + v.ID,
			})
		} else {
			pipe.HSet(ctx, KeyVhostHostsExact(), strings.ToLower(h), v.ID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return werrors.TransientStore("put vhost "+v.ID, err)
	}
	return nil
}

// GetVhost reads one vhost body.
func (c *Client) GetVhost(ctx context.Context, id string) (*model.Vhost, error) {
	var v model.Vhost
	if err := c.getJSON(ctx, KeyVhostConfig(id), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVhosts enumerates all vhosts in priority order.
func (c *Client) ListVhosts(ctx context.Context) ([]*model.Vhost, error) {
	var out []*model.Vhost
	err := c.listJSONByIndex(ctx, KeyVhostsIndex(), KeyVhostConfig, func(id string, raw []byte) error {
		var v model.Vhost
		if err := json.Unmarshal(raw, &v); err != nil {
			return werrors.Internal("decode vhost "+id, err)
		}
		out = append(out, &v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteVhost removes a vhost and its index entries. The default vhost is
// non-deletable.
func (c *Client) DeleteVhost(ctx context.Context, id string) error {
	if id == model.DefaultVhostID {
		return werrors.Validation("the default vhost cannot be deleted", []string{"id"})
	}

	v, err := c.GetVhost(ctx, id)
	if err != nil {
		return err
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, KeyVhostConfig(id))
	pipe.ZRem(ctx, KeyVhostsIndex(), id)
	for _, h := range v.Hostnames {
		if strings.Contains(h, "*") || model.IsCatchAll(h) {
			pipe.ZRem(ctx, KeyVhostHostsWildcard(), h+"|"+id)
		} else {
			pipe.HDel(ctx, KeyVhostHostsExact(), strings.ToLower(h))
		}
	}
	pipe.Del(ctx, KeyVhostEndpointsIndex(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return werrors.TransientStore(fmt.Sprintf("delete vhost %s", id), err)
	}
	return nil
}
