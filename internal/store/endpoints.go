package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/werrors"
)

// endpointScopeKeys returns the index and path-lookup keys for an
// endpoint's scope (global or vhost-bound).
func endpointScopeKeys(vhostID *string) (index, exact, prefix, regex string) {
	if vhostID == nil {
		return KeyEndpointsIndex(), KeyEndpointPathsExact(), KeyEndpointPathsPrefix(), KeyEndpointPathsRegex()
	}
	return KeyVhostEndpointsIndex(*vhostID),
		KeyVhostEndpointPathsExact(*vhostID),
		KeyVhostEndpointPathsPrefix(*vhostID),
		KeyVhostEndpointPathsRegex(*vhostID)
}

// methodsOrWildcard normalizes an endpoint's method set for the exact-path
// lookup hash.
func methodsOrWildcard(methods []string) []string {
	if len(methods) == 0 {
		return []string{"*"}
	}
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = strings.ToUpper(m)
	}
	return out
}

// PutEndpoint writes an endpoint body and maintains the scope's indexes.
func (c *Client) PutEndpoint(ctx context.Context, e *model.Endpoint) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return werrors.Internal("encode endpoint "+e.ID, err)
	}

	index, exact, prefix, regex := endpointScopeKeys(e.VhostID)

	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, KeyEndpointConfig(e.ID), raw, 0)
	pipe.ZAdd(ctx, index, &redis.Z{Score: float64(e.Priority), Member: e.ID})
	for _, p := range e.Match.Paths {
		for _, m := range methodsOrWildcard(e.Match.Methods) {
			pipe.HSet(ctx, exact, p+":"+m, e.ID)
		}
	}
	if e.Match.PathPrefix != "" {
		pipe.ZAdd(ctx, prefix, &redis.Z{Score: float64(e.Priority), Member: e.Match.PathPrefix + "|" + e.ID})
	}
	if e.Match.PathRegex != "" {
		pipe.ZAdd(ctx, regex, &redis.Z{Score: float64(e.Priority), Member: e.Match.PathRegex + "|" + e.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return werrors.TransientStore("put endpoint "+e.ID, err)
	}
	return nil
}

// GetEndpoint reads one endpoint body.
func (c *Client) GetEndpoint(ctx context.Context, id string) (*model.Endpoint, error) {
	var e model.Endpoint
	if err := c.getJSON(ctx, KeyEndpointConfig(id), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListGlobalEndpoints enumerates the global endpoint scope in priority order.
func (c *Client) ListGlobalEndpoints(ctx context.Context) ([]*model.Endpoint, error) {
	return c.listEndpoints(ctx, KeyEndpointsIndex())
}

// ListVhostEndpoints enumerates one vhost's endpoint scope in priority order.
func (c *Client) ListVhostEndpoints(ctx context.Context, vhostID string) ([]*model.Endpoint, error) {
	return c.listEndpoints(ctx, KeyVhostEndpointsIndex(vhostID))
}

func (c *Client) listEndpoints(ctx context.Context, indexKey string) ([]*model.Endpoint, error) {
	var out []*model.Endpoint
	err := c.listJSONByIndex(ctx, indexKey, KeyEndpointConfig, func(id string, raw []byte) error {
		var e model.Endpoint
		if err := json.Unmarshal(raw, &e); err != nil {
			return werrors.Internal("decode endpoint "+id, err)
		}
		out = append(out, &e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteEndpoint removes an endpoint and its scope index entries.
func (c *Client) DeleteEndpoint(ctx context.Context, id string) error {
	e, err := c.GetEndpoint(ctx, id)
	if err != nil {
		return err
	}

	index, exact, prefix, regex := endpointScopeKeys(e.VhostID)

	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, KeyEndpointConfig(id))
	pipe.ZRem(ctx, index, id)
	for _, p := range e.Match.Paths {
		for _, m := range methodsOrWildcard(e.Match.Methods) {
			pipe.HDel(ctx, exact, p+":"+m)
		}
	}
	if e.Match.PathPrefix != "" {
		pipe.ZRem(ctx, prefix, e.Match.PathPrefix+"|"+id)
	}
	if e.Match.PathRegex != "" {
		pipe.ZRem(ctx, regex, e.Match.PathRegex+"|"+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return werrors.TransientStore("delete endpoint "+id, err)
	}
	return nil
}
