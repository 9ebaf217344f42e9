package store

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/werrors"
)

// PutSignature writes an attack signature body and its index entry.
func (c *Client) PutSignature(ctx context.Context, s *model.AttackSignature) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return werrors.Internal("encode signature "+s.ID, err)
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, KeySignatureConfig(s.ID), raw, 0)
	pipe.ZAdd(ctx, KeySignaturesIndex(), &redis.Z{Score: float64(s.Priority), Member: s.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return werrors.TransientStore("put signature "+s.ID, err)
	}
	return nil
}

// GetSignature reads one attack signature.
func (c *Client) GetSignature(ctx context.Context, id string) (*model.AttackSignature, error) {
	var s model.AttackSignature
	if err := c.getJSON(ctx, KeySignatureConfig(id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSignatures enumerates all attack signatures in priority order.
func (c *Client) ListSignatures(ctx context.Context) ([]*model.AttackSignature, error) {
	var out []*model.AttackSignature
	err := c.listJSONByIndex(ctx, KeySignaturesIndex(), KeySignatureConfig, func(id string, raw []byte) error {
		var s model.AttackSignature
		if err := json.Unmarshal(raw, &s); err != nil {
			return werrors.Internal("decode signature "+id, err)
		}
		out = append(out, &s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSignature removes a signature. Builtin signatures are protected.
func (c *Client) DeleteSignature(ctx context.Context, id string) error {
	s, err := c.GetSignature(ctx, id)
	if err != nil {
		return err
	}
	if s.Builtin {
		return werrors.Validation("builtin signatures cannot be deleted", []string{"id"})
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, KeySignatureConfig(id))
	pipe.ZRem(ctx, KeySignaturesIndex(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return werrors.TransientStore("delete signature "+id, err)
	}
	return nil
}

// PutFingerprintProfile writes a fingerprint profile body and index entry.
func (c *Client) PutFingerprintProfile(ctx context.Context, p *model.FingerprintProfile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return werrors.Internal("encode fingerprint profile "+p.ID, err)
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, KeyFingerprintConfig(p.ID), raw, 0)
	pipe.ZAdd(ctx, KeyFingerprintsIndex(), &redis.Z{Score: float64(p.Priority), Member: p.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return werrors.TransientStore("put fingerprint profile "+p.ID, err)
	}
	return nil
}

// ListFingerprintProfiles enumerates all fingerprint profiles in priority
// order.
func (c *Client) ListFingerprintProfiles(ctx context.Context) ([]*model.FingerprintProfile, error) {
	var out []*model.FingerprintProfile
	err := c.listJSONByIndex(ctx, KeyFingerprintsIndex(), KeyFingerprintConfig, func(id string, raw []byte) error {
		var p model.FingerprintProfile
		if err := json.Unmarshal(raw, &p); err != nil {
			return werrors.Internal("decode fingerprint profile "+id, err)
		}
		out = append(out, &p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
