package store

import (
	"context"
	"strconv"
	"strings"

	"github.com/dobrevit/formwaf/internal/werrors"
)

// FlaggedKeyword is one scored entry of the flagged keyword set.
type FlaggedKeyword struct {
	Keyword string
	Score   float64
}

// EncodeFlaggedKeyword renders the canonical on-store form. Entries with a
// score are written as "keyword:score"; zero-score entries stay bare.
func EncodeFlaggedKeyword(k FlaggedKeyword) string {
	if k.Score == 0 {
		return k.Keyword
	}
	return k.Keyword + ":" + strconv.FormatFloat(k.Score, 'f', -1, 64)
}

// ParseFlaggedKeyword decodes either form: "keyword:score" or a bare
// keyword (legacy writes without a score).
func ParseFlaggedKeyword(entry string) FlaggedKeyword {
	idx := strings.LastIndex(entry, ":")
	if idx > 0 {
		if score, err := strconv.ParseFloat(entry[idx+1:], 64); err == nil {
			return FlaggedKeyword{Keyword: entry[:idx], Score: score}
		}
	}
	return FlaggedKeyword{Keyword: entry}
}

// BlockedKeywords reads the blocked keyword set.
func (c *Client) BlockedKeywords(ctx context.Context) ([]string, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	out, err := c.rdb.SMembers(ctx, KeyKeywordsBlocked()).Result()
	if err != nil {
		return nil, werrors.TransientStore("smembers keywords:blocked", err)
	}
	return out, nil
}

// AddBlockedKeywords adds entries to the blocked keyword set.
func (c *Client) AddBlockedKeywords(ctx context.Context, keywords ...string) error {
	if len(keywords) == 0 {
		return nil
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	members := make([]interface{}, len(keywords))
	for i, k := range keywords {
		members[i] = k
	}
	if err := c.rdb.SAdd(ctx, KeyKeywordsBlocked(), members...).Err(); err != nil {
		return werrors.TransientStore("sadd keywords:blocked", err)
	}
	return nil
}

// FlaggedKeywords reads and decodes the flagged keyword set.
func (c *Client) FlaggedKeywords(ctx context.Context) ([]FlaggedKeyword, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	raw, err := c.rdb.SMembers(ctx, KeyKeywordsFlagged()).Result()
	if err != nil {
		return nil, werrors.TransientStore("smembers keywords:flagged", err)
	}
	out := make([]FlaggedKeyword, len(raw))
	for i, entry := range raw {
		out[i] = ParseFlaggedKeyword(entry)
	}
	return out, nil
}

// AddFlaggedKeywords writes entries in the canonical form.
func (c *Client) AddFlaggedKeywords(ctx context.Context, keywords ...FlaggedKeyword) error {
	if len(keywords) == 0 {
		return nil
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	members := make([]interface{}, len(keywords))
	for i, k := range keywords {
		members[i] = EncodeFlaggedKeyword(k)
	}
	if err := c.rdb.SAdd(ctx, KeyKeywordsFlagged(), members...).Err(); err != nil {
		return werrors.TransientStore("sadd keywords:flagged", err)
	}
	return nil
}

// BlockedHashes reads the blocked form-hash set.
func (c *Client) BlockedHashes(ctx context.Context) ([]string, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	out, err := c.rdb.SMembers(ctx, KeyHashesBlocked()).Result()
	if err != nil {
		return nil, werrors.TransientStore("smembers hashes:blocked", err)
	}
	return out, nil
}

// AddBlockedHashes adds form hashes to the blocked set.
func (c *Client) AddBlockedHashes(ctx context.Context, hashes ...string) error {
	if len(hashes) == 0 {
		return nil
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	members := make([]interface{}, len(hashes))
	for i, h := range hashes {
		members[i] = h
	}
	if err := c.rdb.SAdd(ctx, KeyHashesBlocked(), members...).Err(); err != nil {
		return werrors.TransientStore("sadd hashes:blocked", err)
	}
	return nil
}

// WhitelistedIPs reads the IP/CIDR whitelist.
func (c *Client) WhitelistedIPs(ctx context.Context) ([]string, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	out, err := c.rdb.SMembers(ctx, KeyWhitelistIPs()).Result()
	if err != nil {
		return nil, werrors.TransientStore("smembers whitelist:ips", err)
	}
	return out, nil
}

// AddWhitelistedIPs adds IPs or CIDRs to the whitelist.
func (c *Client) AddWhitelistedIPs(ctx context.Context, entries ...string) error {
	if len(entries) == 0 {
		return nil
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	members := make([]interface{}, len(entries))
	for i, e := range entries {
		members[i] = e
	}
	if err := c.rdb.SAdd(ctx, KeyWhitelistIPs(), members...).Err(); err != nil {
		return werrors.TransientStore("sadd whitelist:ips", err)
	}
	return nil
}
