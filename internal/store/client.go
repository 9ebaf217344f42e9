// Package store implements the typed client for the shared Redis-equivalent
// configuration store. All request-path consumers read from the local cache;
// this package is exercised by the sync worker, the coordinator, the metrics
// aggregator, and the admin surface.
package store

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/werrors"
)

// Options configures the store client.
type Options struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
	// OpTimeout bounds individual operations.
	OpTimeout time.Duration
}

// Client wraps the Redis connection with the WAF key schema.
type Client struct {
	rdb       *redis.Client
	logger    *logging.Logger
	opTimeout time.Duration
}

// New creates a store client. The connection is pooled; one client is
// shared by every periodic task in the process.
func New(opts Options, logger *logging.Logger) *Client {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.OpTimeout == 0 {
		opts.OpTimeout = 3 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		PoolSize:    opts.PoolSize,
		DialTimeout: opts.DialTimeout,
		ReadTimeout: opts.OpTimeout,
	})
	return &Client{rdb: rdb, logger: logger, opTimeout: opts.OpTimeout}
}

// NewWithRedis wraps an existing Redis client. Used by tests running
// against miniredis.
func NewWithRedis(rdb *redis.Client, logger *logging.Logger) *Client {
	return &Client{rdb: rdb, logger: logger, opTimeout: 3 * time.Second}
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return werrors.TransientStore("ping", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Redis exposes the raw client for operations the typed surface does not
// cover (tests, admin tooling).
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// opCtx derives a bounded context for a single store operation.
func (c *Client) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}
