// Package provider defines the outbound provider boundary: GeoIP, CAPTCHA,
// IP reputation, and webhook delivery. The core invokes these through
// interfaces and treats every failure as an unknown signal with a
// configured fallback, never as a request-fatal error.
package provider

import (
	"context"
	"net"
)

// GeoIP resolves a client address to an ISO country code.
type GeoIP interface {
	Country(ctx context.Context, ip net.IP) (string, error)
}

// Reputation scores a client address; higher is worse.
type Reputation interface {
	Score(ctx context.Context, ip net.IP) (float64, error)
}

// Challenge is a CAPTCHA challenge payload returned to the client.
type Challenge struct {
	Provider string `json:"provider"`
	SiteKey  string `json:"site_key,omitempty"`
	Payload  string `json:"payload,omitempty"`
}

// Captcha issues and verifies challenges for one named provider.
type Captcha interface {
	Name() string
	Issue(ctx context.Context) (*Challenge, error)
	Verify(ctx context.Context, token string, ip net.IP) (bool, error)
}

// CaptchaRegistry resolves captcha providers by id.
type CaptchaRegistry interface {
	Get(name string) (Captcha, bool)
}

// Event is one decision event queued for webhook delivery.
type Event struct {
	Kind       string  `json:"kind"`
	VhostID    string  `json:"vhost_id"`
	EndpointID string  `json:"endpoint_id"`
	Action     string  `json:"action"`
	Score      float64 `json:"score"`
	ClientIP   string  `json:"client_ip"`
	Timestamp  int64   `json:"timestamp"`
}

// WebhookSender delivers event batches to a configured URL.
type WebhookSender interface {
	Send(ctx context.Context, url string, events []Event) error
}
