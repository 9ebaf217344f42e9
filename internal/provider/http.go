package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dobrevit/formwaf/internal/resilience"
	"github.com/dobrevit/formwaf/internal/werrors"
)

// HTTPReputation queries a reputation service over HTTP. Calls are
// time-bounded and run behind a retry and circuit breaker so a degraded
// provider cannot stall the request path.
type HTTPReputation struct {
	baseURL string
	client  *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewHTTPReputation creates a reputation client for a base URL of shape
// <base>/<ip> returning {"score": <float>}.
func NewHTTPReputation(baseURL string, timeout time.Duration) *HTTPReputation {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPReputation{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig()),
		retry:   resilience.RetryConfig{MaxAttempts: 2, BaseDelay: 50 * time.Millisecond, MaxDelay: 200 * time.Millisecond},
	}
}

// Score implements Reputation.
func (p *HTTPReputation) Score(ctx context.Context, ip net.IP) (float64, error) {
	var score float64
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, p.retry, func(ctx context.Context) error {
			var err error
			score, err = p.fetch(ctx, ip)
			return err
		})
	})
	if err != nil {
		return 0, werrors.Provider("reputation", err)
	}
	return score, nil
}

func (p *HTTPReputation) fetch(ctx context.Context, ip net.IP) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+ip.String(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Score float64 `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	return body.Score, nil
}

// HTTPGeoIP queries a GeoIP service over HTTP with the same bounded-call
// discipline.
type HTTPGeoIP struct {
	baseURL string
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

// NewHTTPGeoIP creates a GeoIP client for a base URL of shape <base>/<ip>
// returning {"country": "XX"}.
func NewHTTPGeoIP(baseURL string, timeout time.Duration) *HTTPGeoIP {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPGeoIP{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig()),
	}
}

// Country implements GeoIP.
func (p *HTTPGeoIP) Country(ctx context.Context, ip net.IP) (string, error) {
	var country string
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+ip.String(), nil)
		if err != nil {
			return err
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		var body struct {
			Country string `json:"country"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return err
		}
		country = body.Country
		return nil
	})
	if err != nil {
		return "", werrors.Provider("geoip", err)
	}
	return country, nil
}

// StaticCaptchaRegistry is a fixed provider map.
type StaticCaptchaRegistry map[string]Captcha

// Get implements CaptchaRegistry.
func (r StaticCaptchaRegistry) Get(name string) (Captcha, bool) {
	c, ok := r[name]
	return c, ok
}
