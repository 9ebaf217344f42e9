package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/werrors"
)

// HTTPWebhookSender posts JSON event batches.
type HTTPWebhookSender struct {
	client *http.Client
}

// NewHTTPWebhookSender creates a sender with a bounded request timeout.
func NewHTTPWebhookSender(timeout time.Duration) *HTTPWebhookSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPWebhookSender{client: &http.Client{Timeout: timeout}}
}

// Send implements WebhookSender.
func (s *HTTPWebhookSender) Send(ctx context.Context, url string, events []Event) error {
	body, err := json.Marshal(map[string]interface{}{"events": events})
	if err != nil {
		return werrors.Internal("encode webhook batch", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return werrors.Provider("webhook", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return werrors.Provider("webhook", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return werrors.Provider("webhook", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

// WebhookQueue is the bounded event queue in front of a sender. Producers
// never block: once the bound is reached the oldest events are dropped and
// a counter incremented.
type WebhookQueue struct {
	mu      sync.Mutex
	events  []Event
	bound   int
	dropped atomic.Int64

	sender    WebhookSender
	url       func() string
	batchSize int
	interval  time.Duration
	logger    *logging.Logger

	stop chan struct{}
	done chan struct{}
}

// NewWebhookQueue creates a queue. url is consulted at flush time so config
// swaps take effect without a restart.
func NewWebhookQueue(sender WebhookSender, url func() string, bound int, logger *logging.Logger) *WebhookQueue {
	if bound <= 0 {
		bound = 1000
	}
	return &WebhookQueue{
		bound:     bound,
		sender:    sender,
		url:       url,
		batchSize: 50,
		interval:  5 * time.Second,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Enqueue adds an event, dropping the oldest entries at the bound.
func (q *WebhookQueue) Enqueue(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) >= q.bound {
		drop := len(q.events) - q.bound + 1
		q.events = q.events[drop:]
		q.dropped.Add(int64(drop))
	}
	q.events = append(q.events, e)
}

// Dropped returns the number of events discarded under back-pressure.
func (q *WebhookQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Len returns the number of queued events.
func (q *WebhookQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Start launches the batched sender loop.
func (q *WebhookQueue) Start() {
	go func() {
		defer close(q.done)
		ticker := time.NewTicker(q.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.Flush(context.Background())
			case <-q.stop:
				q.Flush(context.Background())
				return
			}
		}
	}()
}

// Stop drains the queue once and stops the loop.
func (q *WebhookQueue) Stop() {
	close(q.stop)
	<-q.done
}

// Flush sends every queued event in batches. Failed batches are dropped;
// webhook delivery is best-effort by design.
func (q *WebhookQueue) Flush(ctx context.Context) {
	url := q.url()
	if url == "" {
		return
	}

	for {
		q.mu.Lock()
		if len(q.events) == 0 {
			q.mu.Unlock()
			return
		}
		n := len(q.events)
		if n > q.batchSize {
			n = q.batchSize
		}
		batch := make([]Event, n)
		copy(batch, q.events[:n])
		q.events = q.events[n:]
		q.mu.Unlock()

		if err := q.sender.Send(ctx, url, batch); err != nil {
			if q.logger != nil {
				q.logger.WithComponent("webhook").WithError(err).Warn("Webhook batch delivery failed")
			}
			return
		}
	}
}
