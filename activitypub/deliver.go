package activitypub

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/davecheney/fedi/internal/config"
	"golang.org/x/time/rate"
)

// Fetcher retrieves remote ActivityStreams documents.
type Fetcher interface {
	Fetch(ctx context.Context, signAs Signer, uri string) (map[string]any, error)
}

// Deliverer posts an activity to a remote inbox.
type Deliverer interface {
	Deliver(ctx context.Context, signAs Signer, inbox string, activity map[string]any) error
}

// HTTPDeliverer fetches and delivers over HTTP, signing every request and
// limiting the request rate to each remote host.
type HTTPDeliverer struct {
	transport http.RoundTripper
	timeout   time.Duration
	limit     rate.Limit
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPDeliverer returns a HTTPDeliverer configured by cfg. A nil
// transport uses http.DefaultTransport.
func NewHTTPDeliverer(cfg config.DeliveryConfig, transport http.RoundTripper) *HTTPDeliverer {
	return &HTTPDeliverer{
		transport: transport,
		timeout:   cfg.Timeout.Duration,
		limit:     rate.Limit(cfg.Rate),
		burst:     cfg.Burst,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Fetch fetches the document at uri signed as signAs.
func (d *HTTPDeliverer) Fetch(ctx context.Context, signAs Signer, uri string) (map[string]any, error) {
	ctx, cancel, err := d.wait(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer cancel()
	c, err := NewClient(signAs, d.transport)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := c.Fetch(ctx, uri, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// Deliver posts activity to inbox signed as signAs.
func (d *HTTPDeliverer) Deliver(ctx context.Context, signAs Signer, inbox string, activity map[string]any) error {
	ctx, cancel, err := d.wait(ctx, inbox)
	if err != nil {
		return err
	}
	defer cancel()
	c, err := NewClient(signAs, d.transport)
	if err != nil {
		return err
	}
	return c.Post(ctx, inbox, activity)
}

// wait blocks until the host of uri may be contacted and returns a context
// bounded by the request timeout.
func (d *HTTPDeliverer) wait(ctx context.Context, uri string) (context.Context, context.CancelFunc, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, nil, err
	}
	if u.Host == "" {
		return nil, nil, fmt.Errorf("%q is not an absolute url", uri)
	}
	if err := d.limiter(u.Host).Wait(ctx); err != nil {
		return nil, nil, err
	}
	if d.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		return ctx, cancel, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	return ctx, cancel, nil
}

func (d *HTTPDeliverer) limiter(host string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[host]
	if !ok {
		l = rate.NewLimiter(d.limit, d.burst)
		d.limiters[host] = l
	}
	return l
}
