// Package provider throttles and retries calls to the accounting provider on
// behalf of one integration at a time, and drives page-based list endpoints.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vipul43/ledgersync/internal/config"
	"github.com/vipul43/ledgersync/internal/metrics"
	"github.com/vipul43/ledgersync/internal/syncerr"
)

// Credentials is what a provider call needs to act for an integration.
type Credentials struct {
	AccessToken      string
	ProviderTenantID string
}

// CredentialSource hands out a usable access token. forceRefresh asks for a
// refresh even if the stored token has not expired yet.
type CredentialSource interface {
	Credentials(ctx context.Context, integrationID string, forceRefresh bool) (Credentials, error)
}

type limiterPair struct {
	perSecond *rate.Limiter
	perMinute *rate.Limiter
}

type Client struct {
	cfg     config.ProviderConfig
	creds   CredentialSource
	metrics *metrics.Metrics
	log     logrus.FieldLogger

	mu       sync.Mutex
	limiters map[string]*limiterPair

	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg config.ProviderConfig, creds CredentialSource, m *metrics.Metrics, log logrus.FieldLogger) *Client {
	return &Client{
		cfg:      cfg,
		creds:    creds,
		metrics:  m,
		log:      log,
		limiters: make(map[string]*limiterPair),
		sleep:    sleepContext,
	}
}

// wait blocks until both the per-second and per-minute budgets of the
// integration allow another request.
func (c *Client) wait(ctx context.Context, integrationID string) error {
	c.mu.Lock()
	l, ok := c.limiters[integrationID]
	if !ok {
		l = &limiterPair{
			perSecond: rate.NewLimiter(rate.Limit(c.cfg.RequestsPerSecond), c.cfg.RequestsPerSecond),
			perMinute: rate.NewLimiter(rate.Every(time.Minute/time.Duration(c.cfg.RequestsPerMinute)), c.cfg.RequestsPerMinute),
		}
		c.limiters[integrationID] = l
	}
	c.mu.Unlock()

	if err := l.perMinute.Wait(ctx); err != nil {
		return err
	}
	return l.perSecond.Wait(ctx)
}

// Execute runs fn with the integration's credentials under its rate limits.
// Rate-limit responses are retried up to MaxAttempts, waiting for the
// provider's Retry-After or the configured delay. A 401 forces one token
// refresh and a single retry.
func Execute[T any](ctx context.Context, c *Client, integrationID string, fn func(ctx context.Context, creds Credentials) (T, error)) (T, error) {
	var zero T

	creds, err := c.creds.Credentials(ctx, integrationID, false)
	if err != nil {
		return zero, err
	}

	refreshed := false
	rateLimited := 0
	for {
		if err := c.wait(ctx, integrationID); err != nil {
			return zero, err
		}

		result, err := fn(ctx, creds)
		if err == nil {
			c.metrics.RecordProviderCall("ok")
			return result, nil
		}

		switch {
		case syncerr.Is(err, syncerr.KindRateLimit):
			c.metrics.RecordProviderCall("rate_limited")
			rateLimited++
			if rateLimited >= c.cfg.MaxAttempts {
				return zero, err
			}
			delay := syncerr.RetryAfter(err)
			if delay <= 0 {
				delay = c.cfg.RateLimitRetryDelay
			}
			c.log.WithFields(logrus.Fields{
				"integration_id": integrationID,
				"attempt":        rateLimited,
				"delay":          delay.String(),
			}).Warn("Provider rate limit hit, backing off")
			if err := c.sleep(ctx, delay); err != nil {
				return zero, err
			}

		case syncerr.Is(err, syncerr.KindUnauthorized) && !refreshed:
			c.metrics.RecordProviderCall("unauthorized")
			refreshed = true
			c.log.WithField("integration_id", integrationID).Info("Provider rejected access token, forcing refresh")
			creds, err = c.creds.Credentials(ctx, integrationID, true)
			if err != nil {
				return zero, err
			}

		default:
			c.metrics.RecordProviderCall("error")
			return zero, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
