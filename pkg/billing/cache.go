package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/observability"
)

// CachedService wraps a Service with a short-lived Redis cache for per-client
// summaries. Every mutation invalidates the affected client's entry, and the
// TTL bounds staleness of the date-derived vencido overlay, so the cache is a
// read accelerator only and never a source of truth.
type CachedService struct {
	inner  Service
	redis  *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewCachedService creates the caching decorator. ttl should stay short
// (around a minute) because the summary embeds today's date in its derived
// status.
func NewCachedService(inner Service, redisClient *redis.Client, ttl time.Duration, logger *observability.Logger) *CachedService {
	return &CachedService{inner: inner, redis: redisClient, ttl: ttl, logger: logger}
}

func summaryKey(clientID int64) string {
	return fmt.Sprintf("billing:summary:%d", clientID)
}

// GetSummary serves from cache when possible. Cache failures degrade to the
// database; they are logged, never surfaced.
func (c *CachedService) GetSummary(ctx context.Context, clientID int64) (*Summary, error) {
	key := summaryKey(clientID)
	if data, err := c.redis.Get(ctx, key).Result(); err == nil {
		var summary Summary
		if err := json.Unmarshal([]byte(data), &summary); err == nil {
			return &summary, nil
		}
		// Corrupt entry: drop it and fall through to the database.
		c.redis.Del(ctx, key)
	} else if err != redis.Nil {
		c.logger.WithError(err).Warn("summary cache read failed")
	}

	summary, err := c.inner.GetSummary(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(summary); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.WithError(err).Warn("summary cache write failed")
		}
	}
	return summary, nil
}

func (c *CachedService) invalidate(ctx context.Context, clientID int64) {
	if err := c.redis.Del(ctx, summaryKey(clientID)).Err(); err != nil {
		c.logger.WithError(err).WithField("client_id", clientID).Warn("summary cache invalidation failed")
	}
}

// ListPeriods passes through; the listing is not cached.
func (c *CachedService) ListPeriods(ctx context.Context, clientID int64) ([]*Period, error) {
	return c.inner.ListPeriods(ctx, clientID)
}

// GenerateRange delegates and invalidates the client's summary.
func (c *CachedService) GenerateRange(ctx context.Context, clientID int64, from, to YearMonth, amountOverrideCents *int64) (int, error) {
	created, err := c.inner.GenerateRange(ctx, clientID, from, to, amountOverrideCents)
	if err == nil && created > 0 {
		c.invalidate(ctx, clientID)
	}
	return created, err
}

// InitFirstPeriod delegates and invalidates the client's summary.
func (c *CachedService) InitFirstPeriod(ctx context.Context, clientID int64) (*Period, error) {
	period, err := c.inner.InitFirstPeriod(ctx, clientID)
	if err == nil {
		c.invalidate(ctx, clientID)
	}
	return period, err
}

// EnsureCurrentPeriods delegates and flushes every cached summary, since the
// sweep can touch any client.
func (c *CachedService) EnsureCurrentPeriods(ctx context.Context) (int, error) {
	created, err := c.inner.EnsureCurrentPeriods(ctx)
	if err == nil && created > 0 {
		c.flushSummaries(ctx)
	}
	return created, err
}

func (c *CachedService) flushSummaries(ctx context.Context) {
	iter := c.redis.Scan(ctx, 0, "billing:summary:*", 0).Iterator()
	for iter.Next(ctx) {
		c.redis.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.WithError(err).Warn("summary cache flush failed")
	}
}

// ApplyFullPayment delegates and invalidates the affected client's summary.
func (c *CachedService) ApplyFullPayment(ctx context.Context, periodID int64) (*Period, error) {
	period, err := c.inner.ApplyFullPayment(ctx, periodID)
	if err == nil {
		c.invalidate(ctx, period.ClientID)
	}
	return period, err
}

// ApplyPartialPayment delegates and invalidates the affected client's summary.
func (c *CachedService) ApplyPartialPayment(ctx context.Context, periodID int64, amountCents int64) (*Period, error) {
	period, err := c.inner.ApplyPartialPayment(ctx, periodID, amountCents)
	if err == nil {
		c.invalidate(ctx, period.ClientID)
	}
	return period, err
}

// Suspend delegates and invalidates the affected client's summary.
func (c *CachedService) Suspend(ctx context.Context, periodID int64) (*Period, error) {
	period, err := c.inner.Suspend(ctx, periodID)
	if err == nil {
		c.invalidate(ctx, period.ClientID)
	}
	return period, err
}

// Reactivate delegates and invalidates the affected client's summary.
func (c *CachedService) Reactivate(ctx context.Context, periodID int64) (*Period, error) {
	period, err := c.inner.Reactivate(ctx, periodID)
	if err == nil {
		c.invalidate(ctx, period.ClientID)
	}
	return period, err
}

// ListOutstanding passes through; the cross-client listing is not cached.
func (c *CachedService) ListOutstanding(ctx context.Context, filter OutstandingFilter, page, pageSize int) (*OutstandingPage, error) {
	return c.inner.ListOutstanding(ctx, filter, page, pageSize)
}
