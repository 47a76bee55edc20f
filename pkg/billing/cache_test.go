package billing

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/observability"
)

// stubBillingService counts inner calls so the tests can tell cache hits
// from misses.
type stubBillingService struct {
	Service

	summary      *Summary
	summaryErr   error
	summaryCalls int

	fullPaymentPeriod *Period
	sweepCreated      int
}

func (s *stubBillingService) GetSummary(ctx context.Context, clientID int64) (*Summary, error) {
	s.summaryCalls++
	if s.summaryErr != nil {
		return nil, s.summaryErr
	}
	return s.summary, nil
}

func (s *stubBillingService) ApplyFullPayment(ctx context.Context, periodID int64) (*Period, error) {
	return s.fullPaymentPeriod, nil
}

func (s *stubBillingService) EnsureCurrentPeriods(ctx context.Context) (int, error) {
	return s.sweepCreated, nil
}

func newTestCache(t *testing.T, inner Service) (*CachedService, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewCachedService(inner, client, time.Minute, logger), mr, client
}

func TestCachedServiceGetSummary(t *testing.T) {
	ctx := context.Background()

	t.Run("second read is served from cache", func(t *testing.T) {
		stub := &stubBillingService{
			summary: &Summary{ClientID: 1, Status: StatePendiente, TotalDueCents: 20000},
		}
		cache, _, _ := newTestCache(t, stub)

		first, err := cache.GetSummary(ctx, 1)
		require.NoError(t, err)
		second, err := cache.GetSummary(ctx, 1)
		require.NoError(t, err)

		assert.Equal(t, first.TotalDueCents, second.TotalDueCents)
		assert.Equal(t, 1, stub.summaryCalls)
	})

	t.Run("entries are per client", func(t *testing.T) {
		stub := &stubBillingService{
			summary: &Summary{ClientID: 1, Status: StateAlDia},
		}
		cache, _, _ := newTestCache(t, stub)

		_, err := cache.GetSummary(ctx, 1)
		require.NoError(t, err)
		_, err = cache.GetSummary(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, stub.summaryCalls)
	})

	t.Run("inner errors are not cached", func(t *testing.T) {
		stub := &stubBillingService{summaryErr: errors.New("database down")}
		cache, _, _ := newTestCache(t, stub)

		_, err := cache.GetSummary(ctx, 1)
		assert.Error(t, err)
		_, err = cache.GetSummary(ctx, 1)
		assert.Error(t, err)
		assert.Equal(t, 2, stub.summaryCalls)
	})

	t.Run("corrupt entry falls back to the database", func(t *testing.T) {
		stub := &stubBillingService{
			summary: &Summary{ClientID: 1, Status: StatePendiente},
		}
		cache, mr, _ := newTestCache(t, stub)

		require.NoError(t, mr.Set(summaryKey(1), "{not json"))

		summary, err := cache.GetSummary(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, StatePendiente, summary.Status)
		assert.Equal(t, 1, stub.summaryCalls)
	})

	t.Run("redis outage degrades to the database", func(t *testing.T) {
		stub := &stubBillingService{
			summary: &Summary{ClientID: 1, Status: StatePendiente},
		}
		cache, mr, _ := newTestCache(t, stub)
		mr.Close()

		summary, err := cache.GetSummary(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, StatePendiente, summary.Status)
	})
}

func TestCachedServiceInvalidation(t *testing.T) {
	ctx := context.Background()

	t.Run("payment invalidates the client's summary", func(t *testing.T) {
		stub := &stubBillingService{
			summary:           &Summary{ClientID: 1, Status: StatePendiente},
			fullPaymentPeriod: &Period{ID: 10, ClientID: 1, State: StatePagado},
		}
		cache, _, _ := newTestCache(t, stub)

		_, err := cache.GetSummary(ctx, 1)
		require.NoError(t, err)

		_, err = cache.ApplyFullPayment(ctx, 10)
		require.NoError(t, err)

		_, err = cache.GetSummary(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, stub.summaryCalls)
	})

	t.Run("sweep flushes every summary", func(t *testing.T) {
		stub := &stubBillingService{
			summary:      &Summary{ClientID: 1, Status: StatePendiente},
			sweepCreated: 3,
		}
		cache, _, _ := newTestCache(t, stub)

		_, err := cache.GetSummary(ctx, 1)
		require.NoError(t, err)
		_, err = cache.GetSummary(ctx, 2)
		require.NoError(t, err)

		created, err := cache.EnsureCurrentPeriods(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, created)

		_, err = cache.GetSummary(ctx, 1)
		require.NoError(t, err)
		_, err = cache.GetSummary(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, 4, stub.summaryCalls)
	})
}
