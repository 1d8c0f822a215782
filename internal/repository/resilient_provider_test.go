package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceIntel/internal/domain/models"
	domrepo "PriceIntel/internal/domain/repository"
	applogger "PriceIntel/pkg/logger"
)

type stubProvider struct {
	domrepo.DataProvider
	calls int
	err   error
	block bool
}

func (s *stubProvider) ListProducts(ctx context.Context) ([]models.Product, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return []models.Product{{ID: "p1"}}, nil
}

func (s *stubProvider) GetProduct(context.Context, string) (models.Product, error) {
	s.calls++
	return models.Product{}, models.ErrNotFound
}

type errCounter struct {
	mu  sync.Mutex
	ops map[string]int
}

func (c *errCounter) RecordProviderError(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ops == nil {
		c.ops = map[string]int{}
	}
	c.ops[op]++
}

func TestResilientProvider_PassesThrough(t *testing.T) {
	stub := &stubProvider{}
	p := NewResilientProvider(stub, ResilienceConfig{Timeout: time.Second}, nil, applogger.Nop())

	out, err := p.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p1", out[0].ID)
}

func TestResilientProvider_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubProvider{err: errors.New("connection refused")}
	counter := &errCounter{}
	p := NewResilientProvider(stub, ResilienceConfig{BreakerTrips: 3, BreakerTimeout: time.Minute}, counter, applogger.Nop())

	for i := 0; i < 3; i++ {
		_, err := p.ListProducts(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, p.State())

	_, err := p.ListProducts(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, stub.calls)
	assert.Equal(t, 4, counter.ops["list_products"])
}

func TestResilientProvider_NotFoundDoesNotTrip(t *testing.T) {
	stub := &stubProvider{}
	counter := &errCounter{}
	p := NewResilientProvider(stub, ResilienceConfig{BreakerTrips: 2}, counter, applogger.Nop())

	for i := 0; i < 5; i++ {
		_, err := p.GetProduct(context.Background(), "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, p.State())
	assert.Equal(t, 5, stub.calls)
	assert.Empty(t, counter.ops)
}

func TestResilientProvider_PerCallTimeout(t *testing.T) {
	stub := &stubProvider{block: true}
	p := NewResilientProvider(stub, ResilienceConfig{Timeout: 20 * time.Millisecond}, nil, applogger.Nop())

	_, err := p.ListProducts(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResilientProvider_RateLimitHonoursContext(t *testing.T) {
	stub := &stubProvider{}
	p := NewResilientProvider(stub, ResilienceConfig{RatePerSecond: 0.001, Burst: 1}, nil, applogger.Nop())

	_, err := p.ListProducts(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.ListProducts(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, 1, stub.calls)
}
