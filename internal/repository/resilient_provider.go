package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"PriceIntel/internal/domain/models"
	domrepo "PriceIntel/internal/domain/repository"
	applogger "PriceIntel/pkg/logger"
)

// ProviderErrorRecorder counts failed provider operations.
type ProviderErrorRecorder interface {
	RecordProviderError(op string)
}

type ResilienceConfig struct {
	Timeout        time.Duration
	RatePerSecond  float64
	Burst          int
	BreakerTimeout time.Duration
	BreakerTrips   uint32
}

// ResilientProvider wraps a DataProvider with a per-call timeout, a shared
// rate limit and a circuit breaker. Not-found results count as successes.
type ResilientProvider struct {
	next    domrepo.DataProvider
	cfg     ResilienceConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	metrics ProviderErrorRecorder
	l       *applogger.Logger
}

var (
	_ domrepo.DataProvider    = (*ResilientProvider)(nil)
	_ domrepo.BreakerReporter = (*ResilientProvider)(nil)
)

func NewResilientProvider(next domrepo.DataProvider, cfg ResilienceConfig, metrics ProviderErrorRecorder, l *applogger.Logger) *ResilientProvider {
	if l == nil {
		l = applogger.Nop()
	}
	if cfg.BreakerTrips == 0 {
		cfg.BreakerTrips = 5
	}
	l = l.With(applogger.String("component", "resilient_provider"))

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	trips := cfg.BreakerTrips
	st := gobreaker.Settings{
		Name:    "data_provider",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trips
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, models.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn("circuit breaker state change",
				applogger.String("breaker", name),
				applogger.String("from", from.String()),
				applogger.String("to", to.String()),
			)
		},
	}

	return &ResilientProvider{
		next:    next,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker(st),
		metrics: metrics,
		l:       l,
	}
}

func (p *ResilientProvider) State() gobreaker.State {
	return p.breaker.State()
}

// BreakerState is reported by the pipeline health check as data_provider_breaker.
func (p *ResilientProvider) BreakerState() string {
	return p.State().String()
}

func guard[T any](p *ResilientProvider, ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("%s rate limit: %w", op, err)
	}
	res, err := p.breaker.Execute(func() (interface{}, error) {
		callCtx := ctx
		if p.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
			defer cancel()
		}
		return fn(callCtx)
	})
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			if p.metrics != nil {
				p.metrics.RecordProviderError(op)
			}
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				p.l.Warn("provider call rejected", applogger.String("op", op), applogger.Error(err))
			}
		}
		return zero, err
	}
	return res.(T), nil
}

func (p *ResilientProvider) Ping(ctx context.Context) error {
	_, err := guard(p, ctx, "ping", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.next.Ping(ctx)
	})
	return err
}

func (p *ResilientProvider) ListProducts(ctx context.Context) ([]models.Product, error) {
	return guard(p, ctx, "list_products", p.next.ListProducts)
}

func (p *ResilientProvider) GetProduct(ctx context.Context, productID string) (models.Product, error) {
	return guard(p, ctx, "get_product", func(ctx context.Context) (models.Product, error) {
		return p.next.GetProduct(ctx, productID)
	})
}

func (p *ResilientProvider) ProductsByCategory(ctx context.Context, category string) ([]models.Product, error) {
	return guard(p, ctx, "products_by_category", func(ctx context.Context) ([]models.Product, error) {
		return p.next.ProductsByCategory(ctx, category)
	})
}

func (p *ResilientProvider) InventoryLevels(ctx context.Context) ([]models.InventoryLevel, error) {
	return guard(p, ctx, "inventory_levels", p.next.InventoryLevels)
}

func (p *ResilientProvider) PriceHistory(ctx context.Context, productID string, since time.Time) ([]models.PriceObservation, error) {
	return guard(p, ctx, "price_history", func(ctx context.Context) ([]models.PriceObservation, error) {
		return p.next.PriceHistory(ctx, productID, since)
	})
}

func (p *ResilientProvider) CompetitorPrices(ctx context.Context, productName string, since time.Time) ([]models.CompetitorPrice, error) {
	return guard(p, ctx, "competitor_prices", func(ctx context.Context) ([]models.CompetitorPrice, error) {
		return p.next.CompetitorPrices(ctx, productName, since)
	})
}

func (p *ResilientProvider) SalesHistory(ctx context.Context, productID string, since time.Time) ([]models.SalesRecord, error) {
	return guard(p, ctx, "sales_history", func(ctx context.Context) ([]models.SalesRecord, error) {
		return p.next.SalesHistory(ctx, productID, since)
	})
}

func (p *ResilientProvider) SalesSince(ctx context.Context, since time.Time, limit int) ([]models.SalesRecord, error) {
	return guard(p, ctx, "sales_since", func(ctx context.Context) ([]models.SalesRecord, error) {
		return p.next.SalesSince(ctx, since, limit)
	})
}

func (p *ResilientProvider) CustomerSales(ctx context.Context, customerIDs []string, since time.Time) ([]models.SalesRecord, error) {
	return guard(p, ctx, "customer_sales", func(ctx context.Context) ([]models.SalesRecord, error) {
		return p.next.CustomerSales(ctx, customerIDs, since)
	})
}

func (p *ResilientProvider) TopProducts(ctx context.Context, since time.Time, limit int) ([]models.ProductVolume, error) {
	return guard(p, ctx, "top_products", func(ctx context.Context) ([]models.ProductVolume, error) {
		return p.next.TopProducts(ctx, since, limit)
	})
}

func (p *ResilientProvider) ProductVolumes(ctx context.Context, productIDs []string, since time.Time) (map[string]models.ProductVolume, error) {
	return guard(p, ctx, "product_volumes", func(ctx context.Context) (map[string]models.ProductVolume, error) {
		return p.next.ProductVolumes(ctx, productIDs, since)
	})
}

func (p *ResilientProvider) AveragePrices(ctx context.Context, productIDs []string, since time.Time) (map[string]float64, error) {
	return guard(p, ctx, "average_prices", func(ctx context.Context) (map[string]float64, error) {
		return p.next.AveragePrices(ctx, productIDs, since)
	})
}

func (p *ResilientProvider) Baskets(ctx context.Context, since time.Time, minItems, limit int) ([]models.Basket, error) {
	return guard(p, ctx, "baskets", func(ctx context.Context) ([]models.Basket, error) {
		return p.next.Baskets(ctx, since, minItems, limit)
	})
}

func (p *ResilientProvider) BasketsContaining(ctx context.Context, productID string, since time.Time) ([]models.Basket, error) {
	return guard(p, ctx, "baskets_containing", func(ctx context.Context) ([]models.Basket, error) {
		return p.next.BasketsContaining(ctx, productID, since)
	})
}
