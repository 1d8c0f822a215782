package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"PriceIntel/internal/domain/models"
	domrepo "PriceIntel/internal/domain/repository"
	domsvc "PriceIntel/internal/domain/service"
	applogger "PriceIntel/pkg/logger"
	"PriceIntel/pkg/util"
)

// ProductIntelService computes the live per-product view. Only an unknown
// product fails the call; section failures land in Errors.
type ProductIntelService struct {
	catalog    domrepo.CatalogSource
	store      domrepo.ArtifactReader
	forecaster domsvc.Forecaster
	affinity   domsvc.AffinityMiner
	now        domrepo.Clock
	l          *applogger.Logger
}

func NewProductIntelService(catalog domrepo.CatalogSource, store domrepo.ArtifactReader, forecaster domsvc.Forecaster, affinity domsvc.AffinityMiner, now domrepo.Clock, l *applogger.Logger) *ProductIntelService {
	if l == nil {
		l = applogger.Nop()
	}
	return &ProductIntelService{
		catalog:    catalog,
		store:      store,
		forecaster: forecaster,
		affinity:   affinity,
		now:        now,
		l:          l.With(applogger.String("component", "product_intel")),
	}
}

func (s *ProductIntelService) ProductIntelligence(ctx context.Context, productID string) (models.ProductIntelligence, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return models.ProductIntelligence{}, err
	}
	out := models.ProductIntelligence{Product: product, GeneratedAt: s.now().UTC()}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs = map[string]string{}
	)
	fail := func(section string, err error) {
		mu.Lock()
		errs[section] = err.Error()
		mu.Unlock()
		s.l.Warn("product section failed",
			applogger.String("product_id", productID),
			applogger.String("section", section),
			applogger.Error(err),
		)
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		report, err := s.forecaster.Report(ctx, productID)
		if err != nil {
			fail("forecast", err)
			return
		}
		out.Forecast = report
	}()
	go func() {
		defer wg.Done()
		report, err := s.affinity.ProductAffinityReport(ctx, productID)
		if err != nil {
			fail("affinity", err)
			return
		}
		out.Affinity = report
	}()
	go func() {
		defer wg.Done()
		pos, err := s.store.GetCompetitivePosition(ctx, productID, util.Day(s.now()))
		switch {
		case errors.Is(err, models.ErrNotFound):
		case err != nil:
			fail("competitive_position", fmt.Errorf("load position: %w", err))
		default:
			out.Position = &pos
		}
	}()
	wg.Wait()

	if len(errs) > 0 {
		out.Errors = errs
	}
	return out, nil
}

// DemandScenario forecasts demand under a price change. A zero elasticity is
// estimated by the forecaster from the product's own history.
func (s *ProductIntelService) DemandScenario(ctx context.Context, productID string, horizon int, scenario models.DemandScenario) (models.Forecast, error) {
	if _, err := s.catalog.GetProduct(ctx, productID); err != nil {
		return models.Forecast{}, err
	}
	f, err := s.forecaster.ForecastDemand(ctx, productID, horizon, 0, &scenario)
	if err != nil {
		return models.Forecast{}, fmt.Errorf("demand scenario %s: %w", productID, err)
	}
	return f, nil
}
