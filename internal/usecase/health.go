package usecase

import (
	"context"
	"sort"

	"PriceIntel/internal/domain/models"
	domrepo "PriceIntel/internal/domain/repository"
	applogger "PriceIntel/pkg/logger"
)

const breakerOpen = "open"

// HealthCheck pings the provider and the artifact store and checks every
// artifact table. Unreachable dependencies and an open provider circuit
// breaker degrade the status; a missing
// table makes it unhealthy since runs would fail to persist.
func (o *PipelineOrchestrator) HealthCheck(ctx context.Context) models.HealthStatus {
	hs := models.HealthStatus{
		Status:     models.HealthHealthy,
		CheckedAt:  o.now(),
		Components: map[string]models.ComponentHealth{},
	}
	degrade := func(to string) {
		if hs.Status == models.HealthUnhealthy {
			return
		}
		hs.Status = to
	}

	if err := o.provider.Ping(ctx); err != nil {
		hs.Components["data_provider"] = models.ComponentHealth{Status: models.HealthDegraded, Message: err.Error()}
		degrade(models.HealthDegraded)
	} else {
		hs.Components["data_provider"] = models.ComponentHealth{Status: models.HealthHealthy}
	}

	if br, ok := o.provider.(domrepo.BreakerReporter); ok {
		state := br.BreakerState()
		ch := models.ComponentHealth{Status: models.HealthHealthy, Message: state}
		if state == breakerOpen {
			ch.Status = models.HealthDegraded
			degrade(models.HealthDegraded)
		}
		hs.Components["data_provider_breaker"] = ch
	}

	if err := o.store.Ping(ctx); err != nil {
		hs.Components["artifact_store"] = models.ComponentHealth{Status: models.HealthDegraded, Message: err.Error()}
		degrade(models.HealthDegraded)
	} else {
		hs.Components["artifact_store"] = models.ComponentHealth{Status: models.HealthHealthy}
	}

	tables := o.store.CheckTables(ctx)
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := tables[name]; err != nil {
			hs.Components["table:"+name] = models.ComponentHealth{Status: models.HealthUnhealthy, Message: err.Error()}
			hs.Status = models.HealthUnhealthy
			continue
		}
		hs.Components["table:"+name] = models.ComponentHealth{Status: models.HealthHealthy}
	}

	if runs, err := o.store.ListRuns(ctx, 1); err == nil && len(runs) > 0 {
		hs.LastRun = &runs[0]
	}

	if hs.Status != models.HealthHealthy {
		o.l.Warn("health check", applogger.String("status", hs.Status))
	}
	return hs
}
