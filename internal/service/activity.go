package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/auth"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/events"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

const criticalAlertLimit = 50

// systemPrincipal is the identity background jobs act under.
var systemPrincipal = domain.Principal{UserID: "system", Role: domain.RoleAdmin}

type ActivityQuery struct {
	EntityType string
	EntityID   string
	Urgency    domain.Urgency
	repository.Page
}

func (s *Service) ListActivity(ctx context.Context, p domain.Principal, query ActivityQuery) ([]domain.Activity, int, error) {
	if err := auth.Authorize(auth.OpReadActivity, p, auth.Target{}); err != nil {
		return nil, 0, err
	}
	switch query.Urgency {
	case "", domain.UrgencyLow, domain.UrgencyMedium, domain.UrgencyHigh, domain.UrgencyCritical:
	default:
		return nil, 0, domain.BadRequest("unknown urgency %q", query.Urgency).WithField("urgency")
	}
	list, total, err := s.store.ListActivity(ctx, p, repository.ActivityFilter{
		EntityType: query.EntityType,
		EntityID:   query.EntityID,
		Urgency:    query.Urgency,
		Page:       query.Page,
	})
	if err != nil {
		return nil, 0, s.read("list_activity", err)
	}
	return list, total, nil
}

type AlertsReport struct {
	Counts   []domain.StockAlertCounts `json:"counts"`
	Critical []domain.Activity         `json:"critical"`
}

// Alerts reports stock alert counts in the caller's scope. Critical trail
// entries are included for principals allowed to read the activity trail.
func (s *Service) Alerts(ctx context.Context, p domain.Principal) (AlertsReport, error) {
	if err := auth.Authorize(auth.OpReadInventory, p, auth.Target{}); err != nil {
		return AlertsReport{}, err
	}
	counts, err := s.store.CountStockAlerts(ctx, p, s.now())
	if err != nil {
		return AlertsReport{}, s.read("alerts", err)
	}
	report := AlertsReport{Counts: counts, Critical: []domain.Activity{}}
	if auth.Authorize(auth.OpReadActivity, p, auth.Target{}) != nil {
		return report, nil
	}
	critical, _, err := s.store.ListActivity(ctx, p, repository.ActivityFilter{
		Urgency: domain.UrgencyCritical,
		Page:    repository.Page{Page: 1, Limit: criticalAlertLimit},
	})
	if err != nil {
		return AlertsReport{}, s.read("alerts", err)
	}
	report.Critical = critical
	return report, nil
}

// SweepAlerts recounts alert rows for every location, refreshes the gauges
// and announces locations with anything to look at.
func (s *Service) SweepAlerts(ctx context.Context) ([]domain.StockAlertCounts, error) {
	now := s.now()
	counts, err := s.store.CountStockAlerts(ctx, systemPrincipal, now)
	if err != nil {
		return nil, s.read("sweep_alerts", err)
	}
	var alerting int
	for _, c := range counts {
		s.metrics.SetStockAlerts(c.LocationID, c.LowStock, c.OutOfStock, c.Expired)
		if c.LowStock == 0 && c.OutOfStock == 0 && c.Expired == 0 {
			continue
		}
		alerting++
		s.publish(ctx, events.Event{
			Type:        events.TypeStockAlert,
			EntityType:  "location",
			EntityID:    c.LocationID,
			LocationIDs: []string{c.LocationID},
			Delta: map[string]any{
				"lowStock":   c.LowStock,
				"outOfStock": c.OutOfStock,
				"expired":    c.Expired,
			},
			Timestamp: now,
			Rooms:     []string{events.LocationRoom(c.LocationID)},
		})
	}
	s.log.Info("stock alert sweep finished", zap.Int("locations", len(counts)), zap.Int("alerting", alerting))
	return counts, nil
}
