package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/events"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/metrics"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

const (
	maxTxRetries   = 4
	retryBaseDelay = 10 * time.Millisecond
	retryMaxDelay  = 200 * time.Millisecond
)

// Service is the stock engine: the only writer of stock rows and their
// audit events. Every mutating operation runs in one store transaction;
// bus events and activity entries are emitted only after it commits.
type Service struct {
	store   repository.Store
	bus     events.Publisher
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(store repository.Store, bus events.Publisher, log *zap.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   store,
		bus:     bus,
		log:     log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// txScope collects what a transaction wants to announce once it commits.
type txScope struct {
	q          repository.Querier
	now        time.Time
	events     []events.Event
	activities []domain.Activity
	urgency    domain.Urgency
}

func (tx *txScope) emit(ev events.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = tx.now
	}
	tx.events = append(tx.events, ev)
}

func (tx *txScope) escalate(u domain.Urgency) {
	if urgencyRank[u] > urgencyRank[tx.urgency] {
		tx.urgency = u
	}
}

// record queues an activity entry. locations are the location ids the entry
// concerns; entries without any are visible to every reader of the trail.
func (tx *txScope) record(actor, action, entityType, entityID string, locations []string, description string, base domain.Urgency, changes domain.ActivityChanges) {
	urgency := base
	if urgencyRank[tx.urgency] > urgencyRank[urgency] {
		urgency = tx.urgency
	}
	tx.activities = append(tx.activities, domain.Activity{
		ID:           uuid.NewString(),
		Action:       action,
		ActorID:      actor,
		EntityType:   entityType,
		EntityID:     entityID,
		LocationIDs:  locations,
		Description:  description,
		Changes:      changes,
		UrgencyLevel: urgency,
		Timestamp:    tx.now,
	})
}

var urgencyRank = map[domain.Urgency]int{
	domain.UrgencyLow:      1,
	domain.UrgencyMedium:   2,
	domain.UrgencyHigh:     3,
	domain.UrgencyCritical: 4,
}

// inTx runs fn in a store transaction, retrying write conflicts with capped
// exponential backoff. On success the collected events are published and
// the activity trail is written, both best-effort.
func (s *Service) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx *txScope) error) error {
	var (
		scope   *txScope
		attempt int
	)
	backoff := retry.WithMaxRetries(maxTxRetries, retry.WithCappedDuration(retryMaxDelay, retry.NewExponential(retryBaseDelay)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.metrics.TxRetry()
			s.log.Debug("retrying transaction", zap.String("operation", op), zap.Int("attempt", attempt))
		}
		scope = &txScope{now: s.now()}
		err := s.store.InTx(ctx, func(ctx context.Context, q repository.Querier) error {
			scope.q = q
			return fn(ctx, scope)
		})
		if errors.Is(err, repository.ErrTxConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		err = s.mapError(op, err)
		s.metrics.Operation(op, string(domain.KindOf(err)))
		return err
	}
	s.metrics.Operation(op, "ok")
	s.afterCommit(ctx, scope)
	return nil
}

func (s *Service) afterCommit(ctx context.Context, scope *txScope) {
	ctx = context.WithoutCancel(ctx)
	for i := range scope.activities {
		if err := s.store.InsertActivity(ctx, &scope.activities[i]); err != nil {
			s.log.Warn("activity trail write failed",
				zap.String("action", scope.activities[i].Action),
				zap.String("entity_id", scope.activities[i].EntityID),
				zap.Error(err))
		}
	}
	s.publish(ctx, scope.events...)
}

func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if s.bus == nil {
		return
	}
	for _, ev := range evs {
		if err := s.bus.Publish(ctx, ev); err != nil {
			s.log.Warn("event publish failed", zap.String("type", ev.Type), zap.String("entity_id", ev.EntityID), zap.Error(err))
			continue
		}
		s.metrics.EventPublished(ev.Type)
	}
}

// mapError turns repository and context failures into typed errors. Typed
// errors pass through unchanged.
func (s *Service) mapError(op string, err error) error {
	var typed *domain.Error
	switch {
	case errors.As(err, &typed):
		return err
	case errors.Is(err, repository.ErrTxConflict):
		return domain.Conflict("concurrent update, please retry")
	case errors.Is(err, repository.ErrDuplicate):
		return domain.Conflict("a record with the same unique value already exists")
	case errors.Is(err, repository.ErrNotFound):
		return domain.NotFound("record not found")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &domain.Error{Kind: domain.KindInternal, Message: "operation deadline exceeded", Err: err}
	}
	s.log.Error("operation failed", zap.String("operation", op), zap.Error(err))
	return domain.Internal(fmt.Errorf("%s: %w", op, err))
}

// read wraps a non-transactional query with the same error mapping.
func (s *Service) read(op string, err error) error {
	if err == nil {
		return nil
	}
	return s.mapError(op, err)
}

func notFoundAs(err error, what, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.NotFound("%s %s not found", what, id).WithDetail(what+"Id", id)
	}
	return err
}

func strPtr(v string) *string { return &v }
