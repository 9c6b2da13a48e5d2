package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/auth"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/events"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

type TransferRequest struct {
	ProductID      string
	Quantity       int
	FromLocationID string
	ToLocationID   string
	Notes          string
}

func (r TransferRequest) validate() error {
	switch {
	case r.ProductID == "":
		return domain.BadRequest("productId is required").WithField("productId")
	case r.Quantity <= 0:
		return domain.BadRequest("quantity must be positive").WithField("quantity")
	case r.FromLocationID == "":
		return domain.BadRequest("fromLocationId is required").WithField("fromLocationId")
	case r.ToLocationID == "":
		return domain.BadRequest("toLocationId is required").WithField("toLocationId")
	case r.FromLocationID == r.ToLocationID:
		return domain.BadRequest("source and destination must differ").WithField("toLocationId")
	}
	return nil
}

func transferEvent(t domain.StockTransfer) events.Event {
	return events.Event{
		Type:        events.TypeTransferUpdate,
		EntityType:  "transfer",
		EntityID:    t.ID,
		LocationIDs: []string{t.FromLocationID, t.ToLocationID},
		Delta: map[string]any{
			"status":    string(t.Status),
			"productId": t.ProductID,
			"quantity":  t.Quantity,
		},
		Rooms: []string{events.LocationRoom(t.FromLocationID), events.LocationRoom(t.ToLocationID)},
	}
}

func statusChange(before, after domain.TransferStatus) domain.ActivityChanges {
	return domain.ActivityChanges{
		Before: map[string]any{"status": string(before)},
		After:  map[string]any{"status": string(after)},
		Fields: []string{"status"},
	}
}

// RequestTransfer opens a Pending transfer. The availability check here is
// advisory; ShipTransfer verifies it again under lock.
func (s *Service) RequestTransfer(ctx context.Context, p domain.Principal, req TransferRequest) (domain.StockTransfer, error) {
	if err := req.validate(); err != nil {
		return domain.StockTransfer{}, err
	}
	if err := auth.Authorize(auth.OpRequestTransfer, p, auth.At(req.FromLocationID)); err != nil {
		return domain.StockTransfer{}, err
	}

	var transfer domain.StockTransfer
	err := s.inTx(ctx, "request_transfer", func(ctx context.Context, tx *txScope) error {
		if _, err := activeProduct(ctx, tx.q, req.ProductID); err != nil {
			return err
		}
		for _, id := range []string{req.FromLocationID, req.ToLocationID} {
			if _, err := activeLocation(ctx, tx.q, id); err != nil {
				return err
			}
		}
		row, err := tx.q.GetStockRowByKey(ctx, req.ProductID, req.FromLocationID, false)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if row.Quantity < req.Quantity {
			return domain.InsufficientStock("location %s holds %d of product %s", req.FromLocationID, row.Quantity, req.ProductID).
				WithDetail("available", row.Quantity).
				WithDetail("requested", req.Quantity)
		}

		transfer = domain.StockTransfer{
			ID:             uuid.NewString(),
			ProductID:      req.ProductID,
			Quantity:       req.Quantity,
			FromLocationID: req.FromLocationID,
			ToLocationID:   req.ToLocationID,
			Status:         domain.TransferPending,
			RequestedBy:    p.UserID,
			RequestedAt:    tx.now,
			Notes:          strings.TrimSpace(req.Notes),
		}
		if err := tx.q.InsertTransfer(ctx, &transfer); err != nil {
			return err
		}
		tx.emit(transferEvent(transfer))
		tx.record(p.UserID, "transfer_requested", "transfer", transfer.ID, []string{transfer.FromLocationID, transfer.ToLocationID}, "transfer requested", domain.UrgencyLow,
			domain.ActivityChanges{After: map[string]any{
				"status":         string(transfer.Status),
				"quantity":       transfer.Quantity,
				"fromLocationId": transfer.FromLocationID,
				"toLocationId":   transfer.ToLocationID,
			}})
		return nil
	})
	if err != nil {
		return domain.StockTransfer{}, err
	}
	return transfer, nil
}

// transition loads a transfer under lock, authorizes the caller, and checks
// the lifecycle state before fn runs.
func (s *Service) transition(ctx context.Context, p domain.Principal, op string, authOp auth.Op, transferID string, from domain.TransferStatus,
	target func(domain.StockTransfer) auth.Target, fn func(ctx context.Context, tx *txScope, t *domain.StockTransfer) error) (domain.StockTransfer, error) {
	if !p.Authenticated() {
		return domain.StockTransfer{}, auth.Authorize(authOp, p, auth.Target{})
	}
	var transfer domain.StockTransfer
	err := s.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		t, err := tx.q.GetTransfer(ctx, transferID, true)
		if err != nil {
			return notFoundAs(err, "transfer", transferID)
		}
		if err := auth.Authorize(authOp, p, target(t)); err != nil {
			return err
		}
		if t.Status != from {
			return domain.InvalidState("transfer is %s, expected %s", t.Status, from).
				WithDetail("status", string(t.Status))
		}
		if err := fn(ctx, tx, &t); err != nil {
			return err
		}
		if err := tx.q.UpdateTransfer(ctx, &t); err != nil {
			return err
		}
		tx.emit(transferEvent(t))
		tx.record(p.UserID, "transfer_"+strings.ToLower(string(t.Status)), "transfer", t.ID, []string{t.FromLocationID, t.ToLocationID}, "transfer "+strings.ToLower(string(t.Status)),
			domain.UrgencyMedium, statusChange(from, t.Status))
		transfer = t
		return nil
	})
	if err != nil {
		return domain.StockTransfer{}, err
	}
	return transfer, nil
}

// ShipTransfer takes the units out of the source location.
func (s *Service) ShipTransfer(ctx context.Context, p domain.Principal, transferID string) (domain.StockTransfer, error) {
	fromSource := func(t domain.StockTransfer) auth.Target { return auth.At(t.FromLocationID) }
	return s.transition(ctx, p, "ship_transfer", auth.OpShipTransfer, transferID, domain.TransferPending, fromSource,
		func(ctx context.Context, tx *txScope, t *domain.StockTransfer) error {
			rows, err := tx.lockRows(ctx, t.FromLocationID, []string{t.ProductID}, false, p.UserID)
			if err != nil {
				return err
			}
			row, ok := rows[t.ProductID]
			if !ok {
				return domain.InsufficientStock("location %s no longer stocks product %s", t.FromLocationID, t.ProductID).
					WithDetail("available", 0).
					WithDetail("requested", t.Quantity)
			}
			if _, err := tx.move(ctx, row, -t.Quantity, domain.ActionTransferOut, p.UserID, t.Notes, eventRefs{transferID: strPtr(t.ID)}); err != nil {
				return err
			}
			shippedAt := tx.now
			t.Status = domain.TransferShipped
			t.ShippedBy = strPtr(p.UserID)
			t.ShippedAt = &shippedAt
			return nil
		})
}

// ReceiveTransfer books shipped units into the destination, creating the
// row there when needed. The destination is not required to be active so
// units in transit can always land.
func (s *Service) ReceiveTransfer(ctx context.Context, p domain.Principal, transferID string) (domain.StockTransfer, error) {
	toDestination := func(t domain.StockTransfer) auth.Target { return auth.At(t.ToLocationID) }
	return s.transition(ctx, p, "receive_transfer", auth.OpReceiveTransfer, transferID, domain.TransferShipped, toDestination,
		func(ctx context.Context, tx *txScope, t *domain.StockTransfer) error {
			rows, err := tx.lockRows(ctx, t.ToLocationID, []string{t.ProductID}, true, p.UserID)
			if err != nil {
				return err
			}
			if _, err := tx.move(ctx, rows[t.ProductID], t.Quantity, domain.ActionTransferIn, p.UserID, t.Notes, eventRefs{transferID: strPtr(t.ID)}); err != nil {
				return err
			}
			receivedAt := tx.now
			t.Status = domain.TransferReceived
			t.ReceivedBy = strPtr(p.UserID)
			t.ReceivedAt = &receivedAt
			return nil
		})
}

// CancelTransfer withdraws a Pending transfer. Stock is untouched.
func (s *Service) CancelTransfer(ctx context.Context, p domain.Principal, transferID, reason string) (domain.StockTransfer, error) {
	either := func(t domain.StockTransfer) auth.Target {
		return auth.Target{Locations: []string{t.FromLocationID, t.ToLocationID}, RequestedBy: t.RequestedBy}
	}
	return s.transition(ctx, p, "cancel_transfer", auth.OpCancelTransfer, transferID, domain.TransferPending, either,
		func(_ context.Context, tx *txScope, t *domain.StockTransfer) error {
			cancelledAt := tx.now
			t.Status = domain.TransferCancelled
			t.CancelledBy = strPtr(p.UserID)
			t.CancelledAt = &cancelledAt
			if reason = strings.TrimSpace(reason); reason != "" {
				t.CancellationReason = &reason
			}
			return nil
		})
}

func (s *Service) GetTransfer(ctx context.Context, p domain.Principal, transferID string) (domain.StockTransfer, error) {
	t, err := s.store.GetTransfer(ctx, transferID, false)
	if err != nil {
		return domain.StockTransfer{}, s.read("get_transfer", notFoundAs(err, "transfer", transferID))
	}
	if err := auth.Authorize(auth.OpReadTransfers, p, auth.At(t.FromLocationID, t.ToLocationID)); err != nil {
		return domain.StockTransfer{}, err
	}
	return t, nil
}

type TransferQuery struct {
	LocationID string
	Status     domain.TransferStatus
	repository.Page
}

func (s *Service) ListTransfers(ctx context.Context, p domain.Principal, query TransferQuery) ([]domain.StockTransfer, int, error) {
	target := auth.Target{}
	if query.LocationID != "" {
		target = auth.At(query.LocationID)
	}
	if err := auth.Authorize(auth.OpReadTransfers, p, target); err != nil {
		return nil, 0, err
	}
	list, total, err := s.store.ListTransfers(ctx, p, repository.TransferFilter{
		LocationID: query.LocationID,
		Status:     query.Status,
		Page:       query.Page,
	})
	if err != nil {
		return nil, 0, s.read("list_transfers", err)
	}
	return list, total, nil
}
