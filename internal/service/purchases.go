package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/auth"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/events"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

type CreatePurchaseInput struct {
	PurchaseNumber string
	SupplierID     string
	WarehouseID    string
	Items          []domain.PurchaseItem
	OrderTax       decimal.Decimal
	Discount       decimal.Decimal
	Shipping       decimal.Decimal
	AmountPaid     decimal.Decimal
	Status         domain.PurchaseStatus
	PurchaseDate   *time.Time
}

func (in *CreatePurchaseInput) validate() error {
	in.PurchaseNumber = strings.TrimSpace(in.PurchaseNumber)
	switch {
	case in.SupplierID == "":
		return domain.BadRequest("supplierId is required").WithField("supplierId")
	case in.WarehouseID == "":
		return domain.BadRequest("warehouseId is required").WithField("warehouseId")
	case len(in.Items) == 0:
		return domain.BadRequest("a purchase needs at least one item").WithField("items")
	}
	for i, item := range in.Items {
		switch {
		case item.ProductID == "":
			return domain.BadRequest("item %d: productId is required", i).WithField("items.productId")
		case item.Quantity <= 0:
			return domain.BadRequest("item %d: quantity must be positive", i).WithField("items.quantity")
		case item.UnitCost.IsNegative():
			return domain.BadRequest("item %d: unitCost must not be negative", i).WithField("items.unitCost")
		}
	}
	for field, amount := range map[string]decimal.Decimal{
		"orderTax":   in.OrderTax,
		"discount":   in.Discount,
		"shipping":   in.Shipping,
		"amountPaid": in.AmountPaid,
	} {
		if amount.IsNegative() {
			return domain.BadRequest("%s must not be negative", field).WithField(field)
		}
	}
	switch in.Status {
	case "":
		in.Status = domain.PurchasePending
	case domain.PurchaseDraft, domain.PurchasePending:
	default:
		return domain.BadRequest("a new purchase must be draft or pending").WithField("status")
	}
	return nil
}

func purchaseNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("PO-%s-%s", now.Format("20060102"), suffix)
}

// CreatePurchase records an order against a warehouse. No stock moves until
// the purchase is received.
func (s *Service) CreatePurchase(ctx context.Context, p domain.Principal, in CreatePurchaseInput) (domain.Purchase, error) {
	if err := in.validate(); err != nil {
		return domain.Purchase{}, err
	}
	if err := auth.Authorize(auth.OpCreatePurchase, p, auth.At(in.WarehouseID)); err != nil {
		return domain.Purchase{}, err
	}

	var purchase domain.Purchase
	err := s.inTx(ctx, "create_purchase", func(ctx context.Context, tx *txScope) error {
		if _, err := activeLocation(ctx, tx.q, in.WarehouseID); err != nil {
			return err
		}
		for _, item := range in.Items {
			if _, err := activeProduct(ctx, tx.q, item.ProductID); err != nil {
				return err
			}
		}

		totals := domain.ComputePurchaseTotals(in.Items, in.OrderTax, in.Discount, in.Shipping, in.AmountPaid)
		purchase = domain.Purchase{
			ID:             uuid.NewString(),
			PurchaseNumber: in.PurchaseNumber,
			SupplierID:     in.SupplierID,
			WarehouseID:    in.WarehouseID,
			Items:          make([]domain.PurchaseItem, len(in.Items)),
			Subtotal:       totals.Subtotal,
			OrderTax:       domain.Round2(in.OrderTax),
			Discount:       domain.Round2(in.Discount),
			Shipping:       domain.Round2(in.Shipping),
			GrandTotal:     totals.GrandTotal,
			AmountPaid:     totals.AmountPaid,
			AmountDue:      totals.AmountDue,
			Status:         in.Status,
			PaymentStatus:  totals.PaymentStatus,
			PurchaseDate:   tx.now,
			CreatedBy:      p.UserID,
			CreatedAt:      tx.now,
		}
		if in.PurchaseDate != nil {
			purchase.PurchaseDate = in.PurchaseDate.UTC()
		}
		if purchase.PurchaseNumber == "" {
			purchase.PurchaseNumber = purchaseNumber(tx.now)
		}
		for i, item := range in.Items {
			item.UnitCost = domain.Round2(item.UnitCost)
			item.LineTotal = totals.Lines[i]
			purchase.Items[i] = item
		}

		if err := tx.q.InsertPurchase(ctx, &purchase); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return domain.Conflict("purchase number %s already exists", purchase.PurchaseNumber).WithField("purchaseNumber")
			}
			return err
		}
		tx.record(p.UserID, "purchase_created", "purchase", purchase.ID, []string{purchase.WarehouseID}, "purchase "+purchase.PurchaseNumber+" created", domain.UrgencyLow,
			domain.ActivityChanges{After: map[string]any{
				"grandTotal":  purchase.GrandTotal.StringFixed(2),
				"status":      string(purchase.Status),
				"warehouseId": purchase.WarehouseID,
			}})
		return nil
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	return purchase, nil
}

// ReceivePurchase books every ordered unit into the warehouse and marks the
// purchase received. A second receipt fails with InvalidState.
func (s *Service) ReceivePurchase(ctx context.Context, p domain.Principal, purchaseID string) (domain.Purchase, error) {
	if !p.Authenticated() {
		return domain.Purchase{}, auth.Authorize(auth.OpReceivePurchase, p, auth.Target{})
	}

	var purchase domain.Purchase
	err := s.inTx(ctx, "receive_purchase", func(ctx context.Context, tx *txScope) error {
		var err error
		purchase, err = tx.q.GetPurchase(ctx, purchaseID, true)
		if err != nil {
			return notFoundAs(err, "purchase", purchaseID)
		}
		if err := auth.Authorize(auth.OpReceivePurchase, p, auth.At(purchase.WarehouseID)); err != nil {
			return err
		}
		if purchase.Status != domain.PurchasePending && purchase.Status != domain.PurchasePartiallyReceived {
			return domain.InvalidState("purchase %s is %s and cannot be received", purchase.PurchaseNumber, purchase.Status).
				WithDetail("status", string(purchase.Status))
		}

		lines := aggregate(purchase.Items, func(item domain.PurchaseItem) (string, int) { return item.ProductID, item.Quantity })
		rows, err := tx.lockRows(ctx, purchase.WarehouseID, productIDs(lines), true, p.UserID)
		if err != nil {
			return err
		}
		refs := eventRefs{purchaseID: strPtr(purchase.ID)}
		for _, line := range lines {
			note := "purchase " + purchase.PurchaseNumber
			if _, err := tx.move(ctx, rows[line.productID], line.quantity, domain.ActionPurchaseReceived, p.UserID, note, refs); err != nil {
				return err
			}
		}

		before := purchase.Status
		received := tx.now
		purchase.Status = domain.PurchaseReceived
		purchase.ReceivedDate = &received
		if err := tx.q.UpdatePurchase(ctx, &purchase); err != nil {
			return err
		}

		tx.emit(events.Event{
			Type:        events.TypePurchaseReceived,
			EntityType:  "purchase",
			EntityID:    purchase.ID,
			LocationIDs: []string{purchase.WarehouseID},
			Delta:       map[string]any{"purchaseNumber": purchase.PurchaseNumber, "items": len(lines)},
			Rooms:       []string{events.LocationRoom(purchase.WarehouseID)},
		})
		tx.record(p.UserID, "purchase_received", "purchase", purchase.ID, []string{purchase.WarehouseID}, "purchase "+purchase.PurchaseNumber+" received", domain.UrgencyMedium,
			domain.ActivityChanges{
				Before: map[string]any{"status": string(before)},
				After:  map[string]any{"status": string(purchase.Status)},
				Fields: []string{"status", "receivedDate"},
			})
		return nil
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	return purchase, nil
}

func (s *Service) GetPurchase(ctx context.Context, p domain.Principal, purchaseID string) (domain.Purchase, error) {
	purchase, err := s.store.GetPurchase(ctx, purchaseID, false)
	if err != nil {
		return domain.Purchase{}, s.read("get_purchase", notFoundAs(err, "purchase", purchaseID))
	}
	if err := auth.Authorize(auth.OpReadPurchases, p, auth.At(purchase.WarehouseID)); err != nil {
		return domain.Purchase{}, err
	}
	return purchase, nil
}

type PurchaseQuery struct {
	WarehouseID string
	Status      domain.PurchaseStatus
	repository.Page
}

func (s *Service) ListPurchases(ctx context.Context, p domain.Principal, query PurchaseQuery) ([]domain.Purchase, int, error) {
	target := auth.Target{}
	if query.WarehouseID != "" {
		target = auth.At(query.WarehouseID)
	}
	if err := auth.Authorize(auth.OpReadPurchases, p, target); err != nil {
		return nil, 0, err
	}
	list, total, err := s.store.ListPurchases(ctx, p, repository.PurchaseFilter{
		WarehouseID: query.WarehouseID,
		Status:      query.Status,
		Page:        query.Page,
	})
	if err != nil {
		return nil, 0, s.read("list_purchases", err)
	}
	return list, total, nil
}
