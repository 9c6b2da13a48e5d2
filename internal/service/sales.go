package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/auth"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/events"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

const defaultPaymentMethod = "cash"

func validateSaleDraft(d *domain.SaleDraft) error {
	if d.LocationID == "" {
		return domain.BadRequest("locationId is required").WithField("locationId")
	}
	if len(d.Items) == 0 {
		return domain.BadRequest("a sale needs at least one item").WithField("items")
	}
	for i, item := range d.Items {
		switch {
		case item.ProductID == "":
			return domain.BadRequest("item %d: productId is required", i).WithField("items.productId")
		case item.Quantity <= 0:
			return domain.BadRequest("item %d: quantity must be positive", i).WithField("items.quantity")
		case !item.UnitPrice.IsPositive():
			return domain.BadRequest("item %d: unitPrice must be positive", i).WithField("items.unitPrice")
		case item.ItemDiscountPct.IsNegative() || item.ItemDiscountPct.GreaterThan(decimal.NewFromInt(100)):
			return domain.BadRequest("item %d: itemDiscountPct must be between 0 and 100", i).WithField("items.itemDiscountPct")
		}
	}
	if d.Tax.IsNegative() {
		return domain.BadRequest("tax must not be negative").WithField("tax")
	}
	if d.Discount.IsNegative() {
		return domain.BadRequest("discount must not be negative").WithField("discount")
	}
	if d.Status == "" {
		d.Status = domain.SaleCompleted
	}
	switch {
	case !d.Status.Valid():
		return domain.BadRequest("unknown sale status %q", d.Status).WithField("status")
	case d.Status != domain.SaleCompleted && d.Status != domain.SalePending:
		return domain.BadRequest("a sale is recorded as completed or pending, not %s", d.Status).WithField("status")
	}
	d.PaymentMethod = strings.TrimSpace(d.PaymentMethod)
	if d.PaymentMethod == "" {
		d.PaymentMethod = defaultPaymentMethod
	}
	return nil
}

// RecordSale decrements every affected row, stores the sale with recomputed
// totals and, for a completed sale with a positive total, its income entry.
func (s *Service) RecordSale(ctx context.Context, p domain.Principal, draft domain.SaleDraft) (domain.Sale, error) {
	if err := validateSaleDraft(&draft); err != nil {
		return domain.Sale{}, err
	}
	if err := auth.Authorize(auth.OpCreateSale, p, auth.At(draft.LocationID)); err != nil {
		return domain.Sale{}, err
	}

	var sale domain.Sale
	err := s.inTx(ctx, "record_sale", func(ctx context.Context, tx *txScope) error {
		if _, err := activeLocation(ctx, tx.q, draft.LocationID); err != nil {
			return err
		}
		lines := aggregate(draft.Items, func(item domain.SaleItem) (string, int) { return item.ProductID, item.Quantity })
		for _, line := range lines {
			if _, err := activeProduct(ctx, tx.q, line.productID); err != nil {
				return err
			}
		}

		rows, err := tx.lockRows(ctx, draft.LocationID, productIDs(lines), false, p.UserID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			row, ok := rows[line.productID]
			if !ok || row.Quantity < line.quantity {
				available := 0
				if ok {
					available = row.Quantity
				}
				return domain.InsufficientStock("insufficient stock for product %s", line.productID).
					WithDetail("productId", line.productID).
					WithDetail("available", available).
					WithDetail("requested", line.quantity)
			}
		}

		totals := domain.ComputeSaleTotals(draft.Items, draft.Tax, draft.Discount)
		sale = domain.Sale{
			ID:            uuid.NewString(),
			Items:         make([]domain.SaleItem, len(draft.Items)),
			Subtotal:      totals.Subtotal,
			Tax:           totals.Tax,
			Discount:      totals.Discount,
			Total:         totals.Total,
			Status:        draft.Status,
			PaymentMethod: draft.PaymentMethod,
			Customer:      draft.Customer,
			LocationID:    draft.LocationID,
			CreatedBy:     p.UserID,
			CreatedAt:     tx.now,
		}
		for i, item := range draft.Items {
			item.UnitPrice = domain.Round2(item.UnitPrice)
			item.LineTotal = totals.Lines[i]
			sale.Items[i] = item
		}

		refs := eventRefs{saleID: strPtr(sale.ID)}
		for _, line := range lines {
			if _, err := tx.move(ctx, rows[line.productID], -line.quantity, domain.ActionSale, p.UserID, "sale", refs); err != nil {
				return err
			}
		}
		if err := tx.q.InsertSale(ctx, &sale); err != nil {
			return err
		}
		if sale.Status == domain.SaleCompleted && sale.Total.IsPositive() {
			income := domain.Income{
				ID:            uuid.NewString(),
				Source:        domain.IncomeSale,
				Amount:        sale.Total,
				Date:          tx.now,
				RelatedSaleID: strPtr(sale.ID),
				Description:   "sale " + sale.ID,
				CreatedBy:     p.UserID,
				CreatedAt:     tx.now,
			}
			if err := tx.q.InsertIncome(ctx, &income); err != nil {
				return err
			}
		}

		tx.emit(events.Event{
			Type:        events.TypeNewSale,
			EntityType:  "sale",
			EntityID:    sale.ID,
			LocationIDs: []string{sale.LocationID},
			Delta:       map[string]any{"total": sale.Total.StringFixed(2), "items": len(sale.Items)},
			Rooms:       []string{events.LocationRoom(sale.LocationID), events.RoomSales},
		})
		tx.record(p.UserID, "sale_created", "sale", sale.ID, []string{sale.LocationID}, "sale recorded", domain.UrgencyMedium, domain.ActivityChanges{
			After: map[string]any{"total": sale.Total.StringFixed(2), "locationId": sale.LocationID},
		})
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

// DeleteSale returns the sold quantities to stock and removes the sale and
// its income entry. A row that no longer exists aborts with Conflict.
func (s *Service) DeleteSale(ctx context.Context, p domain.Principal, saleID string) error {
	if err := auth.Authorize(auth.OpDeleteSale, p, auth.Target{}); err != nil {
		return err
	}
	return s.inTx(ctx, "delete_sale", func(ctx context.Context, tx *txScope) error {
		sale, err := tx.q.GetSale(ctx, saleID, true)
		if err != nil {
			return notFoundAs(err, "sale", saleID)
		}
		if err := auth.Authorize(auth.OpDeleteSale, p, auth.At(sale.LocationID)); err != nil {
			return err
		}

		lines := aggregate(sale.Items, func(item domain.SaleItem) (string, int) { return item.ProductID, item.Quantity })
		rows, err := tx.lockRows(ctx, sale.LocationID, productIDs(lines), false, p.UserID)
		if err != nil {
			return err
		}
		refs := eventRefs{saleID: strPtr(sale.ID)}
		for _, line := range lines {
			row, ok := rows[line.productID]
			if !ok {
				return domain.Conflict("stock row for product %s at location %s no longer exists", line.productID, sale.LocationID).
					WithDetail("productId", line.productID)
			}
			if _, err := tx.move(ctx, row, line.quantity, domain.ActionSaleDeleted, p.UserID, "sale deleted", refs); err != nil {
				return err
			}
		}
		if _, err := tx.q.DeleteIncomesForSale(ctx, sale.ID); err != nil {
			return err
		}
		if err := tx.q.DeleteSale(ctx, sale.ID); err != nil {
			return err
		}

		tx.emit(events.Event{
			Type:        events.TypeSaleDeleted,
			EntityType:  "sale",
			EntityID:    sale.ID,
			LocationIDs: []string{sale.LocationID},
			Delta:       map[string]any{"total": sale.Total.StringFixed(2)},
			Rooms:       []string{events.LocationRoom(sale.LocationID), events.RoomSales},
		})
		tx.record(p.UserID, "sale_deleted", "sale", sale.ID, []string{sale.LocationID}, "sale deleted and stock restored", domain.UrgencyHigh, domain.ActivityChanges{
			Before: map[string]any{"total": sale.Total.StringFixed(2), "locationId": sale.LocationID},
		})
		return nil
	})
}

func (s *Service) GetSale(ctx context.Context, p domain.Principal, saleID string) (domain.Sale, error) {
	sale, err := s.store.GetSale(ctx, saleID, false)
	if err != nil {
		return domain.Sale{}, s.read("get_sale", notFoundAs(err, "sale", saleID))
	}
	if err := auth.Authorize(auth.OpReadSales, p, auth.At(sale.LocationID)); err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

type SaleQuery struct {
	LocationID string
	From       *time.Time
	To         *time.Time
	repository.Page
}

func (s *Service) ListSales(ctx context.Context, p domain.Principal, query SaleQuery) ([]domain.Sale, int, error) {
	target := auth.Target{}
	if query.LocationID != "" {
		target = auth.At(query.LocationID)
	}
	if err := auth.Authorize(auth.OpReadSales, p, target); err != nil {
		return nil, 0, err
	}
	sales, total, err := s.store.ListSales(ctx, p, repository.SaleFilter{
		LocationID: query.LocationID,
		From:       query.From,
		To:         query.To,
		Page:       query.Page,
	})
	if err != nil {
		return nil, 0, s.read("list_sales", err)
	}
	return sales, total, nil
}

type IncomeQuery struct {
	From *time.Time
	To   *time.Time
	repository.Page
}

// ListIncomes pages the incomes of sales at the caller's locations, newest
// first.
func (s *Service) ListIncomes(ctx context.Context, p domain.Principal, query IncomeQuery) ([]domain.Income, int, error) {
	if err := auth.Authorize(auth.OpReadIncomes, p, auth.Target{}); err != nil {
		return nil, 0, err
	}
	list, total, err := s.store.ListIncomes(ctx, p, repository.IncomeFilter{
		From: query.From,
		To:   query.To,
		Page: query.Page,
	})
	if err != nil {
		return nil, 0, s.read("list_incomes", err)
	}
	return list, total, nil
}
