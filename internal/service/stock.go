package service

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/auth"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/events"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

// LargeAdjustment is the absolute delta from which a manual adjustment is
// logged as critical.
const LargeAdjustment = 100

type eventRefs struct {
	saleID     *string
	transferID *string
	purchaseID *string
}

// move applies delta to a locked row and appends the matching audit event.
// It refuses to take the quantity below zero.
func (tx *txScope) move(ctx context.Context, row *domain.StockRow, delta int, action domain.StockAction, userID, note string, refs eventRefs) (domain.StockEvent, error) {
	before := row.Quantity
	after := before + delta
	if after < 0 {
		return domain.StockEvent{}, domain.InsufficientStock("insufficient stock for product %s at location %s", row.ProductID, row.LocationID).
			WithDetail("productId", row.ProductID).
			WithDetail("locationId", row.LocationID).
			WithDetail("available", before).
			WithDetail("requested", -delta)
	}
	row.Quantity = after
	row.EventCount++
	row.UpdatedAt = tx.now

	ev := domain.StockEvent{
		ID:                uuid.NewString(),
		StockRowID:        row.ID,
		Seq:               row.EventCount,
		UserID:            userID,
		Action:            action,
		Adjustment:        delta,
		Note:              note,
		NewQuantity:       after,
		RelatedSaleID:     refs.saleID,
		RelatedTransferID: refs.transferID,
		RelatedPurchaseID: refs.purchaseID,
		Timestamp:         tx.now,
	}
	if err := tx.q.UpdateStockRow(ctx, row); err != nil {
		return domain.StockEvent{}, err
	}
	if err := tx.q.AppendStockEvent(ctx, &ev); err != nil {
		return domain.StockEvent{}, err
	}
	tx.announceMove(*row, ev, before, userID)
	return ev, nil
}

func (tx *txScope) announceMove(row domain.StockRow, ev domain.StockEvent, before int, userID string) {
	tx.emit(events.Event{
		Type:        events.TypeInventoryUpdate,
		EntityType:  "stockRow",
		EntityID:    row.ID,
		LocationIDs: []string{row.LocationID},
		Delta: map[string]any{
			"productId":   row.ProductID,
			"action":      string(ev.Action),
			"adjustment":  ev.Adjustment,
			"newQuantity": ev.NewQuantity,
		},
		Rooms: []string{events.LocationRoom(row.LocationID)},
	})
	tx.touchProduct(row.ProductID)

	changes := domain.ActivityChanges{
		Before: map[string]any{"quantity": before},
		After:  map[string]any{"quantity": row.Quantity},
		Fields: []string{"quantity"},
	}
	switch {
	case row.Quantity == 0 && before > 0:
		tx.escalate(domain.UrgencyCritical)
		tx.record(userID, "out_of_stock", "stockRow", row.ID, []string{row.LocationID}, "stock row reached zero", domain.UrgencyCritical, changes)
	case row.Quantity <= row.NotifyAt && before > row.NotifyAt:
		tx.escalate(domain.UrgencyHigh)
		tx.record(userID, "low_stock", "stockRow", row.ID, []string{row.LocationID}, "stock row fell to its notify level", domain.UrgencyHigh, changes)
	}
}

// touchProduct tells the products room that stock of productID changed
// somewhere, once per transaction. The payload carries no location or
// quantity: the room is open to every principal.
func (tx *txScope) touchProduct(productID string) {
	for _, ev := range tx.events {
		if ev.Type == events.TypeInventoryUpdate && ev.EntityType == "product" && ev.EntityID == productID {
			return
		}
	}
	tx.emit(events.Event{
		Type:       events.TypeInventoryUpdate,
		EntityType: "product",
		EntityID:   productID,
		Rooms:      []string{events.RoomProducts},
	})
}

// newRow inserts an empty row for a pair seen for the first time.
func (tx *txScope) newRow(ctx context.Context, productID, locationID, userID string, minStock, notifyAt int, expiry *time.Time) (domain.StockRow, error) {
	row := domain.StockRow{
		ID:         uuid.NewString(),
		ProductID:  productID,
		LocationID: locationID,
		MinStock:   minStock,
		NotifyAt:   notifyAt,
		ExpiryDate: expiry,
		CreatedBy:  userID,
		CreatedAt:  tx.now,
		UpdatedAt:  tx.now,
	}
	if err := tx.q.InsertStockRow(ctx, &row); err != nil {
		return domain.StockRow{}, err
	}
	return row, nil
}

// lockRows locks the rows of productIDs at locationID in id order so
// concurrent multi-row operations cannot deadlock. Missing rows are created
// with default thresholds when create is set and skipped otherwise.
func (tx *txScope) lockRows(ctx context.Context, locationID string, productIDs []string, create bool, userID string) (map[string]*domain.StockRow, error) {
	sorted := slices.Sorted(slices.Values(productIDs))
	sorted = slices.Compact(sorted)
	rows := make(map[string]*domain.StockRow, len(sorted))
	for _, productID := range sorted {
		row, err := tx.q.GetStockRowByKey(ctx, productID, locationID, true)
		if errors.Is(err, repository.ErrNotFound) {
			if !create {
				continue
			}
			row, err = tx.newRow(ctx, productID, locationID, userID, domain.DefaultMinStock, domain.DefaultNotifyAt, nil)
		}
		if err != nil {
			return nil, err
		}
		rows[productID] = &row
	}
	return rows, nil
}

type quantityLine struct {
	productID string
	quantity  int
}

// aggregate sums quantities per product in first-appearance order.
func aggregate[T any](items []T, key func(T) (string, int)) []quantityLine {
	index := map[string]int{}
	var lines []quantityLine
	for _, item := range items {
		productID, qty := key(item)
		if i, ok := index[productID]; ok {
			lines[i].quantity += qty
			continue
		}
		index[productID] = len(lines)
		lines = append(lines, quantityLine{productID: productID, quantity: qty})
	}
	return lines
}

func productIDs(lines []quantityLine) []string {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.productID
	}
	return ids
}

func activeProduct(ctx context.Context, q repository.Querier, id string) (domain.Product, error) {
	p, err := q.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, notFoundAs(err, "product", id)
	}
	if !p.IsActive {
		return domain.Product{}, domain.NotFound("product %s is inactive", id).WithDetail("productId", id)
	}
	return p, nil
}

func activeLocation(ctx context.Context, q repository.Querier, id string) (domain.Location, error) {
	l, err := q.GetLocation(ctx, id)
	if err != nil {
		return domain.Location{}, notFoundAs(err, "location", id)
	}
	if !l.IsActive {
		return domain.Location{}, domain.NotFound("location %s is inactive", id).WithDetail("locationId", id)
	}
	return l, nil
}

type CreateStockInput struct {
	ProductID  string
	LocationID string
	Quantity   int
	MinStock   *int
	NotifyAt   *int
	ExpiryDate *time.Time
}

// CreateStockRow registers a product at a location with an opening quantity.
func (s *Service) CreateStockRow(ctx context.Context, p domain.Principal, in CreateStockInput) (domain.StockRow, error) {
	if in.ProductID == "" {
		return domain.StockRow{}, domain.BadRequest("productId is required").WithField("productId")
	}
	if in.LocationID == "" {
		return domain.StockRow{}, domain.BadRequest("locationId is required").WithField("locationId")
	}
	if in.Quantity < 0 {
		return domain.StockRow{}, domain.BadRequest("initialQuantity must not be negative").WithField("initialQuantity")
	}
	minStock := domain.DefaultMinStock
	if in.MinStock != nil {
		if *in.MinStock < 0 {
			return domain.StockRow{}, domain.BadRequest("minStock must not be negative").WithField("minStock")
		}
		minStock = *in.MinStock
	}
	notifyAt := minStock
	if in.NotifyAt != nil {
		if *in.NotifyAt < 0 {
			return domain.StockRow{}, domain.BadRequest("notifyAt must not be negative").WithField("notifyAt")
		}
		notifyAt = *in.NotifyAt
	}
	if err := auth.Authorize(auth.OpCreateStock, p, auth.At(in.LocationID)); err != nil {
		return domain.StockRow{}, err
	}

	var created domain.StockRow
	err := s.inTx(ctx, "create_stock_row", func(ctx context.Context, tx *txScope) error {
		if _, err := activeProduct(ctx, tx.q, in.ProductID); err != nil {
			return err
		}
		if _, err := activeLocation(ctx, tx.q, in.LocationID); err != nil {
			return err
		}
		if _, err := tx.q.GetStockRowByKey(ctx, in.ProductID, in.LocationID, true); err == nil {
			return domain.Conflict("product %s is already stocked at location %s", in.ProductID, in.LocationID)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		row := domain.StockRow{
			ID:         uuid.NewString(),
			ProductID:  in.ProductID,
			LocationID: in.LocationID,
			Quantity:   in.Quantity,
			MinStock:   minStock,
			NotifyAt:   notifyAt,
			ExpiryDate: in.ExpiryDate,
			CreatedBy:  p.UserID,
			EventCount: 1,
			CreatedAt:  tx.now,
			UpdatedAt:  tx.now,
		}
		if err := tx.q.InsertStockRow(ctx, &row); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return domain.Conflict("product %s is already stocked at location %s", in.ProductID, in.LocationID)
			}
			return err
		}
		ev := domain.StockEvent{
			ID:          uuid.NewString(),
			StockRowID:  row.ID,
			Seq:         1,
			UserID:      p.UserID,
			Action:      domain.ActionAddedToLocation,
			Adjustment:  in.Quantity,
			NewQuantity: in.Quantity,
			Timestamp:   tx.now,
		}
		if err := tx.q.AppendStockEvent(ctx, &ev); err != nil {
			return err
		}
		tx.announceMove(row, ev, 0, p.UserID)
		tx.record(p.UserID, "stock_row_created", "stockRow", row.ID, []string{row.LocationID}, "product added to location", domain.UrgencyLow,
			domain.ActivityChanges{After: map[string]any{"quantity": row.Quantity, "minStock": minStock, "notifyAt": notifyAt}})
		row.AuditLog = []domain.StockEvent{ev}
		created = row
		return nil
	})
	return created, err
}

// AdjustStock changes a row by a signed, non-zero delta.
func (s *Service) AdjustStock(ctx context.Context, p domain.Principal, rowID string, delta int, note string) (domain.StockRow, error) {
	if delta == 0 {
		return domain.StockRow{}, domain.BadRequest("adjustment must be a non-zero integer").WithField("adjustment")
	}
	if !p.Authenticated() {
		return domain.StockRow{}, auth.Authorize(auth.OpAdjustStock, p, auth.Target{})
	}

	var updated domain.StockRow
	err := s.inTx(ctx, "adjust_stock", func(ctx context.Context, tx *txScope) error {
		row, err := tx.q.GetStockRow(ctx, rowID, true)
		if err != nil {
			return notFoundAs(err, "stockRow", rowID)
		}
		if err := auth.Authorize(auth.OpAdjustStock, p, auth.At(row.LocationID)); err != nil {
			return err
		}
		if _, err := tx.move(ctx, &row, delta, domain.ActionAdjustment, p.UserID, note, eventRefs{}); err != nil {
			return err
		}
		base := domain.UrgencyMedium
		if delta >= LargeAdjustment || delta <= -LargeAdjustment {
			base = domain.UrgencyCritical
		}
		tx.record(p.UserID, "stock_adjusted", "stockRow", row.ID, []string{row.LocationID}, note, base, domain.ActivityChanges{
			Before: map[string]any{"quantity": row.Quantity - delta},
			After:  map[string]any{"quantity": row.Quantity},
			Fields: []string{"quantity"},
		})
		tail, err := tx.q.TailStockEvents(ctx, row.ID, domain.AuditTailSize)
		if err != nil {
			return err
		}
		row.AuditLog = tail
		updated = row
		return nil
	})
	return updated, err
}

// GetStockRow returns a row with its most recent audit events.
func (s *Service) GetStockRow(ctx context.Context, p domain.Principal, rowID string) (domain.StockRow, error) {
	row, err := s.store.GetStockRow(ctx, rowID, false)
	if err != nil {
		return domain.StockRow{}, s.read("get_stock_row", notFoundAs(err, "stockRow", rowID))
	}
	if err := auth.Authorize(auth.OpReadInventory, p, auth.At(row.LocationID)); err != nil {
		return domain.StockRow{}, err
	}
	tail, err := s.store.TailStockEvents(ctx, row.ID, domain.AuditTailSize)
	if err != nil {
		return domain.StockRow{}, s.read("get_stock_row", err)
	}
	row.AuditLog = tail
	return row, nil
}

// StockHistory pages the full audit log of a row, oldest first.
func (s *Service) StockHistory(ctx context.Context, p domain.Principal, rowID string, page repository.Page) ([]domain.StockEvent, error) {
	row, err := s.store.GetStockRow(ctx, rowID, false)
	if err != nil {
		return nil, s.read("stock_history", notFoundAs(err, "stockRow", rowID))
	}
	if err := auth.Authorize(auth.OpReadInventory, p, auth.At(row.LocationID)); err != nil {
		return nil, err
	}
	page = page.Normalize()
	list, err := s.store.ListStockEvents(ctx, row.ID, page.Limit, page.Offset())
	return list, s.read("stock_history", err)
}

type StockQuery struct {
	ProductID  string
	LocationID string
	Search     string
	LowStock   bool
	OutOfStock bool
	Expired    bool
	repository.Page
}

// ListStock returns rows visible to p. Asking for a specific location the
// principal cannot read is Forbidden rather than an empty page.
func (s *Service) ListStock(ctx context.Context, p domain.Principal, query StockQuery) ([]domain.StockRow, int, error) {
	target := auth.Target{}
	if query.LocationID != "" {
		target = auth.At(query.LocationID)
	}
	if err := auth.Authorize(auth.OpReadInventory, p, target); err != nil {
		return nil, 0, err
	}
	filter := repository.StockFilter{
		ProductID:  query.ProductID,
		LocationID: query.LocationID,
		Search:     query.Search,
		LowStock:   query.LowStock,
		OutOfStock: query.OutOfStock,
		Page:       query.Page,
	}
	if query.Expired {
		now := s.now()
		filter.ExpiredBefore = &now
	}
	rows, total, err := s.store.ListStockRows(ctx, p, filter)
	if err != nil {
		return nil, 0, s.read("list_stock", err)
	}
	return rows, total, nil
}

// ImportInitialStock applies parsed spreadsheet lines to one location in a
// single transaction. New pairs get an initial_stock event; existing rows an
// adjustment for the difference.
func (s *Service) ImportInitialStock(ctx context.Context, p domain.Principal, locationID string, lines []domain.InitialStockLine) (domain.ImportResult, error) {
	if locationID == "" {
		return domain.ImportResult{}, domain.BadRequest("locationId is required").WithField("locationId")
	}
	if len(lines) == 0 {
		return domain.ImportResult{}, domain.BadRequest("import file has no data rows")
	}
	for i, line := range lines {
		if line.SKU == "" {
			return domain.ImportResult{}, domain.BadRequest("line %d: sku is required", i+1).WithDetail("line", i+1)
		}
		if line.Quantity < 0 || valueOr(line.MinStock, 0) < 0 || valueOr(line.NotifyAt, 0) < 0 {
			return domain.ImportResult{}, domain.BadRequest("line %d: quantities must not be negative", i+1).WithDetail("line", i+1)
		}
	}
	if err := auth.Authorize(auth.OpImportStock, p, auth.At(locationID)); err != nil {
		return domain.ImportResult{}, err
	}

	var result domain.ImportResult
	err := s.inTx(ctx, "import_stock", func(ctx context.Context, tx *txScope) error {
		result = domain.ImportResult{TotalLines: len(lines)}
		if _, err := activeLocation(ctx, tx.q, locationID); err != nil {
			return err
		}
		for i, line := range lines {
			product, err := tx.q.GetProductBySKU(ctx, line.SKU)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.NotFound("line %d: unknown sku %q", i+1, line.SKU).WithDetail("line", i+1)
				}
				return err
			}
			row, err := tx.q.GetStockRowByKey(ctx, product.ID, locationID, true)
			switch {
			case errors.Is(err, repository.ErrNotFound):
				if !product.IsActive {
					return domain.NotFound("line %d: product %s is inactive", i+1, line.SKU).WithDetail("line", i+1)
				}
				minStock := valueOr(line.MinStock, domain.DefaultMinStock)
				notifyAt := valueOr(line.NotifyAt, minStock)
				row, err = tx.newRow(ctx, product.ID, locationID, p.UserID, minStock, notifyAt, line.ExpiryDate)
				if err != nil {
					return err
				}
				if _, err := tx.move(ctx, &row, line.Quantity, domain.ActionInitialStock, p.UserID, "initial stock import", eventRefs{}); err != nil {
					return err
				}
				result.Created++
				continue
			case err != nil:
				return err
			}

			thresholdsChanged := applyThresholds(&row, line)
			diff := line.Quantity - row.Quantity
			if diff == 0 {
				if thresholdsChanged {
					row.UpdatedAt = tx.now
					if err := tx.q.UpdateStockRow(ctx, &row); err != nil {
						return err
					}
				}
				result.Unchanged++
				continue
			}
			if _, err := tx.move(ctx, &row, diff, domain.ActionAdjustment, p.UserID, "stock import", eventRefs{}); err != nil {
				return err
			}
			result.Adjusted++
		}
		tx.record(p.UserID, "stock_imported", "location", locationID, []string{locationID}, "initial stock import", domain.UrgencyMedium,
			domain.ActivityChanges{After: map[string]any{
				"totalLines": result.TotalLines,
				"created":    result.Created,
				"adjusted":   result.Adjusted,
				"unchanged":  result.Unchanged,
			}})
		return nil
	})
	return result, err
}

func applyThresholds(row *domain.StockRow, line domain.InitialStockLine) bool {
	changed := false
	if line.MinStock != nil && *line.MinStock != row.MinStock {
		row.MinStock = *line.MinStock
		changed = true
	}
	if line.NotifyAt != nil && *line.NotifyAt != row.NotifyAt {
		row.NotifyAt = *line.NotifyAt
		changed = true
	}
	if line.ExpiryDate != nil && (row.ExpiryDate == nil || !row.ExpiryDate.Equal(*line.ExpiryDate)) {
		row.ExpiryDate = line.ExpiryDate
		changed = true
	}
	return changed
}

func valueOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}
