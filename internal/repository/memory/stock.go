package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

func (q *querier) GetStockRow(_ context.Context, id string, _ bool) (domain.StockRow, error) {
	t, done := q.read()
	defer done()
	row, ok := t.rows[id]
	if !ok {
		return domain.StockRow{}, repository.ErrNotFound
	}
	return row, nil
}

func (q *querier) GetStockRowByKey(_ context.Context, productID, locationID string, _ bool) (domain.StockRow, error) {
	t, done := q.read()
	defer done()
	id, ok := t.rowKeys[rowKey{productID, locationID}]
	if !ok {
		return domain.StockRow{}, repository.ErrNotFound
	}
	return t.rows[id], nil
}

func (q *querier) InsertStockRow(_ context.Context, row *domain.StockRow) error {
	t, done := q.write()
	defer done()
	key := rowKey{row.ProductID, row.LocationID}
	if _, exists := t.rowKeys[key]; exists {
		return repository.ErrDuplicate
	}
	if row.Quantity < 0 {
		return errNegativeQuantity
	}
	stored := *row
	stored.AuditLog = nil
	t.rows[row.ID] = stored
	t.rowKeys[key] = row.ID
	return nil
}

func (q *querier) UpdateStockRow(_ context.Context, row *domain.StockRow) error {
	t, done := q.write()
	defer done()
	current, ok := t.rows[row.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if row.Quantity < 0 {
		return errNegativeQuantity
	}
	current.Quantity = row.Quantity
	current.MinStock = row.MinStock
	current.NotifyAt = row.NotifyAt
	current.ExpiryDate = row.ExpiryDate
	current.EventCount = row.EventCount
	current.UpdatedAt = row.UpdatedAt
	t.rows[row.ID] = current
	return nil
}

func (q *querier) CountStockRowsForProduct(_ context.Context, productID string) (int, error) {
	t, done := q.read()
	defer done()
	n := 0
	for _, row := range t.rows {
		if row.ProductID == productID {
			n++
		}
	}
	return n, nil
}

func (q *querier) ListStockRows(_ context.Context, p domain.Principal, filter repository.StockFilter) ([]domain.StockRow, int, error) {
	t, done := q.read()
	defer done()
	search := strings.TrimSpace(filter.Search)
	list := make([]domain.StockRow, 0)
	for _, row := range t.rows {
		if !inScope(p, row.LocationID) {
			continue
		}
		if filter.ProductID != "" && row.ProductID != filter.ProductID {
			continue
		}
		if filter.LocationID != "" && row.LocationID != filter.LocationID {
			continue
		}
		if filter.LowStock && !row.LowStock() {
			continue
		}
		if filter.OutOfStock && row.Quantity != 0 {
			continue
		}
		if filter.ExpiredBefore != nil && !row.Expired(*filter.ExpiredBefore) {
			continue
		}
		if search != "" {
			product := t.products[row.ProductID]
			if !containsFold(product.Name, search) && !containsFold(product.SKU, search) {
				continue
			}
		}
		list = append(list, row)
	}
	sortByTime(list,
		func(r domain.StockRow) int64 { return r.CreatedAt.UnixNano() },
		func(r domain.StockRow) string { return r.ID },
		false)
	return paginate(list, filter.Page), len(list), nil
}

func (q *querier) CountStockAlerts(_ context.Context, p domain.Principal, now time.Time) ([]domain.StockAlertCounts, error) {
	t, done := q.read()
	defer done()
	byLocation := map[string]*domain.StockAlertCounts{}
	for _, row := range t.rows {
		if !inScope(p, row.LocationID) {
			continue
		}
		c, ok := byLocation[row.LocationID]
		if !ok {
			c = &domain.StockAlertCounts{LocationID: row.LocationID}
			byLocation[row.LocationID] = c
		}
		switch {
		case row.Quantity == 0:
			c.OutOfStock++
		case row.LowStock():
			c.LowStock++
		}
		if row.Expired(now) {
			c.Expired++
		}
	}
	counts := make([]domain.StockAlertCounts, 0, len(byLocation))
	for _, c := range byLocation {
		counts = append(counts, *c)
	}
	slices.SortFunc(counts, func(a, b domain.StockAlertCounts) int {
		return strings.Compare(a.LocationID, b.LocationID)
	})
	return counts, nil
}

func (q *querier) AppendStockEvent(_ context.Context, ev *domain.StockEvent) error {
	t, done := q.write()
	defer done()
	if _, ok := t.rows[ev.StockRowID]; !ok {
		return repository.ErrNotFound
	}
	existing := t.events[ev.StockRowID]
	if n := len(existing); n > 0 && existing[n-1].Seq >= ev.Seq {
		return repository.ErrDuplicate
	}
	t.events[ev.StockRowID] = append(slices.Clip(existing), *ev)
	return nil
}

func (q *querier) ListStockEvents(_ context.Context, rowID string, limit, offset int) ([]domain.StockEvent, error) {
	t, done := q.read()
	defer done()
	events := t.events[rowID]
	offset = max(offset, 0)
	if offset >= len(events) {
		return []domain.StockEvent{}, nil
	}
	end := len(events)
	if limit > 0 {
		end = min(offset+limit, end)
	}
	return slices.Clone(events[offset:end]), nil
}

func (q *querier) TailStockEvents(_ context.Context, rowID string, limit int) ([]domain.StockEvent, error) {
	t, done := q.read()
	defer done()
	events := t.events[rowID]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return slices.Clone(events), nil
}
