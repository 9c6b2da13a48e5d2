package memory

import (
	"context"
	"slices"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

func (q *querier) InsertSale(_ context.Context, s *domain.Sale) error {
	t, done := q.write()
	defer done()
	if _, exists := t.sales[s.ID]; exists {
		return repository.ErrDuplicate
	}
	stored := *s
	stored.Items = slices.Clone(s.Items)
	t.sales[s.ID] = stored
	return nil
}

func (q *querier) GetSale(_ context.Context, id string, _ bool) (domain.Sale, error) {
	t, done := q.read()
	defer done()
	s, ok := t.sales[id]
	if !ok {
		return domain.Sale{}, repository.ErrNotFound
	}
	s.Items = slices.Clone(s.Items)
	return s, nil
}

func (q *querier) DeleteSale(_ context.Context, id string) error {
	t, done := q.write()
	defer done()
	if _, ok := t.sales[id]; !ok {
		return repository.ErrNotFound
	}
	delete(t.sales, id)
	return nil
}

func (q *querier) ListSales(_ context.Context, p domain.Principal, filter repository.SaleFilter) ([]domain.Sale, int, error) {
	t, done := q.read()
	defer done()
	list := make([]domain.Sale, 0)
	for _, s := range t.sales {
		if !inScope(p, s.LocationID) {
			continue
		}
		if filter.LocationID != "" && s.LocationID != filter.LocationID {
			continue
		}
		if filter.From != nil && s.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && s.CreatedAt.After(*filter.To) {
			continue
		}
		s.Items = slices.Clone(s.Items)
		list = append(list, s)
	}
	sortByTime(list,
		func(s domain.Sale) int64 { return s.CreatedAt.UnixNano() },
		func(s domain.Sale) string { return s.ID },
		true)
	return paginate(list, filter.Page), len(list), nil
}

func (q *querier) InsertIncome(_ context.Context, in *domain.Income) error {
	t, done := q.write()
	defer done()
	if in.RelatedSaleID != nil {
		for _, other := range t.incomes {
			if other.RelatedSaleID != nil && *other.RelatedSaleID == *in.RelatedSaleID {
				return repository.ErrDuplicate
			}
		}
	}
	t.incomes[in.ID] = *in
	return nil
}

func (q *querier) DeleteIncomesForSale(_ context.Context, saleID string) (int, error) {
	t, done := q.write()
	defer done()
	n := 0
	for id, in := range t.incomes {
		if in.RelatedSaleID != nil && *in.RelatedSaleID == saleID {
			delete(t.incomes, id)
			n++
		}
	}
	return n, nil
}

func (q *querier) ListIncomes(_ context.Context, p domain.Principal, filter repository.IncomeFilter) ([]domain.Income, int, error) {
	t, done := q.read()
	defer done()
	_, all := repository.ScopeLocations(p)
	list := make([]domain.Income, 0)
	for _, in := range t.incomes {
		if !all {
			if in.RelatedSaleID == nil {
				continue
			}
			sale, ok := t.sales[*in.RelatedSaleID]
			if !ok || !inScope(p, sale.LocationID) {
				continue
			}
		}
		if filter.RelatedSaleID != "" && (in.RelatedSaleID == nil || *in.RelatedSaleID != filter.RelatedSaleID) {
			continue
		}
		if filter.From != nil && in.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && in.Date.After(*filter.To) {
			continue
		}
		list = append(list, in)
	}
	sortByTime(list,
		func(in domain.Income) int64 { return in.Date.UnixNano() },
		func(in domain.Income) string { return in.ID },
		true)
	return paginate(list, filter.Page), len(list), nil
}

func (q *querier) InsertPurchase(_ context.Context, p *domain.Purchase) error {
	t, done := q.write()
	defer done()
	for _, other := range t.purchases {
		if other.ID == p.ID || other.PurchaseNumber == p.PurchaseNumber {
			return repository.ErrDuplicate
		}
	}
	stored := *p
	stored.Items = slices.Clone(p.Items)
	t.purchases[p.ID] = stored
	return nil
}

func (q *querier) GetPurchase(_ context.Context, id string, _ bool) (domain.Purchase, error) {
	t, done := q.read()
	defer done()
	p, ok := t.purchases[id]
	if !ok {
		return domain.Purchase{}, repository.ErrNotFound
	}
	p.Items = slices.Clone(p.Items)
	return p, nil
}

func (q *querier) UpdatePurchase(_ context.Context, p *domain.Purchase) error {
	t, done := q.write()
	defer done()
	if _, ok := t.purchases[p.ID]; !ok {
		return repository.ErrNotFound
	}
	stored := *p
	stored.Items = slices.Clone(p.Items)
	t.purchases[p.ID] = stored
	return nil
}

func (q *querier) ListPurchases(_ context.Context, principal domain.Principal, filter repository.PurchaseFilter) ([]domain.Purchase, int, error) {
	t, done := q.read()
	defer done()
	list := make([]domain.Purchase, 0)
	for _, p := range t.purchases {
		if !inScope(principal, p.WarehouseID) {
			continue
		}
		if filter.WarehouseID != "" && p.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		p.Items = slices.Clone(p.Items)
		list = append(list, p)
	}
	sortByTime(list,
		func(p domain.Purchase) int64 { return p.PurchaseDate.UnixNano() },
		func(p domain.Purchase) string { return p.ID },
		true)
	return paginate(list, filter.Page), len(list), nil
}

func (q *querier) InsertTransfer(_ context.Context, tr *domain.StockTransfer) error {
	t, done := q.write()
	defer done()
	if _, exists := t.transfers[tr.ID]; exists {
		return repository.ErrDuplicate
	}
	t.transfers[tr.ID] = *tr
	return nil
}

func (q *querier) GetTransfer(_ context.Context, id string, _ bool) (domain.StockTransfer, error) {
	t, done := q.read()
	defer done()
	tr, ok := t.transfers[id]
	if !ok {
		return domain.StockTransfer{}, repository.ErrNotFound
	}
	return tr, nil
}

func (q *querier) UpdateTransfer(_ context.Context, tr *domain.StockTransfer) error {
	t, done := q.write()
	defer done()
	if _, ok := t.transfers[tr.ID]; !ok {
		return repository.ErrNotFound
	}
	t.transfers[tr.ID] = *tr
	return nil
}

func (q *querier) ListTransfers(_ context.Context, p domain.Principal, filter repository.TransferFilter) ([]domain.StockTransfer, int, error) {
	t, done := q.read()
	defer done()
	list := make([]domain.StockTransfer, 0)
	for _, tr := range t.transfers {
		if !inScope(p, tr.FromLocationID, tr.ToLocationID) {
			continue
		}
		if filter.LocationID != "" && tr.FromLocationID != filter.LocationID && tr.ToLocationID != filter.LocationID {
			continue
		}
		if filter.Status != "" && tr.Status != filter.Status {
			continue
		}
		list = append(list, tr)
	}
	sortByTime(list,
		func(tr domain.StockTransfer) int64 { return tr.RequestedAt.UnixNano() },
		func(tr domain.StockTransfer) string { return tr.ID },
		true)
	return paginate(list, filter.Page), len(list), nil
}

func (q *querier) InsertActivity(_ context.Context, a *domain.Activity) error {
	t, done := q.write()
	defer done()
	entry := *a
	entry.LocationIDs = slices.Clone(a.LocationIDs)
	t.activity = append(slices.Clip(t.activity), entry)
	return nil
}

func (q *querier) ListActivity(_ context.Context, p domain.Principal, filter repository.ActivityFilter) ([]domain.Activity, int, error) {
	t, done := q.read()
	defer done()
	list := make([]domain.Activity, 0)
	for _, a := range t.activity {
		if len(a.LocationIDs) > 0 && !inScope(p, a.LocationIDs...) {
			continue
		}
		if filter.EntityType != "" && a.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && a.EntityID != filter.EntityID {
			continue
		}
		if filter.Urgency != "" && a.UrgencyLevel != filter.Urgency {
			continue
		}
		list = append(list, a)
	}
	sortByTime(list,
		func(a domain.Activity) int64 { return a.Timestamp.UnixNano() },
		func(a domain.Activity) string { return a.ID },
		true)
	return paginate(list, filter.Page), len(list), nil
}
