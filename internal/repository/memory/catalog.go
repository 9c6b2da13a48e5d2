package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

func (q *querier) CreateProduct(_ context.Context, p *domain.Product) error {
	t, done := q.write()
	defer done()
	if err := t.checkProductUnique(p); err != nil {
		return err
	}
	t.products[p.ID] = *p
	return nil
}

func (t *tables) checkProductUnique(p *domain.Product) error {
	for _, other := range t.products {
		if other.ID == p.ID {
			continue
		}
		if strings.EqualFold(other.SKU, p.SKU) {
			return repository.ErrDuplicate
		}
		if p.Barcode != nil && other.Barcode != nil && *p.Barcode == *other.Barcode {
			return repository.ErrDuplicate
		}
	}
	return nil
}

func (q *querier) GetProduct(_ context.Context, id string) (domain.Product, error) {
	t, done := q.read()
	defer done()
	p, ok := t.products[id]
	if !ok {
		return domain.Product{}, repository.ErrNotFound
	}
	return p, nil
}

func (q *querier) GetProductBySKU(_ context.Context, sku string) (domain.Product, error) {
	t, done := q.read()
	defer done()
	for _, p := range t.products {
		if strings.EqualFold(p.SKU, sku) {
			return p, nil
		}
	}
	return domain.Product{}, repository.ErrNotFound
}

func (q *querier) UpdateProduct(_ context.Context, p *domain.Product) error {
	t, done := q.write()
	defer done()
	if _, ok := t.products[p.ID]; !ok {
		return repository.ErrNotFound
	}
	if err := t.checkProductUnique(p); err != nil {
		return err
	}
	t.products[p.ID] = *p
	return nil
}

func (q *querier) DeleteProduct(_ context.Context, id string) error {
	t, done := q.write()
	defer done()
	if _, ok := t.products[id]; !ok {
		return repository.ErrNotFound
	}
	delete(t.products, id)
	return nil
}

func (q *querier) ListProducts(_ context.Context, filter repository.ProductFilter) ([]domain.Product, int, error) {
	t, done := q.read()
	defer done()
	search := strings.TrimSpace(filter.Search)
	list := make([]domain.Product, 0, len(t.products))
	for _, p := range t.products {
		if filter.Active != nil && p.IsActive != *filter.Active {
			continue
		}
		if search != "" && !containsFold(p.Name, search) && !containsFold(p.SKU, search) {
			continue
		}
		list = append(list, p)
	}
	slices.SortFunc(list, func(a, b domain.Product) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return paginate(list, filter.Page), len(list), nil
}

func (q *querier) AppendProductEvent(_ context.Context, ev *domain.ProductEvent) error {
	t, done := q.write()
	defer done()
	t.productEvents[ev.ProductID] = append(slices.Clip(t.productEvents[ev.ProductID]), *ev)
	return nil
}

func (q *querier) ListProductEvents(_ context.Context, productID string, limit int) ([]domain.ProductEvent, error) {
	t, done := q.read()
	defer done()
	events := t.productEvents[productID]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return slices.Clone(events), nil
}

func (q *querier) CreateLocation(_ context.Context, l *domain.Location) error {
	t, done := q.write()
	defer done()
	for _, other := range t.locations {
		if strings.EqualFold(other.Name, l.Name) {
			return repository.ErrDuplicate
		}
	}
	t.locations[l.ID] = *l
	return nil
}

func (q *querier) GetLocation(_ context.Context, id string) (domain.Location, error) {
	t, done := q.read()
	defer done()
	l, ok := t.locations[id]
	if !ok {
		return domain.Location{}, repository.ErrNotFound
	}
	return l, nil
}

func (q *querier) ListLocations(_ context.Context, p domain.Principal) ([]domain.Location, error) {
	t, done := q.read()
	defer done()
	list := make([]domain.Location, 0)
	for _, l := range t.locations {
		if inScope(p, l.ID) {
			list = append(list, l)
		}
	}
	slices.SortFunc(list, func(a, b domain.Location) int {
		return strings.Compare(a.Name, b.Name)
	})
	return list, nil
}
