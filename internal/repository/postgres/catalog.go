package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

const productColumns = `
	id, name, sku, barcode, category_id, brand_id, price,
	is_active, created_by, created_at, updated_at`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.SKU,
		&p.Barcode,
		&p.CategoryID,
		&p.BrandID,
		&p.Price,
		&p.IsActive,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return domain.Product{}, mapError(err)
	}
	return p, nil
}

func (q *querier) CreateProduct(ctx context.Context, p *domain.Product) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO products (
			id, name, sku, barcode, category_id, brand_id, price,
			is_active, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		p.ID, p.Name, p.SKU, p.Barcode, p.CategoryID, p.BrandID, p.Price,
		p.IsActive, p.CreatedBy, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product %q: %w", p.SKU, mapError(err))
	}
	return nil
}

func (q *querier) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return scanProduct(q.db.QueryRow(ctx, "SELECT"+productColumns+" FROM products WHERE id = $1", id))
}

func (q *querier) GetProductBySKU(ctx context.Context, sku string) (domain.Product, error) {
	return scanProduct(q.db.QueryRow(ctx, "SELECT"+productColumns+" FROM products WHERE LOWER(sku) = LOWER($1)", sku))
}

func (q *querier) UpdateProduct(ctx context.Context, p *domain.Product) error {
	cmd, err := q.db.Exec(ctx, `
		UPDATE products
		SET
			name = $2,
			sku = $3,
			barcode = $4,
			category_id = $5,
			brand_id = $6,
			price = $7,
			is_active = $8,
			updated_at = $9
		WHERE id = $1
	`, p.ID, p.Name, p.SKU, p.Barcode, p.CategoryID, p.BrandID, p.Price, p.IsActive, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update product %s: %w", p.ID, mapError(err))
	}
	if cmd.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (q *querier) DeleteProduct(ctx context.Context, id string) error {
	cmd, err := q.db.Exec(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete product %s: %w", id, mapError(err))
	}
	if cmd.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (q *querier) ListProducts(ctx context.Context, pf repository.ProductFilter) ([]domain.Product, int, error) {
	var f filter
	if search := strings.TrimSpace(pf.Search); search != "" {
		f.add("(name ILIKE '%' || ? || '%' OR sku ILIKE '%' || ? || '%')", search)
	}
	if pf.Active != nil {
		f.add("is_active = ?", *pf.Active)
	}
	total, err := q.count(ctx, "products", &f)
	if err != nil {
		return nil, 0, err
	}

	sql := "SELECT" + productColumns + " FROM products" + f.where() + " ORDER BY LOWER(name), id"
	sql += f.page(pf.Page)
	rows, err := q.db.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	products, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Product, error) {
		return scanProduct(r)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("iterate products: %w", err)
	}
	return products, total, nil
}

func (q *querier) AppendProductEvent(ctx context.Context, ev *domain.ProductEvent) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO product_events (id, product_id, user_id, action, note, changes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.ProductID, ev.UserID, ev.Action, ev.Note, ev.Changes, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("insert product event: %w", mapError(err))
	}
	return nil
}

func (q *querier) ListProductEvents(ctx context.Context, productID string, limit int) ([]domain.ProductEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := q.db.Query(ctx, `
		SELECT id, product_id, user_id, action, note, changes, created_at
		FROM (
			SELECT * FROM product_events
			WHERE product_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list product events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.ProductEvent, error) {
		var ev domain.ProductEvent
		err := r.Scan(&ev.ID, &ev.ProductID, &ev.UserID, &ev.Action, &ev.Note, &ev.Changes, &ev.Timestamp)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("iterate product events: %w", err)
	}
	return events, nil
}

func (q *querier) CreateLocation(ctx context.Context, l *domain.Location) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO locations (id, name, type, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, l.ID, l.Name, l.Type, l.IsActive, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert location %q: %w", l.Name, mapError(err))
	}
	return nil
}

func scanLocation(row pgx.Row) (domain.Location, error) {
	var l domain.Location
	if err := row.Scan(&l.ID, &l.Name, &l.Type, &l.IsActive, &l.CreatedAt); err != nil {
		return domain.Location{}, mapError(err)
	}
	return l, nil
}

func (q *querier) GetLocation(ctx context.Context, id string) (domain.Location, error) {
	return scanLocation(q.db.QueryRow(ctx, `
		SELECT id, name, type, is_active, created_at FROM locations WHERE id = $1
	`, id))
}

func (q *querier) ListLocations(ctx context.Context, p domain.Principal) ([]domain.Location, error) {
	var f filter
	f.scope(p, "id")
	rows, err := q.db.Query(ctx,
		"SELECT id, name, type, is_active, created_at FROM locations"+f.where()+" ORDER BY name",
		f.args...)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	locations, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Location, error) {
		return scanLocation(r)
	})
	if err != nil {
		return nil, fmt.Errorf("iterate locations: %w", err)
	}
	return locations, nil
}
