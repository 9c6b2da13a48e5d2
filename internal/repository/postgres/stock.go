package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

const stockRowColumns = `
	sr.id, sr.product_id, sr.location_id, sr.quantity, sr.min_stock, sr.notify_at,
	sr.expiry_date, sr.created_by, sr.event_count, sr.created_at, sr.updated_at`

func scanStockRow(row pgx.Row) (domain.StockRow, error) {
	var r domain.StockRow
	if err := row.Scan(
		&r.ID,
		&r.ProductID,
		&r.LocationID,
		&r.Quantity,
		&r.MinStock,
		&r.NotifyAt,
		&r.ExpiryDate,
		&r.CreatedBy,
		&r.EventCount,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return domain.StockRow{}, mapError(err)
	}
	return r, nil
}

func (q *querier) GetStockRow(ctx context.Context, id string, forUpdate bool) (domain.StockRow, error) {
	return scanStockRow(q.db.QueryRow(ctx,
		"SELECT"+stockRowColumns+" FROM stock_rows sr WHERE sr.id = $1"+lockClause(forUpdate), id))
}

func (q *querier) GetStockRowByKey(ctx context.Context, productID, locationID string, forUpdate bool) (domain.StockRow, error) {
	return scanStockRow(q.db.QueryRow(ctx,
		"SELECT"+stockRowColumns+" FROM stock_rows sr WHERE sr.product_id = $1 AND sr.location_id = $2"+lockClause(forUpdate),
		productID, locationID))
}

func (q *querier) InsertStockRow(ctx context.Context, row *domain.StockRow) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO stock_rows (
			id, product_id, location_id, quantity, min_stock, notify_at,
			expiry_date, created_by, event_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		row.ID, row.ProductID, row.LocationID, row.Quantity, row.MinStock, row.NotifyAt,
		row.ExpiryDate, row.CreatedBy, row.EventCount, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stock row: %w", mapError(err))
	}
	return nil
}

func (q *querier) UpdateStockRow(ctx context.Context, row *domain.StockRow) error {
	cmd, err := q.db.Exec(ctx, `
		UPDATE stock_rows
		SET
			quantity = $2,
			min_stock = $3,
			notify_at = $4,
			expiry_date = $5,
			event_count = $6,
			updated_at = $7
		WHERE id = $1
	`, row.ID, row.Quantity, row.MinStock, row.NotifyAt, row.ExpiryDate, row.EventCount, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update stock row %s: %w", row.ID, mapError(err))
	}
	if cmd.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (q *querier) CountStockRowsForProduct(ctx context.Context, productID string) (int, error) {
	var n int
	if err := q.db.QueryRow(ctx, "SELECT COUNT(*) FROM stock_rows WHERE product_id = $1", productID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count stock rows: %w", err)
	}
	return n, nil
}

func (q *querier) ListStockRows(ctx context.Context, p domain.Principal, sf repository.StockFilter) ([]domain.StockRow, int, error) {
	var f filter
	f.scope(p, "sr.location_id")
	if sf.ProductID != "" {
		f.add("sr.product_id = ?", sf.ProductID)
	}
	if sf.LocationID != "" {
		f.add("sr.location_id = ?", sf.LocationID)
	}
	if sf.LowStock {
		f.addRaw("sr.quantity <= sr.notify_at")
	}
	if sf.OutOfStock {
		f.addRaw("sr.quantity = 0")
	}
	if sf.ExpiredBefore != nil {
		f.add("sr.expiry_date < ?", *sf.ExpiredBefore)
	}
	if search := strings.TrimSpace(sf.Search); search != "" {
		f.add("(p.name ILIKE '%' || ? || '%' OR p.sku ILIKE '%' || ? || '%')", search)
	}
	from := "stock_rows sr JOIN products p ON p.id = sr.product_id"
	total, err := q.count(ctx, from, &f)
	if err != nil {
		return nil, 0, err
	}

	sql := "SELECT" + stockRowColumns + " FROM " + from + f.where() + " ORDER BY sr.created_at, sr.id"
	sql += f.page(sf.Page)
	rows, err := q.db.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list stock rows: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.StockRow, error) {
		return scanStockRow(r)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("iterate stock rows: %w", err)
	}
	return list, total, nil
}

func (q *querier) CountStockAlerts(ctx context.Context, p domain.Principal, now time.Time) ([]domain.StockAlertCounts, error) {
	var f filter
	f.scope(p, "sr.location_id")
	f.args = append(f.args, now)
	nowArg := fmt.Sprintf("$%d", len(f.args))
	rows, err := q.db.Query(ctx, `
		SELECT
			sr.location_id,
			COUNT(*) FILTER (WHERE sr.quantity > 0 AND sr.quantity <= sr.notify_at)::int,
			COUNT(*) FILTER (WHERE sr.quantity = 0)::int,
			COUNT(*) FILTER (WHERE sr.expiry_date < `+nowArg+`)::int
		FROM stock_rows sr`+f.where()+`
		GROUP BY sr.location_id
		ORDER BY sr.location_id
	`, f.args...)
	if err != nil {
		return nil, fmt.Errorf("count stock alerts: %w", err)
	}
	counts, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.StockAlertCounts, error) {
		var c domain.StockAlertCounts
		err := r.Scan(&c.LocationID, &c.LowStock, &c.OutOfStock, &c.Expired)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("iterate stock alerts: %w", err)
	}
	return counts, nil
}

const stockEventColumns = `
	id, stock_row_id, seq, user_id, action, adjustment, note, new_quantity,
	related_sale_id, related_transfer_id, related_purchase_id, created_at`

func scanStockEvent(row pgx.Row) (domain.StockEvent, error) {
	var ev domain.StockEvent
	err := row.Scan(
		&ev.ID,
		&ev.StockRowID,
		&ev.Seq,
		&ev.UserID,
		&ev.Action,
		&ev.Adjustment,
		&ev.Note,
		&ev.NewQuantity,
		&ev.RelatedSaleID,
		&ev.RelatedTransferID,
		&ev.RelatedPurchaseID,
		&ev.Timestamp,
	)
	return ev, err
}

func (q *querier) AppendStockEvent(ctx context.Context, ev *domain.StockEvent) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO stock_events (`+stockEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		ev.ID, ev.StockRowID, ev.Seq, ev.UserID, ev.Action, ev.Adjustment, ev.Note, ev.NewQuantity,
		ev.RelatedSaleID, ev.RelatedTransferID, ev.RelatedPurchaseID, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert stock event: %w", mapError(err))
	}
	return nil
}

func (q *querier) ListStockEvents(ctx context.Context, rowID string, limit, offset int) ([]domain.StockEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := q.db.Query(ctx,
		"SELECT"+stockEventColumns+" FROM stock_events WHERE stock_row_id = $1 ORDER BY seq LIMIT $2 OFFSET $3",
		rowID, limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list stock events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.StockEvent, error) {
		return scanStockEvent(r)
	})
	if err != nil {
		return nil, fmt.Errorf("iterate stock events: %w", err)
	}
	return events, nil
}

func (q *querier) TailStockEvents(ctx context.Context, rowID string, limit int) ([]domain.StockEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT`+stockEventColumns+`
		FROM (
			SELECT * FROM stock_events
			WHERE stock_row_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) tail
		ORDER BY seq
	`, rowID, limit)
	if err != nil {
		return nil, fmt.Errorf("tail stock events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.StockEvent, error) {
		return scanStockEvent(r)
	})
	if err != nil {
		return nil, fmt.Errorf("iterate stock events: %w", err)
	}
	return events, nil
}
