package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

func (q *querier) InsertSale(ctx context.Context, s *domain.Sale) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO sales (
			id, subtotal, tax, discount, total, status, payment_method,
			customer, location_id, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		s.ID, s.Subtotal, s.Tax, s.Discount, s.Total, s.Status, s.PaymentMethod,
		s.Customer, s.LocationID, s.CreatedBy, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sale: %w", mapError(err))
	}
	for i, item := range s.Items {
		if _, err := q.db.Exec(ctx, `
			INSERT INTO sale_items (
				sale_id, position, product_id, quantity, unit_price, item_discount_pct, line_total
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, s.ID, i, item.ProductID, item.Quantity, item.UnitPrice, item.ItemDiscountPct, item.LineTotal); err != nil {
			return fmt.Errorf("insert sale item %d: %w", i, mapError(err))
		}
	}
	return nil
}

const saleColumns = `
	id, subtotal, tax, discount, total, status, payment_method,
	customer, location_id, created_by, created_at`

func scanSale(row pgx.Row) (domain.Sale, error) {
	var s domain.Sale
	if err := row.Scan(
		&s.ID,
		&s.Subtotal,
		&s.Tax,
		&s.Discount,
		&s.Total,
		&s.Status,
		&s.PaymentMethod,
		&s.Customer,
		&s.LocationID,
		&s.CreatedBy,
		&s.CreatedAt,
	); err != nil {
		return domain.Sale{}, mapError(err)
	}
	return s, nil
}

func (q *querier) loadSaleItems(ctx context.Context, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]string, len(sales))
	index := make(map[string]int, len(sales))
	for i, s := range sales {
		ids[i] = s.ID
		index[s.ID] = i
		sales[i].Items = []domain.SaleItem{}
	}
	rows, err := q.db.Query(ctx, `
		SELECT sale_id, product_id, quantity, unit_price, item_discount_pct, line_total
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("load sale items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			saleID string
			item   domain.SaleItem
		)
		if err := rows.Scan(&saleID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.ItemDiscountPct, &item.LineTotal); err != nil {
			return fmt.Errorf("scan sale item: %w", err)
		}
		i := index[saleID]
		sales[i].Items = append(sales[i].Items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate sale items: %w", err)
	}
	return nil
}

func (q *querier) GetSale(ctx context.Context, id string, forUpdate bool) (domain.Sale, error) {
	s, err := scanSale(q.db.QueryRow(ctx, "SELECT"+saleColumns+" FROM sales WHERE id = $1"+lockClause(forUpdate), id))
	if err != nil {
		return domain.Sale{}, err
	}
	list := []domain.Sale{s}
	if err := q.loadSaleItems(ctx, list); err != nil {
		return domain.Sale{}, err
	}
	return list[0], nil
}

func (q *querier) DeleteSale(ctx context.Context, id string) error {
	cmd, err := q.db.Exec(ctx, "DELETE FROM sales WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete sale %s: %w", id, mapError(err))
	}
	if cmd.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (q *querier) ListSales(ctx context.Context, p domain.Principal, sf repository.SaleFilter) ([]domain.Sale, int, error) {
	var f filter
	f.scope(p, "location_id")
	if sf.LocationID != "" {
		f.add("location_id = ?", sf.LocationID)
	}
	if sf.From != nil {
		f.add("created_at >= ?", *sf.From)
	}
	if sf.To != nil {
		f.add("created_at <= ?", *sf.To)
	}
	total, err := q.count(ctx, "sales", &f)
	if err != nil {
		return nil, 0, err
	}

	sql := "SELECT" + saleColumns + " FROM sales" + f.where() + " ORDER BY created_at DESC, id"
	sql += f.page(sf.Page)
	rows, err := q.db.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sales: %w", err)
	}
	sales, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Sale, error) {
		return scanSale(r)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("iterate sales: %w", err)
	}
	if err := q.loadSaleItems(ctx, sales); err != nil {
		return nil, 0, err
	}
	return sales, total, nil
}

func (q *querier) InsertIncome(ctx context.Context, in *domain.Income) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO incomes (id, source, amount, date, related_sale_id, description, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, in.ID, in.Source, in.Amount, in.Date, in.RelatedSaleID, in.Description, in.CreatedBy, in.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert income: %w", mapError(err))
	}
	return nil
}

func (q *querier) DeleteIncomesForSale(ctx context.Context, saleID string) (int, error) {
	cmd, err := q.db.Exec(ctx, "DELETE FROM incomes WHERE related_sale_id = $1", saleID)
	if err != nil {
		return 0, fmt.Errorf("delete incomes for sale %s: %w", saleID, mapError(err))
	}
	return int(cmd.RowsAffected()), nil
}

func (q *querier) ListIncomes(ctx context.Context, p domain.Principal, inf repository.IncomeFilter) ([]domain.Income, int, error) {
	var f filter
	f.scope(p, "s.location_id")
	if inf.RelatedSaleID != "" {
		f.add("i.related_sale_id = ?", inf.RelatedSaleID)
	}
	if inf.From != nil {
		f.add("i.date >= ?", *inf.From)
	}
	if inf.To != nil {
		f.add("i.date <= ?", *inf.To)
	}
	from := "incomes i LEFT JOIN sales s ON s.id = i.related_sale_id"
	total, err := q.count(ctx, from, &f)
	if err != nil {
		return nil, 0, err
	}

	sql := `
		SELECT i.id, i.source, i.amount, i.date, i.related_sale_id, i.description, i.created_by, i.created_at
		FROM ` + from + f.where() + " ORDER BY i.date DESC, i.id"
	sql += f.page(inf.Page)
	rows, err := q.db.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list incomes: %w", err)
	}
	incomes, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Income, error) {
		var in domain.Income
		err := r.Scan(&in.ID, &in.Source, &in.Amount, &in.Date, &in.RelatedSaleID, &in.Description, &in.CreatedBy, &in.CreatedAt)
		return in, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("iterate incomes: %w", err)
	}
	return incomes, total, nil
}

func (q *querier) InsertPurchase(ctx context.Context, p *domain.Purchase) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO purchases (
			id, purchase_number, supplier_id, warehouse_id, subtotal, order_tax, discount,
			shipping, grand_total, amount_paid, amount_due, status, payment_status,
			purchase_date, received_date, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		p.ID, p.PurchaseNumber, p.SupplierID, p.WarehouseID, p.Subtotal, p.OrderTax, p.Discount,
		p.Shipping, p.GrandTotal, p.AmountPaid, p.AmountDue, p.Status, p.PaymentStatus,
		p.PurchaseDate, p.ReceivedDate, p.CreatedBy, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert purchase %q: %w", p.PurchaseNumber, mapError(err))
	}
	for i, item := range p.Items {
		if _, err := q.db.Exec(ctx, `
			INSERT INTO purchase_items (purchase_id, position, product_id, quantity, unit_cost, line_total)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, p.ID, i, item.ProductID, item.Quantity, item.UnitCost, item.LineTotal); err != nil {
			return fmt.Errorf("insert purchase item %d: %w", i, mapError(err))
		}
	}
	return nil
}

const purchaseColumns = `
	id, purchase_number, supplier_id, warehouse_id, subtotal, order_tax, discount,
	shipping, grand_total, amount_paid, amount_due, status, payment_status,
	purchase_date, received_date, created_by, created_at`

func scanPurchase(row pgx.Row) (domain.Purchase, error) {
	var p domain.Purchase
	if err := row.Scan(
		&p.ID,
		&p.PurchaseNumber,
		&p.SupplierID,
		&p.WarehouseID,
		&p.Subtotal,
		&p.OrderTax,
		&p.Discount,
		&p.Shipping,
		&p.GrandTotal,
		&p.AmountPaid,
		&p.AmountDue,
		&p.Status,
		&p.PaymentStatus,
		&p.PurchaseDate,
		&p.ReceivedDate,
		&p.CreatedBy,
		&p.CreatedAt,
	); err != nil {
		return domain.Purchase{}, mapError(err)
	}
	return p, nil
}

func (q *querier) loadPurchaseItems(ctx context.Context, p *domain.Purchase) error {
	rows, err := q.db.Query(ctx, `
		SELECT product_id, quantity, unit_cost, line_total
		FROM purchase_items
		WHERE purchase_id = $1
		ORDER BY position
	`, p.ID)
	if err != nil {
		return fmt.Errorf("load purchase items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.PurchaseItem, error) {
		var item domain.PurchaseItem
		err := r.Scan(&item.ProductID, &item.Quantity, &item.UnitCost, &item.LineTotal)
		return item, err
	})
	if err != nil {
		return fmt.Errorf("iterate purchase items: %w", err)
	}
	p.Items = items
	return nil
}

func (q *querier) GetPurchase(ctx context.Context, id string, forUpdate bool) (domain.Purchase, error) {
	p, err := scanPurchase(q.db.QueryRow(ctx, "SELECT"+purchaseColumns+" FROM purchases WHERE id = $1"+lockClause(forUpdate), id))
	if err != nil {
		return domain.Purchase{}, err
	}
	if err := q.loadPurchaseItems(ctx, &p); err != nil {
		return domain.Purchase{}, err
	}
	return p, nil
}

// UpdatePurchase writes the header fields; items are immutable once created.
func (q *querier) UpdatePurchase(ctx context.Context, p *domain.Purchase) error {
	cmd, err := q.db.Exec(ctx, `
		UPDATE purchases
		SET
			amount_paid = $2,
			amount_due = $3,
			status = $4,
			payment_status = $5,
			received_date = $6
		WHERE id = $1
	`, p.ID, p.AmountPaid, p.AmountDue, p.Status, p.PaymentStatus, p.ReceivedDate)
	if err != nil {
		return fmt.Errorf("update purchase %s: %w", p.ID, mapError(err))
	}
	if cmd.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (q *querier) ListPurchases(ctx context.Context, principal domain.Principal, pf repository.PurchaseFilter) ([]domain.Purchase, int, error) {
	var f filter
	f.scope(principal, "warehouse_id")
	if pf.WarehouseID != "" {
		f.add("warehouse_id = ?", pf.WarehouseID)
	}
	if pf.Status != "" {
		f.add("status = ?", pf.Status)
	}
	total, err := q.count(ctx, "purchases", &f)
	if err != nil {
		return nil, 0, err
	}

	sql := "SELECT" + purchaseColumns + " FROM purchases" + f.where() + " ORDER BY purchase_date DESC, id"
	sql += f.page(pf.Page)
	rows, err := q.db.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list purchases: %w", err)
	}
	purchases, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Purchase, error) {
		return scanPurchase(r)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("iterate purchases: %w", err)
	}
	for i := range purchases {
		if err := q.loadPurchaseItems(ctx, &purchases[i]); err != nil {
			return nil, 0, err
		}
	}
	return purchases, total, nil
}

const transferColumns = `
	id, product_id, quantity, from_location_id, to_location_id, status,
	requested_by, requested_at, shipped_by, shipped_at, received_by, received_at,
	cancelled_by, cancelled_at, cancellation_reason, notes`

func scanTransfer(row pgx.Row) (domain.StockTransfer, error) {
	var t domain.StockTransfer
	if err := row.Scan(
		&t.ID,
		&t.ProductID,
		&t.Quantity,
		&t.FromLocationID,
		&t.ToLocationID,
		&t.Status,
		&t.RequestedBy,
		&t.RequestedAt,
		&t.ShippedBy,
		&t.ShippedAt,
		&t.ReceivedBy,
		&t.ReceivedAt,
		&t.CancelledBy,
		&t.CancelledAt,
		&t.CancellationReason,
		&t.Notes,
	); err != nil {
		return domain.StockTransfer{}, mapError(err)
	}
	return t, nil
}

func (q *querier) InsertTransfer(ctx context.Context, t *domain.StockTransfer) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO stock_transfers (`+transferColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		t.ID, t.ProductID, t.Quantity, t.FromLocationID, t.ToLocationID, t.Status,
		t.RequestedBy, t.RequestedAt, t.ShippedBy, t.ShippedAt, t.ReceivedBy, t.ReceivedAt,
		t.CancelledBy, t.CancelledAt, t.CancellationReason, t.Notes,
	)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", mapError(err))
	}
	return nil
}

func (q *querier) GetTransfer(ctx context.Context, id string, forUpdate bool) (domain.StockTransfer, error) {
	return scanTransfer(q.db.QueryRow(ctx, "SELECT"+transferColumns+" FROM stock_transfers WHERE id = $1"+lockClause(forUpdate), id))
}

func (q *querier) UpdateTransfer(ctx context.Context, t *domain.StockTransfer) error {
	cmd, err := q.db.Exec(ctx, `
		UPDATE stock_transfers
		SET
			status = $2,
			shipped_by = $3,
			shipped_at = $4,
			received_by = $5,
			received_at = $6,
			cancelled_by = $7,
			cancelled_at = $8,
			cancellation_reason = $9,
			notes = $10
		WHERE id = $1
	`,
		t.ID, t.Status, t.ShippedBy, t.ShippedAt, t.ReceivedBy, t.ReceivedAt,
		t.CancelledBy, t.CancelledAt, t.CancellationReason, t.Notes,
	)
	if err != nil {
		return fmt.Errorf("update transfer %s: %w", t.ID, mapError(err))
	}
	if cmd.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (q *querier) ListTransfers(ctx context.Context, p domain.Principal, tf repository.TransferFilter) ([]domain.StockTransfer, int, error) {
	var f filter
	f.scope(p, "from_location_id", "to_location_id")
	if tf.LocationID != "" {
		f.add("(from_location_id = ? OR to_location_id = ?)", tf.LocationID)
	}
	if tf.Status != "" {
		f.add("status = ?", tf.Status)
	}
	total, err := q.count(ctx, "stock_transfers", &f)
	if err != nil {
		return nil, 0, err
	}

	sql := "SELECT" + transferColumns + " FROM stock_transfers" + f.where() + " ORDER BY requested_at DESC, id"
	sql += f.page(tf.Page)
	rows, err := q.db.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transfers: %w", err)
	}
	transfers, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.StockTransfer, error) {
		return scanTransfer(r)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("iterate transfers: %w", err)
	}
	return transfers, total, nil
}

func (q *querier) InsertActivity(ctx context.Context, a *domain.Activity) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO activity_log (
			id, action, actor_id, entity_type, entity_id, location_ids, description, changes, urgency, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.Action, a.ActorID, a.EntityType, a.EntityID, locationIDs(a.LocationIDs), a.Description, a.Changes, a.UrgencyLevel, a.Timestamp)
	if err != nil {
		return fmt.Errorf("insert activity: %w", mapError(err))
	}
	return nil
}

func (q *querier) ListActivity(ctx context.Context, p domain.Principal, af repository.ActivityFilter) ([]domain.Activity, int, error) {
	var f filter
	f.scopeArray(p, "location_ids")
	if af.EntityType != "" {
		f.add("entity_type = ?", af.EntityType)
	}
	if af.EntityID != "" {
		f.add("entity_id = ?", af.EntityID)
	}
	if af.Urgency != "" {
		f.add("urgency = ?", af.Urgency)
	}
	total, err := q.count(ctx, "activity_log", &f)
	if err != nil {
		return nil, 0, err
	}

	sql := `
		SELECT id, action, actor_id, entity_type, entity_id, location_ids, description, changes, urgency, created_at
		FROM activity_log` + f.where() + " ORDER BY created_at DESC, id"
	sql += f.page(af.Page)
	rows, err := q.db.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list activity: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Activity, error) {
		var a domain.Activity
		err := r.Scan(&a.ID, &a.Action, &a.ActorID, &a.EntityType, &a.EntityID, &a.LocationIDs, &a.Description, &a.Changes, &a.UrgencyLevel, &a.Timestamp)
		return a, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("iterate activity: %w", err)
	}
	return list, total, nil
}

// locationIDs keeps the column NOT NULL for entries without locations.
func locationIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
