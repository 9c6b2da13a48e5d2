package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/db"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("STOCKFLOW_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("STOCKFLOW_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, url, db.PoolOptions{MaxConns: 4})
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	if err := db.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}
	store := New(pool)
	t.Cleanup(store.Close)
	return store
}

func TestStockRowLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	loc := &domain.Location{ID: uuid.NewString(), Name: "it-" + uuid.NewString(), Type: domain.LocationStore, IsActive: true, CreatedAt: now}
	product := &domain.Product{
		ID: uuid.NewString(), Name: "Widget", SKU: "IT-" + uuid.NewString(), CategoryID: "c",
		Price: decimal.RequireFromString("4.00"), IsActive: true, CreatedBy: "tester", CreatedAt: now, UpdatedAt: now,
	}
	row := &domain.StockRow{
		ID: uuid.NewString(), ProductID: product.ID, LocationID: loc.ID, Quantity: 10,
		MinStock: 5, NotifyAt: 5, CreatedBy: "tester", EventCount: 1, CreatedAt: now, UpdatedAt: now,
	}

	err := store.InTx(ctx, func(ctx context.Context, q repository.Querier) error {
		if err := q.CreateLocation(ctx, loc); err != nil {
			return err
		}
		if err := q.CreateProduct(ctx, product); err != nil {
			return err
		}
		if err := q.InsertStockRow(ctx, row); err != nil {
			return err
		}
		return q.AppendStockEvent(ctx, &domain.StockEvent{
			ID: uuid.NewString(), StockRowID: row.ID, Seq: 1, UserID: "tester",
			Action: domain.ActionAddedToLocation, Adjustment: 10, NewQuantity: 10, Timestamp: now,
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	dup := *product
	dup.ID = uuid.NewString()
	if err := store.CreateProduct(ctx, &dup); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("duplicate sku error = %v, want ErrDuplicate", err)
	}

	got, err := store.GetStockRowByKey(ctx, product.ID, loc.ID, false)
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if got.Quantity != 10 || got.EventCount != 1 {
		t.Fatalf("row = %+v", got)
	}

	admin := domain.Principal{UserID: "a", Role: domain.RoleAdmin}
	staff := domain.Principal{UserID: "s", Role: domain.RoleStaff, Locations: []string{"elsewhere"}}
	if _, total, err := store.ListStockRows(ctx, admin, repository.StockFilter{ProductID: product.ID}); err != nil || total != 1 {
		t.Errorf("admin list total = %d, err = %v", total, err)
	}
	if _, total, err := store.ListStockRows(ctx, staff, repository.StockFilter{ProductID: product.ID}); err != nil || total != 0 {
		t.Errorf("out-of-scope staff list total = %d, err = %v", total, err)
	}

	tail, err := store.TailStockEvents(ctx, row.ID, domain.AuditTailSize)
	if err != nil || len(tail) != 1 || tail[0].NewQuantity != 10 {
		t.Fatalf("tail = %+v, err = %v", tail, err)
	}
}
