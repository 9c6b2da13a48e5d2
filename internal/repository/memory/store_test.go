package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := New()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(ctx context.Context, q repository.Querier) error {
		if err := q.CreateLocation(ctx, &domain.Location{ID: "L1", Name: "Main", Type: domain.LocationStore, IsActive: true}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx error = %v, want boom", err)
	}
	if _, err := store.GetLocation(ctx, "L1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("location visible after rollback: %v", err)
	}

	err = store.InTx(ctx, func(ctx context.Context, q repository.Querier) error {
		return q.CreateLocation(ctx, &domain.Location{ID: "L1", Name: "Main", Type: domain.LocationStore, IsActive: true})
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := store.GetLocation(ctx, "L1"); err != nil {
		t.Fatalf("location missing after commit: %v", err)
	}
}

func TestUniqueKeys(t *testing.T) {
	ctx := context.Background()
	store := New()
	barcode := "123"
	if err := store.CreateProduct(ctx, &domain.Product{ID: "p1", SKU: "SKU-1", Barcode: &barcode}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateProduct(ctx, &domain.Product{ID: "p2", SKU: "sku-1"}); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("duplicate sku error = %v", err)
	}
	if err := store.CreateProduct(ctx, &domain.Product{ID: "p3", SKU: "SKU-3", Barcode: &barcode}); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("duplicate barcode error = %v", err)
	}

	row := &domain.StockRow{ID: "r1", ProductID: "p1", LocationID: "L1", Quantity: 1}
	if err := store.InsertStockRow(ctx, row); err != nil {
		t.Fatal(err)
	}
	dup := &domain.StockRow{ID: "r2", ProductID: "p1", LocationID: "L1"}
	if err := store.InsertStockRow(ctx, dup); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("duplicate stock row error = %v", err)
	}
}

func TestListStockRowsScopesByPrincipal(t *testing.T) {
	ctx := context.Background()
	store := New()
	now := time.Now()
	for i, loc := range []string{"L1", "L2"} {
		row := &domain.StockRow{ID: "r" + loc, ProductID: "p1", LocationID: loc, Quantity: i, NotifyAt: 5, CreatedAt: now}
		if err := store.InsertStockRow(ctx, row); err != nil {
			t.Fatal(err)
		}
	}

	staff := domain.Principal{UserID: "u", Role: domain.RoleStaff, Locations: []string{"L2"}}
	rows, total, err := store.ListStockRows(ctx, staff, repository.StockFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || rows[0].LocationID != "L2" {
		t.Fatalf("staff sees %d rows (%v), want only L2", total, rows)
	}

	_, total, _ = store.ListStockRows(ctx, domain.Principal{}, repository.StockFilter{})
	if total != 0 {
		t.Errorf("anonymous principal sees %d rows", total)
	}

	admin := domain.Principal{UserID: "a", Role: domain.RoleAdmin}
	_, total, _ = store.ListStockRows(ctx, admin, repository.StockFilter{OutOfStock: true})
	if total != 1 {
		t.Errorf("admin out-of-stock total = %d, want 1", total)
	}
}

func TestStockEventOrdering(t *testing.T) {
	ctx := context.Background()
	store := New()
	if err := store.InsertStockRow(ctx, &domain.StockRow{ID: "r1", ProductID: "p", LocationID: "L"}); err != nil {
		t.Fatal(err)
	}
	for seq := 1; seq <= 25; seq++ {
		if err := store.AppendStockEvent(ctx, &domain.StockEvent{ID: "e", StockRowID: "r1", Seq: seq, Adjustment: 1, NewQuantity: seq}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.AppendStockEvent(ctx, &domain.StockEvent{StockRowID: "r1", Seq: 3}); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("out of order append error = %v", err)
	}

	tail, _ := store.TailStockEvents(ctx, "r1", domain.AuditTailSize)
	if len(tail) != domain.AuditTailSize || tail[0].Seq != 6 || tail[len(tail)-1].Seq != 25 {
		t.Fatalf("tail = %d events from seq %d", len(tail), tail[0].Seq)
	}
	page, _ := store.ListStockEvents(ctx, "r1", 10, 20)
	if len(page) != 5 || page[0].Seq != 21 {
		t.Fatalf("page = %d events from seq %d", len(page), page[0].Seq)
	}
}
