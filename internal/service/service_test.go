package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/events"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/metrics"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository/memory"
)

type fixture struct {
	svc   *Service
	store *memory.Store
	hub   *events.Hub
	admin domain.Principal
	l1    string
	l2    string
	p1    string
	p2    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Close)
	hub := events.NewHub(nil)
	f := &fixture{
		svc:   New(store, hub, nil, metrics.New()),
		store: store,
		hub:   hub,
		admin: domain.Principal{UserID: "admin-1", Role: domain.RoleAdmin},
	}
	ctx := context.Background()
	for i, name := range []string{"Main Street", "Harbour Warehouse"} {
		kind := domain.LocationStore
		if i == 1 {
			kind = domain.LocationWarehouse
		}
		loc, err := f.svc.CreateLocation(ctx, f.admin, name, kind)
		if err != nil {
			t.Fatalf("create location: %v", err)
		}
		if i == 0 {
			f.l1 = loc.ID
		} else {
			f.l2 = loc.ID
		}
	}
	for i, sku := range []string{"SKU-1", "SKU-2"} {
		p, err := f.svc.CreateProduct(ctx, f.admin, CreateProductInput{
			Name:       "Product " + sku,
			SKU:        sku,
			CategoryID: "general",
			Price:      decimal.RequireFromString("4.00"),
		})
		if err != nil {
			t.Fatalf("create product: %v", err)
		}
		if i == 0 {
			f.p1 = p.ID
		} else {
			f.p2 = p.ID
		}
	}
	return f
}

func (f *fixture) manager(locations ...string) domain.Principal {
	return domain.Principal{UserID: "manager-1", Role: domain.RoleManager, Locations: locations}
}

func (f *fixture) staff(locations ...string) domain.Principal {
	return domain.Principal{UserID: "staff-1", Role: domain.RoleStaff, Locations: locations}
}

func (f *fixture) stock(t *testing.T, productID, locationID string, qty int) domain.StockRow {
	t.Helper()
	row, err := f.svc.CreateStockRow(context.Background(), f.admin, CreateStockInput{
		ProductID:  productID,
		LocationID: locationID,
		Quantity:   qty,
	})
	if err != nil {
		t.Fatalf("create stock row: %v", err)
	}
	return row
}

func (f *fixture) quantity(t *testing.T, productID, locationID string) int {
	t.Helper()
	row, err := f.store.GetStockRowByKey(context.Background(), productID, locationID, false)
	if err != nil {
		t.Fatalf("get row %s@%s: %v", productID, locationID, err)
	}
	return row.Quantity
}

func (f *fixture) history(t *testing.T, rowID string) []domain.StockEvent {
	t.Helper()
	list, err := f.store.ListStockEvents(context.Background(), rowID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	return list
}

// assertLedger checks that every row is non-negative and that its audit
// log folds to its quantity with gap-free sequence numbers.
func (f *fixture) assertLedger(t *testing.T) {
	t.Helper()
	rows, _, err := f.store.ListStockRows(context.Background(), f.admin, repository.StockFilter{Page: repository.Page{Limit: 1000}})
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range rows {
		if row.Quantity < 0 {
			t.Errorf("row %s has negative quantity %d", row.ID, row.Quantity)
		}
		sum := 0
		for i, ev := range f.history(t, row.ID) {
			sum += ev.Adjustment
			if ev.NewQuantity != sum {
				t.Errorf("row %s event %d: newQuantity %d, running sum %d", row.ID, i, ev.NewQuantity, sum)
			}
			if ev.Seq != i+1 {
				t.Errorf("row %s event %d has seq %d", row.ID, i, ev.Seq)
			}
		}
		if sum != row.Quantity {
			t.Errorf("row %s: audit folds to %d, quantity is %d", row.ID, sum, row.Quantity)
		}
	}
}

func wantKind(t *testing.T, err error, kind domain.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := domain.KindOf(err); got != kind {
		t.Fatalf("expected %s, got %s (%v)", kind, got, err)
	}
}

func TestCreateStockRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	row := f.stock(t, f.p1, f.l1, 10)
	if row.MinStock != domain.DefaultMinStock || row.NotifyAt != domain.DefaultMinStock || row.EventCount != 1 {
		t.Errorf("unexpected defaults: %+v", row)
	}
	if len(row.AuditLog) != 1 || row.AuditLog[0].Action != domain.ActionAddedToLocation || row.AuditLog[0].NewQuantity != 10 {
		t.Errorf("audit = %+v", row.AuditLog)
	}

	_, err := f.svc.CreateStockRow(ctx, f.admin, CreateStockInput{ProductID: f.p1, LocationID: f.l1})
	wantKind(t, err, domain.KindConflict)

	_, err = f.svc.CreateStockRow(ctx, f.admin, CreateStockInput{ProductID: "missing", LocationID: f.l1})
	wantKind(t, err, domain.KindNotFound)

	_, err = f.svc.CreateStockRow(ctx, f.admin, CreateStockInput{ProductID: f.p2, LocationID: f.l1, Quantity: -1})
	wantKind(t, err, domain.KindBadRequest)

	minStock := 8
	row2, err := f.svc.CreateStockRow(ctx, f.manager(f.l2), CreateStockInput{ProductID: f.p2, LocationID: f.l2, MinStock: &minStock})
	if err != nil {
		t.Fatal(err)
	}
	if row2.NotifyAt != 8 {
		t.Errorf("notifyAt should default to minStock, got %d", row2.NotifyAt)
	}
}

func TestCreateStockRowRejectsInactiveProduct(t *testing.T) {
	f := newFixture(t)
	off := false
	if _, err := f.svc.UpdateProduct(context.Background(), f.admin, f.p1, ProductPatch{IsActive: &off}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.CreateStockRow(context.Background(), f.admin, CreateStockInput{ProductID: f.p1, LocationID: f.l1})
	wantKind(t, err, domain.KindNotFound)
}

func TestAdjustStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.stock(t, f.p1, f.l1, 10)

	got, err := f.svc.AdjustStock(ctx, f.manager(f.l1), row.ID, -4, "damaged")
	if err != nil {
		t.Fatal(err)
	}
	if got.Quantity != 6 || len(got.AuditLog) != 2 {
		t.Fatalf("row = %+v", got)
	}
	last := got.AuditLog[1]
	if last.Action != domain.ActionAdjustment || last.Adjustment != -4 || last.NewQuantity != 6 || last.Note != "damaged" {
		t.Errorf("event = %+v", last)
	}

	_, err = f.svc.AdjustStock(ctx, f.admin, row.ID, -7, "")
	wantKind(t, err, domain.KindInsufficientStock)
	_, err = f.svc.AdjustStock(ctx, f.admin, row.ID, 0, "")
	wantKind(t, err, domain.KindBadRequest)
	_, err = f.svc.AdjustStock(ctx, f.admin, "missing", 1, "")
	wantKind(t, err, domain.KindNotFound)

	if q := f.quantity(t, f.p1, f.l1); q != 6 {
		t.Errorf("failed adjustments changed quantity to %d", q)
	}
	f.assertLedger(t)
}

func TestAdjustStockActivityUrgency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.stock(t, f.p1, f.l1, 200)

	if _, err := f.svc.AdjustStock(ctx, f.admin, row.ID, -150, "recount"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.AdjustStock(ctx, f.admin, row.ID, -50, "write-off"); err != nil {
		t.Fatal(err)
	}

	critical, _, err := f.svc.ListActivity(ctx, f.admin, ActivityQuery{Urgency: domain.UrgencyCritical})
	if err != nil {
		t.Fatal(err)
	}
	actions := map[string]int{}
	for _, a := range critical {
		actions[a.Action]++
	}
	if actions["stock_adjusted"] != 2 || actions["out_of_stock"] != 1 {
		t.Errorf("critical actions = %v", actions)
	}
}

func TestStockAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.stock(t, f.p1, f.l1, 10)
	outsider := f.staff(f.l2)

	_, err := f.svc.CreateStockRow(ctx, outsider, CreateStockInput{ProductID: f.p2, LocationID: f.l1})
	wantKind(t, err, domain.KindForbidden)
	_, err = f.svc.AdjustStock(ctx, outsider, row.ID, -1, "")
	wantKind(t, err, domain.KindForbidden)
	_, err = f.svc.GetStockRow(ctx, outsider, row.ID)
	wantKind(t, err, domain.KindForbidden)
	_, _, err = f.svc.ListStock(ctx, outsider, StockQuery{LocationID: f.l1})
	wantKind(t, err, domain.KindForbidden)

	// Staff may not adjust even where they work.
	_, err = f.svc.AdjustStock(ctx, f.staff(f.l1), row.ID, -1, "")
	wantKind(t, err, domain.KindForbidden)

	rows, total, err := f.svc.ListStock(ctx, outsider, StockQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || len(rows) != 0 {
		t.Errorf("staff at L2 sees %d rows", total)
	}

	_, err = f.svc.AdjustStock(ctx, domain.Principal{}, row.ID, 1, "")
	wantKind(t, err, domain.KindUnauthorized)

	if q := f.quantity(t, f.p1, f.l1); q != 10 {
		t.Errorf("quantity changed to %d", q)
	}
}

func TestListStockFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.p1, f.l1, 3)
	f.stock(t, f.p2, f.l1, 0)
	f.stock(t, f.p1, f.l2, 50)

	low, total, err := f.svc.ListStock(ctx, f.admin, StockQuery{LowStock: true})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(low) != 2 {
		t.Errorf("low stock total = %d", total)
	}
	out, _, err := f.svc.ListStock(ctx, f.admin, StockQuery{OutOfStock: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ProductID != f.p2 {
		t.Errorf("out of stock = %+v", out)
	}
	scoped, _, err := f.svc.ListStock(ctx, f.manager(f.l2), StockQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 1 || scoped[0].LocationID != f.l2 {
		t.Errorf("scoped list = %+v", scoped)
	}
}

func TestStockHistoryPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.stock(t, f.p1, f.l1, 0)
	for i := 0; i < 30; i++ {
		if _, err := f.svc.AdjustStock(ctx, f.admin, row.ID, 1, ""); err != nil {
			t.Fatal(err)
		}
	}

	got, err := f.svc.GetStockRow(ctx, f.admin, row.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.AuditLog) != domain.AuditTailSize || got.AuditLog[len(got.AuditLog)-1].Seq != 31 {
		t.Errorf("tail has %d events ending at seq %d", len(got.AuditLog), got.AuditLog[len(got.AuditLog)-1].Seq)
	}

	page2, err := f.svc.StockHistory(ctx, f.admin, row.ID, repository.Page{Page: 2, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 10 || page2[0].Seq != 11 {
		t.Errorf("page 2 starts at seq %d with %d events", page2[0].Seq, len(page2))
	}
	f.assertLedger(t)
}

func TestImportInitialStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.p2, f.l1, 4)
	notify := 2
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	result, err := f.svc.ImportInitialStock(ctx, f.manager(f.l1), f.l1, []domain.InitialStockLine{
		{SKU: "sku-1", Quantity: 12, NotifyAt: &notify, ExpiryDate: &expiry},
		{SKU: "SKU-2", Quantity: 9},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result != (domain.ImportResult{TotalLines: 2, Created: 1, Adjusted: 1}) {
		t.Errorf("result = %+v", result)
	}

	row, err := f.store.GetStockRowByKey(ctx, f.p1, f.l1, false)
	if err != nil {
		t.Fatal(err)
	}
	if row.Quantity != 12 || row.NotifyAt != 2 || row.ExpiryDate == nil {
		t.Errorf("imported row = %+v", row)
	}
	evs := f.history(t, row.ID)
	if len(evs) != 1 || evs[0].Action != domain.ActionInitialStock || evs[0].Adjustment != 12 {
		t.Errorf("import events = %+v", evs)
	}
	if q := f.quantity(t, f.p2, f.l1); q != 9 {
		t.Errorf("existing row = %d, want 9", q)
	}

	again, err := f.svc.ImportInitialStock(ctx, f.admin, f.l1, []domain.InitialStockLine{{SKU: "SKU-1", Quantity: 12}})
	if err != nil {
		t.Fatal(err)
	}
	if again.Unchanged != 1 {
		t.Errorf("reimport = %+v", again)
	}
	f.assertLedger(t)
}

func TestImportInitialStockIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ImportInitialStock(ctx, f.admin, f.l1, []domain.InitialStockLine{
		{SKU: "SKU-1", Quantity: 5},
		{SKU: "NOPE", Quantity: 1},
	})
	wantKind(t, err, domain.KindNotFound)
	if _, err := f.store.GetStockRowByKey(ctx, f.p1, f.l1, false); err == nil {
		t.Error("first line committed despite failing import")
	}

	_, err = f.svc.ImportInitialStock(ctx, f.staff(f.l1), f.l1, []domain.InitialStockLine{{SKU: "SKU-1", Quantity: 1}})
	wantKind(t, err, domain.KindForbidden)
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := f.hub.Subscribe("c1", "u1", []string{events.LocationRoom(f.l1)})
	defer f.hub.Unsubscribe("c1")

	row := f.stock(t, f.p1, f.l1, 1)
	select {
	case ev := <-client.Events:
		if ev.Type != events.TypeInventoryUpdate || ev.EntityID != row.ID {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("no event after create")
	}

	_, err := f.svc.AdjustStock(ctx, f.admin, row.ID, -5, "")
	wantKind(t, err, domain.KindInsufficientStock)
	select {
	case ev := <-client.Events:
		t.Errorf("failed adjustment published %+v", ev)
	default:
	}
}

func TestProductsRoomCarriesNoStockFigures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.p1, f.l1, 10)
	f.stock(t, f.p2, f.l1, 10)
	client := f.hub.Subscribe("c1", "u1", []string{events.RoomProducts})
	defer f.hub.Unsubscribe("c1")

	draft := saleOf(f.l1, f.p1, 1, "4.00")
	draft.Items = append(draft.Items,
		domain.SaleItem{ProductID: f.p2, Quantity: 2, UnitPrice: dec("4.00")},
		domain.SaleItem{ProductID: f.p1, Quantity: 1, UnitPrice: dec("4.00")})
	if _, err := f.svc.RecordSale(ctx, f.admin, draft); err != nil {
		t.Fatal(err)
	}

	var got []string
	for len(client.Events) > 0 {
		ev := <-client.Events
		if ev.Type != events.TypeInventoryUpdate || ev.EntityType != "product" {
			t.Errorf("unexpected event in products room: %+v", ev)
			continue
		}
		if len(ev.LocationIDs) != 0 || len(ev.Delta) != 0 {
			t.Errorf("products room event leaks stock detail: %+v", ev)
		}
		got = append(got, ev.EntityID)
	}
	if len(got) != 2 || got[0] != f.p1 || got[1] != f.p2 {
		t.Errorf("product notices = %v, want one per product", got)
	}
}

func TestAlertsAndSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.p1, f.l1, 0)
	f.stock(t, f.p2, f.l1, 2)
	f.stock(t, f.p1, f.l2, 40)
	client := f.hub.Subscribe("c1", "u1", []string{events.LocationRoom(f.l1), events.LocationRoom(f.l2)})
	defer f.hub.Unsubscribe("c1")

	counts, err := f.svc.SweepAlerts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 2 {
		t.Fatalf("counts = %+v", counts)
	}
	select {
	case ev := <-client.Events:
		if ev.Type != events.TypeStockAlert || ev.EntityID != f.l1 {
			t.Errorf("alert event = %+v", ev)
		}
	default:
		t.Fatal("no stock alert published")
	}
	select {
	case ev := <-client.Events:
		t.Errorf("quiet location announced: %+v", ev)
	default:
	}

	report, err := f.svc.Alerts(ctx, f.staff(f.l1))
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Counts) != 1 || report.Counts[0].OutOfStock != 1 || report.Counts[0].LowStock != 1 {
		t.Errorf("staff report = %+v", report)
	}
	if len(report.Critical) != 0 {
		t.Error("staff should not see the activity trail")
	}
}
