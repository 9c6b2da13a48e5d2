package service

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/events"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func saleOf(locationID, productID string, qty int, price string) domain.SaleDraft {
	return domain.SaleDraft{
		LocationID: locationID,
		Items:      []domain.SaleItem{{ProductID: productID, Quantity: qty, UnitPrice: dec(price)}},
	}
}

func (f *fixture) incomesFor(t *testing.T, saleID string) []domain.Income {
	t.Helper()
	list, _, err := f.store.ListIncomes(context.Background(), f.admin, repository.IncomeFilter{RelatedSaleID: saleID})
	if err != nil {
		t.Fatal(err)
	}
	return list
}

func TestRecordSaleHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.stock(t, f.p1, f.l1, 10)
	sales := f.hub.Subscribe("c1", "u1", []string{events.RoomSales})
	defer f.hub.Unsubscribe("c1")

	draft := saleOf(f.l1, f.p1, 3, "4.00")
	draft.Tax = dec("1.20")
	draft.Discount = dec("0.50")
	sale, err := f.svc.RecordSale(ctx, f.staff(f.l1), draft)
	if err != nil {
		t.Fatal(err)
	}
	if !sale.Subtotal.Equal(dec("12.00")) || !sale.Total.Equal(dec("12.70")) {
		t.Errorf("subtotal %s total %s", sale.Subtotal, sale.Total)
	}
	if sale.Status != domain.SaleCompleted || sale.PaymentMethod != "cash" {
		t.Errorf("defaults = %s %s", sale.Status, sale.PaymentMethod)
	}
	if q := f.quantity(t, f.p1, f.l1); q != 7 {
		t.Errorf("quantity = %d, want 7", q)
	}

	incomes := f.incomesFor(t, sale.ID)
	if len(incomes) != 1 || !incomes[0].Amount.Equal(dec("12.70")) || incomes[0].Source != domain.IncomeSale {
		t.Errorf("incomes = %+v", incomes)
	}

	evs := f.history(t, row.ID)
	last := evs[len(evs)-1]
	if len(evs) != 2 || last.Action != domain.ActionSale || last.Adjustment != -3 || last.NewQuantity != 7 {
		t.Errorf("events = %+v", evs)
	}
	if last.RelatedSaleID == nil || *last.RelatedSaleID != sale.ID {
		t.Error("sale event does not reference the sale")
	}

	select {
	case ev := <-sales.Events:
		if ev.Type != events.TypeNewSale || ev.EntityID != sale.ID {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Error("newSale not published")
	}
}

func TestRecordSaleInsufficientStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.stock(t, f.p1, f.l1, 2)

	_, err := f.svc.RecordSale(ctx, f.admin, saleOf(f.l1, f.p1, 3, "4.00"))
	wantKind(t, err, domain.KindInsufficientStock)

	if q := f.quantity(t, f.p1, f.l1); q != 2 {
		t.Errorf("quantity = %d, want 2", q)
	}
	if evs := f.history(t, row.ID); len(evs) != 1 {
		t.Errorf("failed sale appended events: %+v", evs)
	}
	incomes, _, err := f.store.ListIncomes(ctx, f.admin, repository.IncomeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(incomes) != 0 {
		t.Errorf("failed sale created incomes: %+v", incomes)
	}
}

func TestRecordSaleIsAtomicAcrossRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.p1, f.l1, 10)
	f.stock(t, f.p2, f.l1, 1)

	draft := domain.SaleDraft{
		LocationID: f.l1,
		Items: []domain.SaleItem{
			{ProductID: f.p1, Quantity: 5, UnitPrice: dec("1.00")},
			{ProductID: f.p2, Quantity: 2, UnitPrice: dec("1.00")},
		},
	}
	_, err := f.svc.RecordSale(ctx, f.admin, draft)
	wantKind(t, err, domain.KindInsufficientStock)
	if q := f.quantity(t, f.p1, f.l1); q != 10 {
		t.Errorf("first row decremented to %d", q)
	}

	// A product the location has never stocked is insufficient too.
	_, err = f.svc.RecordSale(ctx, f.admin, saleOf(f.l2, f.p1, 1, "1.00"))
	wantKind(t, err, domain.KindInsufficientStock)
}

func TestRecordSaleAggregatesDuplicateLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.stock(t, f.p1, f.l1, 10)

	draft := domain.SaleDraft{
		LocationID: f.l1,
		Items: []domain.SaleItem{
			{ProductID: f.p1, Quantity: 2, UnitPrice: dec("2.50")},
			{ProductID: f.p1, Quantity: 3, UnitPrice: dec("2.50"), ItemDiscountPct: dec("10")},
		},
	}
	sale, err := f.svc.RecordSale(ctx, f.admin, draft)
	if err != nil {
		t.Fatal(err)
	}
	if !sale.Total.Equal(dec("11.75")) {
		t.Errorf("total = %s, want 11.75", sale.Total)
	}
	evs := f.history(t, row.ID)
	if len(evs) != 2 || evs[1].Adjustment != -5 {
		t.Errorf("events = %+v", evs)
	}
}

func TestRecordSaleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.p1, f.l1, 10)

	withStatus := func(status domain.SaleStatus) domain.SaleDraft {
		d := saleOf(f.l1, f.p1, 1, "1.00")
		d.Status = status
		return d
	}
	cases := map[string]domain.SaleDraft{
		"no items":       {LocationID: f.l1},
		"zero quantity":  saleOf(f.l1, f.p1, 0, "1.00"),
		"zero price":     saleOf(f.l1, f.p1, 1, "0"),
		"no location":    saleOf("", f.p1, 1, "1.00"),
		"unknown status": withStatus("lost"),
		"born cancelled": withStatus(domain.SaleCancelled),
		"born refunded":  withStatus(domain.SaleRefunded),
	}
	for name, draft := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.RecordSale(ctx, f.admin, draft)
			wantKind(t, err, domain.KindBadRequest)
		})
	}

	if q := f.quantity(t, f.p1, f.l1); q != 10 {
		t.Errorf("rejected drafts moved stock: quantity %d", q)
	}

	off := false
	if _, err := f.svc.UpdateProduct(ctx, f.admin, f.p1, ProductPatch{IsActive: &off}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.RecordSale(ctx, f.admin, saleOf(f.l1, f.p1, 1, "1.00"))
	wantKind(t, err, domain.KindNotFound)
}

func TestRecordSaleWithoutIncome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.p1, f.l1, 10)

	pending := saleOf(f.l1, f.p1, 1, "3.00")
	pending.Status = domain.SalePending
	sale, err := f.svc.RecordSale(ctx, f.admin, pending)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.incomesFor(t, sale.ID); len(got) != 0 {
		t.Errorf("pending sale has incomes %+v", got)
	}

	free := saleOf(f.l1, f.p1, 1, "3.00")
	free.Discount = dec("5")
	sale, err = f.svc.RecordSale(ctx, f.admin, free)
	if err != nil {
		t.Fatal(err)
	}
	if !sale.Total.IsZero() || len(f.incomesFor(t, sale.ID)) != 0 {
		t.Errorf("zero-total sale: total %s", sale.Total)
	}
}

func TestDeleteSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.stock(t, f.p1, f.l1, 10)
	sale, err := f.svc.RecordSale(ctx, f.admin, saleOf(f.l1, f.p1, 3, "4.00"))
	if err != nil {
		t.Fatal(err)
	}

	err = f.svc.DeleteSale(ctx, f.manager(f.l1), sale.ID)
	wantKind(t, err, domain.KindForbidden)

	if err := f.svc.DeleteSale(ctx, f.admin, sale.ID); err != nil {
		t.Fatal(err)
	}
	if q := f.quantity(t, f.p1, f.l1); q != 10 {
		t.Errorf("quantity = %d, want 10", q)
	}
	evs := f.history(t, row.ID)
	if last := evs[len(evs)-1]; last.Action != domain.ActionSaleDeleted || last.Adjustment != 3 {
		t.Errorf("last event = %+v", last)
	}
	if got := f.incomesFor(t, sale.ID); len(got) != 0 {
		t.Errorf("income survived deletion: %+v", got)
	}
	_, err = f.svc.GetSale(ctx, f.admin, sale.ID)
	wantKind(t, err, domain.KindNotFound)

	err = f.svc.DeleteSale(ctx, f.admin, sale.ID)
	wantKind(t, err, domain.KindNotFound)
	f.assertLedger(t)
}

func TestSaleAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.p1, f.l1, 10)

	_, err := f.svc.RecordSale(ctx, f.staff(f.l2), saleOf(f.l1, f.p1, 1, "4.00"))
	wantKind(t, err, domain.KindForbidden)
	if q := f.quantity(t, f.p1, f.l1); q != 10 {
		t.Errorf("quantity = %d", q)
	}

	sale, err := f.svc.RecordSale(ctx, f.staff(f.l1), saleOf(f.l1, f.p1, 1, "4.00"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.GetSale(ctx, f.staff(f.l2), sale.ID)
	wantKind(t, err, domain.KindForbidden)
	list, total, err := f.svc.ListSales(ctx, f.staff(f.l2), SaleQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || len(list) != 0 {
		t.Errorf("staff at L2 sees %d sales", total)
	}
	_, _, err = f.svc.ListIncomes(ctx, f.staff(f.l1), IncomeQuery{})
	wantKind(t, err, domain.KindForbidden)
}

func TestConcurrentSalesOnOneRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.p1, f.l1, 10)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, qty := range []int{6, 7} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.RecordSale(ctx, f.admin, saleOf(f.l1, f.p1, qty, "1.00"))
		}()
	}
	wg.Wait()

	var ok, short int
	sold := 0
	for i, err := range errs {
		switch {
		case err == nil:
			ok++
			sold = []int{6, 7}[i]
		case domain.IsKind(err, domain.KindInsufficientStock):
			short++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || short != 1 {
		t.Fatalf("successes %d, insufficient %d", ok, short)
	}
	if q := f.quantity(t, f.p1, f.l1); q != 10-sold {
		t.Errorf("quantity = %d, want %d", q, 10-sold)
	}
	f.assertLedger(t)
}

func TestTransferLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.p1, f.l1, 5)
	m := f.manager(f.l1, f.l2)

	tr, err := f.svc.RequestTransfer(ctx, m, TransferRequest{ProductID: f.p1, Quantity: 2, FromLocationID: f.l1, ToLocationID: f.l2})
	if err != nil {
		t.Fatal(err)
	}
	if tr.Status != domain.TransferPending || tr.RequestedBy != m.UserID {
		t.Errorf("requested = %+v", tr)
	}
	if q := f.quantity(t, f.p1, f.l1); q != 5 {
		t.Errorf("request moved stock: %d", q)
	}

	tr, err = f.svc.ShipTransfer(ctx, m, tr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Status != domain.TransferShipped || tr.ShippedAt == nil || f.quantity(t, f.p1, f.l1) != 3 {
		t.Errorf("shipped = %+v", tr)
	}

	tr, err = f.svc.ReceiveTransfer(ctx, m, tr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Status != domain.TransferReceived || tr.ReceivedBy == nil {
		t.Errorf("received = %+v", tr)
	}
	rowB, err := f.store.GetStockRowByKey(ctx, f.p1, f.l2, false)
	if err != nil {
		t.Fatal(err)
	}
	evs := f.history(t, rowB.ID)
	if rowB.Quantity != 2 || len(evs) != 1 || evs[0].Action != domain.ActionTransferIn {
		t.Errorf("destination row %+v events %+v", rowB, evs)
	}
	if rowB.MinStock != domain.DefaultMinStock || rowB.NotifyAt != domain.DefaultNotifyAt {
		t.Errorf("implicit row thresholds = %d/%d", rowB.MinStock, rowB.NotifyAt)
	}
	f.assertLedger(t)
}

func TestTransferCancelLeavesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.p1, f.l1, 5)
	f.stock(t, f.p1, f.l2, 1)

	tr, err := f.svc.RequestTransfer(ctx, f.admin, TransferRequest{ProductID: f.p1, Quantity: 4, FromLocationID: f.l1, ToLocationID: f.l2})
	if err != nil {
		t.Fatal(err)
	}
	tr, err = f.svc.CancelTransfer(ctx, f.manager(f.l2), tr.ID, "not needed")
	if err != nil {
		t.Fatal(err)
	}
	if tr.Status != domain.TransferCancelled || tr.CancellationReason == nil || *tr.CancellationReason != "not needed" {
		t.Errorf("cancelled = %+v", tr)
	}
	if f.quantity(t, f.p1, f.l1) != 5 || f.quantity(t, f.p1, f.l2) != 1 {
		t.Error("cancel changed stock")
	}
}

func TestTransferStateMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.p1, f.l1, 10)
	request := func() domain.StockTransfer {
		tr, err := f.svc.RequestTransfer(ctx, f.admin, TransferRequest{ProductID: f.p1, Quantity: 1, FromLocationID: f.l1, ToLocationID: f.l2})
		if err != nil {
			t.Fatal(err)
		}
		return tr
	}

	pending := request()
	_, err := f.svc.ReceiveTransfer(ctx, f.admin, pending.ID)
	wantKind(t, err, domain.KindInvalidState)

	shipped := request()
	if _, err := f.svc.ShipTransfer(ctx, f.admin, shipped.ID); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.ShipTransfer(ctx, f.admin, shipped.ID)
	wantKind(t, err, domain.KindInvalidState)
	_, err = f.svc.CancelTransfer(ctx, f.admin, shipped.ID, "")
	wantKind(t, err, domain.KindInvalidState)

	received := request()
	if _, err := f.svc.ShipTransfer(ctx, f.admin, received.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ReceiveTransfer(ctx, f.admin, received.ID); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.ShipTransfer(ctx, f.admin, received.ID)
	wantKind(t, err, domain.KindInvalidState)
	_, err = f.svc.ReceiveTransfer(ctx, f.admin, received.ID)
	wantKind(t, err, domain.KindInvalidState)
	_, err = f.svc.CancelTransfer(ctx, f.admin, received.ID, "")
	wantKind(t, err, domain.KindInvalidState)

	cancelled := request()
	if _, err := f.svc.CancelTransfer(ctx, f.admin, cancelled.ID, ""); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.ShipTransfer(ctx, f.admin, cancelled.ID)
	wantKind(t, err, domain.KindInvalidState)
	_, err = f.svc.ReceiveTransfer(ctx, f.admin, cancelled.ID)
	wantKind(t, err, domain.KindInvalidState)

	// Two shipped units left L1, one of them landed at L2.
	if f.quantity(t, f.p1, f.l1) != 8 || f.quantity(t, f.p1, f.l2) != 1 {
		t.Errorf("stock after rejections: L1=%d L2=%d", f.quantity(t, f.p1, f.l1), f.quantity(t, f.p1, f.l2))
	}
	f.assertLedger(t)
}

func TestTransferShipRechecksStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.stock(t, f.p1, f.l1, 5)

	tr, err := f.svc.RequestTransfer(ctx, f.admin, TransferRequest{ProductID: f.p1, Quantity: 4, FromLocationID: f.l1, ToLocationID: f.l2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.AdjustStock(ctx, f.admin, row.ID, -3, "breakage"); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.ShipTransfer(ctx, f.admin, tr.ID)
	wantKind(t, err, domain.KindInsufficientStock)

	got, err := f.svc.GetTransfer(ctx, f.admin, tr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TransferPending {
		t.Errorf("status = %s", got.Status)
	}
}

func TestTransferValidationAndAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.p1, f.l1, 5)

	_, err := f.svc.RequestTransfer(ctx, f.admin, TransferRequest{ProductID: f.p1, Quantity: 1, FromLocationID: f.l1, ToLocationID: f.l1})
	wantKind(t, err, domain.KindBadRequest)
	_, err = f.svc.RequestTransfer(ctx, f.admin, TransferRequest{ProductID: f.p1, Quantity: 6, FromLocationID: f.l1, ToLocationID: f.l2})
	wantKind(t, err, domain.KindInsufficientStock)
	_, err = f.svc.RequestTransfer(ctx, f.staff(f.l1), TransferRequest{ProductID: f.p1, Quantity: 1, FromLocationID: f.l1, ToLocationID: f.l2})
	wantKind(t, err, domain.KindForbidden)
	_, err = f.svc.RequestTransfer(ctx, f.manager(f.l2), TransferRequest{ProductID: f.p1, Quantity: 1, FromLocationID: f.l1, ToLocationID: f.l2})
	wantKind(t, err, domain.KindForbidden)

	tr, err := f.svc.RequestTransfer(ctx, f.manager(f.l1), TransferRequest{ProductID: f.p1, Quantity: 1, FromLocationID: f.l1, ToLocationID: f.l2})
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.ShipTransfer(ctx, f.manager(f.l2), tr.ID)
	wantKind(t, err, domain.KindForbidden)
	_, err = f.svc.CancelTransfer(ctx, f.staff(f.l1), tr.ID, "")
	wantKind(t, err, domain.KindForbidden)

	// The requester may always withdraw their own request.
	requester := f.manager(f.l1)
	requester.Locations = nil
	if _, err := f.svc.CancelTransfer(ctx, requester, tr.ID, "mine"); err != nil {
		t.Fatalf("requester cancel: %v", err)
	}

	list, total, err := f.svc.ListTransfers(ctx, f.manager(f.l2), TransferQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(list) != 1 {
		t.Errorf("destination manager sees %d transfers", total)
	}
}

func TestPurchaseReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.p2, f.l2, 1)
	m := f.manager(f.l2)

	purchase, err := f.svc.CreatePurchase(ctx, m, CreatePurchaseInput{
		SupplierID:  "supplier-1",
		WarehouseID: f.l2,
		Items: []domain.PurchaseItem{
			{ProductID: f.p1, Quantity: 10, UnitCost: dec("1.50")},
			{ProductID: f.p2, Quantity: 5, UnitCost: dec("2.00")},
		},
		OrderTax:   dec("2.50"),
		Shipping:   dec("3.00"),
		AmountPaid: dec("10.00"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if purchase.Status != domain.PurchasePending || purchase.PurchaseNumber == "" {
		t.Errorf("created = %+v", purchase)
	}
	if !purchase.GrandTotal.Equal(dec("30.50")) || !purchase.AmountDue.Equal(dec("20.50")) || purchase.PaymentStatus != domain.PaymentPartial {
		t.Errorf("totals: grand %s due %s status %s", purchase.GrandTotal, purchase.AmountDue, purchase.PaymentStatus)
	}

	received, err := f.svc.ReceivePurchase(ctx, m, purchase.ID)
	if err != nil {
		t.Fatal(err)
	}
	if received.Status != domain.PurchaseReceived || received.ReceivedDate == nil {
		t.Errorf("received = %+v", received)
	}
	if f.quantity(t, f.p1, f.l2) != 10 || f.quantity(t, f.p2, f.l2) != 6 {
		t.Errorf("stock after receipt: %d %d", f.quantity(t, f.p1, f.l2), f.quantity(t, f.p2, f.l2))
	}
	for _, productID := range []string{f.p1, f.p2} {
		row, err := f.store.GetStockRowByKey(ctx, productID, f.l2, false)
		if err != nil {
			t.Fatal(err)
		}
		evs := f.history(t, row.ID)
		last := evs[len(evs)-1]
		if last.Action != domain.ActionPurchaseReceived || last.RelatedPurchaseID == nil || *last.RelatedPurchaseID != purchase.ID {
			t.Errorf("last event for %s = %+v", productID, last)
		}
	}

	_, err = f.svc.ReceivePurchase(ctx, m, purchase.ID)
	wantKind(t, err, domain.KindInvalidState)
	if f.quantity(t, f.p1, f.l2) != 10 {
		t.Error("second receipt changed stock")
	}
	f.assertLedger(t)
}

func TestPurchaseRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := CreatePurchaseInput{
		PurchaseNumber: "PO-1",
		SupplierID:     "supplier-1",
		WarehouseID:    f.l2,
		Items:          []domain.PurchaseItem{{ProductID: f.p1, Quantity: 1, UnitCost: dec("1")}},
		Status:         domain.PurchaseDraft,
	}
	draft, err := f.svc.CreatePurchase(ctx, f.admin, in)
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.CreatePurchase(ctx, f.admin, in)
	wantKind(t, err, domain.KindConflict)

	_, err = f.svc.ReceivePurchase(ctx, f.admin, draft.ID)
	wantKind(t, err, domain.KindInvalidState)

	_, err = f.svc.CreatePurchase(ctx, f.staff(f.l2), CreatePurchaseInput{SupplierID: "s", WarehouseID: f.l2, Items: in.Items})
	wantKind(t, err, domain.KindForbidden)

	bad := in
	bad.PurchaseNumber = ""
	bad.Status = domain.PurchaseReceived
	_, err = f.svc.CreatePurchase(ctx, f.admin, bad)
	wantKind(t, err, domain.KindBadRequest)

	list, total, err := f.svc.ListPurchases(ctx, f.manager(f.l1), PurchaseQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || len(list) != 0 {
		t.Errorf("manager at L1 sees %d purchases", total)
	}
}

// TestRandomOperationsKeepLedger drives a random mix of operations and checks
// no row goes negative and every audit log folds to its row.
func TestRandomOperationsKeepLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))
	rowA := f.stock(t, f.p1, f.l1, 20)
	f.stock(t, f.p2, f.l1, 20)
	var saleIDs []string

	for i := 0; i < 200; i++ {
		products := []string{f.p1, f.p2}
		productID := products[rng.IntN(2)]
		switch rng.IntN(5) {
		case 0:
			_, _ = f.svc.AdjustStock(ctx, f.admin, rowA.ID, rng.IntN(11)-6, "")
		case 1:
			sale, err := f.svc.RecordSale(ctx, f.admin, saleOf(f.l1, productID, 1+rng.IntN(5), "1.00"))
			if err == nil {
				saleIDs = append(saleIDs, sale.ID)
			}
		case 2:
			if len(saleIDs) > 0 {
				n := rng.IntN(len(saleIDs))
				_ = f.svc.DeleteSale(ctx, f.admin, saleIDs[n])
				saleIDs = append(saleIDs[:n], saleIDs[n+1:]...)
			}
		case 3:
			from, to := f.l1, f.l2
			if rng.IntN(2) == 0 {
				from, to = to, from
			}
			tr, err := f.svc.RequestTransfer(ctx, f.admin, TransferRequest{ProductID: productID, Quantity: 1 + rng.IntN(4), FromLocationID: from, ToLocationID: to})
			if err == nil {
				if _, err := f.svc.ShipTransfer(ctx, f.admin, tr.ID); err == nil {
					_, _ = f.svc.ReceiveTransfer(ctx, f.admin, tr.ID)
				}
			}
		case 4:
			p, err := f.svc.CreatePurchase(ctx, f.admin, CreatePurchaseInput{
				SupplierID:  "s",
				WarehouseID: f.l2,
				Items:       []domain.PurchaseItem{{ProductID: productID, Quantity: 1 + rng.IntN(3), UnitCost: dec("1")}},
			})
			if err == nil {
				_, _ = f.svc.ReceivePurchase(ctx, f.admin, p.ID)
			}
		}
	}
	f.assertLedger(t)
	for _, id := range saleIDs {
		if got := f.incomesFor(t, id); len(got) != 1 {
			t.Errorf("sale %s has %d incomes", id, len(got))
		}
	}
}

func TestIncomesAndActivityFollowLocationScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.p1, f.l1, 10)
	f.stock(t, f.p1, f.l2, 10)

	local, err := f.svc.RecordSale(ctx, f.admin, saleOf(f.l1, f.p1, 2, "4.00"))
	if err != nil {
		t.Fatal(err)
	}
	// Draining L2 also leaves a critical out-of-stock entry there.
	if _, err := f.svc.RecordSale(ctx, f.admin, saleOf(f.l2, f.p1, 10, "4.00")); err != nil {
		t.Fatal(err)
	}

	mgr := f.manager(f.l1)
	incomes, total, err := f.svc.ListIncomes(ctx, mgr, IncomeQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(incomes) != 1 || incomes[0].RelatedSaleID == nil || *incomes[0].RelatedSaleID != local.ID {
		t.Errorf("manager at L1 sees incomes %+v", incomes)
	}
	if _, total, _ := f.svc.ListIncomes(ctx, f.admin, IncomeQuery{}); total != 2 {
		t.Errorf("admin sees %d incomes, want 2", total)
	}
	page, total, err := f.svc.ListIncomes(ctx, f.admin, IncomeQuery{Page: repository.Page{Page: 2, Limit: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(page) != 1 {
		t.Errorf("second page of one = %d items of %d", len(page), total)
	}

	trail, _, err := f.svc.ListActivity(ctx, mgr, ActivityQuery{Page: repository.Page{Limit: 1000}})
	if err != nil {
		t.Fatal(err)
	}
	sawProduct := false
	for _, a := range trail {
		if len(a.LocationIDs) == 0 {
			sawProduct = sawProduct || a.EntityType == "product"
			continue
		}
		if !slices.Contains(a.LocationIDs, f.l1) {
			t.Errorf("manager at L1 sees %s entry for %v", a.Action, a.LocationIDs)
		}
	}
	if !sawProduct {
		t.Error("entries without a location should stay visible")
	}

	report, err := f.svc.Alerts(ctx, mgr)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Critical) != 0 {
		t.Errorf("manager at L1 sees critical entries %+v", report.Critical)
	}
	report, err = f.svc.Alerts(ctx, f.admin)
	if err != nil {
		t.Fatal(err)
	}
	drained := false
	for _, a := range report.Critical {
		drained = drained || (a.Action == "out_of_stock" && slices.Equal(a.LocationIDs, []string{f.l2}))
	}
	if !drained {
		t.Errorf("admin critical entries = %+v", report.Critical)
	}
}
