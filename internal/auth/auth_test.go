package auth

import (
	"testing"
	"time"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
)

const testKey = "0123456789abcdef0123"

func TestTokensRoundTrip(t *testing.T) {
	tokens, err := NewTokens(testKey, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	in := domain.Principal{UserID: "u1", Role: domain.RoleManager, Locations: []string{"L1", "L2"}}
	raw, _, err := tokens.Issue(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := tokens.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.UserID != "u1" || out.Role != domain.RoleManager || len(out.Locations) != 2 {
		t.Fatalf("principal = %+v", out)
	}
}

func TestTokensRejectExpiredAndForeign(t *testing.T) {
	tokens, _ := NewTokens(testKey, time.Hour)
	raw, _, _ := tokens.IssueFor(domain.Principal{UserID: "u1", Role: domain.RoleStaff}, time.Minute)

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := tokens.Verify(raw); domain.KindOf(err) != domain.KindUnauthorized {
		t.Errorf("expired credential error = %v", err)
	}

	other, _ := NewTokens("another-signing-key-000", time.Hour)
	foreign, _, _ := other.Issue(domain.Principal{UserID: "u1", Role: domain.RoleAdmin})
	if _, err := tokens.Verify(foreign); domain.KindOf(err) != domain.KindUnauthorized {
		t.Errorf("foreign credential error = %v", err)
	}

	if _, err := NewTokens("short", time.Hour); err != ErrWeakKey {
		t.Errorf("weak key error = %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	admin := domain.Principal{UserID: "a", Role: domain.RoleAdmin}
	manager := domain.Principal{UserID: "m", Role: domain.RoleManager, Locations: []string{"L1"}}
	staff := domain.Principal{UserID: "s", Role: domain.RoleStaff, Locations: []string{"L2"}}

	cases := []struct {
		name   string
		op     Op
		p      domain.Principal
		target Target
		want   domain.Kind
	}{
		{"anonymous", OpReadInventory, domain.Principal{}, At("L1"), domain.KindUnauthorized},
		{"admin anywhere", OpAdjustStock, admin, At("L9"), ""},
		{"manager own location", OpCreateStock, manager, At("L1"), ""},
		{"manager foreign location", OpCreateStock, manager, At("L2"), domain.KindForbidden},
		{"staff cannot create stock", OpCreateStock, staff, At("L2"), domain.KindForbidden},
		{"staff cannot adjust", OpAdjustStock, staff, At("L2"), domain.KindForbidden},
		{"staff sale own location", OpCreateSale, staff, At("L2"), ""},
		{"staff sale foreign location", OpCreateSale, staff, At("L1"), domain.KindForbidden},
		{"staff reads foreign inventory", OpReadInventory, staff, At("L1"), domain.KindForbidden},
		{"only admin deletes sales", OpDeleteSale, manager, At("L1"), domain.KindForbidden},
		{"admin deletes sales", OpDeleteSale, admin, At("L1"), ""},
		{"staff cannot request transfer", OpRequestTransfer, staff, At("L2", "L1"), domain.KindForbidden},
		{"manager ships from own", OpShipTransfer, manager, At("L1"), ""},
		{"manager cancels touching own", OpCancelTransfer, manager, Target{Locations: []string{"L3", "L1"}}, ""},
		{"manager cancels foreign", OpCancelTransfer, manager, Target{Locations: []string{"L3", "L4"}}, domain.KindForbidden},
		{"requester cancels", OpCancelTransfer, staff, Target{Locations: []string{"L3", "L4"}, RequestedBy: "s"}, ""},
		{"staff reads transfers touching own", OpReadTransfers, staff, At("L1", "L2"), ""},
		{"staff cannot manage catalog", OpManageCatalog, staff, Target{}, domain.KindForbidden},
		{"manager cannot delete product", OpDeleteProduct, manager, Target{}, domain.KindForbidden},
		{"staff reads catalog", OpReadCatalog, staff, Target{}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Authorize(tc.op, tc.p, tc.target)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if got := domain.KindOf(err); got != tc.want {
				t.Fatalf("kind = %s, want %s (err %v)", got, tc.want, err)
			}
		})
	}
}
