package auth

import (
	"slices"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
)

type Op string

const (
	OpReadInventory   Op = "inventory.read"
	OpCreateStock     Op = "inventory.create"
	OpAdjustStock     Op = "inventory.adjust"
	OpImportStock     Op = "inventory.import"
	OpCreateSale      Op = "sale.create"
	OpDeleteSale      Op = "sale.delete"
	OpReadSales       Op = "sale.read"
	OpCreatePurchase  Op = "purchase.create"
	OpReceivePurchase Op = "purchase.receive"
	OpReadPurchases   Op = "purchase.read"
	OpRequestTransfer Op = "transfer.request"
	OpShipTransfer    Op = "transfer.ship"
	OpReceiveTransfer Op = "transfer.receive"
	OpCancelTransfer  Op = "transfer.cancel"
	OpReadTransfers   Op = "transfer.read"
	OpReadCatalog     Op = "catalog.read"
	OpManageCatalog   Op = "catalog.manage"
	OpDeleteProduct   Op = "catalog.delete"
	OpReadIncomes     Op = "income.read"
	OpReadActivity    Op = "activity.read"
	OpManageLocations Op = "location.manage"
)

// Target is what an operation acts on. Locations lists every location the
// operation touches; RequestedBy is the originator of a pending transfer.
type Target struct {
	Locations   []string
	RequestedBy string
}

func At(locations ...string) Target {
	return Target{Locations: locations}
}

type scope int

const (
	// scopeNone ignores target locations.
	scopeNone scope = iota
	// scopeAll requires access to every target location.
	scopeAll
	// scopeAny requires access to at least one target location.
	scopeAny
)

type policy struct {
	roles []domain.Role
	scope scope
}

var (
	everyone = []domain.Role{domain.RoleAdmin, domain.RoleManager, domain.RoleStaff}
	managers = []domain.Role{domain.RoleAdmin, domain.RoleManager}
	admins   = []domain.Role{domain.RoleAdmin}
)

var policies = map[Op]policy{
	OpReadInventory:   {everyone, scopeAll},
	OpCreateStock:     {managers, scopeAll},
	OpAdjustStock:     {managers, scopeAll},
	OpImportStock:     {managers, scopeAll},
	OpCreateSale:      {everyone, scopeAll},
	OpDeleteSale:      {admins, scopeNone},
	OpReadSales:       {everyone, scopeAll},
	OpCreatePurchase:  {managers, scopeAll},
	OpReceivePurchase: {managers, scopeAll},
	OpReadPurchases:   {everyone, scopeAll},
	OpRequestTransfer: {managers, scopeAll},
	OpShipTransfer:    {managers, scopeAll},
	OpReceiveTransfer: {managers, scopeAll},
	OpCancelTransfer:  {managers, scopeAny},
	OpReadTransfers:   {everyone, scopeAny},
	OpReadCatalog:     {everyone, scopeNone},
	OpManageCatalog:   {managers, scopeNone},
	OpDeleteProduct:   {admins, scopeNone},
	OpReadIncomes:     {managers, scopeNone},
	OpReadActivity:    {managers, scopeNone},
	OpManageLocations: {admins, scopeNone},
}

// Authorize is the single gate in front of every service operation. It
// returns nil, an Unauthorized error for anonymous callers, or Forbidden.
func Authorize(op Op, p domain.Principal, target Target) error {
	if !p.Authenticated() {
		return domain.Errorf(domain.KindUnauthorized, "authentication required")
	}
	pol, ok := policies[op]
	if !ok {
		return domain.Forbidden("unknown operation %s", op)
	}

	// The original requester may always withdraw a pending transfer.
	if op == OpCancelTransfer && target.RequestedBy != "" && target.RequestedBy == p.UserID {
		return nil
	}

	if !slices.Contains(pol.roles, p.Role) {
		return domain.Forbidden("role %s may not perform %s", p.Role, op)
	}
	if p.IsAdmin() {
		return nil
	}

	switch pol.scope {
	case scopeAll:
		for _, loc := range target.Locations {
			if !p.HasAccessTo(loc) {
				return domain.Forbidden("no access to location %s", loc).WithDetail("locationId", loc)
			}
		}
	case scopeAny:
		if len(target.Locations) == 0 {
			return nil
		}
		if !slices.ContainsFunc(target.Locations, p.HasAccessTo) {
			return domain.Forbidden("no access to any location of this operation")
		}
	}
	return nil
}
