package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key would be violated.
	ErrDuplicate = errors.New("duplicate key")
	// ErrTxConflict marks a transient write conflict; the transaction may be retried.
	ErrTxConflict = errors.New("transaction conflict")
)

// Store is the persistent document layer. Reads through Store run outside
// any transaction; InTx runs fn inside one serializable transaction that is
// committed when fn returns nil and rolled back otherwise.
type Store interface {
	Querier
	InTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
	Ping(ctx context.Context) error
	Close()
}

// Querier holds every data operation. List operations take the caller's
// principal and apply its location scope themselves.
type Querier interface {
	CreateProduct(ctx context.Context, p *domain.Product) error
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (domain.Product, error)
	UpdateProduct(ctx context.Context, p *domain.Product) error
	DeleteProduct(ctx context.Context, id string) error
	ListProducts(ctx context.Context, filter ProductFilter) ([]domain.Product, int, error)
	AppendProductEvent(ctx context.Context, ev *domain.ProductEvent) error
	ListProductEvents(ctx context.Context, productID string, limit int) ([]domain.ProductEvent, error)

	CreateLocation(ctx context.Context, l *domain.Location) error
	GetLocation(ctx context.Context, id string) (domain.Location, error)
	ListLocations(ctx context.Context, p domain.Principal) ([]domain.Location, error)

	// GetStockRow and GetStockRowByKey lock the row for the rest of the
	// transaction when forUpdate is set.
	GetStockRow(ctx context.Context, id string, forUpdate bool) (domain.StockRow, error)
	GetStockRowByKey(ctx context.Context, productID, locationID string, forUpdate bool) (domain.StockRow, error)
	InsertStockRow(ctx context.Context, row *domain.StockRow) error
	UpdateStockRow(ctx context.Context, row *domain.StockRow) error
	CountStockRowsForProduct(ctx context.Context, productID string) (int, error)
	ListStockRows(ctx context.Context, p domain.Principal, filter StockFilter) ([]domain.StockRow, int, error)
	CountStockAlerts(ctx context.Context, p domain.Principal, now time.Time) ([]domain.StockAlertCounts, error)

	AppendStockEvent(ctx context.Context, ev *domain.StockEvent) error
	// ListStockEvents returns events oldest first.
	ListStockEvents(ctx context.Context, rowID string, limit, offset int) ([]domain.StockEvent, error)
	// TailStockEvents returns the newest limit events, oldest first.
	TailStockEvents(ctx context.Context, rowID string, limit int) ([]domain.StockEvent, error)

	InsertSale(ctx context.Context, s *domain.Sale) error
	GetSale(ctx context.Context, id string, forUpdate bool) (domain.Sale, error)
	DeleteSale(ctx context.Context, id string) error
	ListSales(ctx context.Context, p domain.Principal, filter SaleFilter) ([]domain.Sale, int, error)

	InsertIncome(ctx context.Context, in *domain.Income) error
	DeleteIncomesForSale(ctx context.Context, saleID string) (int, error)
	// ListIncomes returns incomes whose sale is in p's scope. Incomes not
	// linked to a sale are visible to admins only.
	ListIncomes(ctx context.Context, p domain.Principal, filter IncomeFilter) ([]domain.Income, int, error)

	InsertPurchase(ctx context.Context, p *domain.Purchase) error
	GetPurchase(ctx context.Context, id string, forUpdate bool) (domain.Purchase, error)
	UpdatePurchase(ctx context.Context, p *domain.Purchase) error
	ListPurchases(ctx context.Context, p domain.Principal, filter PurchaseFilter) ([]domain.Purchase, int, error)

	InsertTransfer(ctx context.Context, t *domain.StockTransfer) error
	GetTransfer(ctx context.Context, id string, forUpdate bool) (domain.StockTransfer, error)
	UpdateTransfer(ctx context.Context, t *domain.StockTransfer) error
	ListTransfers(ctx context.Context, p domain.Principal, filter TransferFilter) ([]domain.StockTransfer, int, error)

	InsertActivity(ctx context.Context, a *domain.Activity) error
	// ListActivity returns entries touching a location in p's scope plus
	// entries that concern no location.
	ListActivity(ctx context.Context, p domain.Principal, filter ActivityFilter) ([]domain.Activity, int, error)
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 1000
)

type Page struct {
	Page  int
	Limit int
}

// Normalize clamps the page to [1, ...] and the limit to [1, MaxPageLimit].
func (p Page) Normalize() Page {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.Limit
}

type ProductFilter struct {
	Search string
	Active *bool
	Page
}

type StockFilter struct {
	ProductID  string
	LocationID string
	Search     string
	LowStock   bool
	OutOfStock bool
	// ExpiredBefore selects rows whose expiry date is before the given instant.
	ExpiredBefore *time.Time
	Page
}

type SaleFilter struct {
	LocationID string
	From       *time.Time
	To         *time.Time
	Page
}

type IncomeFilter struct {
	From          *time.Time
	To            *time.Time
	RelatedSaleID string
	Page
}

type PurchaseFilter struct {
	WarehouseID string
	Status      domain.PurchaseStatus
	Page
}

type TransferFilter struct {
	LocationID string
	Status     domain.TransferStatus
	Page
}

type ActivityFilter struct {
	EntityType string
	EntityID   string
	Urgency    domain.Urgency
	Page
}

// ScopeLocations returns the location ids visible to p, or nil with all=true
// for admins. A non-admin with no locations sees nothing.
func ScopeLocations(p domain.Principal) (locations []string, all bool) {
	if p.IsAdmin() {
		return nil, true
	}
	if !p.Authenticated() {
		return []string{}, false
	}
	return append([]string{}, p.Locations...), false
}
