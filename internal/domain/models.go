package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LocationType string

const (
	LocationStore              LocationType = "Store"
	LocationWarehouse          LocationType = "Warehouse"
	LocationDistributionCenter LocationType = "DistributionCenter"
	LocationOutlet             LocationType = "Outlet"
)

func (t LocationType) Valid() bool {
	switch t {
	case LocationStore, LocationWarehouse, LocationDistributionCenter, LocationOutlet:
		return true
	}
	return false
}

type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	SKU        string          `json:"sku"`
	Barcode    *string         `json:"barcode,omitempty"`
	CategoryID string          `json:"categoryId"`
	BrandID    *string         `json:"brandId,omitempty"`
	Price      decimal.Decimal `json:"price"`
	IsActive   bool            `json:"isActive"`
	CreatedBy  string          `json:"createdBy"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

const (
	ProductCreated     = "created"
	ProductUpdated     = "updated"
	ProductDeactivated = "deactivated"
	ProductReactivated = "reactivated"
)

type ProductEvent struct {
	ID        string         `json:"id"`
	ProductID string         `json:"productId"`
	UserID    string         `json:"userId"`
	Action    string         `json:"action"`
	Note      string         `json:"note,omitempty"`
	Changes   map[string]any `json:"changes,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type Location struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      LocationType `json:"type"`
	IsActive  bool         `json:"isActive"`
	CreatedAt time.Time    `json:"createdAt"`
}

const (
	DefaultMinStock = 5
	DefaultNotifyAt = 5
	// AuditTailSize is the number of most recent events returned with a row.
	AuditTailSize = 20
)

type StockRow struct {
	ID         string       `json:"id"`
	ProductID  string       `json:"productId"`
	LocationID string       `json:"locationId"`
	Quantity   int          `json:"quantity"`
	MinStock   int          `json:"minStock"`
	NotifyAt   int          `json:"notifyAt"`
	ExpiryDate *time.Time   `json:"expiryDate,omitempty"`
	CreatedBy  string       `json:"createdBy"`
	EventCount int          `json:"eventCount"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
	AuditLog   []StockEvent `json:"auditLog,omitempty"`
}

func (r StockRow) LowStock() bool {
	return r.Quantity <= r.NotifyAt
}

func (r StockRow) Expired(now time.Time) bool {
	return r.ExpiryDate != nil && r.ExpiryDate.Before(now)
}

type StockAction string

const (
	ActionAddedToLocation  StockAction = "added_to_location"
	ActionAdjustment       StockAction = "adjustment"
	ActionSale             StockAction = "sale"
	ActionSaleDeleted      StockAction = "sale_deleted"
	ActionPurchaseReceived StockAction = "purchase_received"
	ActionTransferOut      StockAction = "transfer_out"
	ActionTransferIn       StockAction = "transfer_in"
	ActionInitialStock     StockAction = "initial_stock"
)

type StockEvent struct {
	ID                string      `json:"id"`
	StockRowID        string      `json:"stockRowId"`
	Seq               int         `json:"seq"`
	UserID            string      `json:"userId"`
	Action            StockAction `json:"action"`
	Adjustment        int         `json:"adjustment"`
	Note              string      `json:"note,omitempty"`
	NewQuantity       int         `json:"newQuantity"`
	RelatedSaleID     *string     `json:"relatedSaleId,omitempty"`
	RelatedTransferID *string     `json:"relatedTransferId,omitempty"`
	RelatedPurchaseID *string     `json:"relatedPurchaseId,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
}

type SaleStatus string

const (
	SalePending   SaleStatus = "pending"
	SaleCompleted SaleStatus = "completed"
	SaleCancelled SaleStatus = "cancelled"
	SaleRefunded  SaleStatus = "refunded"
)

func (s SaleStatus) Valid() bool {
	switch s {
	case SalePending, SaleCompleted, SaleCancelled, SaleRefunded:
		return true
	}
	return false
}

type SaleItem struct {
	ProductID       string          `json:"productId"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	ItemDiscountPct decimal.Decimal `json:"itemDiscountPct"`
	LineTotal       decimal.Decimal `json:"lineTotal"`
}

type Sale struct {
	ID            string          `json:"id"`
	Items         []SaleItem      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	Status        SaleStatus      `json:"status"`
	PaymentMethod string          `json:"paymentMethod"`
	Customer      *string         `json:"customer,omitempty"`
	LocationID    string          `json:"locationId"`
	CreatedBy     string          `json:"createdBy"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// SaleDraft is the caller-supplied shape of a sale; totals are always recomputed.
type SaleDraft struct {
	LocationID    string
	Items         []SaleItem
	Tax           decimal.Decimal
	Discount      decimal.Decimal
	PaymentMethod string
	Customer      *string
	Status        SaleStatus
}

type PurchaseStatus string

const (
	PurchaseDraft             PurchaseStatus = "draft"
	PurchasePending           PurchaseStatus = "pending"
	PurchaseReceived          PurchaseStatus = "received"
	PurchasePartiallyReceived PurchaseStatus = "partially_received"
	PurchaseCancelled         PurchaseStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

type PurchaseItem struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unitCost"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

type Purchase struct {
	ID             string          `json:"id"`
	PurchaseNumber string          `json:"purchaseNumber"`
	SupplierID     string          `json:"supplierId"`
	WarehouseID    string          `json:"warehouseId"`
	Items          []PurchaseItem  `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	OrderTax       decimal.Decimal `json:"orderTax"`
	Discount       decimal.Decimal `json:"discount"`
	Shipping       decimal.Decimal `json:"shipping"`
	GrandTotal     decimal.Decimal `json:"grandTotal"`
	AmountPaid     decimal.Decimal `json:"amountPaid"`
	AmountDue      decimal.Decimal `json:"amountDue"`
	Status         PurchaseStatus  `json:"status"`
	PaymentStatus  PaymentStatus   `json:"paymentStatus"`
	PurchaseDate   time.Time       `json:"purchaseDate"`
	ReceivedDate   *time.Time      `json:"receivedDate,omitempty"`
	CreatedBy      string          `json:"createdBy"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type TransferStatus string

const (
	TransferPending   TransferStatus = "Pending"
	TransferShipped   TransferStatus = "Shipped"
	TransferReceived  TransferStatus = "Received"
	TransferCancelled TransferStatus = "Cancelled"
)

type StockTransfer struct {
	ID                 string         `json:"id"`
	ProductID          string         `json:"productId"`
	Quantity           int            `json:"quantity"`
	FromLocationID     string         `json:"fromLocationId"`
	ToLocationID       string         `json:"toLocationId"`
	Status             TransferStatus `json:"status"`
	RequestedBy        string         `json:"requestedBy"`
	RequestedAt        time.Time      `json:"requestedAt"`
	ShippedBy          *string        `json:"shippedBy,omitempty"`
	ShippedAt          *time.Time     `json:"shippedAt,omitempty"`
	ReceivedBy         *string        `json:"receivedBy,omitempty"`
	ReceivedAt         *time.Time     `json:"receivedAt,omitempty"`
	CancelledBy        *string        `json:"cancelledBy,omitempty"`
	CancelledAt        *time.Time     `json:"cancelledAt,omitempty"`
	CancellationReason *string        `json:"cancellationReason,omitempty"`
	Notes              string         `json:"notes"`
}

type IncomeSource string

const (
	IncomeSale       IncomeSource = "Sale"
	IncomeService    IncomeSource = "Service"
	IncomeInvestment IncomeSource = "Investment"
	IncomeOther      IncomeSource = "Other"
)

type Income struct {
	ID            string          `json:"id"`
	Source        IncomeSource    `json:"source"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"date"`
	RelatedSaleID *string         `json:"relatedSaleId,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedBy     string          `json:"createdBy"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

type ActivityChanges struct {
	Before map[string]any `json:"before,omitempty"`
	After  map[string]any `json:"after,omitempty"`
	Fields []string       `json:"fields,omitempty"`
}

// Activity is one entry of the global activity trail.
type Activity struct {
	ID           string          `json:"id"`
	Action       string          `json:"action"`
	ActorID      string          `json:"actorId"`
	EntityType   string          `json:"entityType"`
	EntityID     string          `json:"entityId"`
	LocationIDs  []string        `json:"locationIds,omitempty"`
	Description  string          `json:"description"`
	Changes      ActivityChanges `json:"changes"`
	UrgencyLevel Urgency         `json:"urgencyLevel"`
	Timestamp    time.Time       `json:"timestamp"`
}

type StockAlertCounts struct {
	LocationID string `json:"locationId,omitempty"`
	LowStock   int    `json:"lowStock"`
	OutOfStock int    `json:"outOfStock"`
	Expired    int    `json:"expired"`
}

// InitialStockLine is one parsed line of an initial-stock import.
type InitialStockLine struct {
	SKU        string     `json:"sku"`
	Quantity   int        `json:"quantity"`
	MinStock   *int       `json:"minStock,omitempty"`
	NotifyAt   *int       `json:"notifyAt,omitempty"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
}

type ImportResult struct {
	TotalLines int `json:"totalLines"`
	Created    int `json:"created"`
	Adjusted   int `json:"adjusted"`
	Unchanged  int `json:"unchanged"`
}
