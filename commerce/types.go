/*
Package commerce is the ledger core of the platform: the logic that records
a sale, mutates product stock, and updates a counterparty's credit balance
as one consistent unit of work.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: per-seller inventory row with a version-guarded quantity
  - Sale / SaleLineItem: a committed sale and its immutable price snapshots
  - CreditAccount / CreditTransaction: credit line plus its append-only history
  - AuditEntry: immutable record of every state-changing operation
  - AdjustmentRecord: manual stock correction, kept separate from sales

DESIGN PRINCIPLES:
  1. Immutability: committed sales, credit transactions, and audit entries
     are never rewritten. Corrections are new compensating records.
  2. Precision: decimal.Decimal for all money values, never float.
  3. Versioning: Product and CreditAccount carry a Version used for
     compare-and-set writes (the store has no lock primitive to offer).
  4. Auditability: every balance change carries before/after images.

SEE ALSO:
  - store.go: persistence interface (per-entity operations only)
  - sale.go: the saga that composes stock + credit + audit
*/
package commerce

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type SaleID string
type AccountID string

// ActorID identifies who performed an operation: a seller, a staff user,
// a counterparty, or "system" for internally triggered compensation.
type ActorID string

const ActorSystem ActorID = "system"

// =============================================================================
// PRODUCT - Versioned inventory row
// =============================================================================

// Product is owned by exactly one selling entity (retailer or wholesaler).
// QuantityOnHand is mutated only through StockLedger operations.
//
// INVARIANT: QuantityOnHand >= 0 at every observable point.
type Product struct {
	ID            ProductID
	SellerID      ActorID
	Name          string
	Category      string
	SKU           string
	QuantityOnHand int64
	MinStockLevel int64
	UnitCost      decimal.Decimal
	UnitPrice     decimal.Decimal

	// Version is the optimistic-concurrency token. Every quantity write
	// must present the version it read; a mismatch means another writer
	// got there first and the caller must re-read.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LowStock reports whether the product is at or below its reorder threshold.
func (p *Product) LowStock() bool {
	return p.QuantityOnHand <= p.MinStockLevel
}

// =============================================================================
// SALE - Header plus immutable line items
// =============================================================================

type SaleStatus string

const (
	SaleDraft     SaleStatus = "draft"
	SaleCommitted SaleStatus = "committed"
	SaleVoided    SaleStatus = "voided"
)

type PaymentMethod string

const (
	PaymentCash        PaymentMethod = "cash"
	PaymentCard        PaymentMethod = "card"
	PaymentMobileMoney PaymentMethod = "mobile_money"
	PaymentCredit      PaymentMethod = "credit"
)

// Sale is created by the SaleProcessor and transitions
// draft -> committed, or draft/committed -> voided.
//
// INVARIANT: for a committed sale, TotalAmount equals the sum of its
// line items' (UnitPrice * Quantity) at commit time.
type Sale struct {
	ID            SaleID
	SellerID      ActorID
	Status        SaleStatus
	PaymentMethod PaymentMethod

	// CreditAccountID is set when PaymentMethod is credit.
	CreditAccountID AccountID

	CustomerName  string
	CustomerPhone string
	TotalAmount   decimal.Decimal
	Items         []SaleLineItem

	CreatedAt   time.Time
	CommittedAt *time.Time
	VoidedAt    *time.Time
}

// SaleLineItem snapshots the unit price at the time of sale. Later product
// price changes never retroactively alter a committed sale's total.
type SaleLineItem struct {
	SaleID    SaleID
	ProductID ProductID
	Quantity  int64
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// =============================================================================
// CREDIT - Account plus append-only transaction chain
// =============================================================================

type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountCancelled AccountStatus = "cancelled"
)

// CreditAccount is a credit line extended by an owner (the creditor) to a
// counterparty. Created on first credit extension.
//
// INVARIANT while active: 0 <= Balance <= CreditLimit.
type CreditAccount struct {
	ID             AccountID
	CounterpartyID ActorID
	OwnerID        ActorID
	CreditLimit    decimal.Decimal
	Balance        decimal.Decimal
	Status         AccountStatus

	// Version guards balance/limit/status writes, and doubles as the
	// ordering token for the transaction chain: a stale read conflicts
	// instead of producing an out-of-order posting.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreditTxType string

const (
	CreditTxPurchase   CreditTxType = "purchase"
	CreditTxPayment    CreditTxType = "payment"
	CreditTxAdjustment CreditTxType = "adjustment"
)

// CreditTransaction is one link in an account's balance chain. Amount is
// signed: a purchase increases the balance, a payment decreases it.
//
// CHAIN INVARIANT: transaction N's PreviousBalance equals transaction N-1's
// NewBalance for the same account, ordered by CreatedAt. Replaying the full
// history from zero reproduces the current balance exactly.
type CreditTransaction struct {
	ID              string
	AccountID       AccountID
	Type            CreditTxType
	Amount          decimal.Decimal
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal

	// SaleRef links a purchase posting back to the sale that caused it.
	SaleRef SaleID
	Note    string

	CreatedAt time.Time
}

// =============================================================================
// AUDIT - Append-only record of every mutation
// =============================================================================

type EntityType string

const (
	EntityProduct       EntityType = "product"
	EntitySale          EntityType = "sale"
	EntityCreditAccount EntityType = "credit_account"
)

type AuditAction string

const (
	AuditStockDecrement  AuditAction = "stock_decrement"
	AuditStockIncrement  AuditAction = "stock_increment"
	AuditStockAdjusted   AuditAction = "stock_adjusted"
	AuditSaleCommitted   AuditAction = "sale_committed"
	AuditSaleVoided      AuditAction = "sale_voided"
	AuditCreditPurchase  AuditAction = "credit_purchase"
	AuditCreditPayment   AuditAction = "credit_payment"
	AuditCreditAdjusted  AuditAction = "credit_adjusted"
	AuditLimitChanged    AuditAction = "credit_limit_changed"
	AuditStatusChanged   AuditAction = "credit_status_changed"
)

// AuditEntry is immutable once written. No update or delete exists anywhere
// in the public contract.
type AuditEntry struct {
	ID         string
	ActorID    ActorID
	Action     AuditAction
	EntityType EntityType
	EntityID   string
	Before     map[string]any
	After      map[string]any
	CreatedAt  time.Time
}

// =============================================================================
// ADJUSTMENT - Manual, non-sale stock mutation
// =============================================================================

type AdjustmentDirection string

const (
	AdjustAdd    AdjustmentDirection = "add"
	AdjustRemove AdjustmentDirection = "remove"
)

// AdjustmentRecord captures a manual stock correction (damage, restock,
// count correction) with the human-supplied reason, kept distinct from
// sale-driven stock changes so variance reports can separate "sold"
// from "adjusted".
type AdjustmentRecord struct {
	ID             string
	ProductID      ProductID
	ActorID        ActorID
	Direction      AdjustmentDirection
	Quantity       int64
	Reason         string
	QuantityBefore int64
	QuantityAfter  int64
	CreatedAt      time.Time
}
