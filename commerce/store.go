/*
store.go - Persistence interface for the ledger core

PURPOSE:
  Defines the interface between the domain logic and the remote data store.
  The store exposes per-entity read, insert, update, and delete operations
  ONLY - there is no multi-entity transaction primitive. Cross-entity
  consistency is the SaleProcessor's job (saga with compensation), not the
  store's.

OPTIMISTIC CONCURRENCY:
  Product quantity and CreditAccount state are the two shared mutable
  resources. Their update operations take the version the caller read;
  the store must reject the write with ErrVersionConflict if the stored
  version differs, and bump the version on success.

APPEND-ONLY TABLES:
  CreditTransaction, AuditEntry, and AdjustmentRecord are append-only.
  No update or delete operations exist for them.

IMPLEMENTATIONS:
  - commerce/store/memory.go: in-memory, for tests and dev
  - store/sqlite: SQLite (single-node deployments)
  - store/postgres: pgx-backed PostgreSQL
*/
package commerce

import (
	"context"
	"time"
)

// =============================================================================
// PER-ENTITY STORES
// =============================================================================

// ProductStore persists products. UpdateProductQuantity is the compare-and-set
// write both ledger paths and the adjustment engine funnel through.
type ProductStore interface {
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
	InsertProduct(ctx context.Context, p *Product) error
	ListProducts(ctx context.Context, sellerID ActorID) ([]Product, error)

	// UpdateProductQuantity writes quantity only if the stored version equals
	// expectedVersion, bumping the version on success. Returns
	// ErrVersionConflict on a stale read, ErrProductNotFound if missing.
	UpdateProductQuantity(ctx context.Context, id ProductID, quantity int64, expectedVersion int64) error
}

// SaleStore persists sale headers and line items. Committed sales and their
// items are immutable; a voided draft's items are deleted with the void.
type SaleStore interface {
	InsertSale(ctx context.Context, s *Sale) error
	GetSale(ctx context.Context, id SaleID) (*Sale, error)
	ListSales(ctx context.Context, f SaleFilter) ([]Sale, error)

	// UpdateSaleStatus transitions a sale from -> to, stamping the matching
	// timestamp. Returns ErrInvalidStatusTransition if the stored status is
	// not `from`, ErrSaleNotFound if missing.
	UpdateSaleStatus(ctx context.Context, id SaleID, from, to SaleStatus) error

	InsertSaleItems(ctx context.Context, id SaleID, items []SaleLineItem) error
	DeleteSaleItems(ctx context.Context, id SaleID) error
}

// CreditStore persists credit accounts and their append-only transaction
// chains.
type CreditStore interface {
	GetAccount(ctx context.Context, id AccountID) (*CreditAccount, error)
	InsertAccount(ctx context.Context, a *CreditAccount) error
	ListAccounts(ctx context.Context, ownerID ActorID) ([]CreditAccount, error)

	// FindAccount looks up the account an owner extends to a counterparty.
	// Returns ErrAccountNotFound if none exists.
	FindAccount(ctx context.Context, ownerID, counterpartyID ActorID) (*CreditAccount, error)

	// UpdateAccount writes balance, limit, and status only if the stored
	// version equals expectedVersion, bumping the version on success.
	// Returns ErrVersionConflict on a stale read.
	UpdateAccount(ctx context.Context, a *CreditAccount, expectedVersion int64) error

	AppendCreditTransaction(ctx context.Context, tx *CreditTransaction) error

	// ListCreditTransactions returns matching transactions in posting order
	// (CreatedAt ascending, insertion order for ties).
	ListCreditTransactions(ctx context.Context, f CreditTxFilter) ([]CreditTransaction, error)
}

// AuditStore persists audit entries. Append-only.
type AuditStore interface {
	AppendAuditEntry(ctx context.Context, e *AuditEntry) error
	ListAuditEntries(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// AdjustmentStore persists manual stock adjustments. Append-only.
type AdjustmentStore interface {
	InsertAdjustment(ctx context.Context, a *AdjustmentRecord) error
	ListAdjustments(ctx context.Context, f AdjustmentFilter) ([]AdjustmentRecord, error)
}

// Store is the full persistence surface the ledger core is built on.
type Store interface {
	ProductStore
	SaleStore
	CreditStore
	AuditStore
	AdjustmentStore
}

// =============================================================================
// FILTERS - For the read-only reporting feed
// =============================================================================

type SaleFilter struct {
	SellerID *ActorID
	Status   *SaleStatus
	From     *time.Time
	To       *time.Time
}

type CreditTxFilter struct {
	AccountID *AccountID
	From      *time.Time
	To        *time.Time
}

type AuditFilter struct {
	ActorID    *ActorID
	EntityType *EntityType
	EntityID   *string
	From       *time.Time
	To         *time.Time
}

type AdjustmentFilter struct {
	ProductID *ProductID
	From      *time.Time
	To        *time.Time
}
