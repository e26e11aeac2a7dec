// Package store provides commerce.Store implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/jujuhimself/bepawa-ledger/commerce"
)

func nowUTC() time.Time { return time.Now().UTC() }

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements commerce.Store with maps behind one mutex. Like the
// remote store it stands in for, it offers per-entity operations only -
// there is no multi-entity transaction to lean on, so the compare-and-set
// semantics match production exactly.
type Memory struct {
	mu sync.RWMutex

	products    map[commerce.ProductID]*commerce.Product
	sales       map[commerce.SaleID]*commerce.Sale
	saleItems   map[commerce.SaleID][]commerce.SaleLineItem
	accounts    map[commerce.AccountID]*commerce.CreditAccount
	creditTxs   []commerce.CreditTransaction
	auditLog    []commerce.AuditEntry
	adjustments []commerce.AdjustmentRecord
}

func NewMemory() *Memory {
	return &Memory{
		products:  make(map[commerce.ProductID]*commerce.Product),
		sales:     make(map[commerce.SaleID]*commerce.Sale),
		saleItems: make(map[commerce.SaleID][]commerce.SaleLineItem),
		accounts:  make(map[commerce.AccountID]*commerce.CreditAccount),
	}
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (m *Memory) GetProduct(_ context.Context, id commerce.ProductID) (*commerce.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return nil, commerce.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) InsertProduct(_ context.Context, p *commerce.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *Memory) ListProducts(_ context.Context, sellerID commerce.ActorID) ([]commerce.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []commerce.Product
	for _, p := range m.products {
		if sellerID != "" && p.SellerID != sellerID {
			continue
		}
		result = append(result, *p)
	}
	return result, nil
}

func (m *Memory) UpdateProductQuantity(_ context.Context, id commerce.ProductID, quantity int64, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return commerce.ErrProductNotFound
	}
	if p.Version != expectedVersion {
		return commerce.ErrVersionConflict
	}
	p.QuantityOnHand = quantity
	p.Version++
	return nil
}

// =============================================================================
// SALES
// =============================================================================

func (m *Memory) InsertSale(_ context.Context, s *commerce.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	cp.Items = nil // items live in the item table, written separately
	m.sales[s.ID] = &cp
	return nil
}

func (m *Memory) GetSale(_ context.Context, id commerce.SaleID) (*commerce.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sales[id]
	if !ok {
		return nil, commerce.ErrSaleNotFound
	}
	cp := *s
	cp.Items = append([]commerce.SaleLineItem(nil), m.saleItems[id]...)
	return &cp, nil
}

func (m *Memory) ListSales(_ context.Context, f commerce.SaleFilter) ([]commerce.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []commerce.Sale
	for id, s := range m.sales {
		if f.SellerID != nil && s.SellerID != *f.SellerID {
			continue
		}
		if f.Status != nil && s.Status != *f.Status {
			continue
		}
		if f.From != nil && s.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && s.CreatedAt.After(*f.To) {
			continue
		}
		cp := *s
		cp.Items = append([]commerce.SaleLineItem(nil), m.saleItems[id]...)
		result = append(result, cp)
	}
	return result, nil
}

func (m *Memory) UpdateSaleStatus(_ context.Context, id commerce.SaleID, from, to commerce.SaleStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sales[id]
	if !ok {
		return commerce.ErrSaleNotFound
	}
	if s.Status != from {
		return commerce.ErrInvalidStatusTransition
	}
	s.Status = to
	now := nowUTC()
	switch to {
	case commerce.SaleCommitted:
		s.CommittedAt = &now
	case commerce.SaleVoided:
		s.VoidedAt = &now
	}
	return nil
}

func (m *Memory) InsertSaleItems(_ context.Context, id commerce.SaleID, items []commerce.SaleLineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saleItems[id] = append([]commerce.SaleLineItem(nil), items...)
	return nil
}

func (m *Memory) DeleteSaleItems(_ context.Context, id commerce.SaleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.saleItems, id)
	return nil
}

// =============================================================================
// CREDIT
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, id commerce.AccountID) (*commerce.CreditAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, commerce.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) InsertAccount(_ context.Context, a *commerce.CreditAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[a.ID]; ok {
		return commerce.ErrAccountExists
	}
	// Mirrors the SQL stores' unique index on (owner_id, counterparty_id):
	// one credit line per owner and counterparty pair.
	for _, existing := range m.accounts {
		if existing.OwnerID == a.OwnerID && existing.CounterpartyID == a.CounterpartyID {
			return commerce.ErrAccountExists
		}
	}
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *Memory) ListAccounts(_ context.Context, ownerID commerce.ActorID) ([]commerce.CreditAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []commerce.CreditAccount
	for _, a := range m.accounts {
		if ownerID != "" && a.OwnerID != ownerID {
			continue
		}
		result = append(result, *a)
	}
	return result, nil
}

func (m *Memory) FindAccount(_ context.Context, ownerID, counterpartyID commerce.ActorID) (*commerce.CreditAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.accounts {
		if a.OwnerID == ownerID && a.CounterpartyID == counterpartyID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, commerce.ErrAccountNotFound
}

func (m *Memory) UpdateAccount(_ context.Context, a *commerce.CreditAccount, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.accounts[a.ID]
	if !ok {
		return commerce.ErrAccountNotFound
	}
	if stored.Version != expectedVersion {
		return commerce.ErrVersionConflict
	}
	stored.Balance = a.Balance
	stored.CreditLimit = a.CreditLimit
	stored.Status = a.Status
	stored.UpdatedAt = nowUTC()
	stored.Version++
	return nil
}

func (m *Memory) AppendCreditTransaction(_ context.Context, tx *commerce.CreditTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creditTxs = append(m.creditTxs, *tx)
	return nil
}

func (m *Memory) ListCreditTransactions(_ context.Context, f commerce.CreditTxFilter) ([]commerce.CreditTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Append order is posting order; the account CAS serializes writers.
	var result []commerce.CreditTransaction
	for _, tx := range m.creditTxs {
		if f.AccountID != nil && tx.AccountID != *f.AccountID {
			continue
		}
		if f.From != nil && tx.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && tx.CreatedAt.After(*f.To) {
			continue
		}
		result = append(result, tx)
	}
	return result, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (m *Memory) AppendAuditEntry(_ context.Context, e *commerce.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.auditLog = append(m.auditLog, *e)
	return nil
}

func (m *Memory) ListAuditEntries(_ context.Context, f commerce.AuditFilter) ([]commerce.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []commerce.AuditEntry
	for _, e := range m.auditLog {
		if f.ActorID != nil && e.ActorID != *f.ActorID {
			continue
		}
		if f.EntityType != nil && e.EntityType != *f.EntityType {
			continue
		}
		if f.EntityID != nil && e.EntityID != *f.EntityID {
			continue
		}
		if f.From != nil && e.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && e.CreatedAt.After(*f.To) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func (m *Memory) InsertAdjustment(_ context.Context, a *commerce.AdjustmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.adjustments = append(m.adjustments, *a)
	return nil
}

func (m *Memory) ListAdjustments(_ context.Context, f commerce.AdjustmentFilter) ([]commerce.AdjustmentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []commerce.AdjustmentRecord
	for _, a := range m.adjustments {
		if f.ProductID != nil && a.ProductID != *f.ProductID {
			continue
		}
		if f.From != nil && a.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && a.CreatedAt.After(*f.To) {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}
