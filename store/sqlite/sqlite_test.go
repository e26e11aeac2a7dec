package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jujuhimself/bepawa-ledger/commerce"
	"github.com/jujuhimself/bepawa-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func insertProduct(t *testing.T, store *sqlite.Store, id string, quantity int64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.InsertProduct(context.Background(), &commerce.Product{
		ID:             commerce.ProductID(id),
		SellerID:       "seller-1",
		Name:           "Amoxicillin 250mg",
		Category:       "antibiotics",
		SKU:            "AMX-250",
		QuantityOnHand: quantity,
		MinStockLevel:  3,
		UnitCost:       decimal.NewFromInt(200),
		UnitPrice:      decimal.RequireFromString("350.50"),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
}

func insertAccount(t *testing.T, store *sqlite.Store, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.InsertAccount(context.Background(), &commerce.CreditAccount{
		ID:             commerce.AccountID(id),
		CounterpartyID: "buyer-1",
		OwnerID:        "seller-1",
		CreditLimit:    decimal.NewFromInt(1000),
		Balance:        decimal.Zero,
		Status:         commerce.AccountActive,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
}

// =============================================================================
// PRODUCT TESTS
// =============================================================================

func TestSQLiteStore_ProductRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	insertProduct(t, store, "prod-1", 12)

	p, err := store.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "Amoxicillin 250mg", p.Name)
	assert.Equal(t, "antibiotics", p.Category)
	assert.Equal(t, int64(12), p.QuantityOnHand)
	assert.True(t, p.UnitPrice.Equal(decimal.RequireFromString("350.50")))
	assert.Equal(t, int64(1), p.Version)

	_, err = store.GetProduct(ctx, "missing")
	assert.ErrorIs(t, err, commerce.ErrProductNotFound)
}

func TestSQLiteStore_UpdateProductQuantity_CAS(t *testing.T) {
	// GIVEN: A product at version 1
	// WHEN: Two writers update with the same expected version
	// THEN: The second write fails with a version conflict

	store := newTestStore(t)
	ctx := context.Background()
	insertProduct(t, store, "prod-1", 10)

	require.NoError(t, store.UpdateProductQuantity(ctx, "prod-1", 8, 1))

	err := store.UpdateProductQuantity(ctx, "prod-1", 7, 1)
	assert.ErrorIs(t, err, commerce.ErrVersionConflict)

	p, err := store.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), p.QuantityOnHand)
	assert.Equal(t, int64(2), p.Version)

	err = store.UpdateProductQuantity(ctx, "missing", 5, 1)
	assert.ErrorIs(t, err, commerce.ErrProductNotFound)
}

func TestSQLiteStore_ListProducts_BySeller(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	insertProduct(t, store, "prod-1", 10)

	now := time.Now().UTC()
	require.NoError(t, store.InsertProduct(ctx, &commerce.Product{
		ID: "prod-2", SellerID: "seller-2", Name: "Other",
		QuantityOnHand: 1, UnitCost: decimal.Zero, UnitPrice: decimal.Zero,
		Version: 1, CreatedAt: now, UpdatedAt: now,
	}))

	all, err := store.ListProducts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := store.ListProducts(ctx, "seller-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, commerce.ProductID("prod-1"), mine[0].ID)
}

// =============================================================================
// SALE TESTS
// =============================================================================

func TestSQLiteStore_SaleLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sale := &commerce.Sale{
		ID:            "sale-1",
		SellerID:      "seller-1",
		Status:        commerce.SaleDraft,
		PaymentMethod: commerce.PaymentCash,
		CustomerName:  "Walk-in",
		TotalAmount:   decimal.NewFromInt(700),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.InsertSale(ctx, sale))
	require.NoError(t, store.InsertSaleItems(ctx, sale.ID, []commerce.SaleLineItem{
		{SaleID: sale.ID, ProductID: "prod-1", Quantity: 2, UnitPrice: decimal.NewFromInt(350), LineTotal: decimal.NewFromInt(700)},
	}))

	require.NoError(t, store.UpdateSaleStatus(ctx, sale.ID, commerce.SaleDraft, commerce.SaleCommitted))

	got, err := store.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, commerce.SaleCommitted, got.Status)
	assert.NotNil(t, got.CommittedAt)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].LineTotal.Equal(decimal.NewFromInt(700)))

	// A stale transition is rejected.
	err = store.UpdateSaleStatus(ctx, sale.ID, commerce.SaleDraft, commerce.SaleVoided)
	assert.ErrorIs(t, err, commerce.ErrInvalidStatusTransition)

	err = store.UpdateSaleStatus(ctx, "missing", commerce.SaleDraft, commerce.SaleVoided)
	assert.ErrorIs(t, err, commerce.ErrSaleNotFound)
}

func TestSQLiteStore_ListSales_StatusFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"sale-1", "sale-2"} {
		require.NoError(t, store.InsertSale(ctx, &commerce.Sale{
			ID: commerce.SaleID(id), SellerID: "seller-1",
			Status: commerce.SaleDraft, PaymentMethod: commerce.PaymentCash,
			TotalAmount: decimal.Zero, CreatedAt: time.Now().UTC(),
		}))
	}
	require.NoError(t, store.UpdateSaleStatus(ctx, "sale-1", commerce.SaleDraft, commerce.SaleCommitted))

	committed := commerce.SaleCommitted
	sales, err := store.ListSales(ctx, commerce.SaleFilter{Status: &committed})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, commerce.SaleID("sale-1"), sales[0].ID)
}

// =============================================================================
// CREDIT TESTS
// =============================================================================

func TestSQLiteStore_AccountCAS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	insertAccount(t, store, "acc-1")

	a, err := store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)

	a.Balance = decimal.NewFromInt(250)
	require.NoError(t, store.UpdateAccount(ctx, a, 1))

	stale := *a
	stale.Balance = decimal.NewFromInt(999)
	err = store.UpdateAccount(ctx, &stale, 1)
	assert.ErrorIs(t, err, commerce.ErrVersionConflict)

	got, err := store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, int64(2), got.Version)
}

func TestSQLiteStore_FindAccount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	insertAccount(t, store, "acc-1")

	a, err := store.FindAccount(ctx, "seller-1", "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, commerce.AccountID("acc-1"), a.ID)

	_, err = store.FindAccount(ctx, "seller-1", "stranger")
	assert.ErrorIs(t, err, commerce.ErrAccountNotFound)
}

func TestSQLiteStore_InsertAccount_DuplicatePair(t *testing.T) {
	// One credit line per (owner, counterparty) pair; the unique index
	// rejects a second insert even under a fresh id.

	store := newTestStore(t)
	insertAccount(t, store, "acc-1")

	now := time.Now().UTC()
	err := store.InsertAccount(context.Background(), &commerce.CreditAccount{
		ID:             "acc-2",
		CounterpartyID: "buyer-1",
		OwnerID:        "seller-1",
		CreditLimit:    decimal.NewFromInt(500),
		Balance:        decimal.Zero,
		Status:         commerce.AccountActive,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	assert.ErrorIs(t, err, commerce.ErrAccountExists)
}

func TestSQLiteStore_CreditTransactions_PostingOrder(t *testing.T) {
	// Transactions written in quick succession share timestamp granularity;
	// the listing must still come back in posting order.
	store := newTestStore(t)
	ctx := context.Background()
	insertAccount(t, store, "acc-1")

	now := time.Now().UTC()
	balances := []int64{100, 250, 180}
	prev := decimal.Zero
	for i, b := range balances {
		newBal := decimal.NewFromInt(b)
		require.NoError(t, store.AppendCreditTransaction(ctx, &commerce.CreditTransaction{
			ID:              "tx-" + string(rune('a'+i)),
			AccountID:       "acc-1",
			Type:            commerce.CreditTxPurchase,
			Amount:          newBal.Sub(prev),
			PreviousBalance: prev,
			NewBalance:      newBal,
			SaleRef:         "sale-1",
			CreatedAt:       now,
		}))
		prev = newBal
	}

	accID := commerce.AccountID("acc-1")
	txs, err := store.ListCreditTransactions(ctx, commerce.CreditTxFilter{AccountID: &accID})
	require.NoError(t, err)
	require.Len(t, txs, 3)

	running := decimal.Zero
	for _, tx := range txs {
		assert.True(t, tx.PreviousBalance.Equal(running))
		running = tx.NewBalance
	}
	assert.True(t, running.Equal(decimal.NewFromInt(180)))
}

// =============================================================================
// AUDIT AND ADJUSTMENT TESTS
// =============================================================================

func TestSQLiteStore_AuditRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendAuditEntry(ctx, &commerce.AuditEntry{
		ID:         "audit-1",
		ActorID:    "actor-1",
		Action:     commerce.AuditStockDecrement,
		EntityType: commerce.EntityProduct,
		EntityID:   "prod-1",
		Before:     map[string]any{"quantity_on_hand": 10},
		After:      map[string]any{"quantity_on_hand": 7},
		CreatedAt:  time.Now().UTC(),
	}))

	entries, err := store.ListAuditEntries(ctx, commerce.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, commerce.ActorID("actor-1"), e.ActorID)
	// JSON numbers come back as float64
	assert.Equal(t, float64(10), e.Before["quantity_on_hand"])
	assert.Equal(t, float64(7), e.After["quantity_on_hand"])

	actor := commerce.ActorID("someone-else")
	none, err := store.ListAuditEntries(ctx, commerce.AuditFilter{ActorID: &actor})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_AdjustmentRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertAdjustment(ctx, &commerce.AdjustmentRecord{
		ID:             "adj-1",
		ProductID:      "prod-1",
		ActorID:        "manager-1",
		Direction:      commerce.AdjustRemove,
		Quantity:       3,
		Reason:         "expired batch",
		QuantityBefore: 10,
		QuantityAfter:  7,
		CreatedAt:      time.Now().UTC(),
	}))

	prodID := commerce.ProductID("prod-1")
	records, err := store.ListAdjustments(ctx, commerce.AdjustmentFilter{ProductID: &prodID})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "expired batch", records[0].Reason)
	assert.Equal(t, int64(10), records[0].QuantityBefore)
}

// =============================================================================
// END-TO-END: the domain services over SQLite
// =============================================================================

func TestSQLiteStore_DrivesSaleProcessor(t *testing.T) {
	// The full sale pipeline works unchanged over the SQLite store.
	store := newTestStore(t)
	ctx := context.Background()
	insertProduct(t, store, "prod-1", 10)

	recorder := commerce.NewRecorder(store, nil)
	stock := commerce.NewStockLedger(store, recorder, nil)
	credit := commerce.NewCreditLedger(store, recorder, nil)
	sales := commerce.NewSaleProcessor(store, stock, credit, recorder, nil)

	sale, err := sales.SubmitSale(ctx, commerce.SaleRequest{
		SellerID:      "seller-1",
		PaymentMethod: commerce.PaymentCash,
		Items: []commerce.SaleItemRequest{
			{ProductID: "prod-1", Quantity: 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, commerce.SaleCommitted, sale.Status)

	p, err := store.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), p.QuantityOnHand)

	require.NoError(t, sales.VoidSale(ctx, "manager-1", sale.ID))

	p, err = store.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.QuantityOnHand)
}
