package commerce_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jujuhimself/bepawa-ledger/commerce"
	memstore "github.com/jujuhimself/bepawa-ledger/commerce/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type saleFixture struct {
	store  *memstore.Memory
	stock  *commerce.StockLedger
	credit *commerce.CreditLedger
	sales  *commerce.SaleProcessor
}

func newSaleFixture(t *testing.T) *saleFixture {
	t.Helper()
	store := memstore.NewMemory()
	recorder := commerce.NewRecorder(store, nil)
	stock := commerce.NewStockLedger(store, recorder, nil)
	credit := commerce.NewCreditLedger(store, recorder, nil)
	return &saleFixture{
		store:  store,
		stock:  stock,
		credit: credit,
		sales:  commerce.NewSaleProcessor(store, stock, credit, recorder, nil),
	}
}

func (f *saleFixture) seedProduct(t *testing.T, id string, quantity int64, price int64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.store.InsertProduct(context.Background(), &commerce.Product{
		ID:             commerce.ProductID(id),
		SellerID:       "seller-1",
		Name:           "Product " + id,
		QuantityOnHand: quantity,
		UnitCost:       decimal.NewFromInt(price / 2),
		UnitPrice:      decimal.NewFromInt(price),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
}

func (f *saleFixture) seedAccount(t *testing.T, limit int64) commerce.AccountID {
	t.Helper()
	a, err := f.credit.EnsureAccount(context.Background(), "seller-1", "buyer-1", decimal.NewFromInt(limit))
	require.NoError(t, err)
	return a.ID
}

func cashSale(items ...commerce.SaleItemRequest) commerce.SaleRequest {
	return commerce.SaleRequest{
		SellerID:      "seller-1",
		Actor:         "clerk-1",
		PaymentMethod: commerce.PaymentCash,
		Items:         items,
	}
}

func item(productID string, qty int64) commerce.SaleItemRequest {
	return commerce.SaleItemRequest{ProductID: commerce.ProductID(productID), Quantity: qty}
}

func (f *saleFixture) productQty(t *testing.T, id string) int64 {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), commerce.ProductID(id))
	require.NoError(t, err)
	return p.QuantityOnHand
}

// =============================================================================
// SUBMISSION TESTS
// =============================================================================

func TestSaleProcessor_SubmitSale_CashHappyPath(t *testing.T) {
	// GIVEN: Two products with stock
	// WHEN: A two-line cash sale is submitted
	// THEN: The sale commits, stock drops, items carry snapshotted prices

	f := newSaleFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "prod-1", 10, 500)
	f.seedProduct(t, "prod-2", 4, 1200)

	sale, err := f.sales.SubmitSale(ctx, cashSale(item("prod-1", 2), item("prod-2", 1)))
	require.NoError(t, err)

	assert.Equal(t, commerce.SaleCommitted, sale.Status)
	assert.True(t, sale.TotalAmount.Equal(decimal.NewFromInt(2200)))
	assert.NotNil(t, sale.CommittedAt)

	assert.Equal(t, int64(8), f.productQty(t, "prod-1"))
	assert.Equal(t, int64(3), f.productQty(t, "prod-2"))

	stored, err := f.store.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	assert.True(t, stored.Items[0].UnitPrice.Equal(decimal.NewFromInt(500)))
	assert.True(t, stored.Items[0].LineTotal.Equal(decimal.NewFromInt(1000)))

	entries, err := f.store.ListAuditEntries(ctx, commerce.AuditFilter{})
	require.NoError(t, err)
	var committed int
	for _, e := range entries {
		if e.Action == commerce.AuditSaleCommitted {
			committed++
		}
	}
	assert.Equal(t, 1, committed, "exactly one commit audit entry per sale")
}

func TestSaleProcessor_SubmitSale_DuplicateProductLines(t *testing.T) {
	// Two lines for the same product decrement independently.
	f := newSaleFixture(t)
	f.seedProduct(t, "prod-1", 10, 500)

	sale, err := f.sales.SubmitSale(context.Background(), cashSale(item("prod-1", 2), item("prod-1", 3)))
	require.NoError(t, err)

	assert.Equal(t, int64(5), f.productQty(t, "prod-1"))
	assert.True(t, sale.TotalAmount.Equal(decimal.NewFromInt(2500)))
	require.Len(t, sale.Items, 2)
}

func TestSaleProcessor_SubmitSale_InsufficientStockRollsBack(t *testing.T) {
	// GIVEN: The first line fits but the second exceeds stock
	// WHEN: The sale is submitted
	// THEN: It fails, the first decrement is compensated, the sale is voided

	f := newSaleFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "prod-1", 10, 500)
	f.seedProduct(t, "prod-2", 1, 1200)

	_, err := f.sales.SubmitSale(ctx, cashSale(item("prod-1", 2), item("prod-2", 5)))
	require.Error(t, err)
	assert.ErrorIs(t, err, commerce.ErrInsufficientStock)

	assert.Equal(t, int64(10), f.productQty(t, "prod-1"), "first line must be compensated")
	assert.Equal(t, int64(1), f.productQty(t, "prod-2"))

	sales, err := f.store.ListSales(ctx, commerce.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, commerce.SaleVoided, sales[0].Status)
	assert.Empty(t, sales[0].Items, "draft items are removed on abort")
}

func TestSaleProcessor_SubmitSale_CreditHappyPath(t *testing.T) {
	// GIVEN: A credit account with room
	// WHEN: A credit sale is submitted
	// THEN: The balance grows by the total and the posting references the sale

	f := newSaleFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "prod-1", 10, 500)
	accountID := f.seedAccount(t, 10000)

	req := cashSale(item("prod-1", 3))
	req.PaymentMethod = commerce.PaymentCredit
	req.CreditAccountID = accountID

	sale, err := f.sales.SubmitSale(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, commerce.SaleCommitted, sale.Status)

	account, err := f.store.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(1500)))

	txs, err := f.store.ListCreditTransactions(ctx, commerce.CreditTxFilter{AccountID: &accountID})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, sale.ID, txs[0].SaleRef)
}

func TestSaleProcessor_SubmitSale_CreditLimitRollsBackStock(t *testing.T) {
	// GIVEN: Stock available but a credit limit too small for the total
	// WHEN: The credit sale is submitted
	// THEN: It fails, stock is restored, the balance is untouched

	f := newSaleFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "prod-1", 10, 500)
	accountID := f.seedAccount(t, 1000)

	req := cashSale(item("prod-1", 5)) // total 2500 > limit 1000
	req.PaymentMethod = commerce.PaymentCredit
	req.CreditAccountID = accountID

	_, err := f.sales.SubmitSale(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, commerce.ErrCreditLimitExceeded)

	assert.Equal(t, int64(10), f.productQty(t, "prod-1"), "stock decrements must be compensated")

	account, err := f.store.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, account.Balance.IsZero())

	sales, err := f.store.ListSales(ctx, commerce.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, commerce.SaleVoided, sales[0].Status)
}

func TestSaleProcessor_SubmitSale_Validation(t *testing.T) {
	f := newSaleFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "prod-1", 10, 500)

	cases := []struct {
		name string
		req  commerce.SaleRequest
	}{
		{"no items", cashSale()},
		{"zero quantity", cashSale(item("prod-1", 0))},
		{"negative quantity", cashSale(item("prod-1", -1))},
		{"missing seller", func() commerce.SaleRequest {
			r := cashSale(item("prod-1", 1))
			r.SellerID = ""
			return r
		}()},
		{"credit without account", func() commerce.SaleRequest {
			r := cashSale(item("prod-1", 1))
			r.PaymentMethod = commerce.PaymentCredit
			return r
		}()},
		{"account without credit method", func() commerce.SaleRequest {
			r := cashSale(item("prod-1", 1))
			r.CreditAccountID = "acc-1"
			return r
		}()},
		{"unknown payment method", func() commerce.SaleRequest {
			r := cashSale(item("prod-1", 1))
			r.PaymentMethod = "barter"
			return r
		}()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.sales.SubmitSale(ctx, tc.req)
			assert.ErrorIs(t, err, commerce.ErrInvalidSaleRequest)
		})
	}

	// Rejected submissions never reach the store.
	sales, err := f.store.ListSales(ctx, commerce.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
}

// =============================================================================
// VOID TESTS
// =============================================================================

func TestSaleProcessor_VoidSale_CommittedCashSale_Restocks(t *testing.T) {
	// GIVEN: A committed cash sale
	// WHEN: It is voided
	// THEN: Stock is restored and the sale is marked voided

	f := newSaleFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "prod-1", 10, 500)

	sale, err := f.sales.SubmitSale(ctx, cashSale(item("prod-1", 4)))
	require.NoError(t, err)
	require.Equal(t, int64(6), f.productQty(t, "prod-1"))

	err = f.sales.VoidSale(ctx, "manager-1", sale.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(10), f.productQty(t, "prod-1"))

	voided, err := f.store.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, commerce.SaleVoided, voided.Status)
	assert.NotNil(t, voided.VoidedAt)
	assert.Len(t, voided.Items, 1, "committed sale keeps its items for reporting")
}

func TestSaleProcessor_VoidSale_CommittedCreditSale_Refunds(t *testing.T) {
	// GIVEN: A committed credit sale of 1500
	// WHEN: It is voided
	// THEN: The account balance is reduced by the refund

	f := newSaleFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "prod-1", 10, 500)
	accountID := f.seedAccount(t, 10000)

	req := cashSale(item("prod-1", 3))
	req.PaymentMethod = commerce.PaymentCredit
	req.CreditAccountID = accountID
	sale, err := f.sales.SubmitSale(ctx, req)
	require.NoError(t, err)

	err = f.sales.VoidSale(ctx, "manager-1", sale.ID)
	require.NoError(t, err)

	account, err := f.store.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, account.Balance.IsZero())
	assert.Equal(t, int64(10), f.productQty(t, "prod-1"))
}

func TestSaleProcessor_VoidSale_RefundClampedToBalance(t *testing.T) {
	// GIVEN: A credit sale whose balance was partly repaid
	// WHEN: The sale is voided
	// THEN: The refund stops at zero instead of going negative

	f := newSaleFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "prod-1", 10, 500)
	accountID := f.seedAccount(t, 10000)

	req := cashSale(item("prod-1", 3)) // total 1500
	req.PaymentMethod = commerce.PaymentCredit
	req.CreditAccountID = accountID
	sale, err := f.sales.SubmitSale(ctx, req)
	require.NoError(t, err)

	_, err = f.credit.PostPayment(ctx, "seller-1", accountID, decimal.NewFromInt(1000))
	require.NoError(t, err)

	err = f.sales.VoidSale(ctx, "manager-1", sale.ID)
	require.NoError(t, err)

	account, err := f.store.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, account.Balance.IsZero(), "refund is clamped at the outstanding balance")
}

func TestSaleProcessor_VoidSale_Twice(t *testing.T) {
	f := newSaleFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "prod-1", 10, 500)

	sale, err := f.sales.SubmitSale(ctx, cashSale(item("prod-1", 1)))
	require.NoError(t, err)

	require.NoError(t, f.sales.VoidSale(ctx, "manager-1", sale.ID))

	err = f.sales.VoidSale(ctx, "manager-1", sale.ID)
	assert.ErrorIs(t, err, commerce.ErrSaleAlreadyVoided)

	assert.Equal(t, int64(10), f.productQty(t, "prod-1"), "double void must not restock twice")
}

func TestSaleProcessor_VoidSale_UnknownSale(t *testing.T) {
	f := newSaleFixture(t)

	err := f.sales.VoidSale(context.Background(), "manager-1", "missing")
	assert.ErrorIs(t, err, commerce.ErrSaleNotFound)
}

// saleReadBarrierStore holds every GetSale until two callers have read, so
// both voiders observe the committed status before either writes.
type saleReadBarrierStore struct {
	commerce.Store
	barrier *sync.WaitGroup
}

func (s *saleReadBarrierStore) GetSale(ctx context.Context, id commerce.SaleID) (*commerce.Sale, error) {
	sale, err := s.Store.GetSale(ctx, id)
	s.barrier.Done()
	s.barrier.Wait()
	return sale, err
}

func TestSaleProcessor_VoidSale_ConcurrentVoidsRestockOnce(t *testing.T) {
	// GIVEN: A committed sale of 4 units from a stock of 10
	// WHEN: Two voids race, both reading the sale as committed
	// THEN: One void wins, the loser reports already-voided, and stock
	//       returns to 10, not 14

	mem := memstore.NewMemory()
	recorder := commerce.NewRecorder(mem, nil)
	stock := commerce.NewStockLedger(mem, recorder, nil)
	credit := commerce.NewCreditLedger(mem, recorder, nil)

	var barrier sync.WaitGroup
	barrier.Add(2)
	gated := &saleReadBarrierStore{Store: mem, barrier: &barrier}
	sales := commerce.NewSaleProcessor(gated, stock, credit, recorder, nil)

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, mem.InsertProduct(ctx, &commerce.Product{
		ID: "prod-1", SellerID: "seller-1", Name: "Product prod-1",
		QuantityOnHand: 10, UnitCost: decimal.NewFromInt(250),
		UnitPrice: decimal.NewFromInt(500),
		Version:   1, CreatedAt: now, UpdatedAt: now,
	}))

	sale, err := sales.SubmitSale(ctx, cashSale(item("prod-1", 4)))
	require.NoError(t, err)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- sales.VoidSale(ctx, "manager-1", sale.ID)
		}()
	}

	var succeeded, alreadyVoided int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			succeeded++
		case errors.Is(err, commerce.ErrSaleAlreadyVoided):
			alreadyVoided++
		default:
			t.Fatalf("unexpected void error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one void runs the return")
	assert.Equal(t, 1, alreadyVoided, "the racing void is a no-op")

	p, err := mem.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.QuantityOnHand, "stock restored once, not twice")

	entries, err := mem.ListAuditEntries(ctx, commerce.AuditFilter{})
	require.NoError(t, err)
	var voidEntries int
	for _, e := range entries {
		if e.Action == commerce.AuditSaleVoided {
			voidEntries++
		}
	}
	assert.Equal(t, 1, voidEntries)
}

func TestSaleProcessor_SubmitSale_ConcurrentLastUnit(t *testing.T) {
	// GIVEN: A product with a single unit left
	// WHEN: Two sales race for it
	// THEN: Exactly one commits; the loser is rejected for insufficient
	//       stock and leaves no committed header behind

	f := newSaleFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "prod-1", 1, 500)

	errs := make(chan error, 2)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			_, err := f.sales.SubmitSale(ctx, cashSale(item("prod-1", 1)))
			errs <- err
		}()
	}
	close(start)

	var committed, rejected int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			committed++
		case errors.Is(err, commerce.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected submit error: %v", err)
		}
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, int64(0), f.productQty(t, "prod-1"))

	status := commerce.SaleCommitted
	salesList, err := f.store.ListSales(ctx, commerce.SaleFilter{Status: &status})
	require.NoError(t, err)
	assert.Len(t, salesList, 1, "only the winner's header commits")
}

// =============================================================================
// FEED TESTS
// =============================================================================

func TestFeed_CommittedSales_ExcludesVoided(t *testing.T) {
	// The reporting feed only ever shows committed sales.
	f := newSaleFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "prod-1", 20, 500)

	kept, err := f.sales.SubmitSale(ctx, cashSale(item("prod-1", 1)))
	require.NoError(t, err)

	voided, err := f.sales.SubmitSale(ctx, cashSale(item("prod-1", 1)))
	require.NoError(t, err)
	require.NoError(t, f.sales.VoidSale(ctx, "manager-1", voided.ID))

	feed := commerce.NewFeed(f.store)
	sales, err := feed.CommittedSales(ctx, commerce.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, kept.ID, sales[0].ID)
}
