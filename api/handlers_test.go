package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jujuhimself/bepawa-ledger/api"
	"github.com/jujuhimself/bepawa-ledger/commerce"
	memstore "github.com/jujuhimself/bepawa-ledger/commerce/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	srv   *httptest.Server
	store *memstore.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memstore.NewMemory()
	handler := api.NewHandler(store, nil)
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: store}
}

func (ts *testServer) seedProduct(t *testing.T, id string, quantity int64, price int64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, ts.store.InsertProduct(context.Background(), &commerce.Product{
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

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// =============================================================================
// PRODUCT ENDPOINTS
// =============================================================================

func TestAPI_CreateAndGetProduct(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/products", api.CreateProductRequest{
		SellerID:  "seller-1",
		Name:      "Paracetamol 500mg",
		Category:  "analgesics",
		Quantity:  25,
		UnitCost:  decimal.NewFromInt(300),
		UnitPrice: decimal.NewFromInt(500),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decode[api.ProductDTO](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(25), created.QuantityOnHand)

	resp = ts.do(t, http.MethodGet, "/api/products/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[api.ProductDTO](t, resp)
	assert.Equal(t, created.ID, got.ID)
}

func TestAPI_GetProduct_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/products/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_CreateProduct_MissingFields(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/products", api.CreateProductRequest{Name: "No seller"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// SALE ENDPOINTS
// =============================================================================

func TestAPI_SubmitSale_Cash(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProduct(t, "prod-1", 10, 500)

	resp := ts.do(t, http.MethodPost, "/api/sales", api.SubmitSaleRequest{
		SellerID:      "seller-1",
		ActorID:       "clerk-1",
		PaymentMethod: "cash",
		Items:         []api.SaleItemRequest{{ProductID: "prod-1", Quantity: 2}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	sale := decode[api.SaleDTO](t, resp)
	assert.Equal(t, "committed", sale.Status)
	assert.True(t, sale.TotalAmount.Equal(decimal.NewFromInt(1000)))

	p, err := ts.store.GetProduct(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), p.QuantityOnHand)
}

func TestAPI_SubmitSale_InsufficientStock(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProduct(t, "prod-1", 1, 500)

	resp := ts.do(t, http.MethodPost, "/api/sales", api.SubmitSaleRequest{
		SellerID:      "seller-1",
		PaymentMethod: "cash",
		Items:         []api.SaleItemRequest{{ProductID: "prod-1", Quantity: 5}},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decode[api.ErrorResponse](t, resp)
	assert.Contains(t, body.Details, "insufficient stock")
}

func TestAPI_SubmitSale_InvalidRequest(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/sales", api.SubmitSaleRequest{
		SellerID:      "seller-1",
		PaymentMethod: "cash",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_VoidSale(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProduct(t, "prod-1", 10, 500)

	resp := ts.do(t, http.MethodPost, "/api/sales", api.SubmitSaleRequest{
		SellerID:      "seller-1",
		PaymentMethod: "cash",
		Items:         []api.SaleItemRequest{{ProductID: "prod-1", Quantity: 2}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sale := decode[api.SaleDTO](t, resp)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/sales/%s/void", sale.ID), api.VoidSaleRequest{ActorID: "manager-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	voided := decode[api.SaleDTO](t, resp)
	assert.Equal(t, "voided", voided.Status)

	// Voiding again is a conflict.
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/sales/%s/void", sale.ID), api.VoidSaleRequest{ActorID: "manager-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_ListSales_CommittedOnly(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProduct(t, "prod-1", 10, 500)

	submit := func() api.SaleDTO {
		resp := ts.do(t, http.MethodPost, "/api/sales", api.SubmitSaleRequest{
			SellerID:      "seller-1",
			PaymentMethod: "cash",
			Items:         []api.SaleItemRequest{{ProductID: "prod-1", Quantity: 1}},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		return decode[api.SaleDTO](t, resp)
	}

	kept := submit()
	toVoid := submit()
	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/sales/%s/void", toVoid.ID), api.VoidSaleRequest{ActorID: "manager-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/sales?seller_id=seller-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sales := decode[[]api.SaleDTO](t, resp)
	require.Len(t, sales, 1)
	assert.Equal(t, kept.ID, sales[0].ID)
}

// =============================================================================
// CREDIT ENDPOINTS
// =============================================================================

func TestAPI_CreditLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProduct(t, "prod-1", 10, 500)

	// Open a credit line.
	resp := ts.do(t, http.MethodPost, "/api/credit/accounts", api.CreateAccountRequest{
		OwnerID:        "seller-1",
		CounterpartyID: "buyer-1",
		CreditLimit:    decimal.NewFromInt(5000),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	account := decode[api.AccountDTO](t, resp)

	// Credit sale posts against the account.
	resp = ts.do(t, http.MethodPost, "/api/sales", api.SubmitSaleRequest{
		SellerID:        "seller-1",
		PaymentMethod:   "credit",
		CreditAccountID: account.ID,
		Items:           []api.SaleItemRequest{{ProductID: "prod-1", Quantity: 3}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/credit/accounts/"+account.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[api.AccountDTO](t, resp)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1500)))

	// Record a repayment.
	resp = ts.do(t, http.MethodPost, "/api/credit/accounts/"+account.ID+"/payments", api.PostPaymentRequest{
		ActorID: "seller-1",
		Amount:  decimal.NewFromInt(600),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	payment := decode[api.CreditTransactionDTO](t, resp)
	assert.True(t, payment.NewBalance.Equal(decimal.NewFromInt(900)))

	// The chain lists in posting order.
	resp = ts.do(t, http.MethodGet, "/api/credit/accounts/"+account.ID+"/transactions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	txs := decode[[]api.CreditTransactionDTO](t, resp)
	require.Len(t, txs, 2)
	assert.Equal(t, "purchase", txs[0].Type)
	assert.Equal(t, "payment", txs[1].Type)

	// Replay confirms chain consistency.
	resp = ts.do(t, http.MethodGet, "/api/credit/accounts/"+account.ID+"/replay", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	replay := decode[api.ReplayDTO](t, resp)
	assert.True(t, replay.Consistent)
	assert.True(t, replay.ReplayedBalance.Equal(decimal.NewFromInt(900)))
}

func TestAPI_Payment_ExceedsBalance(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/credit/accounts", api.CreateAccountRequest{
		OwnerID:        "seller-1",
		CounterpartyID: "buyer-1",
		CreditLimit:    decimal.NewFromInt(5000),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	account := decode[api.AccountDTO](t, resp)

	resp = ts.do(t, http.MethodPost, "/api/credit/accounts/"+account.ID+"/payments", api.PostPaymentRequest{
		ActorID: "seller-1",
		Amount:  decimal.NewFromInt(100),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_SetLimitAndStatus(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/credit/accounts", api.CreateAccountRequest{
		OwnerID:        "seller-1",
		CounterpartyID: "buyer-1",
		CreditLimit:    decimal.NewFromInt(1000),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	account := decode[api.AccountDTO](t, resp)

	resp = ts.do(t, http.MethodPut, "/api/credit/accounts/"+account.ID+"/limit", api.SetLimitRequest{
		ActorID:     "seller-1",
		CreditLimit: decimal.NewFromInt(2500),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[api.AccountDTO](t, resp)
	assert.True(t, updated.CreditLimit.Equal(decimal.NewFromInt(2500)))

	resp = ts.do(t, http.MethodPut, "/api/credit/accounts/"+account.ID+"/status", api.SetStatusRequest{
		ActorID: "seller-1",
		Status:  "cancelled",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Cancelled is terminal.
	resp = ts.do(t, http.MethodPut, "/api/credit/accounts/"+account.ID+"/status", api.SetStatusRequest{
		ActorID: "seller-1",
		Status:  "active",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// =============================================================================
// STOCK ADJUSTMENT AND AUDIT ENDPOINTS
// =============================================================================

func TestAPI_StockAdjustment(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProduct(t, "prod-1", 10, 500)

	resp := ts.do(t, http.MethodPost, "/api/stock/adjustments", api.StockAdjustmentRequest{
		ProductID: "prod-1",
		ActorID:   "manager-1",
		Direction: "remove",
		Quantity:  4,
		Reason:    "damaged stock",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	product := decode[api.ProductDTO](t, resp)
	assert.Equal(t, int64(6), product.QuantityOnHand)

	// Missing reason is invalid input.
	resp = ts.do(t, http.MethodPost, "/api/stock/adjustments", api.StockAdjustmentRequest{
		ProductID: "prod-1",
		ActorID:   "manager-1",
		Direction: "remove",
		Quantity:  1,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/stock/adjustments?product_id=prod-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records := decode[[]api.AdjustmentDTO](t, resp)
	require.Len(t, records, 1)
	assert.Equal(t, "damaged stock", records[0].Reason)
}

func TestAPI_AuditTrail(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProduct(t, "prod-1", 10, 500)

	resp := ts.do(t, http.MethodPost, "/api/sales", api.SubmitSaleRequest{
		SellerID:      "seller-1",
		ActorID:       "clerk-1",
		PaymentMethod: "cash",
		Items:         []api.SaleItemRequest{{ProductID: "prod-1", Quantity: 1}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/audit?actor_id=clerk-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]api.AuditEntryDTO](t, resp)
	assert.NotEmpty(t, entries)
	for _, e := range entries {
		assert.Equal(t, "clerk-1", e.ActorID)
	}
}
