/*
handlers.go - HTTP API handlers for the commerce ledger core

PURPOSE:
  Exposes the ledger core via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Products:
    GET    /api/products                     List products (?seller_id=)
    POST   /api/products                     Register a product
    GET    /api/products/{id}                Get product details

  Sales:
    POST   /api/sales                        Submit a sale
    GET    /api/sales                        Committed-sale feed
    GET    /api/sales/{id}                   Get sale details
    POST   /api/sales/{id}/void             Void a sale

  Credit:
    POST   /api/credit/accounts              Open (or fetch) a credit line
    GET    /api/credit/accounts              List accounts (?owner_id=)
    GET    /api/credit/accounts/{id}         Get account
    POST   /api/credit/accounts/{id}/payments     Record repayment
    POST   /api/credit/accounts/{id}/adjustments  Manual signed correction
    PUT    /api/credit/accounts/{id}/limit        Change credit limit
    PUT    /api/credit/accounts/{id}/status       Change lifecycle status
    GET    /api/credit/accounts/{id}/transactions Balance chain
    GET    /api/credit/accounts/{id}/replay       Verify chain vs stored balance

  Stock:
    POST   /api/stock/adjustments            Manual stock correction
    GET    /api/stock/adjustments            Adjustment history (?product_id=)

  Audit:
    GET    /api/audit                        Audit trail with filters

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Business rejection (stock, credit limit) or write conflict
  - 500: Internal errors

SECURITY NOTE:
  No authentication middleware. The actor identity is taken from the
  request body verbatim; an upstream gateway is expected to authenticate.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jujuhimself/bepawa-ledger/commerce"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  commerce.Store
	Stock  *commerce.StockLedger
	Credit *commerce.CreditLedger
	Sales  *commerce.SaleProcessor
	Adjust *commerce.AdjustmentEngine
	Feed   *commerce.Feed
	Logger *zap.Logger
}

// NewHandler wires the domain services over a single store.
func NewHandler(store commerce.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := commerce.NewRecorder(store, logger)
	stock := commerce.NewStockLedger(store, recorder, logger)
	credit := commerce.NewCreditLedger(store, recorder, logger)
	return &Handler{
		Store:  store,
		Stock:  stock,
		Credit: credit,
		Sales:  commerce.NewSaleProcessor(store, stock, credit, recorder, logger),
		Adjust: commerce.NewAdjustmentEngine(store, stock, recorder, logger),
		Feed:   commerce.NewFeed(store),
		Logger: logger,
	}
}

// =============================================================================
// PRODUCT ENDPOINTS
// =============================================================================

// CreateProduct registers a product with its opening stock.
// POST /api/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.SellerID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "seller_id and name are required", nil)
		return
	}
	if req.Quantity < 0 {
		writeError(w, http.StatusBadRequest, "quantity_on_hand cannot be negative", nil)
		return
	}

	now := time.Now().UTC()
	product := &commerce.Product{
		ID:             commerce.ProductID(uuid.NewString()),
		SellerID:       commerce.ActorID(req.SellerID),
		Name:           req.Name,
		Category:       req.Category,
		SKU:            req.SKU,
		QuantityOnHand: req.Quantity,
		MinStockLevel:  req.MinStockLevel,
		UnitCost:       req.UnitCost,
		UnitPrice:      req.UnitPrice,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.Store.InsertProduct(r.Context(), product); err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(product))
}

// GetProduct returns one product.
// GET /api/products/{id}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := commerce.ProductID(chi.URLParam(r, "id"))
	product, err := h.Store.GetProduct(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(product))
}

// ListProducts returns products, optionally scoped to one seller.
// GET /api/products?seller_id=
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	sellerID := commerce.ActorID(r.URL.Query().Get("seller_id"))
	products, err := h.Store.ListProducts(r.Context(), sellerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	dtos := make([]ProductDTO, 0, len(products))
	for i := range products {
		dtos = append(dtos, toProductDTO(&products[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SALE ENDPOINTS
// =============================================================================

// SubmitSale runs the full sale pipeline: stock, credit, commit, audit.
// POST /api/sales
func (h *Handler) SubmitSale(w http.ResponseWriter, r *http.Request) {
	var req SubmitSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	items := make([]commerce.SaleItemRequest, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, commerce.SaleItemRequest{
			ProductID: commerce.ProductID(it.ProductID),
			Quantity:  it.Quantity,
		})
	}
	sale, err := h.Sales.SubmitSale(r.Context(), commerce.SaleRequest{
		SellerID:        commerce.ActorID(req.SellerID),
		Actor:           commerce.ActorID(req.ActorID),
		PaymentMethod:   commerce.PaymentMethod(req.PaymentMethod),
		CreditAccountID: commerce.AccountID(req.CreditAccountID),
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		Items:           items,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(sale))
}

// GetSale returns one sale with its line items.
// GET /api/sales/{id}
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	id := commerce.SaleID(chi.URLParam(r, "id"))
	sale, err := h.Store.GetSale(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// ListSales returns the committed-sale feed.
// GET /api/sales?seller_id=&from=&to=
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	filter := commerce.SaleFilter{}
	if v := r.URL.Query().Get("seller_id"); v != "" {
		id := commerce.ActorID(v)
		filter.SellerID = &id
	}
	var parseErr error
	filter.From, parseErr = parseTimeParam(r, "from")
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "Invalid from timestamp", parseErr)
		return
	}
	filter.To, parseErr = parseTimeParam(r, "to")
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "Invalid to timestamp", parseErr)
		return
	}

	sales, err := h.Feed.CommittedSales(r.Context(), filter)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	dtos := make([]SaleDTO, 0, len(sales))
	for i := range sales {
		dtos = append(dtos, toSaleDTO(&sales[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// VoidSale cancels a sale, restocking and refunding as needed.
// POST /api/sales/{id}/void
func (h *Handler) VoidSale(w http.ResponseWriter, r *http.Request) {
	id := commerce.SaleID(chi.URLParam(r, "id"))
	var req VoidSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required", nil)
		return
	}

	if err := h.Sales.VoidSale(r.Context(), commerce.ActorID(req.ActorID), id); err != nil {
		respondDomainError(w, err)
		return
	}
	sale, err := h.Store.GetSale(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// =============================================================================
// CREDIT ENDPOINTS
// =============================================================================

// CreateAccount opens a credit line, or returns the existing one for the
// owner/counterparty pair.
// POST /api/credit/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OwnerID == "" || req.CounterpartyID == "" {
		writeError(w, http.StatusBadRequest, "owner_id and counterparty_id are required", nil)
		return
	}

	account, err := h.Credit.EnsureAccount(r.Context(),
		commerce.ActorID(req.OwnerID), commerce.ActorID(req.CounterpartyID), req.CreditLimit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

// GetAccount returns one credit account.
// GET /api/credit/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := commerce.AccountID(chi.URLParam(r, "id"))
	account, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// ListAccounts returns credit accounts, optionally scoped to one owner.
// GET /api/credit/accounts?owner_id=
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	ownerID := commerce.ActorID(r.URL.Query().Get("owner_id"))
	accounts, err := h.Store.ListAccounts(r.Context(), ownerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	dtos := make([]AccountDTO, 0, len(accounts))
	for i := range accounts {
		dtos = append(dtos, toAccountDTO(&accounts[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PostPayment records a repayment against an account balance.
// POST /api/credit/accounts/{id}/payments
func (h *Handler) PostPayment(w http.ResponseWriter, r *http.Request) {
	id := commerce.AccountID(chi.URLParam(r, "id"))
	var req PostPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tx, err := h.Credit.PostPayment(r.Context(), commerce.ActorID(req.ActorID), id, req.Amount)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreditTransactionDTO(tx))
}

// PostCreditAdjustment posts a signed manual correction to an account.
// POST /api/credit/accounts/{id}/adjustments
func (h *Handler) PostCreditAdjustment(w http.ResponseWriter, r *http.Request) {
	id := commerce.AccountID(chi.URLParam(r, "id"))
	var req PostCreditAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tx, err := h.Credit.PostAdjustment(r.Context(), commerce.ActorID(req.ActorID), id, req.Amount, "", req.Note)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreditTransactionDTO(tx))
}

// SetLimit changes the account's credit limit.
// PUT /api/credit/accounts/{id}/limit
func (h *Handler) SetLimit(w http.ResponseWriter, r *http.Request) {
	id := commerce.AccountID(chi.URLParam(r, "id"))
	var req SetLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := h.Credit.SetLimit(r.Context(), commerce.ActorID(req.ActorID), id, req.CreditLimit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// SetStatus changes the account's lifecycle status.
// PUT /api/credit/accounts/{id}/status
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id := commerce.AccountID(chi.URLParam(r, "id"))
	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := h.Credit.SetStatus(r.Context(), commerce.ActorID(req.ActorID), id, commerce.AccountStatus(req.Status))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// ListCreditTransactions returns the account's balance chain in posting order.
// GET /api/credit/accounts/{id}/transactions
func (h *Handler) ListCreditTransactions(w http.ResponseWriter, r *http.Request) {
	id := commerce.AccountID(chi.URLParam(r, "id"))
	filter := commerce.CreditTxFilter{AccountID: &id}
	var parseErr error
	filter.From, parseErr = parseTimeParam(r, "from")
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "Invalid from timestamp", parseErr)
		return
	}
	filter.To, parseErr = parseTimeParam(r, "to")
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "Invalid to timestamp", parseErr)
		return
	}

	txs, err := h.Feed.CreditHistory(r.Context(), filter)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	dtos := make([]CreditTransactionDTO, 0, len(txs))
	for i := range txs {
		dtos = append(dtos, toCreditTransactionDTO(&txs[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReplayBalance recomputes the balance from the transaction chain and
// reports whether it matches the stored balance.
// GET /api/credit/accounts/{id}/replay
func (h *Handler) ReplayBalance(w http.ResponseWriter, r *http.Request) {
	id := commerce.AccountID(chi.URLParam(r, "id"))
	balance, err := h.Credit.ReplayBalance(r.Context(), id)
	if err != nil {
		if errors.Is(err, commerce.ErrBalanceChainBroken) {
			writeJSON(w, http.StatusOK, ReplayDTO{
				AccountID:       string(id),
				ReplayedBalance: balance,
				Consistent:      false,
			})
			return
		}
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReplayDTO{
		AccountID:       string(id),
		ReplayedBalance: balance,
		Consistent:      true,
	})
}

// =============================================================================
// STOCK ADJUSTMENT ENDPOINTS
// =============================================================================

// CreateAdjustment applies a manual stock correction with its reason.
// POST /api/stock/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req StockAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	product, err := h.Adjust.Adjust(r.Context(),
		commerce.ActorID(req.ActorID),
		commerce.ProductID(req.ProductID),
		commerce.AdjustmentDirection(req.Direction),
		req.Quantity, req.Reason)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(product))
}

// ListAdjustments returns the adjustment history.
// GET /api/stock/adjustments?product_id=&from=&to=
func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	filter := commerce.AdjustmentFilter{}
	if v := r.URL.Query().Get("product_id"); v != "" {
		id := commerce.ProductID(v)
		filter.ProductID = &id
	}
	var parseErr error
	filter.From, parseErr = parseTimeParam(r, "from")
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "Invalid from timestamp", parseErr)
		return
	}
	filter.To, parseErr = parseTimeParam(r, "to")
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "Invalid to timestamp", parseErr)
		return
	}

	records, err := h.Feed.Adjustments(r.Context(), filter)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	dtos := make([]AdjustmentDTO, 0, len(records))
	for i := range records {
		dtos = append(dtos, toAdjustmentDTO(&records[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// AUDIT ENDPOINTS
// =============================================================================

// ListAuditEntries returns the audit trail with optional filters.
// GET /api/audit?actor_id=&entity_type=&entity_id=&from=&to=
func (h *Handler) ListAuditEntries(w http.ResponseWriter, r *http.Request) {
	filter := commerce.AuditFilter{}
	if v := r.URL.Query().Get("actor_id"); v != "" {
		id := commerce.ActorID(v)
		filter.ActorID = &id
	}
	if v := r.URL.Query().Get("entity_type"); v != "" {
		et := commerce.EntityType(v)
		filter.EntityType = &et
	}
	if v := r.URL.Query().Get("entity_id"); v != "" {
		filter.EntityID = &v
	}
	var parseErr error
	filter.From, parseErr = parseTimeParam(r, "from")
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "Invalid from timestamp", parseErr)
		return
	}
	filter.To, parseErr = parseTimeParam(r, "to")
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "Invalid to timestamp", parseErr)
		return
	}

	entries, err := h.Feed.AuditTrail(r.Context(), filter)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	dtos := make([]AuditEntryDTO, 0, len(entries))
	for i := range entries {
		dtos = append(dtos, toAuditEntryDTO(&entries[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// respondDomainError maps domain errors to HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case commerce.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, commerce.ErrInvalidSaleRequest),
		errors.Is(err, commerce.ErrInvalidAdjustment),
		errors.Is(err, commerce.ErrInvalidCreditLimit):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case commerce.IsClientError(err),
		errors.Is(err, commerce.ErrConcurrentModification),
		errors.Is(err, commerce.ErrVersionConflict):
		writeError(w, http.StatusConflict, "Operation rejected", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
