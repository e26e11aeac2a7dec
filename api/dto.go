/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - commerce/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jujuhimself/bepawa-ledger/commerce"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateProductRequest registers a product with its opening stock level.
type CreateProductRequest struct {
	SellerID      string          `json:"seller_id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	SKU           string          `json:"sku"`
	Quantity      int64           `json:"quantity_on_hand"`
	MinStockLevel int64           `json:"min_stock_level"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
}

// SubmitSaleRequest is the inbound body for POST /api/sales.
type SubmitSaleRequest struct {
	SellerID        string            `json:"seller_id"`
	ActorID         string            `json:"actor_id"`
	PaymentMethod   string            `json:"payment_method"`
	CreditAccountID string            `json:"credit_account_id,omitempty"`
	CustomerName    string            `json:"customer_name,omitempty"`
	CustomerPhone   string            `json:"customer_phone,omitempty"`
	Items           []SaleItemRequest `json:"items"`
}

type SaleItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// VoidSaleRequest carries the actor voiding a sale.
type VoidSaleRequest struct {
	ActorID string `json:"actor_id"`
}

// CreateAccountRequest opens a credit line between an owner and a counterparty.
type CreateAccountRequest struct {
	OwnerID        string          `json:"owner_id"`
	CounterpartyID string          `json:"counterparty_id"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
}

// PostPaymentRequest records a repayment against a credit account.
type PostPaymentRequest struct {
	ActorID string          `json:"actor_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// PostCreditAdjustmentRequest posts a signed manual correction.
type PostCreditAdjustmentRequest struct {
	ActorID string          `json:"actor_id"`
	Amount  decimal.Decimal `json:"amount"`
	Note    string          `json:"note"`
}

// SetLimitRequest changes an account's credit limit.
type SetLimitRequest struct {
	ActorID     string          `json:"actor_id"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

// SetStatusRequest changes an account's lifecycle status.
type SetStatusRequest struct {
	ActorID string `json:"actor_id"`
	Status  string `json:"status"`
}

// StockAdjustmentRequest is a manual stock correction.
type StockAdjustmentRequest struct {
	ProductID string `json:"product_id"`
	ActorID   string `json:"actor_id"`
	Direction string `json:"direction"`
	Quantity  int64  `json:"quantity"`
	Reason    string `json:"reason"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type ProductDTO struct {
	ID             string          `json:"id"`
	SellerID       string          `json:"seller_id"`
	Name           string          `json:"name"`
	Category       string          `json:"category,omitempty"`
	SKU            string          `json:"sku,omitempty"`
	QuantityOnHand int64           `json:"quantity_on_hand"`
	MinStockLevel  int64           `json:"min_stock_level"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	LowStock       bool            `json:"low_stock"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type SaleDTO struct {
	ID              string          `json:"id"`
	SellerID        string          `json:"seller_id"`
	Status          string          `json:"status"`
	PaymentMethod   string          `json:"payment_method"`
	CreditAccountID string          `json:"credit_account_id,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Items           []SaleItemDTO   `json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
	CommittedAt     *time.Time      `json:"committed_at,omitempty"`
	VoidedAt        *time.Time      `json:"voided_at,omitempty"`
}

type SaleItemDTO struct {
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type AccountDTO struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	CounterpartyID string          `json:"counterparty_id"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
	Balance        decimal.Decimal `json:"balance"`
	Available      decimal.Decimal `json:"available"`
	Status         string          `json:"status"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type CreditTransactionDTO struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	Type            string          `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance"`
	SaleRef         string          `json:"sale_ref,omitempty"`
	Note            string          `json:"note,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type AuditEntryDTO struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type AdjustmentDTO struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"product_id"`
	ActorID        string    `json:"actor_id"`
	Direction      string    `json:"direction"`
	Quantity       int64     `json:"quantity"`
	Reason         string    `json:"reason"`
	QuantityBefore int64     `json:"quantity_before"`
	QuantityAfter  int64     `json:"quantity_after"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReplayDTO reports a balance verification run for one account.
type ReplayDTO struct {
	AccountID       string          `json:"account_id"`
	ReplayedBalance decimal.Decimal `json:"replayed_balance"`
	Consistent      bool            `json:"consistent"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toProductDTO(p *commerce.Product) ProductDTO {
	return ProductDTO{
		ID:             string(p.ID),
		SellerID:       string(p.SellerID),
		Name:           p.Name,
		Category:       p.Category,
		SKU:            p.SKU,
		QuantityOnHand: p.QuantityOnHand,
		MinStockLevel:  p.MinStockLevel,
		UnitCost:       p.UnitCost,
		UnitPrice:      p.UnitPrice,
		LowStock:       p.LowStock(),
		Version:        p.Version,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func toSaleDTO(s *commerce.Sale) SaleDTO {
	items := make([]SaleItemDTO, 0, len(s.Items))
	for _, it := range s.Items {
		items = append(items, SaleItemDTO{
			ProductID: string(it.ProductID),
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal,
		})
	}
	return SaleDTO{
		ID:              string(s.ID),
		SellerID:        string(s.SellerID),
		Status:          string(s.Status),
		PaymentMethod:   string(s.PaymentMethod),
		CreditAccountID: string(s.CreditAccountID),
		CustomerName:    s.CustomerName,
		CustomerPhone:   s.CustomerPhone,
		TotalAmount:     s.TotalAmount,
		Items:           items,
		CreatedAt:       s.CreatedAt,
		CommittedAt:     s.CommittedAt,
		VoidedAt:        s.VoidedAt,
	}
}

func toAccountDTO(a *commerce.CreditAccount) AccountDTO {
	return AccountDTO{
		ID:             string(a.ID),
		OwnerID:        string(a.OwnerID),
		CounterpartyID: string(a.CounterpartyID),
		CreditLimit:    a.CreditLimit,
		Balance:        a.Balance,
		Available:      a.CreditLimit.Sub(a.Balance),
		Status:         string(a.Status),
		Version:        a.Version,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func toCreditTransactionDTO(tx *commerce.CreditTransaction) CreditTransactionDTO {
	return CreditTransactionDTO{
		ID:              tx.ID,
		AccountID:       string(tx.AccountID),
		Type:            string(tx.Type),
		Amount:          tx.Amount,
		PreviousBalance: tx.PreviousBalance,
		NewBalance:      tx.NewBalance,
		SaleRef:         string(tx.SaleRef),
		Note:            tx.Note,
		CreatedAt:       tx.CreatedAt,
	}
}

func toAuditEntryDTO(e *commerce.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:         e.ID,
		ActorID:    string(e.ActorID),
		Action:     string(e.Action),
		EntityType: string(e.EntityType),
		EntityID:   e.EntityID,
		Before:     e.Before,
		After:      e.After,
		CreatedAt:  e.CreatedAt,
	}
}

func toAdjustmentDTO(a *commerce.AdjustmentRecord) AdjustmentDTO {
	return AdjustmentDTO{
		ID:             a.ID,
		ProductID:      string(a.ProductID),
		ActorID:        string(a.ActorID),
		Direction:      string(a.Direction),
		Quantity:       a.Quantity,
		Reason:         a.Reason,
		QuantityBefore: a.QuantityBefore,
		QuantityAfter:  a.QuantityAfter,
		CreatedAt:      a.CreatedAt,
	}
}
