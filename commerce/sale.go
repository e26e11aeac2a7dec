/*
sale.go - Sale Transaction Processor

PURPOSE:
  Composes the Stock Ledger, the Credit Ledger (for credit sales), and the
  Audit Recorder into one logical unit of work against a store that offers
  no multi-entity transaction. Owns the compensation (rollback) logic.

STATE MACHINE:
  Draft -> ItemsValidated -> StockReserved -> (CreditPosted | Skipped) -> Committed
  with Failed/Compensating -> Voided reachable from any non-terminal state.
  Only Draft, Committed, and Voided are persisted; the intermediate states
  live in the control flow of SubmitSale.

COMPENSATION:
  Each successful step pushes an undo closure onto a list; any later failure
  executes the list in reverse before the original error is propagated.
  Callers never observe a committed sale without fully consistent stock and
  credit side effects - a failed sale does not exist from their perspective.

EDGE CASES:
  - The same product listed twice is two independent decrements in order,
    never merged, so compensation stays a simple reverse-order replay.
  - A zero-total sale is permitted but still needs at least one line item.
  - A timeout from the store is treated like any other failure: compensate,
    never assume success.
*/
package commerce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SaleItemRequest is one requested line: product and quantity.
type SaleItemRequest struct {
	ProductID ProductID
	Quantity  int64
}

// SaleRequest is the inbound submission for a new sale.
type SaleRequest struct {
	SellerID      ActorID
	Actor         ActorID
	PaymentMethod PaymentMethod

	// CreditAccountID is required when PaymentMethod is credit.
	CreditAccountID AccountID

	CustomerName  string
	CustomerPhone string
	Items         []SaleItemRequest
}

// SaleProcessor is the saga coordinator for sales.
type SaleProcessor struct {
	store    Store
	stock    *StockLedger
	credit   *CreditLedger
	recorder *Recorder
	logger   *zap.Logger
}

func NewSaleProcessor(store Store, stock *StockLedger, credit *CreditLedger, recorder *Recorder, logger *zap.Logger) *SaleProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaleProcessor{
		store:    store,
		stock:    stock,
		credit:   credit,
		recorder: recorder,
		logger:   logger,
	}
}

// undoFn reverses one committed step of a partially completed sale.
type undoFn func(ctx context.Context) error

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitSale validates, prices, and commits a sale. On any failure after the
// header write, every already-applied side effect is compensated in reverse
// order and the header is voided before the original error is returned.
func (p *SaleProcessor) SubmitSale(ctx context.Context, req SaleRequest) (*Sale, error) {
	if err := validateSaleRequest(req); err != nil {
		return nil, err
	}
	actor := req.Actor
	if actor == "" {
		actor = req.SellerID
	}

	// Snapshot unit prices from the current product records. Later price
	// changes must never retroactively alter this sale's total.
	items := make([]SaleLineItem, 0, len(req.Items))
	total := decimal.Zero
	for _, it := range req.Items {
		product, err := p.store.GetProduct(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		lineTotal := product.UnitPrice.Mul(decimal.NewFromInt(it.Quantity))
		items = append(items, SaleLineItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: product.UnitPrice,
			LineTotal: lineTotal,
		})
		total = total.Add(lineTotal)
	}

	// Write the Draft header. From here on every failure must compensate.
	sale := &Sale{
		ID:              SaleID(uuid.NewString()),
		SellerID:        req.SellerID,
		Status:          SaleDraft,
		PaymentMethod:   req.PaymentMethod,
		CreditAccountID: req.CreditAccountID,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		TotalAmount:     total,
		CreatedAt:       time.Now().UTC(),
	}
	if err := p.store.InsertSale(ctx, sale); err != nil {
		return nil, fmt.Errorf("write sale header: %w", err)
	}

	var undo []undoFn

	// Decrement stock per line, in order. Duplicate products are two
	// independent decrements so the reverse replay stays symmetric.
	for i := range items {
		item := items[i]
		if _, err := p.stock.ReserveAndDecrement(ctx, actor, item.ProductID, item.Quantity); err != nil {
			return nil, p.abort(ctx, sale, undo, err)
		}
		undo = append(undo, func(ctx context.Context) error {
			_, err := p.stock.Increment(ctx, ActorSystem, item.ProductID, item.Quantity)
			return err
		})
	}

	// Credit sales post the full total against the account before commit.
	if req.PaymentMethod == PaymentCredit {
		if _, err := p.credit.PostPurchase(ctx, actor, req.CreditAccountID, total, sale.ID); err != nil {
			return nil, p.abort(ctx, sale, undo, err)
		}
		undo = append(undo, func(ctx context.Context) error {
			_, err := p.credit.PostAdjustment(ctx, ActorSystem, req.CreditAccountID, total.Neg(), sale.ID,
				"reversal of failed sale")
			return err
		})
	}

	for i := range items {
		items[i].SaleID = sale.ID
	}
	if err := p.store.InsertSaleItems(ctx, sale.ID, items); err != nil {
		return nil, p.abort(ctx, sale, undo, fmt.Errorf("write sale items: %w", err))
	}

	if err := p.store.UpdateSaleStatus(ctx, sale.ID, SaleDraft, SaleCommitted); err != nil {
		return nil, p.abort(ctx, sale, undo, fmt.Errorf("commit sale: %w", err))
	}

	now := time.Now().UTC()
	sale.Status = SaleCommitted
	sale.CommittedAt = &now
	sale.Items = items

	// One commit-level entry, separate from the per-line stock entries the
	// Stock Ledger already emitted.
	p.recorder.Record(ctx, actor, AuditSaleCommitted, EntitySale, string(sale.ID),
		map[string]any{"status": string(SaleDraft)},
		map[string]any{"status": string(SaleCommitted), "total": total.String(), "items": len(items)})

	p.logger.Info("sale committed",
		zap.String("sale_id", string(sale.ID)),
		zap.String("seller_id", string(req.SellerID)),
		zap.String("payment_method", string(req.PaymentMethod)),
		zap.String("total", total.String()),
		zap.Int("items", len(items)),
	)
	return sale, nil
}

// abort executes the undo list in reverse, voids the draft header, and
// returns the original cause. Compensation failures are logged - there is
// nothing useful to return to the caller beyond the original error.
func (p *SaleProcessor) abort(ctx context.Context, sale *Sale, undo []undoFn, cause error) error {
	for i := len(undo) - 1; i >= 0; i-- {
		if err := undo[i](ctx); err != nil {
			p.logger.Error("sale compensation step failed",
				zap.String("sale_id", string(sale.ID)),
				zap.Int("step", i),
				zap.Error(err),
			)
		}
	}

	if err := p.store.DeleteSaleItems(ctx, sale.ID); err != nil {
		p.logger.Error("failed to delete line items of aborted sale",
			zap.String("sale_id", string(sale.ID)), zap.Error(err))
	}
	if err := p.store.UpdateSaleStatus(ctx, sale.ID, SaleDraft, SaleVoided); err != nil {
		p.logger.Error("failed to void aborted sale header",
			zap.String("sale_id", string(sale.ID)), zap.Error(err))
	}

	p.recorder.Record(ctx, ActorSystem, AuditSaleVoided, EntitySale, string(sale.ID),
		map[string]any{"status": string(SaleDraft)},
		map[string]any{"status": string(SaleVoided), "cause": cause.Error()})

	p.logger.Warn("sale aborted and compensated",
		zap.String("sale_id", string(sale.ID)),
		zap.Error(cause),
	)
	return cause
}

// =============================================================================
// VOID / RETURN
// =============================================================================

// VoidSale cancels a sale. A draft is simply voided. A committed sale is
// unwound with new compensating operations (a return): stock is incremented
// back per line in reverse order and a credit sale's posting is reversed
// with an adjustment. The original sale record and its audit trail are never
// rewritten. Voiding twice returns ErrSaleAlreadyVoided with no further
// effect.
func (p *SaleProcessor) VoidSale(ctx context.Context, actor ActorID, saleID SaleID) error {
	sale, err := p.store.GetSale(ctx, saleID)
	if err != nil {
		return err
	}

	switch sale.Status {
	case SaleVoided:
		return ErrSaleAlreadyVoided

	case SaleDraft:
		// A dangling draft has no committed side effects to unwind.
		if err := p.store.DeleteSaleItems(ctx, saleID); err != nil {
			return err
		}
		if err := p.store.UpdateSaleStatus(ctx, saleID, SaleDraft, SaleVoided); err != nil {
			return err
		}
		p.recorder.Record(ctx, actor, AuditSaleVoided, EntitySale, string(saleID),
			map[string]any{"status": string(SaleDraft)},
			map[string]any{"status": string(SaleVoided)})
		return nil

	case SaleCommitted:
		return p.processReturn(ctx, actor, sale)

	default:
		return fmt.Errorf("%w: cannot void sale in status %q", ErrInvalidStatusTransition, sale.Status)
	}
}

func (p *SaleProcessor) processReturn(ctx context.Context, actor ActorID, sale *Sale) error {
	// The status transition is the serialization point: its guard admits
	// exactly one caller, so racing voids of the same sale cannot both run
	// the compensation below and restock twice.
	if err := p.store.UpdateSaleStatus(ctx, sale.ID, SaleCommitted, SaleVoided); err != nil {
		// Another void raced us between the GetSale read and this write.
		if errors.Is(err, ErrInvalidStatusTransition) {
			return ErrSaleAlreadyVoided
		}
		return err
	}

	// The void is durable from here; a failed compensation step is logged
	// and the remaining steps still run, then the first failure surfaces.
	var firstErr error

	// Restock in reverse line order, mirroring the decrement order.
	for i := len(sale.Items) - 1; i >= 0; i-- {
		item := sale.Items[i]
		if _, err := p.stock.Increment(ctx, actor, item.ProductID, item.Quantity); err != nil {
			p.logger.Error("restock of returned sale line failed",
				zap.String("sale_id", string(sale.ID)),
				zap.String("product_id", string(item.ProductID)),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("restock line %d: %w", i, err)
			}
		}
	}

	// Reverse the credit posting. Payments made since the sale may have
	// already reduced the balance below the sale total; the refund is
	// clamped so the balance never goes negative.
	if sale.PaymentMethod == PaymentCredit {
		if err := p.refundCreditSale(ctx, actor, sale); err != nil {
			p.logger.Error("credit refund of returned sale failed",
				zap.String("sale_id", string(sale.ID)),
				zap.String("account_id", string(sale.CreditAccountID)),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("reverse credit posting: %w", err)
			}
		}
	}

	p.recorder.Record(ctx, actor, AuditSaleVoided, EntitySale, string(sale.ID),
		map[string]any{"status": string(SaleCommitted)},
		map[string]any{"status": string(SaleVoided), "total": sale.TotalAmount.String()})

	if firstErr != nil {
		return firstErr
	}

	p.logger.Info("sale returned",
		zap.String("sale_id", string(sale.ID)),
		zap.String("total", sale.TotalAmount.String()),
	)
	return nil
}

func (p *SaleProcessor) refundCreditSale(ctx context.Context, actor ActorID, sale *Sale) error {
	account, err := p.credit.store.GetAccount(ctx, sale.CreditAccountID)
	if err != nil {
		return err
	}
	refund := decimal.Min(sale.TotalAmount, account.Balance)
	if !refund.IsPositive() {
		return nil
	}
	_, err = p.credit.PostAdjustment(ctx, actor, sale.CreditAccountID, refund.Neg(), sale.ID,
		"sale returned")
	return err
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateSaleRequest(req SaleRequest) error {
	if req.SellerID == "" {
		return fmt.Errorf("%w: seller id is required", ErrInvalidSaleRequest)
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: at least one line item is required", ErrInvalidSaleRequest)
	}
	for i, it := range req.Items {
		if it.ProductID == "" {
			return fmt.Errorf("%w: line %d has no product id", ErrInvalidSaleRequest, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: line %d has non-positive quantity %d", ErrInvalidSaleRequest, i, it.Quantity)
		}
	}
	switch req.PaymentMethod {
	case PaymentCash, PaymentCard, PaymentMobileMoney:
		if req.CreditAccountID != "" {
			return fmt.Errorf("%w: credit account given for non-credit payment", ErrInvalidSaleRequest)
		}
	case PaymentCredit:
		if req.CreditAccountID == "" {
			return fmt.Errorf("%w: credit sale requires a credit account", ErrInvalidSaleRequest)
		}
	default:
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidSaleRequest, req.PaymentMethod)
	}
	return nil
}
