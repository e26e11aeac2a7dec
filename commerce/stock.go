/*
stock.go - Stock Ledger

PURPOSE:
  Owns per-product quantity on hand. Exposes decrement with a floor-at-zero
  guarantee and increment with no upper bound (returns, restocks).

CONCURRENCY DISCIPLINE:
  Every operation is a read-then-write against the version read immediately
  before the write. A concurrent writer that changed the stock causes the
  operation to re-read and re-validate rather than blindly overwrite. The
  retry loop is bounded; an exhausted budget surfaces as
  ErrConcurrentModification.

FAILURE POLICY:
  ErrInsufficientStock is reported to the caller and never retried here.
  The SaleProcessor decides whether to abort the whole sale.

SIDE EFFECTS:
  Every successful call emits exactly one audit entry with the before/after
  quantity.
*/
package commerce

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// StockLedger mutates product quantities under optimistic concurrency.
type StockLedger struct {
	products    ProductStore
	recorder    *Recorder
	logger      *zap.Logger
	maxAttempts int
}

func NewStockLedger(products ProductStore, recorder *Recorder, logger *zap.Logger) *StockLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockLedger{
		products:    products,
		recorder:    recorder,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
	}
}

// WithMaxAttempts overrides the retry budget for version-conflict retries.
// Non-positive values are ignored.
func (l *StockLedger) WithMaxAttempts(n int) *StockLedger {
	if n > 0 {
		l.maxAttempts = n
	}
	return l
}

// ReserveAndDecrement removes quantity units from the product's stock.
// Fails with ErrInsufficientStock if quantity exceeds the quantity on hand,
// with ErrProductNotFound if the product does not exist.
func (l *StockLedger) ReserveAndDecrement(ctx context.Context, actor ActorID, productID ProductID, quantity int64) (*Product, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: decrement quantity must be positive, got %d", ErrInvalidAdjustment, quantity)
	}

	var updated *Product
	op := func(ctx context.Context) (map[string]any, map[string]any, error) {
		p, err := l.products.GetProduct(ctx, productID)
		if err != nil {
			return nil, nil, err
		}
		if quantity > p.QuantityOnHand {
			return nil, nil, &InsufficientStockError{
				ProductID: productID,
				Requested: quantity,
				Available: p.QuantityOnHand,
			}
		}

		before := p.QuantityOnHand
		newQty := before - quantity
		if err := l.products.UpdateProductQuantity(ctx, productID, newQty, p.Version); err != nil {
			return nil, nil, err
		}

		updated = p
		updated.QuantityOnHand = newQty
		updated.Version = p.Version + 1
		return stockImage(before), stockImage(newQty), nil
	}

	err := retryOnConflict(ctx, l.maxAttempts,
		l.recorder.Audited(actor, AuditStockDecrement, EntityProduct, string(productID), op))
	if err != nil {
		return nil, err
	}

	l.logger.Debug("stock decremented",
		zap.String("product_id", string(productID)),
		zap.Int64("quantity", quantity),
		zap.Int64("remaining", updated.QuantityOnHand),
	)
	return updated, nil
}

// Increment adds quantity units back to the product's stock. Used for
// returns, restocks, and compensation; no upper bound check.
func (l *StockLedger) Increment(ctx context.Context, actor ActorID, productID ProductID, quantity int64) (*Product, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: increment quantity must be positive, got %d", ErrInvalidAdjustment, quantity)
	}

	var updated *Product
	op := func(ctx context.Context) (map[string]any, map[string]any, error) {
		p, err := l.products.GetProduct(ctx, productID)
		if err != nil {
			return nil, nil, err
		}

		before := p.QuantityOnHand
		newQty := before + quantity
		if err := l.products.UpdateProductQuantity(ctx, productID, newQty, p.Version); err != nil {
			return nil, nil, err
		}

		updated = p
		updated.QuantityOnHand = newQty
		updated.Version = p.Version + 1
		return stockImage(before), stockImage(newQty), nil
	}

	err := retryOnConflict(ctx, l.maxAttempts,
		l.recorder.Audited(actor, AuditStockIncrement, EntityProduct, string(productID), op))
	if err != nil {
		return nil, err
	}

	l.logger.Debug("stock incremented",
		zap.String("product_id", string(productID)),
		zap.Int64("quantity", quantity),
		zap.Int64("on_hand", updated.QuantityOnHand),
	)
	return updated, nil
}

func stockImage(quantity int64) map[string]any {
	return map[string]any{"quantity_on_hand": quantity}
}
