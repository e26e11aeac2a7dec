/*
adjust.go - Adjustment Engine

Manual, non-sale stock mutations: damage write-offs, count corrections,
restocks. Delegates the quantity change to the Stock Ledger (same
floor-at-zero and concurrency discipline) and persists an AdjustmentRecord
carrying the human-supplied reason, so inventory variance reports can
separate "sold" from "adjusted".
*/
package commerce

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AdjustmentEngine struct {
	store    AdjustmentStore
	stock    *StockLedger
	recorder *Recorder
	logger   *zap.Logger
}

func NewAdjustmentEngine(store AdjustmentStore, stock *StockLedger, recorder *Recorder, logger *zap.Logger) *AdjustmentEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdjustmentEngine{store: store, stock: stock, recorder: recorder, logger: logger}
}

// Adjust applies a manual stock change. For remove it delegates to
// ReserveAndDecrement, so ErrInsufficientStock applies; for add it delegates
// to Increment. Every successful adjustment persists a record and emits an
// audit entry carrying the reason, distinct from sale-driven changes.
func (e *AdjustmentEngine) Adjust(ctx context.Context, actor ActorID, productID ProductID, direction AdjustmentDirection, quantity int64, reason string) (*Product, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidAdjustment, quantity)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: a reason is required", ErrInvalidAdjustment)
	}

	var (
		product *Product
		err     error
	)
	switch direction {
	case AdjustRemove:
		product, err = e.stock.ReserveAndDecrement(ctx, actor, productID, quantity)
	case AdjustAdd:
		product, err = e.stock.Increment(ctx, actor, productID, quantity)
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidAdjustment, direction)
	}
	if err != nil {
		return nil, err
	}

	delta := quantity
	if direction == AdjustRemove {
		delta = -quantity
	}
	record := &AdjustmentRecord{
		ID:             uuid.NewString(),
		ProductID:      productID,
		ActorID:        actor,
		Direction:      direction,
		Quantity:       quantity,
		Reason:         reason,
		QuantityBefore: product.QuantityOnHand - delta,
		QuantityAfter:  product.QuantityOnHand,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.InsertAdjustment(ctx, record); err != nil {
		// The stock change already committed and was audited; a missing
		// variance record is a reporting gap, not an inconsistency.
		e.logger.Error("failed to persist adjustment record",
			zap.String("product_id", string(productID)), zap.Error(err))
	}

	e.recorder.Record(ctx, actor, AuditStockAdjusted, EntityProduct, string(productID),
		map[string]any{"quantity_on_hand": record.QuantityBefore},
		map[string]any{"quantity_on_hand": record.QuantityAfter, "reason": reason, "direction": string(direction)})

	e.logger.Info("stock adjusted",
		zap.String("product_id", string(productID)),
		zap.String("direction", string(direction)),
		zap.Int64("quantity", quantity),
		zap.String("reason", reason),
	)
	return product, nil
}
