package commerce

import "context"

// Feed is the read-only surface for downstream reporting collaborators:
// committed sales, credit histories, audit trails, and stock adjustments,
// filterable by time range, seller/account id, and entity type. It never
// mutates anything.
type Feed struct {
	store Store
}

func NewFeed(store Store) *Feed {
	return &Feed{store: store}
}

// CommittedSales lists committed sales matching the filter. The committed
// status is forced; drafts and voided sales are internal states.
func (f *Feed) CommittedSales(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	committed := SaleCommitted
	filter.Status = &committed
	return f.store.ListSales(ctx, filter)
}

// CreditHistory lists credit transactions in posting order.
func (f *Feed) CreditHistory(ctx context.Context, filter CreditTxFilter) ([]CreditTransaction, error) {
	return f.store.ListCreditTransactions(ctx, filter)
}

// AuditTrail lists audit entries matching the filter.
func (f *Feed) AuditTrail(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	return f.store.ListAuditEntries(ctx, filter)
}

// Adjustments lists manual stock adjustments matching the filter.
func (f *Feed) Adjustments(ctx context.Context, filter AdjustmentFilter) ([]AdjustmentRecord, error) {
	return f.store.ListAdjustments(ctx, filter)
}
