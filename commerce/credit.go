/*
credit.go - Credit Ledger

PURPOSE:
  Owns per-account credit limit and running balance, plus the append-only
  CreditTransaction chain that makes the balance independently auditable.

CHAIN DISCIPLINE:
  Every posting reads current state immediately before the write and stores
  the balance it read as PreviousBalance on the resulting transaction.
  The account version is part of the compare-and-set, so a stale read causes
  a retry rather than an out-of-order posting: transactions for one account
  always chain PreviousBalance -> NewBalance in posting order.

WRITE ORDER:
  The account CAS runs first (it is the serialization point), then the
  transaction append. If the append fails after the balance committed, the
  balance update is compensated with a reverse CAS before the error is
  surfaced, so balance and history never silently diverge.
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

// CreditLedger posts transactions against credit accounts under optimistic
// concurrency.
type CreditLedger struct {
	store       CreditStore
	recorder    *Recorder
	logger      *zap.Logger
	maxAttempts int
}

func NewCreditLedger(store CreditStore, recorder *Recorder, logger *zap.Logger) *CreditLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreditLedger{
		store:       store,
		recorder:    recorder,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
	}
}

// WithMaxAttempts overrides the retry budget for version-conflict retries.
// Non-positive values are ignored.
func (l *CreditLedger) WithMaxAttempts(n int) *CreditLedger {
	if n > 0 {
		l.maxAttempts = n
	}
	return l
}

// =============================================================================
// POSTINGS
// =============================================================================

// PostPurchase increases the account balance by amount, referencing the sale
// that caused it. Fails with ErrCreditAccountInactive if the account is not
// active, ErrCreditLimitExceeded if the new balance would exceed the limit.
func (l *CreditLedger) PostPurchase(ctx context.Context, actor ActorID, accountID AccountID, amount decimal.Decimal, saleRef SaleID) (*CreditTransaction, error) {
	if !amount.IsPositive() && !amount.IsZero() {
		return nil, fmt.Errorf("%w: purchase amount must not be negative", ErrInvalidSaleRequest)
	}
	return l.post(ctx, actor, accountID, CreditTxPurchase, AuditCreditPurchase, amount, saleRef, "",
		func(a *CreditAccount, newBalance decimal.Decimal) error {
			if newBalance.GreaterThan(a.CreditLimit) {
				return &CreditLimitError{
					AccountID: accountID,
					Requested: amount,
					Available: a.CreditLimit.Sub(a.Balance),
				}
			}
			return nil
		})
}

// PostPayment decreases the account balance by amount. Fails with
// ErrPaymentExceedsBalance if the balance would go negative.
func (l *CreditLedger) PostPayment(ctx context.Context, actor ActorID, accountID AccountID, amount decimal.Decimal) (*CreditTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", ErrInvalidSaleRequest)
	}
	return l.post(ctx, actor, accountID, CreditTxPayment, AuditCreditPayment, amount.Neg(), "", "",
		func(a *CreditAccount, newBalance decimal.Decimal) error {
			if newBalance.IsNegative() {
				return &PaymentExceedsBalanceError{
					AccountID: accountID,
					Payment:   amount,
					Balance:   a.Balance,
				}
			}
			return nil
		})
}

// PostAdjustment applies a signed correction to the balance, floored at zero.
// Used by sale returns to unwind a purchase posting without rewriting it.
func (l *CreditLedger) PostAdjustment(ctx context.Context, actor ActorID, accountID AccountID, amount decimal.Decimal, saleRef SaleID, note string) (*CreditTransaction, error) {
	return l.post(ctx, actor, accountID, CreditTxAdjustment, AuditCreditAdjusted, amount, saleRef, note,
		func(a *CreditAccount, newBalance decimal.Decimal) error {
			if newBalance.IsNegative() {
				return &PaymentExceedsBalanceError{
					AccountID: accountID,
					Payment:   amount.Abs(),
					Balance:   a.Balance,
				}
			}
			return nil
		})
}

// post is the shared read-validate-CAS-append cycle behind every posting.
// The guard validates the candidate balance against business rules.
func (l *CreditLedger) post(ctx context.Context, actor ActorID, accountID AccountID, txType CreditTxType, action AuditAction, amount decimal.Decimal, saleRef SaleID, note string, guard func(*CreditAccount, decimal.Decimal) error) (*CreditTransaction, error) {
	var posted *CreditTransaction

	op := func(ctx context.Context) (map[string]any, map[string]any, error) {
		a, err := l.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, nil, err
		}
		if a.Status != AccountActive {
			return nil, nil, fmt.Errorf("%w: account %s is %s", ErrCreditAccountInactive, accountID, a.Status)
		}

		previous := a.Balance
		newBalance := previous.Add(amount)
		if err := guard(a, newBalance); err != nil {
			return nil, nil, err
		}

		expectedVersion := a.Version
		a.Balance = newBalance
		if err := l.store.UpdateAccount(ctx, a, expectedVersion); err != nil {
			return nil, nil, err
		}
		a.Version = expectedVersion + 1

		tx := &CreditTransaction{
			ID:              uuid.NewString(),
			AccountID:       accountID,
			Type:            txType,
			Amount:          amount,
			PreviousBalance: previous,
			NewBalance:      newBalance,
			SaleRef:         saleRef,
			Note:            note,
			CreatedAt:       time.Now().UTC(),
		}
		if err := l.store.AppendCreditTransaction(ctx, tx); err != nil {
			// The balance committed but its history entry did not. Reverse
			// the balance so the chain invariant holds, then surface the
			// append failure.
			a.Balance = previous
			if revErr := l.store.UpdateAccount(ctx, a, a.Version); revErr != nil {
				l.logger.Error("failed to reverse balance after transaction append failure",
					zap.String("account_id", string(accountID)),
					zap.NamedError("append_error", err),
					zap.NamedError("reverse_error", revErr),
				)
			}
			return nil, nil, fmt.Errorf("append credit transaction: %w", err)
		}

		posted = tx
		return balanceImage(previous), balanceImage(newBalance), nil
	}

	err := retryOnConflict(ctx, l.maxAttempts,
		l.recorder.Audited(actor, action, EntityCreditAccount, string(accountID), op))
	if err != nil {
		return nil, err
	}

	l.logger.Debug("credit transaction posted",
		zap.String("account_id", string(accountID)),
		zap.String("type", string(txType)),
		zap.String("amount", posted.Amount.String()),
		zap.String("new_balance", posted.NewBalance.String()),
	)
	return posted, nil
}

// =============================================================================
// ADMINISTRATION - Owner-only operations
// =============================================================================

// EnsureAccount returns the account the owner extends to the counterparty,
// creating it with the given limit on first credit extension.
func (l *CreditLedger) EnsureAccount(ctx context.Context, ownerID, counterpartyID ActorID, limit decimal.Decimal) (*CreditAccount, error) {
	if a, err := l.store.FindAccount(ctx, ownerID, counterpartyID); err == nil {
		return a, nil
	} else if !IsNotFound(err) {
		return nil, err
	}

	if limit.IsNegative() {
		return nil, ErrInvalidCreditLimit
	}

	now := time.Now().UTC()
	a := &CreditAccount{
		ID:             AccountID(uuid.NewString()),
		CounterpartyID: counterpartyID,
		OwnerID:        ownerID,
		CreditLimit:    limit,
		Balance:        decimal.Zero,
		Status:         AccountActive,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := l.store.InsertAccount(ctx, a); err != nil {
		// Another caller opened the same credit line between our find and
		// insert; theirs wins.
		if errors.Is(err, ErrAccountExists) {
			return l.store.FindAccount(ctx, ownerID, counterpartyID)
		}
		return nil, err
	}
	l.recorder.Record(ctx, ownerID, AuditStatusChanged, EntityCreditAccount, string(a.ID),
		nil, map[string]any{"status": string(AccountActive), "credit_limit": limit.String()})
	return a, nil
}

// SetLimit changes the credit limit. No numeric guard beyond limit >= 0.
func (l *CreditLedger) SetLimit(ctx context.Context, actor ActorID, accountID AccountID, limit decimal.Decimal) (*CreditAccount, error) {
	if limit.IsNegative() {
		return nil, ErrInvalidCreditLimit
	}

	var updated *CreditAccount
	op := func(ctx context.Context) (map[string]any, map[string]any, error) {
		a, err := l.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, nil, err
		}
		before := a.CreditLimit
		expectedVersion := a.Version
		a.CreditLimit = limit
		if err := l.store.UpdateAccount(ctx, a, expectedVersion); err != nil {
			return nil, nil, err
		}
		a.Version = expectedVersion + 1
		updated = a
		return map[string]any{"credit_limit": before.String()},
			map[string]any{"credit_limit": limit.String()}, nil
	}

	err := retryOnConflict(ctx, l.maxAttempts,
		l.recorder.Audited(actor, AuditLimitChanged, EntityCreditAccount, string(accountID), op))
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetStatus transitions the account status. Cancelled is terminal.
func (l *CreditLedger) SetStatus(ctx context.Context, actor ActorID, accountID AccountID, status AccountStatus) (*CreditAccount, error) {
	switch status {
	case AccountActive, AccountSuspended, AccountCancelled:
	default:
		return nil, fmt.Errorf("%w: unknown account status %q", ErrInvalidStatusTransition, status)
	}

	var updated *CreditAccount
	op := func(ctx context.Context) (map[string]any, map[string]any, error) {
		a, err := l.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, nil, err
		}
		if a.Status == AccountCancelled {
			return nil, nil, fmt.Errorf("%w: account %s is cancelled", ErrInvalidStatusTransition, accountID)
		}
		before := a.Status
		expectedVersion := a.Version
		a.Status = status
		if err := l.store.UpdateAccount(ctx, a, expectedVersion); err != nil {
			return nil, nil, err
		}
		a.Version = expectedVersion + 1
		updated = a
		return map[string]any{"status": string(before)},
			map[string]any{"status": string(status)}, nil
	}

	err := retryOnConflict(ctx, l.maxAttempts,
		l.recorder.Audited(actor, AuditStatusChanged, EntityCreditAccount, string(accountID), op))
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// =============================================================================
// CHAIN VERIFICATION
// =============================================================================

// ReplayBalance replays the account's transactions in posting order from
// zero and verifies the chain invariant: each transaction's PreviousBalance
// must equal the running balance, and the final balance must equal the
// account's current balance. Returns the replayed balance.
func (l *CreditLedger) ReplayBalance(ctx context.Context, accountID AccountID) (decimal.Decimal, error) {
	a, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	txs, err := l.store.ListCreditTransactions(ctx, CreditTxFilter{AccountID: &accountID})
	if err != nil {
		return decimal.Zero, err
	}

	running := decimal.Zero
	for i, tx := range txs {
		if !tx.PreviousBalance.Equal(running) {
			return running, fmt.Errorf("%w: transaction %d (%s) has previous balance %s, replay says %s",
				ErrBalanceChainBroken, i, tx.ID, tx.PreviousBalance, running)
		}
		running = running.Add(tx.Amount)
		if !tx.NewBalance.Equal(running) {
			return running, fmt.Errorf("%w: transaction %d (%s) has new balance %s, replay says %s",
				ErrBalanceChainBroken, i, tx.ID, tx.NewBalance, running)
		}
	}

	if !running.Equal(a.Balance) {
		return running, fmt.Errorf("%w: replayed balance %s does not match account balance %s",
			ErrBalanceChainBroken, running, a.Balance)
	}
	return running, nil
}

func balanceImage(balance decimal.Decimal) map[string]any {
	return map[string]any{"balance": balance.String()}
}
