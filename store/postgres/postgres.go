/*
Package postgres provides a PostgreSQL-backed implementation of commerce.Store.

PURPOSE:
  Production persistence for the ledger core. Same contract as
  store/sqlite, native Postgres types: NUMERIC for money, TIMESTAMPTZ
  for instants, BIGSERIAL sequence columns for stable ordering of the
  append-only tables.

OPTIMISTIC CONCURRENCY:
  Versioned updates are single UPDATE statements guarded by
  `AND version = $n`; zero affected rows surfaces
  commerce.ErrVersionConflict after an existence check.

CONNECTION:
  New takes a DSN (postgres://...). The pool is pinged before use so a
  bad DSN fails at startup, not on first request.
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/jujuhimself/bepawa-ledger/commerce"
)

// Store implements commerce.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres with the given DSN and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		sku TEXT NOT NULL DEFAULT '',
		quantity_on_hand BIGINT NOT NULL CHECK (quantity_on_hand >= 0),
		min_stock_level BIGINT NOT NULL DEFAULT 0,
		unit_cost NUMERIC(20,6) NOT NULL,
		unit_price NUMERIC(20,6) NOT NULL,
		version BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_products_seller ON products(seller_id);

	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		credit_account_id TEXT,
		customer_name TEXT NOT NULL DEFAULT '',
		customer_phone TEXT NOT NULL DEFAULT '',
		total_amount NUMERIC(20,6) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		committed_at TIMESTAMPTZ,
		voided_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_sales_seller_status ON sales(seller_id, status);
	CREATE INDEX IF NOT EXISTS idx_sales_created_at ON sales(created_at);

	CREATE TABLE IF NOT EXISTS sale_items (
		sale_id TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		unit_price NUMERIC(20,6) NOT NULL,
		line_total NUMERIC(20,6) NOT NULL,
		PRIMARY KEY (sale_id, line_no)
	);

	CREATE TABLE IF NOT EXISTS credit_accounts (
		id TEXT PRIMARY KEY,
		counterparty_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		credit_limit NUMERIC(20,6) NOT NULL,
		balance NUMERIC(20,6) NOT NULL,
		status TEXT NOT NULL,
		version BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_owner_counterparty
		ON credit_accounts(owner_id, counterparty_id);

	CREATE TABLE IF NOT EXISTS credit_transactions (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount NUMERIC(20,6) NOT NULL,
		previous_balance NUMERIC(20,6) NOT NULL,
		new_balance NUMERIC(20,6) NOT NULL,
		sale_ref TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_credit_tx_account
		ON credit_transactions(account_id, seq);

	CREATE TABLE IF NOT EXISTS audit_entries (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		before_json JSONB,
		after_json JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_entries(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_entries(created_at);

	CREATE TABLE IF NOT EXISTS stock_adjustments (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		reason TEXT NOT NULL,
		quantity_before BIGINT NOT NULL,
		quantity_after BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_adjustments_product ON stock_adjustments(product_id);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (s *Store) GetProduct(ctx context.Context, id commerce.ProductID) (*commerce.Product, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, seller_id, name, category, sku, quantity_on_hand, min_stock_level,
		       unit_cost::text, unit_price::text, version, created_at, updated_at
		FROM products WHERE id = $1
	`, id)
	return scanProduct(row)
}

func (s *Store) InsertProduct(ctx context.Context, p *commerce.Product) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products
		(id, seller_id, name, category, sku, quantity_on_hand, min_stock_level,
		 unit_cost, unit_price, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		p.ID, p.SellerID, p.Name, p.Category, p.SKU, p.QuantityOnHand, p.MinStockLevel,
		p.UnitCost.String(), p.UnitPrice.String(), p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context, sellerID commerce.ActorID) ([]commerce.Product, error) {
	query := `
		SELECT id, seller_id, name, category, sku, quantity_on_hand, min_stock_level,
		       unit_cost::text, unit_price::text, version, created_at, updated_at
		FROM products
	`
	args := []any{}
	if sellerID != "" {
		query += " WHERE seller_id = $1"
		args = append(args, sellerID)
	}
	query += " ORDER BY name"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []commerce.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (s *Store) UpdateProductQuantity(ctx context.Context, id commerce.ProductID, quantity int64, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE products
		SET quantity_on_hand = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND version = $3
	`, quantity, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update product quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists int
		err := s.pool.QueryRow(ctx, "SELECT 1 FROM products WHERE id = $1", id).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return commerce.ErrProductNotFound
		}
		if err != nil {
			return err
		}
		return commerce.ErrVersionConflict
	}
	return nil
}

// =============================================================================
// SALES
// =============================================================================

func (s *Store) InsertSale(ctx context.Context, sale *commerce.Sale) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sales
		(id, seller_id, status, payment_method, credit_account_id,
		 customer_name, customer_phone, total_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		sale.ID, sale.SellerID, sale.Status, sale.PaymentMethod,
		nullString(string(sale.CreditAccountID)),
		sale.CustomerName, sale.CustomerPhone,
		sale.TotalAmount.String(), sale.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	return nil
}

func (s *Store) GetSale(ctx context.Context, id commerce.SaleID) (*commerce.Sale, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, seller_id, status, payment_method, credit_account_id,
		       customer_name, customer_phone, total_amount::text, created_at, committed_at, voided_at
		FROM sales WHERE id = $1
	`, id)

	sale, err := scanSale(row)
	if err != nil {
		return nil, err
	}
	items, err := s.loadSaleItems(ctx, id)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, f commerce.SaleFilter) ([]commerce.Sale, error) {
	query := `
		SELECT id, seller_id, status, payment_method, credit_account_id,
		       customer_name, customer_phone, total_amount::text, created_at, committed_at, voided_at
		FROM sales
	`
	var conds []string
	var args []any
	if f.SellerID != nil {
		args = append(args, *f.SellerID)
		conds = append(conds, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	var sales []commerce.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range sales {
		items, err := s.loadSaleItems(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Items = items
	}
	return sales, nil
}

func (s *Store) UpdateSaleStatus(ctx context.Context, id commerce.SaleID, from, to commerce.SaleStatus) error {
	stamp := "voided_at"
	if to == commerce.SaleCommitted {
		stamp = "committed_at"
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf("UPDATE sales SET status = $1, %s = now() WHERE id = $2 AND status = $3", stamp),
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update sale status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists int
		err := s.pool.QueryRow(ctx, "SELECT 1 FROM sales WHERE id = $1", id).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return commerce.ErrSaleNotFound
		}
		if err != nil {
			return err
		}
		return commerce.ErrInvalidStatusTransition
	}
	return nil
}

func (s *Store) InsertSaleItems(ctx context.Context, id commerce.SaleID, items []commerce.SaleLineItem) error {
	for i, item := range items {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO sale_items (sale_id, line_no, product_id, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, i+1, item.ProductID, item.Quantity, item.UnitPrice.String(), item.LineTotal.String())
		if err != nil {
			return fmt.Errorf("failed to insert sale item %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) DeleteSaleItems(ctx context.Context, id commerce.SaleID) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM sale_items WHERE sale_id = $1", id)
	return err
}

func (s *Store) loadSaleItems(ctx context.Context, id commerce.SaleID) ([]commerce.SaleLineItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sale_id, product_id, quantity, unit_price::text, line_total::text
		FROM sale_items WHERE sale_id = $1 ORDER BY line_no
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale items: %w", err)
	}
	defer rows.Close()

	var items []commerce.SaleLineItem
	for rows.Next() {
		var (
			item      commerce.SaleLineItem
			unitPrice string
			lineTotal string
		)
		if err := rows.Scan(&item.SaleID, &item.ProductID, &item.Quantity, &unitPrice, &lineTotal); err != nil {
			return nil, fmt.Errorf("failed to scan sale item: %w", err)
		}
		if item.UnitPrice, err = parseDecimal(unitPrice); err != nil {
			return nil, fmt.Errorf("sale item %s/%s: %w", item.SaleID, item.ProductID, err)
		}
		if item.LineTotal, err = parseDecimal(lineTotal); err != nil {
			return nil, fmt.Errorf("sale item %s/%s: %w", item.SaleID, item.ProductID, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// =============================================================================
// CREDIT
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id commerce.AccountID) (*commerce.CreditAccount, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, counterparty_id, owner_id, credit_limit::text, balance::text, status, version, created_at, updated_at
		FROM credit_accounts WHERE id = $1
	`, id)
	return scanAccount(row)
}

func (s *Store) InsertAccount(ctx context.Context, a *commerce.CreditAccount) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credit_accounts
		(id, counterparty_id, owner_id, credit_limit, balance, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		a.ID, a.CounterpartyID, a.OwnerID,
		a.CreditLimit.String(), a.Balance.String(), a.Status, a.Version,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return commerce.ErrAccountExists
		}
		return fmt.Errorf("failed to insert credit account: %w", err)
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context, ownerID commerce.ActorID) ([]commerce.CreditAccount, error) {
	query := `
		SELECT id, counterparty_id, owner_id, credit_limit::text, balance::text, status, version, created_at, updated_at
		FROM credit_accounts
	`
	args := []any{}
	if ownerID != "" {
		query += " WHERE owner_id = $1"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit accounts: %w", err)
	}
	defer rows.Close()

	var accounts []commerce.CreditAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *Store) FindAccount(ctx context.Context, ownerID, counterpartyID commerce.ActorID) (*commerce.CreditAccount, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, counterparty_id, owner_id, credit_limit::text, balance::text, status, version, created_at, updated_at
		FROM credit_accounts WHERE owner_id = $1 AND counterparty_id = $2
	`, ownerID, counterpartyID)
	return scanAccount(row)
}

func (s *Store) UpdateAccount(ctx context.Context, a *commerce.CreditAccount, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE credit_accounts
		SET balance = $1, credit_limit = $2, status = $3, version = version + 1, updated_at = now()
		WHERE id = $4 AND version = $5
	`,
		a.Balance.String(), a.CreditLimit.String(), a.Status, a.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update credit account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists int
		err := s.pool.QueryRow(ctx, "SELECT 1 FROM credit_accounts WHERE id = $1", a.ID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return commerce.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return commerce.ErrVersionConflict
	}
	return nil
}

func (s *Store) AppendCreditTransaction(ctx context.Context, tx *commerce.CreditTransaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credit_transactions
		(id, account_id, tx_type, amount, previous_balance, new_balance, sale_ref, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		tx.ID, tx.AccountID, tx.Type,
		tx.Amount.String(), tx.PreviousBalance.String(), tx.NewBalance.String(),
		string(tx.SaleRef), tx.Note, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append credit transaction: %w", err)
	}
	return nil
}

func (s *Store) ListCreditTransactions(ctx context.Context, f commerce.CreditTxFilter) ([]commerce.CreditTransaction, error) {
	query := `
		SELECT id, account_id, tx_type, amount::text, previous_balance::text, new_balance::text, sale_ref, note, created_at
		FROM credit_transactions
	`
	var conds []string
	var args []any
	if f.AccountID != nil {
		args = append(args, *f.AccountID)
		conds = append(conds, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	// seq preserves posting order even across identical timestamps
	query += " ORDER BY seq"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit transactions: %w", err)
	}
	defer rows.Close()

	var txs []commerce.CreditTransaction
	for rows.Next() {
		var (
			tx      commerce.CreditTransaction
			amount  string
			prev    string
			newBal  string
			saleRef string
		)
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Type, &amount, &prev, &newBal, &saleRef, &tx.Note, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		if tx.Amount, err = parseDecimal(amount); err != nil {
			return nil, fmt.Errorf("credit transaction %s: %w", tx.ID, err)
		}
		if tx.PreviousBalance, err = parseDecimal(prev); err != nil {
			return nil, fmt.Errorf("credit transaction %s: %w", tx.ID, err)
		}
		if tx.NewBalance, err = parseDecimal(newBal); err != nil {
			return nil, fmt.Errorf("credit transaction %s: %w", tx.ID, err)
		}
		tx.SaleRef = commerce.SaleID(saleRef)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// AUDIT
// =============================================================================

func (s *Store) AppendAuditEntry(ctx context.Context, e *commerce.AuditEntry) error {
	beforeJSON, err := json.Marshal(e.Before)
	if err != nil {
		return fmt.Errorf("failed to marshal before image: %w", err)
	}
	afterJSON, err := json.Marshal(e.After)
	if err != nil {
		return fmt.Errorf("failed to marshal after image: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_entries
		(id, actor_id, action, entity_type, entity_id, before_json, after_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID,
		beforeJSON, afterJSON, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListAuditEntries(ctx context.Context, f commerce.AuditFilter) ([]commerce.AuditEntry, error) {
	query := `
		SELECT id, actor_id, action, entity_type, entity_id, before_json, after_json, created_at
		FROM audit_entries
	`
	var conds []string
	var args []any
	if f.ActorID != nil {
		args = append(args, *f.ActorID)
		conds = append(conds, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if f.EntityType != nil {
		args = append(args, *f.EntityType)
		conds = append(conds, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if f.EntityID != nil {
		args = append(args, *f.EntityID)
		conds = append(conds, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []commerce.AuditEntry
	for rows.Next() {
		var (
			e          commerce.AuditEntry
			beforeJSON []byte
			afterJSON  []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &beforeJSON, &afterJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(beforeJSON) > 0 {
			if err := json.Unmarshal(beforeJSON, &e.Before); err != nil {
				return nil, fmt.Errorf("failed to unmarshal before image: %w", err)
			}
		}
		if len(afterJSON) > 0 {
			if err := json.Unmarshal(afterJSON, &e.After); err != nil {
				return nil, fmt.Errorf("failed to unmarshal after image: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func (s *Store) InsertAdjustment(ctx context.Context, a *commerce.AdjustmentRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stock_adjustments
		(id, product_id, actor_id, direction, quantity, reason, quantity_before, quantity_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		a.ID, a.ProductID, a.ActorID, a.Direction, a.Quantity, a.Reason,
		a.QuantityBefore, a.QuantityAfter, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert adjustment: %w", err)
	}
	return nil
}

func (s *Store) ListAdjustments(ctx context.Context, f commerce.AdjustmentFilter) ([]commerce.AdjustmentRecord, error) {
	query := `
		SELECT id, product_id, actor_id, direction, quantity, reason, quantity_before, quantity_after, created_at
		FROM stock_adjustments
	`
	var conds []string
	var args []any
	if f.ProductID != nil {
		args = append(args, *f.ProductID)
		conds = append(conds, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	defer rows.Close()

	var records []commerce.AdjustmentRecord
	for rows.Next() {
		var a commerce.AdjustmentRecord
		if err := rows.Scan(&a.ID, &a.ProductID, &a.ActorID, &a.Direction, &a.Quantity, &a.Reason,
			&a.QuantityBefore, &a.QuantityAfter, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		records = append(records, a)
	}
	return records, rows.Err()
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*commerce.Product, error) {
	var (
		p         commerce.Product
		unitCost  string
		unitPrice string
	)
	err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.Category, &p.SKU,
		&p.QuantityOnHand, &p.MinStockLevel, &unitCost, &unitPrice,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, commerce.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	if p.UnitCost, err = parseDecimal(unitCost); err != nil {
		return nil, fmt.Errorf("product %s: %w", p.ID, err)
	}
	if p.UnitPrice, err = parseDecimal(unitPrice); err != nil {
		return nil, fmt.Errorf("product %s: %w", p.ID, err)
	}
	return &p, nil
}

func scanSale(row rowScanner) (*commerce.Sale, error) {
	var (
		sale        commerce.Sale
		accountID   *string
		total       string
		committedAt *time.Time
		voidedAt    *time.Time
	)
	err := row.Scan(&sale.ID, &sale.SellerID, &sale.Status, &sale.PaymentMethod,
		&accountID, &sale.CustomerName, &sale.CustomerPhone, &total,
		&sale.CreatedAt, &committedAt, &voidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, commerce.ErrSaleNotFound
		}
		return nil, fmt.Errorf("failed to scan sale: %w", err)
	}
	if accountID != nil {
		sale.CreditAccountID = commerce.AccountID(*accountID)
	}
	if sale.TotalAmount, err = parseDecimal(total); err != nil {
		return nil, fmt.Errorf("sale %s: %w", sale.ID, err)
	}
	sale.CommittedAt = committedAt
	sale.VoidedAt = voidedAt
	return &sale, nil
}

func scanAccount(row rowScanner) (*commerce.CreditAccount, error) {
	var (
		a       commerce.CreditAccount
		limit   string
		balance string
	)
	err := row.Scan(&a.ID, &a.CounterpartyID, &a.OwnerID, &limit, &balance,
		&a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, commerce.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan credit account: %w", err)
	}
	if a.CreditLimit, err = parseDecimal(limit); err != nil {
		return nil, fmt.Errorf("credit account %s: %w", a.ID, err)
	}
	if a.Balance, err = parseDecimal(balance); err != nil {
		return nil, fmt.Errorf("credit account %s: %w", a.ID, err)
	}
	return &a, nil
}

// parseDecimal refuses corrupt rows rather than coercing them to zero; a
// silently zeroed amount would mask a broken balance chain.
func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("corrupt decimal %q: %w", s, err)
	}
	return d, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
