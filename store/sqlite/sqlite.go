/*
Package sqlite provides a SQLite-backed implementation of commerce.Store.

PURPOSE:
  Persists the ledger core's entities in SQLite. Suited to single-node
  deployments; the same patterns apply to PostgreSQL via store/postgres.

CONTRACT:
  Matches the remote-store model the core is written against: per-entity
  statements only, no multi-entity transaction offered to callers.
  Cross-entity consistency stays the SaleProcessor's responsibility.

OPTIMISTIC CONCURRENCY:
  Versioned updates are single UPDATE statements guarded by
  `AND version = ?`; zero affected rows means a stale read and surfaces
  commerce.ErrVersionConflict.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for credit_transactions,
  audit_entries, or stock_adjustments.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  st, err := sqlite.New("./data/ledger.db")   // ":memory:" for tests
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - commerce/store.go: Interface definitions
  - store/postgres: PostgreSQL implementation of the same contract
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/jujuhimself/bepawa-ledger/commerce"
)

// Store implements commerce.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// races between the pooled connections of one process.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT,
		sku TEXT,
		quantity_on_hand INTEGER NOT NULL CHECK (quantity_on_hand >= 0),
		min_stock_level INTEGER NOT NULL DEFAULT 0,
		unit_cost TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_products_seller ON products(seller_id);

	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		credit_account_id TEXT,
		customer_name TEXT,
		customer_phone TEXT,
		total_amount TEXT NOT NULL,
		created_at TEXT NOT NULL,
		committed_at TEXT,
		voided_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sales_seller_status ON sales(seller_id, status);
	CREATE INDEX IF NOT EXISTS idx_sales_created_at ON sales(created_at);

	CREATE TABLE IF NOT EXISTS sale_items (
		sale_id TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		line_total TEXT NOT NULL,
		PRIMARY KEY (sale_id, line_no)
	);

	CREATE TABLE IF NOT EXISTS credit_accounts (
		id TEXT PRIMARY KEY,
		counterparty_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		credit_limit TEXT NOT NULL,
		balance TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_owner_counterparty
		ON credit_accounts(owner_id, counterparty_id);

	-- Append-only: the balance chain of each account
	CREATE TABLE IF NOT EXISTS credit_transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		previous_balance TEXT NOT NULL,
		new_balance TEXT NOT NULL,
		sale_ref TEXT,
		note TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_credit_tx_account
		ON credit_transactions(account_id, created_at);

	-- Append-only: one entry per state-changing operation
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		before_json TEXT,
		after_json TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_entries(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_entries(created_at);

	-- Append-only: manual stock corrections with their reasons
	CREATE TABLE IF NOT EXISTS stock_adjustments (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		reason TEXT NOT NULL,
		quantity_before INTEGER NOT NULL,
		quantity_after INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_adjustments_product ON stock_adjustments(product_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (s *Store) GetProduct(ctx context.Context, id commerce.ProductID) (*commerce.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seller_id, name, category, sku, quantity_on_hand, min_stock_level,
		       unit_cost, unit_price, version, created_at, updated_at
		FROM products WHERE id = ?
	`, id)
	return scanProduct(row)
}

func (s *Store) InsertProduct(ctx context.Context, p *commerce.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products
		(id, seller_id, name, category, sku, quantity_on_hand, min_stock_level,
		 unit_cost, unit_price, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.SellerID, p.Name, p.Category, p.SKU, p.QuantityOnHand, p.MinStockLevel,
		p.UnitCost.String(), p.UnitPrice.String(), p.Version,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context, sellerID commerce.ActorID) ([]commerce.Product, error) {
	query := `
		SELECT id, seller_id, name, category, sku, quantity_on_hand, min_stock_level,
		       unit_cost, unit_price, version, created_at, updated_at
		FROM products
	`
	args := []any{}
	if sellerID != "" {
		query += " WHERE seller_id = ?"
		args = append(args, sellerID)
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET quantity_on_hand = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, quantity, formatTime(time.Now().UTC()), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update product quantity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the product is gone or another writer bumped the version.
		var exists int
		if err := s.db.QueryRowContext(ctx, "SELECT 1 FROM products WHERE id = ?", id).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return commerce.ErrProductNotFound
			}
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales
		(id, seller_id, status, payment_method, credit_account_id,
		 customer_name, customer_phone, total_amount, created_at, committed_at, voided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)
	`,
		sale.ID, sale.SellerID, sale.Status, sale.PaymentMethod,
		nullString(string(sale.CreditAccountID)),
		sale.CustomerName, sale.CustomerPhone,
		sale.TotalAmount.String(), formatTime(sale.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	return nil
}

func (s *Store) GetSale(ctx context.Context, id commerce.SaleID) (*commerce.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seller_id, status, payment_method, credit_account_id,
		       customer_name, customer_phone, total_amount, created_at, committed_at, voided_at
		FROM sales WHERE id = ?
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
		       customer_name, customer_phone, total_amount, created_at, committed_at, voided_at
		FROM sales
	`
	var conds []string
	var args []any
	if f.SellerID != nil {
		conds = append(conds, "seller_id = ?")
		args = append(args, *f.SellerID)
	}
	if f.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, *f.Status)
	}
	if f.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(*f.To))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE sales SET status = ?, %s = ? WHERE id = ? AND status = ?", stamp),
		to, formatTime(time.Now().UTC()), id, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update sale status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, "SELECT 1 FROM sales WHERE id = ?", id).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return commerce.ErrSaleNotFound
			}
			return err
		}
		return commerce.ErrInvalidStatusTransition
	}
	return nil
}

func (s *Store) InsertSaleItems(ctx context.Context, id commerce.SaleID, items []commerce.SaleLineItem) error {
	for i, item := range items {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, product_id, quantity, unit_price, line_total)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, i+1, item.ProductID, item.Quantity, item.UnitPrice.String(), item.LineTotal.String())
		if err != nil {
			return fmt.Errorf("failed to insert sale item %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) DeleteSaleItems(ctx context.Context, id commerce.SaleID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sale_items WHERE sale_id = ?", id)
	return err
}

func (s *Store) loadSaleItems(ctx context.Context, id commerce.SaleID) ([]commerce.SaleLineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, quantity, unit_price, line_total
		FROM sale_items WHERE sale_id = ? ORDER BY line_no
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
	row := s.db.QueryRowContext(ctx, `
		SELECT id, counterparty_id, owner_id, credit_limit, balance, status, version, created_at, updated_at
		FROM credit_accounts WHERE id = ?
	`, id)
	return scanAccount(row)
}

func (s *Store) InsertAccount(ctx context.Context, a *commerce.CreditAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_accounts
		(id, counterparty_id, owner_id, credit_limit, balance, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.CounterpartyID, a.OwnerID,
		a.CreditLimit.String(), a.Balance.String(), a.Status, a.Version,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
				sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
			return commerce.ErrAccountExists
		}
		return fmt.Errorf("failed to insert credit account: %w", err)
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context, ownerID commerce.ActorID) ([]commerce.CreditAccount, error) {
	query := `
		SELECT id, counterparty_id, owner_id, credit_limit, balance, status, version, created_at, updated_at
		FROM credit_accounts
	`
	args := []any{}
	if ownerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	row := s.db.QueryRowContext(ctx, `
		SELECT id, counterparty_id, owner_id, credit_limit, balance, status, version, created_at, updated_at
		FROM credit_accounts WHERE owner_id = ? AND counterparty_id = ?
	`, ownerID, counterpartyID)
	return scanAccount(row)
}

func (s *Store) UpdateAccount(ctx context.Context, a *commerce.CreditAccount, expectedVersion int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_accounts
		SET balance = ?, credit_limit = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		a.Balance.String(), a.CreditLimit.String(), a.Status,
		formatTime(time.Now().UTC()), a.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update credit account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, "SELECT 1 FROM credit_accounts WHERE id = ?", a.ID).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return commerce.ErrAccountNotFound
			}
			return err
		}
		return commerce.ErrVersionConflict
	}
	return nil
}

func (s *Store) AppendCreditTransaction(ctx context.Context, tx *commerce.CreditTransaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_transactions
		(id, account_id, tx_type, amount, previous_balance, new_balance, sale_ref, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.AccountID, tx.Type,
		tx.Amount.String(), tx.PreviousBalance.String(), tx.NewBalance.String(),
		nullString(string(tx.SaleRef)), tx.Note, formatTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append credit transaction: %w", err)
	}
	return nil
}

func (s *Store) ListCreditTransactions(ctx context.Context, f commerce.CreditTxFilter) ([]commerce.CreditTransaction, error) {
	query := `
		SELECT id, account_id, tx_type, amount, previous_balance, new_balance, sale_ref, note, created_at
		FROM credit_transactions
	`
	var conds []string
	var args []any
	if f.AccountID != nil {
		conds = append(conds, "account_id = ?")
		args = append(args, *f.AccountID)
	}
	if f.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(*f.To))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	// rowid breaks created_at ties in insertion order so the chain stays
	// replayable even for postings within the same timestamp granularity
	query += " ORDER BY created_at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit transactions: %w", err)
	}
	defer rows.Close()

	var txs []commerce.CreditTransaction
	for rows.Next() {
		var (
			tx        commerce.CreditTransaction
			amount    string
			prev      string
			newBal    string
			saleRef   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Type, &amount, &prev, &newBal, &saleRef, &tx.Note, &createdAt); err != nil {
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
		tx.SaleRef = commerce.SaleID(saleRef.String)
		if tx.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("credit transaction %s: %w", tx.ID, err)
		}
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries
		(id, actor_id, action, entity_type, entity_id, before_json, after_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID,
		string(beforeJSON), string(afterJSON), formatTime(e.CreatedAt),
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
		conds = append(conds, "actor_id = ?")
		args = append(args, *f.ActorID)
	}
	if f.EntityType != nil {
		conds = append(conds, "entity_type = ?")
		args = append(args, *f.EntityType)
	}
	if f.EntityID != nil {
		conds = append(conds, "entity_id = ?")
		args = append(args, *f.EntityID)
	}
	if f.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(*f.To))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []commerce.AuditEntry
	for rows.Next() {
		var (
			e          commerce.AuditEntry
			beforeJSON sql.NullString
			afterJSON  sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &beforeJSON, &afterJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if beforeJSON.Valid && beforeJSON.String != "" && beforeJSON.String != "null" {
			if err := json.Unmarshal([]byte(beforeJSON.String), &e.Before); err != nil {
				return nil, fmt.Errorf("failed to unmarshal before image: %w", err)
			}
		}
		if afterJSON.Valid && afterJSON.String != "" && afterJSON.String != "null" {
			if err := json.Unmarshal([]byte(afterJSON.String), &e.After); err != nil {
				return nil, fmt.Errorf("failed to unmarshal after image: %w", err)
			}
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("audit entry %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func (s *Store) InsertAdjustment(ctx context.Context, a *commerce.AdjustmentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_adjustments
		(id, product_id, actor_id, direction, quantity, reason, quantity_before, quantity_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.ProductID, a.ActorID, a.Direction, a.Quantity, a.Reason,
		a.QuantityBefore, a.QuantityAfter, formatTime(a.CreatedAt),
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
		conds = append(conds, "product_id = ?")
		args = append(args, *f.ProductID)
	}
	if f.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(*f.To))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	defer rows.Close()

	var records []commerce.AdjustmentRecord
	for rows.Next() {
		var (
			a         commerce.AdjustmentRecord
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.ProductID, &a.ActorID, &a.Direction, &a.Quantity, &a.Reason,
			&a.QuantityBefore, &a.QuantityAfter, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("adjustment %s: %w", a.ID, err)
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
		category  sql.NullString
		sku       sql.NullString
		unitCost  string
		unitPrice string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&p.ID, &p.SellerID, &p.Name, &category, &sku,
		&p.QuantityOnHand, &p.MinStockLevel, &unitCost, &unitPrice,
		&p.Version, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, commerce.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	p.Category = category.String
	p.SKU = sku.String
	if p.UnitCost, err = parseDecimal(unitCost); err != nil {
		return nil, fmt.Errorf("product %s: %w", p.ID, err)
	}
	if p.UnitPrice, err = parseDecimal(unitPrice); err != nil {
		return nil, fmt.Errorf("product %s: %w", p.ID, err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("product %s: %w", p.ID, err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("product %s: %w", p.ID, err)
	}
	return &p, nil
}

func scanSale(row rowScanner) (*commerce.Sale, error) {
	var (
		sale        commerce.Sale
		accountID   sql.NullString
		name        sql.NullString
		phone       sql.NullString
		total       string
		createdAt   string
		committedAt sql.NullString
		voidedAt    sql.NullString
	)
	err := row.Scan(&sale.ID, &sale.SellerID, &sale.Status, &sale.PaymentMethod,
		&accountID, &name, &phone, &total, &createdAt, &committedAt, &voidedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, commerce.ErrSaleNotFound
		}
		return nil, fmt.Errorf("failed to scan sale: %w", err)
	}
	sale.CreditAccountID = commerce.AccountID(accountID.String)
	sale.CustomerName = name.String
	sale.CustomerPhone = phone.String
	if sale.TotalAmount, err = parseDecimal(total); err != nil {
		return nil, fmt.Errorf("sale %s: %w", sale.ID, err)
	}
	if sale.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("sale %s: %w", sale.ID, err)
	}
	if committedAt.Valid {
		t, err := parseTime(committedAt.String)
		if err != nil {
			return nil, fmt.Errorf("sale %s: %w", sale.ID, err)
		}
		sale.CommittedAt = &t
	}
	if voidedAt.Valid {
		t, err := parseTime(voidedAt.String)
		if err != nil {
			return nil, fmt.Errorf("sale %s: %w", sale.ID, err)
		}
		sale.VoidedAt = &t
	}
	return &sale, nil
}

func scanAccount(row rowScanner) (*commerce.CreditAccount, error) {
	var (
		a         commerce.CreditAccount
		limit     string
		balance   string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&a.ID, &a.CounterpartyID, &a.OwnerID, &limit, &balance,
		&a.Status, &a.Version, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
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
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("credit account %s: %w", a.ID, err)
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
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

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
