/*
Package sqlite provides a SQLite-backed implementation of the ledger
storage interfaces.

PURPOSE:
  Implements ledger.Store and ledger.TxStore using SQLite. In production
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  customers:    One row per ledger owner. Settled and deleted are flags,
                never row deletions.
  transactions: One row per credit/debit entry. AUTOINCREMENT ids record
                the insertion sequence that breaks same-day ties.
                Soft-deleted rows keep their id (audit view) and are
                filtered out of every ordered read.

ATOMICITY:
  WithTx wraps a mutation and its suffix rewrite in one database
  transaction. All reads inside the closure go through the same *sql.Tx,
  so the rewrite sees its own uncommitted mutation and a fault rolls
  everything back together.

AMOUNT ENCODING:
  Balances are stored in the canonical text form ("1234.50 CR") and
  parsed back through ledger.ParseAmount, keeping the fixed-point decimal
  representation exact end to end. Entry magnitudes are stored as plain
  decimal text.

INDEXES:
  - idx_transactions_customer_order: suffix reads in (entry_date, id)
    order per customer (hot path for recalculation)
  - idx_transactions_date: cross-customer date-range reports
  - idx_transactions_customer_fy: financial-year listings

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so statement reads
  don't block behind a recalculation in progress.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, nil)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions and ordering contract
  - ledger/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/khata/ledger-engine/ledger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Store implements ledger.TxStore on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		opening_balance TEXT NOT NULL,
		opening_balance_date TEXT NOT NULL,
		is_settled INTEGER NOT NULL DEFAULT 0,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_customers_name
		ON customers(name) WHERE is_deleted = 0;

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		entry_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('CR', 'DR')),
		note TEXT,
		running_balance TEXT NOT NULL DEFAULT '0.00 CR',
		financial_year INTEGER NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_customer_order
		ON transactions(customer_id, entry_date, id) WHERE is_deleted = 0;

	CREATE INDEX IF NOT EXISTS idx_transactions_date
		ON transactions(entry_date) WHERE is_deleted = 0;

	CREATE INDEX IF NOT EXISTS idx_transactions_customer_fy
		ON transactions(customer_id, financial_year) WHERE is_deleted = 0;
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so every query can run
// inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (s *Store) SaveCustomer(ctx context.Context, c ledger.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveCustomer(ctx, s.db, c)
}

func saveCustomer(ctx context.Context, q dbtx, c ledger.Customer) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO customers
		(id, name, phone, opening_balance, opening_balance_date, is_settled, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Phone,
		c.OpeningBalance.String(),
		c.OpeningBalanceDate.String(),
		boolToInt(c.IsSettled), boolToInt(c.IsDeleted),
		c.CreatedAt.UTC().Format(time.RFC3339),
		c.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

func (s *Store) UpdateCustomer(ctx context.Context, c ledger.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateCustomer(ctx, s.db, c)
}

func updateCustomer(ctx context.Context, q dbtx, c ledger.Customer) error {
	res, err := q.ExecContext(ctx, `
		UPDATE customers SET
			name = ?, phone = ?, opening_balance = ?, opening_balance_date = ?,
			is_settled = ?, is_deleted = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.Phone,
		c.OpeningBalance.String(),
		c.OpeningBalanceDate.String(),
		boolToInt(c.IsSettled), boolToInt(c.IsDeleted),
		c.UpdatedAt.UTC().Format(time.RFC3339),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrCustomerNotFound
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCustomer(ctx, s.db, id)
}

func getCustomer(ctx context.Context, q dbtx, id string) (*ledger.Customer, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, phone, opening_balance, opening_balance_date,
		       is_settled, is_deleted, created_at, updated_at
		FROM customers WHERE id = ?`, id)

	c, err := scanCustomer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCustomers(ctx, s.db)
}

func listCustomers(ctx context.Context, q dbtx) ([]ledger.Customer, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, phone, opening_balance, opening_balance_date,
		       is_settled, is_deleted, created_at, updated_at
		FROM customers
		WHERE is_deleted = 0
		ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []ledger.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (*ledger.Customer, error) {
	var (
		c                    ledger.Customer
		phone                sql.NullString
		opening              string
		openingDate          string
		settled, deleted     int
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.Name, &phone, &opening, &openingDate,
		&settled, &deleted, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	c.Phone = phone.String
	if c.OpeningBalance, err = ledger.ParseAmount(opening); err != nil {
		return nil, fmt.Errorf("failed to scan customer %s: %w", c.ID, err)
	}
	if c.OpeningBalanceDate, err = ledger.ParseDate(openingDate); err != nil {
		return nil, fmt.Errorf("failed to scan customer %s: %w", c.ID, err)
	}
	c.IsSettled = settled != 0
	c.IsDeleted = deleted != 0
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &c, nil
}

// =============================================================================
// ENTRIES
// =============================================================================

const entryColumns = `id, customer_id, entry_date, amount, kind, note,
	running_balance, financial_year, is_deleted, created_at`

func (s *Store) InsertEntry(ctx context.Context, tx ledger.Transaction) (ledger.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertEntry(ctx, s.db, tx)
}

func insertEntry(ctx context.Context, q dbtx, tx ledger.Transaction) (ledger.EntryID, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO transactions
		(customer_id, entry_date, amount, kind, note, running_balance, financial_year, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		tx.CustomerID,
		tx.Date.String(),
		tx.Amount.String(),
		string(tx.Kind),
		tx.Note,
		tx.RunningBalance.String(),
		tx.FinancialYear,
		tx.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read entry id: %w", err)
	}
	return ledger.EntryID(id), nil
}

func (s *Store) UpdateEntry(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateEntry(ctx, s.db, tx)
}

func updateEntry(ctx context.Context, q dbtx, tx ledger.Transaction) error {
	res, err := q.ExecContext(ctx, `
		UPDATE transactions SET
			entry_date = ?, amount = ?, kind = ?, note = ?, financial_year = ?
		WHERE id = ? AND is_deleted = 0`,
		tx.Date.String(), tx.Amount.String(), string(tx.Kind), tx.Note, tx.FinancialYear,
		int64(tx.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrEntryNotFound
	}
	return nil
}

func (s *Store) MarkEntryDeleted(ctx context.Context, id ledger.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markEntryDeleted(ctx, s.db, id)
}

func markEntryDeleted(ctx context.Context, q dbtx, id ledger.EntryID) error {
	res, err := q.ExecContext(ctx,
		`UPDATE transactions SET is_deleted = 1 WHERE id = ? AND is_deleted = 0`,
		int64(id),
	)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrEntryNotFound
	}
	return nil
}

func (s *Store) SetRunningBalance(ctx context.Context, id ledger.EntryID, balance ledger.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setRunningBalance(ctx, s.db, id, balance)
}

func setRunningBalance(ctx context.Context, q dbtx, id ledger.EntryID, balance ledger.Amount) error {
	res, err := q.ExecContext(ctx,
		`UPDATE transactions SET running_balance = ? WHERE id = ?`,
		balance.String(), int64(id),
	)
	if err != nil {
		return fmt.Errorf("failed to set running balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrEntryNotFound
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id ledger.EntryID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEntry(ctx, s.db, id)
}

func getEntry(ctx context.Context, q dbtx, id ledger.EntryID) (*ledger.Transaction, error) {
	txs, err := queryEntries(ctx, q,
		`SELECT `+entryColumns+` FROM transactions WHERE id = ?`, int64(id))
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (s *Store) Entries(ctx context.Context, customerID string) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entries(ctx, s.db, customerID)
}

func entries(ctx context.Context, q dbtx, customerID string) ([]ledger.Transaction, error) {
	return queryEntries(ctx, q, `
		SELECT `+entryColumns+` FROM transactions
		WHERE customer_id = ? AND is_deleted = 0
		ORDER BY entry_date, id`, customerID)
}

func (s *Store) DeletedEntries(ctx context.Context, customerID string) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deletedEntries(ctx, s.db, customerID)
}

func deletedEntries(ctx context.Context, q dbtx, customerID string) ([]ledger.Transaction, error) {
	return queryEntries(ctx, q, `
		SELECT `+entryColumns+` FROM transactions
		WHERE customer_id = ? AND is_deleted = 1
		ORDER BY entry_date, id`, customerID)
}

func (s *Store) EntriesInRange(ctx context.Context, customerID string, from, to ledger.Date) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entriesInRange(ctx, s.db, customerID, from, to)
}

func entriesInRange(ctx context.Context, q dbtx, customerID string, from, to ledger.Date) ([]ledger.Transaction, error) {
	return queryEntries(ctx, q, `
		SELECT `+entryColumns+` FROM transactions
		WHERE customer_id = ? AND is_deleted = 0
		  AND entry_date >= ? AND entry_date <= ?
		ORDER BY entry_date, id`,
		customerID, from.String(), to.String())
}

func (s *Store) EntriesOnOrAfter(ctx context.Context, customerID string, pos ledger.Position) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entriesOnOrAfter(ctx, s.db, customerID, pos)
}

func entriesOnOrAfter(ctx context.Context, q dbtx, customerID string, pos ledger.Position) ([]ledger.Transaction, error) {
	return queryEntries(ctx, q, `
		SELECT `+entryColumns+` FROM transactions
		WHERE customer_id = ? AND is_deleted = 0
		  AND (entry_date > ? OR (entry_date = ? AND id >= ?))
		ORDER BY entry_date, id`,
		customerID, pos.Date.String(), pos.Date.String(), int64(pos.ID))
}

func (s *Store) LastEntryBefore(ctx context.Context, customerID string, pos ledger.Position) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastEntryBefore(ctx, s.db, customerID, pos)
}

func lastEntryBefore(ctx context.Context, q dbtx, customerID string, pos ledger.Position) (*ledger.Transaction, error) {
	txs, err := queryEntries(ctx, q, `
		SELECT `+entryColumns+` FROM transactions
		WHERE customer_id = ? AND is_deleted = 0
		  AND (entry_date < ? OR (entry_date = ? AND id < ?))
		ORDER BY entry_date DESC, id DESC
		LIMIT 1`,
		customerID, pos.Date.String(), pos.Date.String(), int64(pos.ID))
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (s *Store) AllEntriesInRange(ctx context.Context, from, to ledger.Date) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return allEntriesInRange(ctx, s.db, from, to)
}

func allEntriesInRange(ctx context.Context, q dbtx, from, to ledger.Date) ([]ledger.Transaction, error) {
	return queryEntries(ctx, q, `
		SELECT `+entryColumns+` FROM transactions
		WHERE is_deleted = 0 AND entry_date >= ? AND entry_date <= ?
		ORDER BY entry_date, id`,
		from.String(), to.String())
}

func queryEntries(ctx context.Context, q dbtx, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx        ledger.Transaction
		id        int64
		entryDate string
		amount    string
		kind      string
		note      sql.NullString
		balance   string
		deleted   int
		createdAt string
	)
	err := rows.Scan(&id, &tx.CustomerID, &entryDate, &amount, &kind, &note,
		&balance, &tx.FinancialYear, &deleted, &createdAt)
	if err != nil {
		return tx, fmt.Errorf("failed to scan entry: %w", err)
	}

	tx.ID = ledger.EntryID(id)
	if tx.Date, err = ledger.ParseDate(entryDate); err != nil {
		return tx, fmt.Errorf("failed to scan entry %d: %w", id, err)
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return tx, fmt.Errorf("failed to scan entry %d: %w", id, err)
	}
	tx.Kind = ledger.Polarity(strings.ToUpper(kind))
	tx.Note = note.String
	if tx.RunningBalance, err = ledger.ParseAmount(balance); err != nil {
		return tx, fmt.Errorf("failed to scan entry %d: %w", id, err)
	}
	tx.IsDeleted = deleted != 0
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return tx, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction. Reads inside the
// closure run against the same *sql.Tx as the writes, so a suffix rewrite
// sees the mutation that triggered it.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every Store call through one *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveCustomer(ctx context.Context, c ledger.Customer) error {
	return saveCustomer(ctx, ts.tx, c)
}

func (ts *txStore) UpdateCustomer(ctx context.Context, c ledger.Customer) error {
	return updateCustomer(ctx, ts.tx, c)
}

func (ts *txStore) GetCustomer(ctx context.Context, id string) (*ledger.Customer, error) {
	return getCustomer(ctx, ts.tx, id)
}

func (ts *txStore) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	return listCustomers(ctx, ts.tx)
}

func (ts *txStore) InsertEntry(ctx context.Context, tx ledger.Transaction) (ledger.EntryID, error) {
	return insertEntry(ctx, ts.tx, tx)
}

func (ts *txStore) UpdateEntry(ctx context.Context, tx ledger.Transaction) error {
	return updateEntry(ctx, ts.tx, tx)
}

func (ts *txStore) MarkEntryDeleted(ctx context.Context, id ledger.EntryID) error {
	return markEntryDeleted(ctx, ts.tx, id)
}

func (ts *txStore) SetRunningBalance(ctx context.Context, id ledger.EntryID, balance ledger.Amount) error {
	return setRunningBalance(ctx, ts.tx, id, balance)
}

func (ts *txStore) GetEntry(ctx context.Context, id ledger.EntryID) (*ledger.Transaction, error) {
	return getEntry(ctx, ts.tx, id)
}

func (ts *txStore) Entries(ctx context.Context, customerID string) ([]ledger.Transaction, error) {
	return entries(ctx, ts.tx, customerID)
}

func (ts *txStore) DeletedEntries(ctx context.Context, customerID string) ([]ledger.Transaction, error) {
	return deletedEntries(ctx, ts.tx, customerID)
}

func (ts *txStore) EntriesInRange(ctx context.Context, customerID string, from, to ledger.Date) ([]ledger.Transaction, error) {
	return entriesInRange(ctx, ts.tx, customerID, from, to)
}

func (ts *txStore) EntriesOnOrAfter(ctx context.Context, customerID string, pos ledger.Position) ([]ledger.Transaction, error) {
	return entriesOnOrAfter(ctx, ts.tx, customerID, pos)
}

func (ts *txStore) LastEntryBefore(ctx context.Context, customerID string, pos ledger.Position) (*ledger.Transaction, error) {
	return lastEntryBefore(ctx, ts.tx, customerID, pos)
}

func (ts *txStore) AllEntriesInRange(ctx context.Context, from, to ledger.Date) ([]ledger.Transaction, error) {
	return allEntriesInRange(ctx, ts.tx, from, to)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
