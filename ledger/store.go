/*
store.go - Persistence interface for customers and transactions

PURPOSE:
  Defines the interface between the engine and the database. The two
  implementations are store/sqlite (production) and ledger/store
  (in-memory, tests/dev).

ORDERING CONTRACT:
  Every method returning multiple entries yields them in (Date, ID)
  ascending order - the one total order the system defines. Soft-deleted
  entries are excluded everywhere except GetEntry and DeletedEntries.

ATOMICITY CONTRACT:
  TxStore.WithTx is the transaction boundary the recalculation engine
  relies on: the mutated row and every rewritten running balance commit
  together or not at all. A partially applied recompute must never be
  observable.

SEE ALSO:
  - engine.go: The only writer
  - store/sqlite/sqlite.go, ledger/store/memory.go: Implementations
*/
package ledger

import "context"

// Store handles persistence of customers and ledger entries.
// RunningBalance is only ever written through SetRunningBalance, and only
// by the recalculation engine.
type Store interface {
	// --- Customers ---

	// SaveCustomer inserts a new customer record.
	SaveCustomer(ctx context.Context, c Customer) error

	// UpdateCustomer rewrites a customer record in place.
	UpdateCustomer(ctx context.Context, c Customer) error

	// GetCustomer returns a customer by id, including settled and
	// soft-deleted ones. Returns (nil, nil) when missing.
	GetCustomer(ctx context.Context, id string) (*Customer, error)

	// ListCustomers returns all non-deleted customers, ordered by name.
	ListCustomers(ctx context.Context) ([]Customer, error)

	// --- Entries ---

	// InsertEntry persists a new entry and returns its assigned id.
	// Ids are monotonically increasing in insertion order.
	InsertEntry(ctx context.Context, tx Transaction) (EntryID, error)

	// UpdateEntry rewrites an entry's date, amount, kind, note and
	// financial year. RunningBalance is left untouched.
	UpdateEntry(ctx context.Context, tx Transaction) error

	// MarkEntryDeleted soft-deletes an entry. The row stays addressable
	// by id but disappears from every ordered read.
	MarkEntryDeleted(ctx context.Context, id EntryID) error

	// SetRunningBalance persists a recomputed running balance.
	SetRunningBalance(ctx context.Context, id EntryID, balance Amount) error

	// GetEntry returns an entry by id, deleted or not.
	// Returns (nil, nil) when missing.
	GetEntry(ctx context.Context, id EntryID) (*Transaction, error)

	// Entries returns a customer's non-deleted entries in ledger order.
	Entries(ctx context.Context, customerID string) ([]Transaction, error)

	// DeletedEntries returns a customer's soft-deleted entries (audit view).
	DeletedEntries(ctx context.Context, customerID string) ([]Transaction, error)

	// EntriesInRange returns non-deleted entries with from <= Date <= to.
	EntriesInRange(ctx context.Context, customerID string, from, to Date) ([]Transaction, error)

	// EntriesOnOrAfter returns the ordered non-deleted suffix at or after
	// pos. This is exactly the slice a recalculation rewrites.
	EntriesOnOrAfter(ctx context.Context, customerID string, pos Position) ([]Transaction, error)

	// LastEntryBefore returns the latest non-deleted entry strictly before
	// pos, or (nil, nil) if the suffix starts the ledger. Its running
	// balance seeds the recomputation.
	LastEntryBefore(ctx context.Context, customerID string, pos Position) (*Transaction, error)

	// AllEntriesInRange returns non-deleted entries across all customers
	// with from <= Date <= to, ordered by (Date, ID).
	AllEntriesInRange(ctx context.Context, from, to Date) ([]Transaction, error)
}

// TxStore wraps Store with an atomic transaction boundary.
type TxStore interface {
	Store

	// WithTx executes fn within a storage transaction. If fn returns an
	// error the transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
