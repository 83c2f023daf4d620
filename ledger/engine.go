/*
engine.go - Balance recalculation engine

PURPOSE:
  The Engine is the only writer of ledger state. It validates mutations,
  applies them inside a storage transaction, and recomputes the running
  balance of the affected suffix so that the invariant always holds:

    runningBalance[i] == Combine(runningBalance[i-1] or openingBalance,
                                 delta(entry[i]))

  over each customer's non-deleted entries in (Date, ID) order.

RECALCULATION:
  1. Locate the start point: the earliest affected (date, id) position -
     for updates, the smaller of the entry's original and new positions.
  2. Seed with the running balance of the entry just before the start
     point, or the customer's opening balance if there is none.
  3. Walk the suffix, recomputing each balance with Combine and persisting
     entry by entry. Balances already correct are left untouched, so the
     walk is idempotent and a crashed recompute can simply be re-executed.
  4. The walk shares a storage transaction with the triggering mutation:
     a fault rolls back everything and surfaces as a retryable
     RecalculationError.

CONCURRENCY:
  Mutations to one customer are serialized by a per-customer mutex held
  over validate+apply+recompute. Different customers proceed in parallel;
  there is no cross-customer transaction. Reads take no lock and tolerate
  at most one in-flight recompute.

SEE ALSO:
  - store.go: The atomicity contract WithTx provides
  - fiscal.go, report.go: Read models over the recalculated balances
*/
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine validates and applies ledger mutations.
type Engine struct {
	store TxStore
	clock Clock
	locks customerLocks
}

func NewEngine(store TxStore, clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	return &Engine{store: store, clock: clock}
}

// =============================================================================
// CUSTOMER LIFECYCLE
// =============================================================================

// CustomerInput is the caller-supplied part of a customer record.
type CustomerInput struct {
	Name               string
	Phone              string
	OpeningBalance     Amount
	OpeningBalanceDate Date
}

func normalizeOpening(a Amount) (Amount, error) {
	if a.Polarity == "" {
		if !a.Value.IsZero() {
			return Amount{}, invalidAmount("opening balance needs a CR/DR polarity")
		}
		return ZeroAmount(), nil
	}
	if !a.Polarity.Valid() {
		return Amount{}, invalidAmount("opening balance polarity must be CR or DR")
	}
	if a.Value.Sign() < 0 {
		return Amount{}, invalidAmount("opening balance magnitude must not be negative")
	}
	return NewAmount(a.Value, a.Polarity), nil
}

// CreateCustomer registers a new customer with an opening balance.
func (e *Engine) CreateCustomer(ctx context.Context, in CustomerInput) (Customer, error) {
	if in.Name == "" {
		return Customer{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	opening, err := normalizeOpening(in.OpeningBalance)
	if err != nil {
		return Customer{}, err
	}
	in.OpeningBalance = opening
	if in.OpeningBalanceDate.IsZero() {
		return Customer{}, invalidDate("opening balance date is required")
	}
	if in.OpeningBalanceDate.After(e.clock.Today()) {
		return Customer{}, invalidDate("opening balance date must not be in the future")
	}

	now := time.Now().UTC()
	c := Customer{
		ID:                 uuid.NewString(),
		Name:               in.Name,
		Phone:              in.Phone,
		OpeningBalance:     in.OpeningBalance,
		OpeningBalanceDate: in.OpeningBalanceDate,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.store.SaveCustomer(ctx, c); err != nil {
		return Customer{}, fmt.Errorf("save customer: %w", err)
	}
	return c, nil
}

// UpdateCustomer edits a customer. Changing the opening balance (or its
// date) invalidates every stored running balance, so the full sequence is
// recomputed under the customer lock.
func (e *Engine) UpdateCustomer(ctx context.Context, id string, in CustomerInput) (Customer, error) {
	if in.Name == "" {
		return Customer{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	opening, err := normalizeOpening(in.OpeningBalance)
	if err != nil {
		return Customer{}, err
	}
	in.OpeningBalance = opening

	unlock := e.locks.lock(id)
	defer unlock()

	c, err := e.customerForMutation(ctx, id, false)
	if err != nil {
		return Customer{}, err
	}

	if !in.OpeningBalanceDate.IsZero() && !in.OpeningBalanceDate.Equal(c.OpeningBalanceDate) {
		if earliest, err := e.earliestEntryDate(ctx, id); err != nil {
			return Customer{}, err
		} else if earliest != nil && in.OpeningBalanceDate.After(*earliest) {
			return Customer{}, invalidDate("opening balance date must not be after the earliest entry")
		}
		c.OpeningBalanceDate = in.OpeningBalanceDate
	}

	openingChanged := !in.OpeningBalance.Equal(c.OpeningBalance)
	c.Name = in.Name
	c.Phone = in.Phone
	c.OpeningBalance = in.OpeningBalance
	c.UpdatedAt = time.Now().UTC()

	err = e.store.WithTx(ctx, func(s Store) error {
		if err := s.UpdateCustomer(ctx, *c); err != nil {
			return err
		}
		if openingChanged {
			// The seed of every running balance moved: recompute from
			// the beginning of history.
			return recalcFrom(ctx, s, c, Position{})
		}
		return nil
	})
	if err != nil {
		return Customer{}, &RecalculationError{CustomerID: id, Cause: err}
	}
	return *c, nil
}

// SettleCustomer closes the customer's ledger to further mutations.
// The customer and its history remain queryable.
func (e *Engine) SettleCustomer(ctx context.Context, id string) (Customer, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	c, err := e.customerForMutation(ctx, id, false)
	if err != nil {
		return Customer{}, err
	}
	if c.IsSettled {
		return *c, nil
	}
	c.IsSettled = true
	c.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateCustomer(ctx, *c); err != nil {
		return Customer{}, fmt.Errorf("settle customer: %w", err)
	}
	return *c, nil
}

// DeleteCustomer soft-deletes a customer. All mutations against it are
// blocked from here on; nothing is erased.
func (e *Engine) DeleteCustomer(ctx context.Context, id string) error {
	unlock := e.locks.lock(id)
	defer unlock()

	c, err := e.store.GetCustomer(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrCustomerNotFound
	}
	if c.IsDeleted {
		return nil
	}
	c.IsDeleted = true
	c.UpdatedAt = time.Now().UTC()
	return e.store.UpdateCustomer(ctx, *c)
}

// =============================================================================
// ENTRY MUTATIONS - each one triggers a suffix recompute
// =============================================================================

// EntryInput is a credit/debit entry as supplied by a caller. The running
// balance is never part of the input.
type EntryInput struct {
	CustomerID string
	Date       Date
	Amount     decimal.Decimal
	Kind       Polarity
	Note       string
}

// CreateEntry records a new credit/debit entry and recomputes the suffix
// starting at its position.
func (e *Engine) CreateEntry(ctx context.Context, in EntryInput) (Transaction, error) {
	if err := e.validateInput(in); err != nil {
		return Transaction{}, err
	}

	unlock := e.locks.lock(in.CustomerID)
	defer unlock()

	c, err := e.customerForMutation(ctx, in.CustomerID, true)
	if err != nil {
		return Transaction{}, err
	}
	if in.Date.Before(c.OpeningBalanceDate) {
		return Transaction{}, invalidDate("entry predates the opening balance")
	}

	entry := Transaction{
		CustomerID:    in.CustomerID,
		Date:          in.Date,
		Amount:        in.Amount.Round(2),
		Kind:          in.Kind,
		Note:          in.Note,
		FinancialYear: FinancialYearOf(in.Date),
		CreatedAt:     time.Now().UTC(),
	}

	err = e.store.WithTx(ctx, func(s Store) error {
		id, err := s.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		if err := recalcFrom(ctx, s, c, entry.Position()); err != nil {
			return err
		}
		stored, err := s.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		entry = *stored
		return nil
	})
	if err != nil {
		return Transaction{}, &RecalculationError{CustomerID: in.CustomerID, Start: entry.Position(), Cause: err}
	}
	return entry, nil
}

// UpdateEntry edits an entry's date, amount, kind or note, then recomputes
// from the earliest of the original and new positions.
func (e *Engine) UpdateEntry(ctx context.Context, id EntryID, in EntryInput) (Transaction, error) {
	if err := e.validateInput(in); err != nil {
		return Transaction{}, err
	}

	old, err := e.entryForMutation(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if in.CustomerID != "" && in.CustomerID != old.CustomerID {
		return Transaction{}, &ValidationError{Field: "customer_id", Reason: "entries cannot move between customers"}
	}

	unlock := e.locks.lock(old.CustomerID)
	defer unlock()

	// Re-read under the lock; a concurrent mutation may have won the race.
	if old, err = e.entryForMutation(ctx, id); err != nil {
		return Transaction{}, err
	}
	c, err := e.customerForMutation(ctx, old.CustomerID, true)
	if err != nil {
		return Transaction{}, err
	}
	if in.Date.Before(c.OpeningBalanceDate) {
		return Transaction{}, invalidDate("entry predates the opening balance")
	}

	updated := *old
	updated.Date = in.Date
	updated.Amount = in.Amount.Round(2)
	updated.Kind = in.Kind
	updated.Note = in.Note
	updated.FinancialYear = FinancialYearOf(in.Date)

	start := MinPosition(old.Position(), updated.Position())
	err = e.store.WithTx(ctx, func(s Store) error {
		if err := s.UpdateEntry(ctx, updated); err != nil {
			return err
		}
		if err := recalcFrom(ctx, s, c, start); err != nil {
			return err
		}
		stored, err := s.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		updated = *stored
		return nil
	})
	if err != nil {
		return Transaction{}, &RecalculationError{CustomerID: old.CustomerID, Start: start, Cause: err}
	}
	return updated, nil
}

// DeleteEntry soft-deletes an entry and recomputes the suffix that
// followed it. The row stays addressable for audit.
func (e *Engine) DeleteEntry(ctx context.Context, id EntryID) error {
	old, err := e.entryForMutation(ctx, id)
	if err != nil {
		return err
	}

	unlock := e.locks.lock(old.CustomerID)
	defer unlock()

	if old, err = e.entryForMutation(ctx, id); err != nil {
		return err
	}
	c, err := e.customerForMutation(ctx, old.CustomerID, true)
	if err != nil {
		return err
	}

	start := old.Position()
	err = e.store.WithTx(ctx, func(s Store) error {
		if err := s.MarkEntryDeleted(ctx, id); err != nil {
			return err
		}
		return recalcFrom(ctx, s, c, start)
	})
	if err != nil {
		return &RecalculationError{CustomerID: old.CustomerID, Start: start, Cause: err}
	}
	return nil
}

// =============================================================================
// CONSISTENCY CHECK
// =============================================================================

// Verify left-folds the customer's full sequence and compares every stored
// running balance against the recomputation. A mismatch is returned as a
// ConsistencyError and must never be silently corrected.
func (e *Engine) Verify(ctx context.Context, customerID string) error {
	c, err := e.store.GetCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrCustomerNotFound
	}
	entries, err := e.store.Entries(ctx, customerID)
	if err != nil {
		return err
	}

	balance := c.OpeningBalance
	for _, entry := range entries {
		balance = Combine(balance, entry.Delta())
		if !entry.RunningBalance.Equal(balance) {
			return &ConsistencyError{
				CustomerID: customerID,
				EntryID:    entry.ID,
				Stored:     entry.RunningBalance,
				Expected:   balance,
			}
		}
	}
	return nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (e *Engine) validateInput(in EntryInput) error {
	if in.Amount.Sign() <= 0 {
		return invalidAmount("must be strictly positive")
	}
	if !in.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: "must be CR or DR"}
	}
	if in.Date.IsZero() {
		return invalidDate("is required")
	}
	if in.Date.After(e.clock.Today()) {
		return invalidDate("must not be in the future")
	}
	return nil
}

// customerForMutation loads a customer and enforces the lifecycle gates.
// checkSettled is false for customer-record edits (settling itself must
// go through) and true for ledger-entry mutations.
func (e *Engine) customerForMutation(ctx context.Context, id string, checkSettled bool) (*Customer, error) {
	c, err := e.store.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCustomerNotFound
	}
	if c.IsDeleted {
		return nil, ErrCustomerDeleted
	}
	if checkSettled && c.IsSettled {
		return nil, &SettledCustomerError{CustomerID: id}
	}
	return c, nil
}

func (e *Engine) entryForMutation(ctx context.Context, id EntryID) (*Transaction, error) {
	entry, err := e.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrEntryNotFound
	}
	if entry.IsDeleted {
		return nil, ErrEntryDeleted
	}
	return entry, nil
}

func (e *Engine) earliestEntryDate(ctx context.Context, customerID string) (*Date, error) {
	entries, err := e.store.EntriesOnOrAfter(ctx, customerID, Position{})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	d := entries[0].Date
	return &d, nil
}

// recalcFrom rewrites running balances from start to the end of the
// customer's sequence. Balances that are already correct are not
// rewritten, which makes re-running over a correct suffix a no-op.
func recalcFrom(ctx context.Context, s Store, c *Customer, start Position) error {
	balance := c.OpeningBalance
	prev, err := s.LastEntryBefore(ctx, c.ID, start)
	if err != nil {
		return err
	}
	if prev != nil {
		balance = prev.RunningBalance
	}

	suffix, err := s.EntriesOnOrAfter(ctx, c.ID, start)
	if err != nil {
		return err
	}
	for _, entry := range suffix {
		balance = Combine(balance, entry.Delta())
		if entry.RunningBalance.Equal(balance) {
			continue
		}
		if err := s.SetRunningBalance(ctx, entry.ID, balance); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// PER-CUSTOMER LOCKS - "no two suffix rewrites for one customer run
// concurrently"
// =============================================================================

type customerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *customerLocks) lock(customerID string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[customerID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[customerID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
