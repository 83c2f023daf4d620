package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/khata/ledger-engine/ledger"
	"github.com/khata/ledger-engine/ledger/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T, today string) (*ledger.Engine, *store.TxMemory) {
	t.Helper()
	day, err := ledger.ParseDate(today)
	require.NoError(t, err)

	mem := store.NewTxMemory()
	return ledger.NewEngine(mem, ledger.FixedClock{Day: day}), mem
}

func createCustomer(t *testing.T, e *ledger.Engine, name, opening, openingDate string) ledger.Customer {
	t.Helper()
	ob, err := ledger.ParseAmount(opening)
	require.NoError(t, err)
	d, err := ledger.ParseDate(openingDate)
	require.NoError(t, err)

	c, err := e.CreateCustomer(context.Background(), ledger.CustomerInput{
		Name:               name,
		OpeningBalance:     ob,
		OpeningBalanceDate: d,
	})
	require.NoError(t, err)
	return c
}

func addEntry(t *testing.T, e *ledger.Engine, customerID, date, amount string, kind ledger.Polarity) ledger.Transaction {
	t.Helper()
	d, err := ledger.ParseDate(date)
	require.NoError(t, err)

	tx, err := e.CreateEntry(context.Background(), ledger.EntryInput{
		CustomerID: customerID,
		Date:       d,
		Amount:     decimal.RequireFromString(amount),
		Kind:       kind,
	})
	require.NoError(t, err)
	return tx
}

func balances(t *testing.T, s ledger.Store, customerID string) []string {
	t.Helper()
	entries, err := s.Entries(context.Background(), customerID)
	require.NoError(t, err)

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.RunningBalance.String()
	}
	return out
}

// =============================================================================
// RUNNING BALANCE TESTS
// =============================================================================

func TestEngine_FirstEntry_SeedsFromOpeningBalance(t *testing.T) {
	// GIVEN: A customer opening at 1000.00 DR
	// WHEN: Recording a 1500.00 CR payment
	// THEN: The running balance lands at 500.00 CR

	engine, _ := newTestEngine(t, "2024-06-01")

	c := createCustomer(t, engine, "Asha", "1000.00 DR", "2024-04-01")
	tx := addEntry(t, engine, c.ID, "2024-05-01", "1500.00", ledger.Credit)

	assert.Equal(t, "500.00 CR", tx.RunningBalance.String())
	assert.Equal(t, 2024, tx.FinancialYear)
}

func TestEngine_BackdatedEntry_RewritesSuffix(t *testing.T) {
	// GIVEN: Opening 1000.00 DR and a 1500.00 CR entry on 2024-05-01
	// WHEN: Inserting a 200.00 DR entry dated 2024-04-15, before it
	// THEN: The new entry lands at 1200.00 DR and the later entry's stored
	//       balance is rewritten to 300.00 CR

	engine, mem := newTestEngine(t, "2024-06-01")

	c := createCustomer(t, engine, "Asha", "1000.00 DR", "2024-04-01")
	addEntry(t, engine, c.ID, "2024-05-01", "1500.00", ledger.Credit)

	backdated := addEntry(t, engine, c.ID, "2024-04-15", "200.00", ledger.Debit)

	assert.Equal(t, "1200.00 DR", backdated.RunningBalance.String())
	assert.Equal(t, []string{"1200.00 DR", "300.00 CR"}, balances(t, mem, c.ID))
}

func TestEngine_DeleteEntry_RestoresPriorBalances(t *testing.T) {
	// GIVEN: The backdated sequence from the scenario above
	// WHEN: Deleting the backdated 200.00 DR entry
	// THEN: The remaining entry's balance returns to 500.00 CR

	engine, mem := newTestEngine(t, "2024-06-01")

	c := createCustomer(t, engine, "Asha", "1000.00 DR", "2024-04-01")
	kept := addEntry(t, engine, c.ID, "2024-05-01", "1500.00", ledger.Credit)
	backdated := addEntry(t, engine, c.ID, "2024-04-15", "200.00", ledger.Debit)

	err := engine.DeleteEntry(context.Background(), backdated.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"500.00 CR"}, balances(t, mem, c.ID))

	// The deleted row stays addressable for audit.
	audit, err := mem.GetEntry(context.Background(), backdated.ID)
	require.NoError(t, err)
	require.NotNil(t, audit)
	assert.True(t, audit.IsDeleted)

	// And is invisible to ordered reads.
	list, err := mem.Entries(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, kept.ID, list[0].ID)
}

func TestEngine_SameDayEntries_OrderedByInsertion(t *testing.T) {
	// GIVEN: Two entries on the same date
	// WHEN: Reading the ledger
	// THEN: They fold in insertion order (store-assigned id ascending)

	engine, mem := newTestEngine(t, "2024-06-01")

	c := createCustomer(t, engine, "Asha", "0.00 CR", "2024-04-01")
	addEntry(t, engine, c.ID, "2024-05-01", "100.00", ledger.Credit)
	addEntry(t, engine, c.ID, "2024-05-01", "40.00", ledger.Debit)

	assert.Equal(t, []string{"100.00 CR", "60.00 CR"}, balances(t, mem, c.ID))
}

func TestEngine_UpdateEntry_MovingEarlierRecomputesFromOldPosition(t *testing.T) {
	// GIVEN: Three entries in April, May, June
	// WHEN: Moving the June entry back to April and changing its amount
	// THEN: Every balance from the April insertion point onward is rewritten

	engine, mem := newTestEngine(t, "2024-07-01")

	c := createCustomer(t, engine, "Asha", "0.00 CR", "2024-04-01")
	addEntry(t, engine, c.ID, "2024-04-10", "100.00", ledger.Credit)
	addEntry(t, engine, c.ID, "2024-05-10", "50.00", ledger.Debit)
	moved := addEntry(t, engine, c.ID, "2024-06-10", "25.00", ledger.Credit)

	updated, err := engine.UpdateEntry(context.Background(), moved.ID, ledger.EntryInput{
		Date:   ledger.NewDate(2024, 4, 20),
		Amount: decimal.RequireFromString("10.00"),
		Kind:   ledger.Debit,
	})
	require.NoError(t, err)
	assert.Equal(t, 2024, updated.FinancialYear)

	// Order is now: +100 (Apr 10), -10 (Apr 20), -50 (May 10)
	assert.Equal(t, []string{"100.00 CR", "90.00 CR", "40.00 CR"}, balances(t, mem, c.ID))
}

func TestEngine_DeleteAndReinsert_SameBalancesNewID(t *testing.T) {
	// GIVEN: An entry that is deleted and then re-recorded identically
	// WHEN: Comparing before and after
	// THEN: Balances match but the new entry has a fresh id (ids are
	//       never reused)

	engine, mem := newTestEngine(t, "2024-06-01")

	c := createCustomer(t, engine, "Asha", "1000.00 DR", "2024-04-01")
	first := addEntry(t, engine, c.ID, "2024-05-01", "1500.00", ledger.Credit)
	before := balances(t, mem, c.ID)

	require.NoError(t, engine.DeleteEntry(context.Background(), first.ID))
	second := addEntry(t, engine, c.ID, "2024-05-01", "1500.00", ledger.Credit)

	assert.Equal(t, before, balances(t, mem, c.ID))
	assert.NotEqual(t, first.ID, second.ID)
	assert.Greater(t, second.ID, first.ID)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestEngine_CreateEntry_Validation(t *testing.T) {
	engine, _ := newTestEngine(t, "2024-06-01")
	c := createCustomer(t, engine, "Asha", "0.00 CR", "2024-04-01")
	ctx := context.Background()

	tests := []struct {
		name string
		in   ledger.EntryInput
		want error
	}{
		{
			"zero amount",
			ledger.EntryInput{CustomerID: c.ID, Date: ledger.NewDate(2024, 5, 1), Amount: decimal.Zero, Kind: ledger.Credit},
			ledger.ErrInvalidAmount,
		},
		{
			"negative amount",
			ledger.EntryInput{CustomerID: c.ID, Date: ledger.NewDate(2024, 5, 1), Amount: decimal.RequireFromString("-5"), Kind: ledger.Credit},
			ledger.ErrInvalidAmount,
		},
		{
			"future date",
			ledger.EntryInput{CustomerID: c.ID, Date: ledger.NewDate(2024, 6, 2), Amount: decimal.RequireFromString("5"), Kind: ledger.Credit},
			ledger.ErrInvalidDate,
		},
		{
			"before opening date",
			ledger.EntryInput{CustomerID: c.ID, Date: ledger.NewDate(2024, 3, 31), Amount: decimal.RequireFromString("5"), Kind: ledger.Credit},
			ledger.ErrInvalidDate,
		},
		{
			"missing date",
			ledger.EntryInput{CustomerID: c.ID, Amount: decimal.RequireFromString("5"), Kind: ledger.Credit},
			ledger.ErrInvalidDate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.CreateEntry(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, ledger.IsClientError(err))
		})
	}
}

func TestEngine_CreateEntry_TodayIsAllowed(t *testing.T) {
	engine, _ := newTestEngine(t, "2024-06-01")
	c := createCustomer(t, engine, "Asha", "0.00 CR", "2024-04-01")

	tx := addEntry(t, engine, c.ID, "2024-06-01", "10.00", ledger.Credit)
	assert.Equal(t, "10.00 CR", tx.RunningBalance.String())
}

func TestEngine_UnknownCustomer(t *testing.T) {
	engine, _ := newTestEngine(t, "2024-06-01")

	_, err := engine.CreateEntry(context.Background(), ledger.EntryInput{
		CustomerID: "missing",
		Date:       ledger.NewDate(2024, 5, 1),
		Amount:     decimal.RequireFromString("5"),
		Kind:       ledger.Credit,
	})
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
}

// =============================================================================
// SETTLEMENT TESTS
// =============================================================================

func TestEngine_SettledCustomer_RejectsAllEntryMutations(t *testing.T) {
	// GIVEN: A settled customer with existing entries
	// WHEN: Attempting create, update and delete
	// THEN: Every mutation fails with the settlement error and no stored
	//       balance changes

	engine, mem := newTestEngine(t, "2024-06-01")
	ctx := context.Background()

	c := createCustomer(t, engine, "Asha", "1000.00 DR", "2024-04-01")
	tx := addEntry(t, engine, c.ID, "2024-05-01", "1500.00", ledger.Credit)
	before := balances(t, mem, c.ID)

	settled, err := engine.SettleCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, settled.IsSettled)

	_, err = engine.CreateEntry(ctx, ledger.EntryInput{
		CustomerID: c.ID, Date: ledger.NewDate(2024, 5, 2),
		Amount: decimal.RequireFromString("10"), Kind: ledger.Credit,
	})
	assert.ErrorIs(t, err, ledger.ErrCustomerSettled)

	var settledErr *ledger.SettledCustomerError
	assert.ErrorAs(t, err, &settledErr)
	assert.Equal(t, c.ID, settledErr.CustomerID)

	_, err = engine.UpdateEntry(ctx, tx.ID, ledger.EntryInput{
		Date: tx.Date, Amount: decimal.RequireFromString("99"), Kind: ledger.Credit,
	})
	assert.ErrorIs(t, err, ledger.ErrCustomerSettled)

	err = engine.DeleteEntry(ctx, tx.ID)
	assert.ErrorIs(t, err, ledger.ErrCustomerSettled)

	assert.Equal(t, before, balances(t, mem, c.ID), "settled ledger must not move")
}

func TestEngine_SettleCustomer_Idempotent(t *testing.T) {
	engine, _ := newTestEngine(t, "2024-06-01")
	c := createCustomer(t, engine, "Asha", "0.00 CR", "2024-04-01")

	_, err := engine.SettleCustomer(context.Background(), c.ID)
	require.NoError(t, err)
	again, err := engine.SettleCustomer(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, again.IsSettled)
}

// =============================================================================
// CUSTOMER LIFECYCLE TESTS
// =============================================================================

func TestEngine_CreateCustomer_Validation(t *testing.T) {
	engine, _ := newTestEngine(t, "2024-06-01")
	ctx := context.Background()

	_, err := engine.CreateCustomer(ctx, ledger.CustomerInput{
		OpeningBalanceDate: ledger.NewDate(2024, 4, 1),
	})
	assert.Error(t, err, "empty name")

	_, err = engine.CreateCustomer(ctx, ledger.CustomerInput{
		Name: "Asha",
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidDate, "missing opening date")

	_, err = engine.CreateCustomer(ctx, ledger.CustomerInput{
		Name:               "Asha",
		OpeningBalanceDate: ledger.NewDate(2024, 6, 2),
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidDate, "future opening date")
}

func TestEngine_UpdateCustomer_OpeningChangeRecomputesEverything(t *testing.T) {
	// GIVEN: A ledger seeded from 1000.00 DR
	// WHEN: Correcting the opening balance to 500.00 DR
	// THEN: Every stored running balance shifts by the 500.00 difference

	engine, mem := newTestEngine(t, "2024-06-01")
	ctx := context.Background()

	c := createCustomer(t, engine, "Asha", "1000.00 DR", "2024-04-01")
	addEntry(t, engine, c.ID, "2024-04-15", "200.00", ledger.Debit)
	addEntry(t, engine, c.ID, "2024-05-01", "1500.00", ledger.Credit)
	assert.Equal(t, []string{"1200.00 DR", "300.00 CR"}, balances(t, mem, c.ID))

	_, err := engine.UpdateCustomer(ctx, c.ID, ledger.CustomerInput{
		Name:           "Asha",
		OpeningBalance: mustAmount(t, "500.00 DR"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"700.00 DR", "800.00 CR"}, balances(t, mem, c.ID))
}

func TestEngine_UpdateCustomer_OpeningDateAfterEarliestEntryRejected(t *testing.T) {
	engine, _ := newTestEngine(t, "2024-06-01")
	ctx := context.Background()

	c := createCustomer(t, engine, "Asha", "0.00 CR", "2024-04-01")
	addEntry(t, engine, c.ID, "2024-04-15", "10.00", ledger.Credit)

	_, err := engine.UpdateCustomer(ctx, c.ID, ledger.CustomerInput{
		Name:               "Asha",
		OpeningBalanceDate: ledger.NewDate(2024, 4, 20),
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidDate)
}

func TestEngine_DeleteCustomer_BlocksMutationsKeepsHistory(t *testing.T) {
	engine, mem := newTestEngine(t, "2024-06-01")
	ctx := context.Background()

	c := createCustomer(t, engine, "Asha", "0.00 CR", "2024-04-01")
	addEntry(t, engine, c.ID, "2024-05-01", "10.00", ledger.Credit)

	require.NoError(t, engine.DeleteCustomer(ctx, c.ID))
	require.NoError(t, engine.DeleteCustomer(ctx, c.ID), "idempotent")

	_, err := engine.CreateEntry(ctx, ledger.EntryInput{
		CustomerID: c.ID, Date: ledger.NewDate(2024, 5, 2),
		Amount: decimal.RequireFromString("5"), Kind: ledger.Credit,
	})
	assert.ErrorIs(t, err, ledger.ErrCustomerDeleted)

	// History retained for audit.
	entries, err := mem.Entries(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Gone from listings.
	customers, err := mem.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Empty(t, customers)
}

// =============================================================================
// ATOMICITY AND IDEMPOTENCE TESTS
// =============================================================================

// faultyStore fails SetRunningBalance after a set number of writes.
type faultyStore struct {
	*store.TxMemory
	mu        sync.Mutex
	remaining int
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s ledger.Store) error {
		return fn(&faultyView{Store: s, parent: f})
	})
}

type faultyView struct {
	ledger.Store
	parent *faultyStore
}

func (v *faultyView) SetRunningBalance(ctx context.Context, id ledger.EntryID, balance ledger.Amount) error {
	v.parent.mu.Lock()
	defer v.parent.mu.Unlock()
	if v.parent.remaining <= 0 {
		return fmt.Errorf("disk full")
	}
	v.parent.remaining--
	return v.Store.SetRunningBalance(ctx, id, balance)
}

func TestEngine_RecalculationFault_RollsBackWholeMutation(t *testing.T) {
	// GIVEN: A store that fails balance writes mid-recompute
	// WHEN: Inserting a backdated entry whose suffix rewrite faults
	// THEN: The insert itself is rolled back and prior balances survive

	day, err := ledger.ParseDate("2024-06-01")
	require.NoError(t, err)

	faulty := &faultyStore{TxMemory: store.NewTxMemory(), remaining: 10}
	engine := ledger.NewEngine(faulty, ledger.FixedClock{Day: day})

	c := createCustomer(t, engine, "Asha", "1000.00 DR", "2024-04-01")
	addEntry(t, engine, c.ID, "2024-05-01", "1500.00", ledger.Credit)

	faulty.mu.Lock()
	faulty.remaining = 0
	faulty.mu.Unlock()

	_, err = engine.CreateEntry(context.Background(), ledger.EntryInput{
		CustomerID: c.ID, Date: ledger.NewDate(2024, 4, 15),
		Amount: decimal.RequireFromString("200"), Kind: ledger.Debit,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrRecalculationFailed)
	assert.True(t, ledger.IsRetryable(err))

	var recalcErr *ledger.RecalculationError
	require.ErrorAs(t, err, &recalcErr)
	assert.Equal(t, c.ID, recalcErr.CustomerID)

	// Rolled back: the failed insert left no trace.
	assert.Equal(t, []string{"500.00 CR"}, balances(t, faulty.TxMemory, c.ID))
	assert.NoError(t, engine.Verify(context.Background(), c.ID))

	// Retry after the fault clears succeeds and converges.
	faulty.mu.Lock()
	faulty.remaining = 100
	faulty.mu.Unlock()

	addEntry(t, engine, c.ID, "2024-04-15", "200.00", ledger.Debit)
	assert.Equal(t, []string{"1200.00 DR", "300.00 CR"}, balances(t, faulty.TxMemory, c.ID))
}

func TestEngine_Verify_DetectsTamperedBalance(t *testing.T) {
	// GIVEN: A consistent ledger whose stored balance is then corrupted
	//        behind the engine's back
	// WHEN: Running the consistency check
	// THEN: The mismatch is reported, never silently corrected

	engine, mem := newTestEngine(t, "2024-06-01")
	ctx := context.Background()

	c := createCustomer(t, engine, "Asha", "0.00 CR", "2024-04-01")
	tx := addEntry(t, engine, c.ID, "2024-05-01", "100.00", ledger.Credit)
	require.NoError(t, engine.Verify(ctx, c.ID))

	require.NoError(t, mem.SetRunningBalance(ctx, tx.ID, mustAmount(t, "999.00 CR")))

	err := engine.Verify(ctx, c.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInconsistentLedger)

	var cerr *ledger.ConsistencyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, tx.ID, cerr.EntryID)
	assert.Equal(t, "999.00 CR", cerr.Stored.String())
	assert.Equal(t, "100.00 CR", cerr.Expected.String())

	// Verify must not have rewritten anything.
	stored, err := mem.GetEntry(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "999.00 CR", stored.RunningBalance.String())
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestEngine_ConcurrentEntries_SingleCustomer(t *testing.T) {
	// GIVEN: Many goroutines appending credits to one customer
	// WHEN: They all finish
	// THEN: Count and final balance are exact and the ledger verifies

	engine, mem := newTestEngine(t, "2024-06-01")
	ctx := context.Background()

	c := createCustomer(t, engine, "Asha", "0.00 CR", "2024-04-01")

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.CreateEntry(ctx, ledger.EntryInput{
				CustomerID: c.ID,
				Date:       ledger.NewDate(2024, 5, 1),
				Amount:     decimal.RequireFromString("10.00"),
				Kind:       ledger.Credit,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	entries, err := mem.Entries(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, n)
	assert.Equal(t, "250.00 CR", entries[n-1].RunningBalance.String())
	assert.NoError(t, engine.Verify(ctx, c.ID))
}

func TestEngine_ConcurrentCustomers_Independent(t *testing.T) {
	// Mutations on different customers interleave freely without
	// corrupting either sequence.

	engine, _ := newTestEngine(t, "2024-06-01")
	ctx := context.Background()

	a := createCustomer(t, engine, "Asha", "0.00 CR", "2024-04-01")
	b := createCustomer(t, engine, "Bala", "100.00 DR", "2024-04-01")

	var wg sync.WaitGroup
	for _, id := range []string{a.ID, b.ID} {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(customerID string) {
				defer wg.Done()
				_, err := engine.CreateEntry(ctx, ledger.EntryInput{
					CustomerID: customerID,
					Date:       ledger.NewDate(2024, 5, 1),
					Amount:     decimal.RequireFromString("1.00"),
					Kind:       ledger.Debit,
				})
				assert.NoError(t, err)
			}(id)
		}
	}
	wg.Wait()

	assert.NoError(t, engine.Verify(ctx, a.ID))
	assert.NoError(t, engine.Verify(ctx, b.ID))
}

// =============================================================================
// HELPERS
// =============================================================================

func mustAmount(t *testing.T, s string) ledger.Amount {
	t.Helper()
	a, err := ledger.ParseAmount(s)
	require.NoError(t, err)
	return a
}

func TestEngine_DeletedEntry_CannotBeMutatedAgain(t *testing.T) {
	engine, _ := newTestEngine(t, "2024-06-01")
	ctx := context.Background()

	c := createCustomer(t, engine, "Asha", "0.00 CR", "2024-04-01")
	tx := addEntry(t, engine, c.ID, "2024-05-01", "10.00", ledger.Credit)
	require.NoError(t, engine.DeleteEntry(ctx, tx.ID))

	err := engine.DeleteEntry(ctx, tx.ID)
	assert.ErrorIs(t, err, ledger.ErrEntryDeleted)

	_, err = engine.UpdateEntry(ctx, tx.ID, ledger.EntryInput{
		Date: tx.Date, Amount: decimal.RequireFromString("5"), Kind: ledger.Credit,
	})
	assert.ErrorIs(t, err, ledger.ErrEntryDeleted)
}

var errSentinelCheck = errors.New("unused")

func TestErrorHelpers(t *testing.T) {
	assert.False(t, ledger.IsClientError(errSentinelCheck))
	assert.False(t, ledger.IsRetryable(errSentinelCheck))
	assert.False(t, ledger.IsNotFound(errSentinelCheck))
	assert.True(t, ledger.IsNotFound(ledger.ErrEntryNotFound))
}
